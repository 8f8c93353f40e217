package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/corebank/backoffice/internal/config"
	"github.com/corebank/backoffice/internal/models"
)

// AccountService manages customer accounts: opening them with a generated
// IBAN, listing, status changes and statements.
type AccountService struct {
	db        *sql.DB
	cfg       *config.BankConfig
	validator *ValidationHelper
}

func NewAccountService(db *sql.DB, cfg *config.BankConfig) *AccountService {
	return &AccountService{db: db, cfg: cfg, validator: NewValidationHelper()}
}

type CreateAccountRequest struct {
	CustomerID int    `json:"customer_id" validate:"required"`
	ProductID  int    `json:"product_id" validate:"required"`
	Currency   string `json:"currency" validate:"required,len=3"`
	UserIDs    []int  `json:"user_ids" validate:"required,min=1"`
}

type UpdateAccountStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=A C"`
}

// GenerateIBAN builds a Bulgarian IBAN for an account: country code, mod-97
// check digits, bank code, branch code, the product type and the account id
// as an eight digit sequence.
func (as *AccountService) GenerateIBAN(productType string, accountID int) string {
	typeCode := "10"
	switch productType {
	case "C":
		typeCode = "10"
	case "D":
		typeCode = "20"
	case "S":
		typeCode = "30"
	}
	bban := fmt.Sprintf("%s%s%s%08d",
		as.cfg.BIC[:4], as.cfg.BranchCode, typeCode, accountID)
	check := ibanCheckDigits(as.cfg.CountryCode, bban)
	return fmt.Sprintf("%s%02d%s", as.cfg.CountryCode, check, bban)
}

// ibanCheckDigits computes ISO 13616 check digits: the BBAN followed by the
// country code and "00" is converted letter-by-letter (A=10..Z=35) and the
// check is 98 minus that number mod 97.
func ibanCheckDigits(countryCode, bban string) int {
	var sb strings.Builder
	for _, r := range bban + countryCode + "00" {
		if r >= 'A' && r <= 'Z' {
			sb.WriteString(strconv.Itoa(int(r-'A') + 10))
		} else {
			sb.WriteRune(r)
		}
	}
	n := new(big.Int)
	n.SetString(sb.String(), 10)
	rem := new(big.Int).Mod(n, big.NewInt(97))
	return 98 - int(rem.Int64())
}

// CreateAccount opens an account for a customer
// @Summary Open an account
// @Description Open a new account with a generated IBAN and link its operating users
// @Tags accounts
// @Accept json
// @Produce json
// @Param account body CreateAccountRequest true "Account data"
// @Success 201 {object} models.Account
// @Failure 400 {object} ErrorResponse
// @Router /accounts [post]
func (as *AccountService) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := as.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var currencyID int
	var currencyCode string
	err := as.db.QueryRow(`SELECT id, code FROM currencies WHERE code = $1`, req.Currency).
		Scan(&currencyID, &currencyCode)
	if err != nil {
		SendErrorResponse(w, "Unknown currency", http.StatusBadRequest, nil)
		return
	}

	var productType string
	err = as.db.QueryRow(`SELECT type FROM account_products WHERE id = $1`, req.ProductID).
		Scan(&productType)
	if err != nil {
		SendErrorResponse(w, "Unknown account product", http.StatusBadRequest, nil)
		return
	}

	tx, err := as.db.Begin()
	if err != nil {
		log.Printf("[ACCOUNT] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to open account", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	account := models.Account{
		CustomerID:   req.CustomerID,
		ProductID:    req.ProductID,
		CurrencyID:   currencyID,
		CurrencyCode: currencyCode,
		Status:       models.AccountActive,
		CreatedAt:    time.Now(),
	}

	// The IBAN embeds the row id, so the insert happens in two steps.
	err = tx.QueryRow(`
		INSERT INTO accounts (iban, customer_id, product_id, currency_id, balance, version, status, created_at)
		VALUES ('', $1, $2, $3, 0, 1, $4, $5)
		RETURNING id`,
		account.CustomerID, account.ProductID, account.CurrencyID, account.Status, account.CreatedAt).
		Scan(&account.ID)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to insert account: %v", err)
		SendErrorResponse(w, "Failed to open account", http.StatusInternalServerError, nil)
		return
	}

	account.IBAN = as.GenerateIBAN(productType, account.ID)
	if _, err := tx.Exec(`UPDATE accounts SET iban = $1 WHERE id = $2`, account.IBAN, account.ID); err != nil {
		log.Printf("[ACCOUNT] Failed to set IBAN for account %d: %v", account.ID, err)
		SendErrorResponse(w, "Failed to open account", http.StatusInternalServerError, nil)
		return
	}

	for _, userID := range req.UserIDs {
		if _, err := tx.Exec(`INSERT INTO account_users (account_id, user_id) VALUES ($1, $2)`,
			account.ID, userID); err != nil {
			log.Printf("[ACCOUNT] Failed to link user %d to account %d: %v", userID, account.ID, err)
			SendErrorResponse(w, "Failed to open account", http.StatusInternalServerError, nil)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[ACCOUNT] Failed to commit account %d: %v", account.ID, err)
		SendErrorResponse(w, "Failed to open account", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ACCOUNT] Account %d opened, IBAN %s", account.ID, account.IBAN)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}

// ListAccounts lists accounts, optionally for one customer
// @Summary List accounts
// @Tags accounts
// @Produce json
// @Param customer_id query int false "Filter by customer"
// @Success 200 {object} object{accounts=[]models.Account,count=int}
// @Router /accounts [get]
func (as *AccountService) ListAccounts(w http.ResponseWriter, r *http.Request) {
	query := `
		SELECT a.id, a.iban, a.customer_id, a.product_id, a.currency_id, c.code,
		       a.balance, a.version, a.status, a.created_at
		FROM accounts a
		JOIN currencies c ON a.currency_id = c.id`
	var args []interface{}
	if v := r.URL.Query().Get("customer_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			SendErrorResponse(w, "Invalid customer_id", http.StatusBadRequest, nil)
			return
		}
		query += " WHERE a.customer_id = $1"
		args = append(args, id)
	}
	query += " ORDER BY a.id"

	rows, err := as.db.Query(query, args...)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to list accounts: %v", err)
		SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.IBAN, &a.CustomerID, &a.ProductID, &a.CurrencyID,
			&a.CurrencyCode, &a.Balance, &a.Version, &a.Status, &a.CreatedAt); err != nil {
			log.Printf("[ACCOUNT] Failed to scan account: %v", err)
			SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
			return
		}
		accounts = append(accounts, a)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// GetAccount retrieves one account
// @Summary Get account by id
// @Tags accounts
// @Produce json
// @Param id path int true "Account ID"
// @Success 200 {object} models.Account
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{id} [get]
func (as *AccountService) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	var a models.Account
	err = as.db.QueryRow(`
		SELECT a.id, a.iban, a.customer_id, a.product_id, a.currency_id, c.code,
		       a.balance, a.version, a.status, a.created_at
		FROM accounts a
		JOIN currencies c ON a.currency_id = c.id
		WHERE a.id = $1`, accountID).
		Scan(&a.ID, &a.IBAN, &a.CustomerID, &a.ProductID, &a.CurrencyID,
			&a.CurrencyCode, &a.Balance, &a.Version, &a.Status, &a.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[ACCOUNT] Failed to fetch account %d: %v", accountID, err)
			SendErrorResponse(w, "Failed to fetch account", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(a)
}

// UpdateAccountStatus activates or closes an account
// @Summary Update account status
// @Tags accounts
// @Accept json
// @Produce json
// @Param id path int true "Account ID"
// @Param status body UpdateAccountStatusRequest true "New status"
// @Success 200 {object} object{message=string}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{id}/status [put]
func (as *AccountService) UpdateAccountStatus(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	var req UpdateAccountStatusRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := as.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := as.db.Exec(`UPDATE accounts SET status = $1 WHERE id = $2`, req.Status, accountID)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to update status of account %d: %v", accountID, err)
		SendErrorResponse(w, "Failed to update account", http.StatusInternalServerError, nil)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}

	log.Printf("[ACCOUNT] Account %d status set to %s", accountID, req.Status)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Account updated"})
}

// GetStatement returns the processed transfer legs of an account
// @Summary Account statement
// @Description Processed transfers touching the account, amounts converted into the account's currency
// @Tags accounts
// @Produce json
// @Param id path int true "Account ID"
// @Param from_date query string false "Booked on or after (YYYY-MM-DD)"
// @Param to_date query string false "Booked on or before (YYYY-MM-DD)"
// @Success 200 {object} object{entries=[]models.StatementEntry,count=int}
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{id}/statement [get]
func (as *AccountService) GetStatement(w http.ResponseWriter, r *http.Request) {
	userID, ok := CurrentUserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	accountID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	// A statement is only served to a user linked to the account; anyone
	// else sees the account as absent.
	var iban string
	err = as.db.QueryRow(`
		SELECT a.iban FROM accounts a
		JOIN account_users au ON a.id = au.account_id
		WHERE a.id = $1 AND au.user_id = $2`, accountID, userID).Scan(&iban)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch statement", http.StatusInternalServerError, nil)
		}
		return
	}

	args := []interface{}{accountID, accountID}
	argIndex := 3
	dateCond := ""
	if v := r.URL.Query().Get("from_date"); v != "" {
		dateCond += fmt.Sprintf(" AND ft.last_updated >= $%d::date", argIndex)
		args = append(args, v)
		argIndex++
	}
	if v := r.URL.Query().Get("to_date"); v != "" {
		dateCond += fmt.Sprintf(" AND ft.last_updated < $%d::date + interval '1 day'", argIndex)
		args = append(args, v)
		argIndex++
	}

	// Debit legs are transfers sent from this account; credit legs are
	// processed transfers whose beneficiary IBAN is this account. Amounts
	// come back in BGN with the account rate and are converted here with
	// the same banker's rounding settlement applies.
	query := `
		SELECT ft.id, ft.last_updated, ft.reference_cbs, ft.name_beneficiary, ft.details,
		       ft.amount_bgn, c.rate_to_bgn, 'D' AS side
		FROM fund_transfers ft
		JOIN accounts a ON ft.account_id = a.id
		JOIN currencies c ON a.currency_id = c.id
		WHERE ft.account_id = $1 AND ft.status = 'P'` + dateCond + `
		UNION ALL
		SELECT ft.id, ft.last_updated, ft.reference_cbs, ft.name_beneficiary, ft.details,
		       ft.amount_bgn, c.rate_to_bgn, 'C' AS side
		FROM fund_transfers ft
		JOIN accounts a ON ft.iban_beneficiary = a.iban
		JOIN currencies c ON a.currency_id = c.id
		WHERE a.id = $2 AND ft.status = 'P'` + dateCond + `
		ORDER BY 2 DESC`

	rows, err := as.db.Query(query, args...)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to fetch statement for account %d: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch statement", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	entries := []models.StatementEntry{}
	for rows.Next() {
		var e models.StatementEntry
		var amountBGN, rate decimal.Decimal
		var side string
		if err := rows.Scan(&e.TransferID, &e.BookedAt, &e.ReferenceCBS, &e.NameBeneficiary,
			&e.Details, &amountBGN, &rate, &side); err != nil {
			log.Printf("[ACCOUNT] Failed to scan statement entry: %v", err)
			SendErrorResponse(w, "Failed to fetch statement", http.StatusInternalServerError, nil)
			return
		}
		amount := amountBGN.Div(rate).RoundBank(2)
		if side == "D" {
			e.AmountDebit = amount
		} else {
			e.AmountCredit = amount
		}
		entries = append(entries, e)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/corebank/backoffice/internal/config"
	"github.com/corebank/backoffice/internal/models"
)

// TransferService owns the fund-transfer lifecycle: creation, listing,
// editing while Initiated, and the transition operation that takes a
// transfer through authorization and settlement to a terminal state.
type TransferService struct {
	db         *sql.DB
	cfg        *config.BankConfig
	validator  *ValidationHelper
	authz      *AuthorizationService
	settlement *SettlementService
	notifier   *NotificationService
	iso        *ISO20022Service
}

func NewTransferService(db *sql.DB, cfg *config.BankConfig, authz *AuthorizationService,
	settlement *SettlementService, notifier *NotificationService, iso *ISO20022Service) *TransferService {
	return &TransferService{
		db:         db,
		cfg:        cfg,
		validator:  NewValidationHelper(),
		authz:      authz,
		settlement: settlement,
		notifier:   notifier,
		iso:        iso,
	}
}

// CreateTransferRequest is the payload for opening a new transfer.
type CreateTransferRequest struct {
	AccountID       int             `json:"account_id" validate:"required"`
	IBANBeneficiary string          `json:"iban_beneficiary" validate:"required,iban"`
	BICBeneficiary  string          `json:"bic_beneficiary" validate:"omitempty,bic"`
	BankBeneficiary string          `json:"bank_beneficiary" validate:"max=200"`
	NameBeneficiary string          `json:"name_beneficiary" validate:"max=150"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency" validate:"required,len=3"`
	Details         string          `json:"details" validate:"required,max=150"`
	PaymentSystem   string          `json:"payment_system" validate:"omitempty,oneof=B I"`
}

// UpdateTransferRequest is the transition request. Every field is optional;
// unspecified fields keep their prior values (merge-overwrite). Status, when
// present, may only name Initiated, Approved or Rejected — the processed
// states are system-assigned.
type UpdateTransferRequest struct {
	Status          *string          `json:"status"`
	Amount          *decimal.Decimal `json:"amount"`
	Currency        *string          `json:"currency" validate:"omitempty,len=3"`
	IBANBeneficiary *string          `json:"iban_beneficiary" validate:"omitempty,iban"`
	BICBeneficiary  *string          `json:"bic_beneficiary" validate:"omitempty,bic"`
	BankBeneficiary *string          `json:"bank_beneficiary"`
	NameBeneficiary *string          `json:"name_beneficiary"`
	Details         *string          `json:"details"`
	PaymentSystem   *string          `json:"payment_system" validate:"omitempty,oneof=B I"`
	Credential      *string          `json:"credential"`
}

// CreateTransfer opens a fund transfer in Initiated status
// @Summary Create a fund transfer
// @Description Create a new fund transfer in Initiated status from an account the caller can operate
// @Tags transfers
// @Accept json
// @Produce json
// @Param transfer body CreateTransferRequest true "Transfer data"
// @Success 201 {object} models.FundTransfer
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /transfers [post]
func (ts *TransferService) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := CurrentUserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req CreateTransferRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		log.Printf("[TRANSFER] Invalid create request: %v", err)
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.Amount.IsNegative() {
		SendErrorResponse(w, "Amount must not be negative", http.StatusBadRequest, nil)
		return
	}

	actor, err := ts.authz.ResolveActor(userID)
	if err != nil {
		SendErrorResponse(w, "Wrong user type", http.StatusForbidden, nil)
		return
	}

	if actor.Role != models.RoleAccountant {
		hasAccess, err := ts.accountHasUser(req.AccountID, userID)
		if err != nil {
			log.Printf("[TRANSFER] Account access check failed: %v", err)
			SendErrorResponse(w, "Failed to create transfer", http.StatusInternalServerError, nil)
			return
		}
		if !hasAccess {
			SendErrorResponse(w, "No access to account", http.StatusForbidden, nil)
			return
		}
	}

	currency, rate, err := ts.currencyByCode(req.Currency)
	if err != nil {
		SendErrorResponse(w, "Unknown currency", http.StatusBadRequest, nil)
		return
	}

	paymentSystem := models.PaymentSystemBISERA
	if req.PaymentSystem != "" {
		paymentSystem = models.PaymentSystem(req.PaymentSystem)
	}

	amountBGN := req.Amount.Mul(rate).RoundBank(2)
	now := time.Now()

	transfer := models.FundTransfer{
		UserID:          userID,
		AccountID:       req.AccountID,
		IBANBeneficiary: req.IBANBeneficiary,
		BICBeneficiary:  req.BICBeneficiary,
		BankBeneficiary: req.BankBeneficiary,
		NameBeneficiary: req.NameBeneficiary,
		Amount:          req.Amount,
		AmountBGN:       amountBGN,
		CurrencyID:      currency,
		CurrencyCode:    req.Currency,
		Details:         req.Details,
		Status:          models.StatusInitiated,
		PaymentSystem:   paymentSystem,
		Created:         now,
		LastUpdated:     now,
	}

	err = ts.db.QueryRow(`
		INSERT INTO fund_transfers
		(user_id, account_id, iban_beneficiary, bic_beneficiary, bank_beneficiary, name_beneficiary,
		 amount, amount_bgn, currency_id, details, status, payment_system, created, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		transfer.UserID, transfer.AccountID, transfer.IBANBeneficiary, transfer.BICBeneficiary,
		transfer.BankBeneficiary, transfer.NameBeneficiary, transfer.Amount, transfer.AmountBGN,
		transfer.CurrencyID, transfer.Details, transfer.Status, transfer.PaymentSystem,
		transfer.Created, transfer.LastUpdated).Scan(&transfer.ID)
	if err != nil {
		log.Printf("[TRANSFER] Failed to create transfer: %v", err)
		SendErrorResponse(w, "Failed to create transfer", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[TRANSFER] Transfer %d created by user %d for account %d", transfer.ID, userID, transfer.AccountID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(transfer)
}

// ListTransfers lists fund transfers visible to the caller
// @Summary List fund transfers
// @Description List transfers, filtered by role and optional query parameters
// @Tags transfers
// @Produce json
// @Param account_id query int false "Filter by originating account"
// @Param from_date query string false "Created on or after (YYYY-MM-DD)"
// @Param to_date query string false "Created on or before (YYYY-MM-DD)"
// @Param fund_transfer query int false "Filter by transfer id"
// @Success 200 {object} object{transfers=[]models.FundTransfer,count=int}
// @Failure 400 {object} ErrorResponse
// @Router /transfers [get]
func (ts *TransferService) ListTransfers(w http.ResponseWriter, r *http.Request) {
	userID, ok := CurrentUserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var conditions []string
	var args []interface{}
	argIndex := 1

	staff, err := ts.isStaff(userID)
	if err != nil {
		log.Printf("[TRANSFER] Staff lookup failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch transfers", http.StatusInternalServerError, nil)
		return
	}

	if !staff {
		actor, err := ts.authz.ResolveActor(userID)
		if err != nil {
			SendErrorResponse(w, "Wrong user type", http.StatusForbidden, nil)
			return
		}

		// Accountants see their own creations; persons and managers see
		// every transfer from their customer's accounts.
		if actor.Role == models.RoleAccountant {
			conditions = append(conditions, fmt.Sprintf("ft.user_id = $%d", argIndex))
			args = append(args, userID)
			argIndex++
		} else {
			conditions = append(conditions, fmt.Sprintf("a.customer_id = $%d", argIndex))
			args = append(args, actor.CustomerID)
			argIndex++
		}
	}

	if v := r.URL.Query().Get("account_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			SendErrorResponse(w, "Invalid account_id", http.StatusBadRequest, nil)
			return
		}
		conditions = append(conditions, fmt.Sprintf("ft.account_id = $%d", argIndex))
		args = append(args, id)
		argIndex++
	}
	if v := r.URL.Query().Get("fund_transfer"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			SendErrorResponse(w, "Invalid fund_transfer", http.StatusBadRequest, nil)
			return
		}
		conditions = append(conditions, fmt.Sprintf("ft.id = $%d", argIndex))
		args = append(args, id)
		argIndex++
	}
	if v := r.URL.Query().Get("from_date"); v != "" {
		conditions = append(conditions, fmt.Sprintf("ft.created >= $%d::date", argIndex))
		args = append(args, v)
		argIndex++
	}
	if v := r.URL.Query().Get("to_date"); v != "" {
		conditions = append(conditions, fmt.Sprintf("ft.created < $%d::date + interval '1 day'", argIndex))
		args = append(args, v)
		argIndex++
	}

	query := `
		SELECT ft.id, ft.user_id, ft.account_id, ft.iban_beneficiary, ft.bic_beneficiary,
		       ft.bank_beneficiary, ft.name_beneficiary, ft.amount, ft.amount_bgn, ft.currency_id,
		       c.code, ft.details, ft.status, ft.user_approved_id, ft.reference_cbs,
		       ft.payment_system, ft.created, ft.last_updated
		FROM fund_transfers ft
		JOIN currencies c ON ft.currency_id = c.id
		JOIN accounts a ON ft.account_id = a.id`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY ft.created DESC"

	rows, err := ts.db.Query(query, args...)
	if err != nil {
		log.Printf("[TRANSFER] Failed to list transfers: %v", err)
		SendErrorResponse(w, "Failed to fetch transfers", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	transfers := []models.FundTransfer{}
	for rows.Next() {
		var t models.FundTransfer
		if err := scanTransfer(rows, &t); err != nil {
			log.Printf("[TRANSFER] Failed to scan transfer: %v", err)
			SendErrorResponse(w, "Failed to fetch transfers", http.StatusInternalServerError, nil)
			return
		}
		transfers = append(transfers, t)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transfers": transfers,
		"count":     len(transfers),
	})
}

// GetTransfer retrieves a single transfer
// @Summary Get transfer by id
// @Tags transfers
// @Produce json
// @Param id path int true "Transfer ID"
// @Success 200 {object} models.FundTransfer
// @Failure 404 {object} ErrorResponse
// @Router /transfers/{id} [get]
func (ts *TransferService) GetTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := CurrentUserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	transferID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid transfer id", http.StatusBadRequest, nil)
		return
	}

	transfer, err := ts.fetchTransfer(transferID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Transfer not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[TRANSFER] Failed to fetch transfer %d: %v", transferID, err)
			SendErrorResponse(w, "Failed to fetch transfer", http.StatusInternalServerError, nil)
		}
		return
	}

	visible, err := ts.canView(userID, transfer)
	if err != nil {
		log.Printf("[TRANSFER] Visibility check failed for transfer %d: %v", transferID, err)
		SendErrorResponse(w, "Failed to fetch transfer", http.StatusInternalServerError, nil)
		return
	}
	if !visible {
		SendErrorResponse(w, "Transfer not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transfer)
}

// UpdateTransfer requests a status transition or edits an Initiated transfer
// @Summary Update a fund transfer
// @Description Edit an Initiated transfer or request a transition to Approved/Rejected. Supplying a credential (PIN followed by OTP) triggers authorization and settlement.
// @Tags transfers
// @Accept json
// @Produce json
// @Param id path int true "Transfer ID"
// @Param transfer body UpdateTransferRequest true "Fields to update"
// @Success 200 {object} models.FundTransfer
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /transfers/{id} [put]
func (ts *TransferService) UpdateTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := CurrentUserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	transferID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid transfer id", http.StatusBadRequest, nil)
		return
	}

	var req UpdateTransferRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		log.Printf("[TRANSFER] Invalid update request for transfer %d: %v", transferID, err)
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	transfer, err := ts.RequestTransition(transferID, userID, req)
	if err != nil {
		ts.sendTransitionError(w, transferID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transfer)
}

// DeleteTransfer removes a transfer that has not left Initiated
// @Summary Delete an Initiated transfer
// @Tags transfers
// @Param id path int true "Transfer ID"
// @Success 204 "Deleted"
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /transfers/{id} [delete]
func (ts *TransferService) DeleteTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := CurrentUserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	transferID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid transfer id", http.StatusBadRequest, nil)
		return
	}

	transfer, err := ts.fetchTransfer(transferID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Transfer not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to delete transfer", http.StatusInternalServerError, nil)
		}
		return
	}

	actor, err := ts.authz.ResolveActor(userID)
	if err != nil || actor.Role == models.RoleAccountant {
		SendErrorResponse(w, "Operation not permitted", http.StatusForbidden, nil)
		return
	}
	hasAccess, err := ts.accountHasUser(transfer.AccountID, userID)
	if err != nil || !hasAccess {
		SendErrorResponse(w, "Operation not permitted", http.StatusForbidden, nil)
		return
	}

	result, err := ts.db.Exec(`DELETE FROM fund_transfers WHERE id = $1 AND status = $2`,
		transferID, models.StatusInitiated)
	if err != nil {
		log.Printf("[TRANSFER] Failed to delete transfer %d: %v", transferID, err)
		SendErrorResponse(w, "Failed to delete transfer", http.StatusInternalServerError, nil)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		SendErrorResponse(w, "Only Initiated transfers can be deleted", http.StatusConflict, nil)
		return
	}

	log.Printf("[TRANSFER] Transfer %d deleted by user %d", transferID, userID)
	w.WriteHeader(http.StatusNoContent)
}

// RequestTransition runs the transfer state machine for one update request.
// The transfer row is locked for the whole unit of work, so a concurrent
// transition on the same transfer either waits and then observes a terminal
// state (ErrTransferConflict) or wins.
func (ts *TransferService) RequestTransition(transferID, actorUserID int, req UpdateTransferRequest) (*models.FundTransfer, error) {
	actor, err := ts.authz.ResolveActor(actorUserID)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleAccountant {
		return nil, ErrForbidden
	}

	hasAccess, err := ts.transferAccountHasUser(transferID, actorUserID)
	if err != nil {
		return nil, err
	}
	if !hasAccess {
		return nil, ErrForbidden
	}

	proposed := models.TransferStatus("")
	if req.Status != nil {
		proposed = models.TransferStatus(*req.Status)
		switch proposed {
		case models.StatusInitiated, models.StatusApproved, models.StatusRejected:
		default:
			return nil, ErrInvalidStatusValue
		}
	}

	tx, err := ts.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	transfer, err := ts.fetchTransferForUpdate(tx, transferID)
	if err != nil {
		return nil, err
	}
	if transfer.Status.Terminal() {
		return nil, ErrTransferConflict
	}
	if proposed == "" {
		proposed = transfer.Status
	}

	if err := ts.mergeFields(tx, transfer, req); err != nil {
		return nil, err
	}

	credential := ""
	if req.Credential != nil {
		credential = *req.Credential
	}

	now := time.Now()

	switch {
	case proposed == models.StatusRejected:
		result, err := tx.Exec(`
			UPDATE fund_transfers
			SET status = $1, user_approved_id = $2, last_updated = $3
			WHERE id = $4 AND status IN ('I', 'A')`,
			models.StatusRejected, actorUserID, now, transfer.ID)
		if err != nil {
			return nil, fmt.Errorf("reject transfer: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return nil, ErrTransferConflict
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit rejection: %w", err)
		}
		transfer.Status = models.StatusRejected
		transfer.UserApprovedID = &actorUserID
		transfer.LastUpdated = now
		log.Printf("[TRANSFER] Transfer %d rejected by user %d", transfer.ID, actorUserID)
		return transfer, nil

	case proposed == models.StatusApproved || (proposed == models.StatusInitiated && credential != ""):
		if credential != "" {
			transfer.OTPReceived = strings.TrimPrefix(credential, actor.PIN)
		}

		if err := ts.authz.Authorize(transfer, actor, credential); err != nil {
			return nil, err
		}

		if err := ts.settlement.SettleTx(tx, transfer.AccountID, transfer.IBANBeneficiary, transfer.ID, transfer.AmountBGN); err != nil {
			// The rollback of the open transaction is the compensation:
			// no partial debit survives. The transfer itself must still
			// reach a terminal, auditable state.
			tx.Rollback()
			ts.markProcessedWithError(transfer.ID, actorUserID, err)
			return nil, err
		}

		reference := ts.referenceCode(transfer.ID, now)
		result, err := tx.Exec(`
			UPDATE fund_transfers
			SET iban_beneficiary = $1, bic_beneficiary = $2, bank_beneficiary = $3,
			    name_beneficiary = $4, amount = $5, amount_bgn = $6, currency_id = $7,
			    details = $8, payment_system = $9, otp_received = $10,
			    status = $11, reference_cbs = $12, user_approved_id = $13, last_updated = $14
			WHERE id = $15 AND status IN ('I', 'A')`,
			transfer.IBANBeneficiary, transfer.BICBeneficiary, transfer.BankBeneficiary,
			transfer.NameBeneficiary, transfer.Amount, transfer.AmountBGN, transfer.CurrencyID,
			transfer.Details, transfer.PaymentSystem, transfer.OTPReceived,
			models.StatusProcessed, reference, actorUserID, now, transfer.ID)
		if err != nil {
			return nil, fmt.Errorf("finalize transfer: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return nil, ErrTransferConflict
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit settlement: %w", err)
		}

		transfer.Status = models.StatusProcessed
		transfer.ReferenceCBS = reference
		transfer.UserApprovedID = &actorUserID
		transfer.LastUpdated = now
		log.Printf("[TRANSFER] Transfer %d processed, reference %s", transfer.ID, reference)
		ts.afterProcessed(transfer)
		return transfer, nil

	default:
		// Plain save: field changes only, no authorization attempt.
		result, err := tx.Exec(`
			UPDATE fund_transfers
			SET iban_beneficiary = $1, bic_beneficiary = $2, bank_beneficiary = $3,
			    name_beneficiary = $4, amount = $5, amount_bgn = $6, currency_id = $7,
			    details = $8, payment_system = $9, last_updated = $10
			WHERE id = $11 AND status = 'I'`,
			transfer.IBANBeneficiary, transfer.BICBeneficiary, transfer.BankBeneficiary,
			transfer.NameBeneficiary, transfer.Amount, transfer.AmountBGN, transfer.CurrencyID,
			transfer.Details, transfer.PaymentSystem, now, transfer.ID)
		if err != nil {
			return nil, fmt.Errorf("save transfer: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return nil, ErrTransferConflict
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit save: %w", err)
		}
		transfer.LastUpdated = now
		return transfer, nil
	}
}

// mergeFields overlays the request onto the current row and recomputes the
// BGN amount from the current rate. The recomputation happens on every
// transition attempt; the stored amount_bgn is never trusted.
func (ts *TransferService) mergeFields(tx *sql.Tx, transfer *models.FundTransfer, req UpdateTransferRequest) error {
	if req.IBANBeneficiary != nil {
		transfer.IBANBeneficiary = *req.IBANBeneficiary
	}
	if req.BICBeneficiary != nil {
		transfer.BICBeneficiary = *req.BICBeneficiary
	}
	if req.BankBeneficiary != nil {
		transfer.BankBeneficiary = *req.BankBeneficiary
	}
	if req.NameBeneficiary != nil {
		transfer.NameBeneficiary = *req.NameBeneficiary
	}
	if req.Details != nil {
		transfer.Details = *req.Details
	}
	if req.PaymentSystem != nil {
		transfer.PaymentSystem = models.PaymentSystem(*req.PaymentSystem)
	}
	if req.Amount != nil {
		if req.Amount.IsNegative() {
			return ErrInvalidStatusValue
		}
		transfer.Amount = *req.Amount
	}
	if req.Currency != nil {
		transfer.CurrencyCode = *req.Currency
	}

	var rate decimal.Decimal
	err := tx.QueryRow(`SELECT id, rate_to_bgn FROM currencies WHERE code = $1`, transfer.CurrencyCode).
		Scan(&transfer.CurrencyID, &rate)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrCurrencyNotFound
		}
		return err
	}

	transfer.AmountBGN = transfer.Amount.Mul(rate).RoundBank(2)
	return nil
}

// markProcessedWithError records the terminal error state outside the rolled
// back settlement transaction so the transfer remains auditable.
func (ts *TransferService) markProcessedWithError(transferID, actorUserID int, cause error) {
	_, err := ts.db.Exec(`
		UPDATE fund_transfers
		SET status = $1, user_approved_id = $2, last_updated = $3
		WHERE id = $4 AND status IN ('I', 'A')`,
		models.StatusProcessedWithError, actorUserID, time.Now(), transferID)
	if err != nil {
		log.Printf("[TRANSFER] Failed to mark transfer %d processed-with-error: %v", transferID, err)
		return
	}
	log.Printf("[TRANSFER] Transfer %d processed with error: %v", transferID, cause)
}

// afterProcessed dispatches the fire-and-forget side effects of a settled
// transfer: an SMS to the owner and, for beneficiaries outside this bank,
// an outward pacs.008 message. Neither can fail the settlement outcome.
func (ts *TransferService) afterProcessed(transfer *models.FundTransfer) {
	go func() {
		phone, err := ts.ownerMobilePhone(transfer.UserID)
		if err != nil {
			log.Printf("[TRANSFER] No phone for transfer %d owner: %v", transfer.ID, err)
		} else {
			body := fmt.Sprintf("Transfer %s for %s %s to %s processed",
				transfer.ReferenceCBS, transfer.Amount.StringFixed(2), transfer.CurrencyCode, transfer.IBANBeneficiary)
			ts.notifier.EnqueueSMS(phone, body)
		}

		var held bool
		if err := ts.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM accounts WHERE iban = $1)`,
			transfer.IBANBeneficiary).Scan(&held); err != nil {
			log.Printf("[TRANSFER] Credit account lookup failed for transfer %d: %v", transfer.ID, err)
			return
		}
		if !held {
			if err := ts.iso.DispatchCreditTransfer(transfer); err != nil {
				log.Printf("[TRANSFER] pacs.008 dispatch failed for transfer %d: %v", transfer.ID, err)
			}
		}
	}()
}

func (ts *TransferService) referenceCode(transferID int, at time.Time) string {
	return fmt.Sprintf("%s%s%08d", ts.cfg.ReferencePrefix, at.Format("20060102"), transferID)
}

func (ts *TransferService) sendTransitionError(w http.ResponseWriter, transferID int, err error) {
	switch err {
	case ErrInvalidStatusValue:
		SendErrorResponse(w, "Invalid status value", http.StatusBadRequest, nil)
	case ErrUnrecognizedActor:
		SendErrorResponse(w, "Wrong user type", http.StatusForbidden, nil)
	case ErrInvalidCredential:
		SendErrorResponse(w, "Invalid credential", http.StatusBadRequest, nil)
	case ErrLimitExceeded:
		SendErrorResponse(w, "Transfer limit exceeded", http.StatusBadRequest, nil)
	case ErrForbidden:
		SendErrorResponse(w, "Operation not permitted", http.StatusForbidden, nil)
	case ErrInsufficientFunds:
		SendErrorResponse(w, "Insufficient funds", http.StatusBadRequest, nil)
	case ErrTransferConflict:
		SendErrorResponse(w, "Transfer already finalized", http.StatusConflict, nil)
	case ErrCurrencyNotFound:
		SendErrorResponse(w, "Unknown currency", http.StatusBadRequest, nil)
	case ErrAccountNotFound:
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
	default:
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Transfer not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[TRANSFER] Transition failed for transfer %d: %v", transferID, err)
		SendErrorResponse(w, "Failed to process transfer", http.StatusInternalServerError, nil)
	}
}

// Database helpers

type transferScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransfer(row transferScanner, t *models.FundTransfer) error {
	var approvedID sql.NullInt64
	err := row.Scan(&t.ID, &t.UserID, &t.AccountID, &t.IBANBeneficiary, &t.BICBeneficiary,
		&t.BankBeneficiary, &t.NameBeneficiary, &t.Amount, &t.AmountBGN, &t.CurrencyID,
		&t.CurrencyCode, &t.Details, &t.Status, &approvedID, &t.ReferenceCBS,
		&t.PaymentSystem, &t.Created, &t.LastUpdated)
	if err != nil {
		return err
	}
	if approvedID.Valid {
		id := int(approvedID.Int64)
		t.UserApprovedID = &id
	}
	return nil
}

const transferColumns = `
	ft.id, ft.user_id, ft.account_id, ft.iban_beneficiary, ft.bic_beneficiary,
	ft.bank_beneficiary, ft.name_beneficiary, ft.amount, ft.amount_bgn, ft.currency_id,
	c.code, ft.details, ft.status, ft.user_approved_id, ft.reference_cbs,
	ft.payment_system, ft.created, ft.last_updated`

func (ts *TransferService) fetchTransfer(transferID int) (*models.FundTransfer, error) {
	var t models.FundTransfer
	row := ts.db.QueryRow(`
		SELECT `+transferColumns+`
		FROM fund_transfers ft
		JOIN currencies c ON ft.currency_id = c.id
		WHERE ft.id = $1`, transferID)
	if err := scanTransfer(row, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (ts *TransferService) fetchTransferForUpdate(tx *sql.Tx, transferID int) (*models.FundTransfer, error) {
	var t models.FundTransfer
	var otpGenerated, otpReceived sql.NullString
	var approvedID sql.NullInt64
	err := tx.QueryRow(`
		SELECT ft.id, ft.user_id, ft.account_id, ft.iban_beneficiary, ft.bic_beneficiary,
		       ft.bank_beneficiary, ft.name_beneficiary, ft.amount, ft.amount_bgn, ft.currency_id,
		       c.code, ft.details, ft.status, ft.otp_generated, ft.otp_received,
		       ft.user_approved_id, ft.reference_cbs, ft.payment_system, ft.created, ft.last_updated
		FROM fund_transfers ft
		JOIN currencies c ON ft.currency_id = c.id
		WHERE ft.id = $1
		FOR UPDATE OF ft`, transferID).
		Scan(&t.ID, &t.UserID, &t.AccountID, &t.IBANBeneficiary, &t.BICBeneficiary,
			&t.BankBeneficiary, &t.NameBeneficiary, &t.Amount, &t.AmountBGN, &t.CurrencyID,
			&t.CurrencyCode, &t.Details, &t.Status, &otpGenerated, &otpReceived,
			&approvedID, &t.ReferenceCBS, &t.PaymentSystem, &t.Created, &t.LastUpdated)
	if err != nil {
		return nil, err
	}
	t.OTPGenerated = otpGenerated.String
	t.OTPReceived = otpReceived.String
	if approvedID.Valid {
		id := int(approvedID.Int64)
		t.UserApprovedID = &id
	}
	return &t, nil
}

func (ts *TransferService) accountHasUser(accountID, userID int) (bool, error) {
	var hasAccess bool
	err := ts.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM account_users WHERE account_id = $1 AND user_id = $2)`,
		accountID, userID).Scan(&hasAccess)
	return hasAccess, err
}

func (ts *TransferService) transferAccountHasUser(transferID, userID int) (bool, error) {
	var hasAccess bool
	err := ts.db.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM fund_transfers ft
			JOIN account_users au ON ft.account_id = au.account_id
			WHERE ft.id = $1 AND au.user_id = $2)`,
		transferID, userID).Scan(&hasAccess)
	return hasAccess, err
}

func (ts *TransferService) canView(userID int, transfer *models.FundTransfer) (bool, error) {
	staff, err := ts.isStaff(userID)
	if err != nil {
		return false, err
	}
	if staff {
		return true, nil
	}

	actor, err := ts.authz.ResolveActor(userID)
	if err != nil {
		if err == ErrUnrecognizedActor {
			return false, nil
		}
		return false, err
	}
	if actor.Role == models.RoleAccountant {
		return transfer.UserID == userID, nil
	}

	var sameCustomer bool
	err = ts.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1 AND customer_id = $2)`,
		transfer.AccountID, actor.CustomerID).Scan(&sameCustomer)
	return sameCustomer, err
}

func (ts *TransferService) isStaff(userID int) (bool, error) {
	var staff bool
	err := ts.db.QueryRow(`SELECT is_staff FROM users WHERE id = $1`, userID).Scan(&staff)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return staff, err
}

func (ts *TransferService) currencyByCode(code string) (int, decimal.Decimal, error) {
	var id int
	var rate decimal.Decimal
	err := ts.db.QueryRow(`SELECT id, rate_to_bgn FROM currencies WHERE code = $1`, code).Scan(&id, &rate)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, decimal.Zero, ErrCurrencyNotFound
		}
		return 0, decimal.Zero, err
	}
	return id, rate, nil
}

func (ts *TransferService) ownerMobilePhone(userID int) (string, error) {
	var phone string
	err := ts.db.QueryRow(`
		SELECT mobile_phone FROM (
			SELECT mobile_phone, 1 AS priority FROM persons WHERE user_id = $1
			UNION ALL
			SELECT mobile_phone, 2 AS priority FROM managers WHERE user_id = $1
			UNION ALL
			SELECT mobile_phone, 3 AS priority FROM accountants WHERE user_id = $1
		) phones ORDER BY priority LIMIT 1`, userID).Scan(&phone)
	return phone, err
}

package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"

	"github.com/corebank/backoffice/internal/models"
	"github.com/shopspring/decimal"
)

// CurrencyService serves the currency and account-product reference tables.
// Rates are read fresh on every use so a rate change between creation and
// settlement is always picked up.
type CurrencyService struct {
	db *sql.DB
}

func NewCurrencyService(db *sql.DB) *CurrencyService {
	return &CurrencyService{db: db}
}

// RateToBGN returns the conversion rate of the currency code into BGN.
func (s *CurrencyService) RateToBGN(code string) (decimal.Decimal, error) {
	var rate decimal.Decimal
	err := s.db.QueryRow(`SELECT rate_to_bgn FROM currencies WHERE code = $1`, code).Scan(&rate)
	if err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, ErrCurrencyNotFound
		}
		return decimal.Zero, err
	}
	return rate, nil
}

// CurrencyByCode resolves a currency row by its ISO code.
func (s *CurrencyService) CurrencyByCode(code string) (*models.Currency, error) {
	var c models.Currency
	err := s.db.QueryRow(`SELECT id, code, rate_to_bgn FROM currencies WHERE code = $1`, code).
		Scan(&c.ID, &c.Code, &c.RateToBGN)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCurrencyNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListCurrencies returns the currency reference table
// @Summary List currencies
// @Description Get all currencies with their BGN conversion rates
// @Tags reference
// @Produce json
// @Success 200 {array} models.Currency
// @Failure 500 {object} ErrorResponse
// @Router /currencies [get]
func (s *CurrencyService) ListCurrencies(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query(`SELECT id, code, rate_to_bgn FROM currencies ORDER BY code`)
	if err != nil {
		log.Printf("[REFERENCE] Failed to list currencies: %v", err)
		SendErrorResponse(w, "Failed to fetch currencies", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	currencies := []models.Currency{}
	for rows.Next() {
		var c models.Currency
		if err := rows.Scan(&c.ID, &c.Code, &c.RateToBGN); err != nil {
			log.Printf("[REFERENCE] Failed to scan currency: %v", err)
			SendErrorResponse(w, "Failed to fetch currencies", http.StatusInternalServerError, nil)
			return
		}
		currencies = append(currencies, c)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(currencies)
}

// ListAccountProducts returns the account product catalogue
// @Summary List account products
// @Description Get all account products an account can be opened under
// @Tags reference
// @Produce json
// @Success 200 {array} models.AccountProduct
// @Failure 500 {object} ErrorResponse
// @Router /account-products [get]
func (s *CurrencyService) ListAccountProducts(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query(`SELECT id, type, name FROM account_products ORDER BY id`)
	if err != nil {
		log.Printf("[REFERENCE] Failed to list account products: %v", err)
		SendErrorResponse(w, "Failed to fetch account products", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	products := []models.AccountProduct{}
	for rows.Next() {
		var p models.AccountProduct
		if err := rows.Scan(&p.ID, &p.Type, &p.Name); err != nil {
			log.Printf("[REFERENCE] Failed to scan account product: %v", err)
			SendErrorResponse(w, "Failed to fetch account products", http.StatusInternalServerError, nil)
			return
		}
		products = append(products, p)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(products)
}

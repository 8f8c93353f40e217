package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountStatus string

const (
	AccountActive AccountStatus = "A"
	AccountClosed AccountStatus = "C"
)

// Account is a ledger account held by this bank, keyed by IBAN. Balance is
// kept in the account's own currency; the version column backs optimistic
// locking on balance updates.
type Account struct {
	ID           int             `json:"id" db:"id"`
	IBAN         string          `json:"iban" db:"iban"`
	CustomerID   int             `json:"customer_id" db:"customer_id"`
	ProductID    int             `json:"product_id" db:"product_id"`
	CurrencyID   int             `json:"-" db:"currency_id"`
	CurrencyCode string          `json:"currency"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	Version      int             `json:"-" db:"version"`
	Status       AccountStatus   `json:"status" db:"status"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// AccountProduct is the reference catalogue entry an account is opened under.
type AccountProduct struct {
	ID   int    `json:"id" db:"id"`
	Type string `json:"type" db:"type"` // D deposit, C current, S saving
	Name string `json:"name" db:"name"`
}

// StatementEntry is one line of an account statement: a processed transfer
// leg converted into the account's own currency.
type StatementEntry struct {
	TransferID      int             `json:"transfer_id"`
	BookedAt        time.Time       `json:"booked_at"`
	ReferenceCBS    string          `json:"reference_cbs"`
	NameBeneficiary string          `json:"name_beneficiary"`
	Details         string          `json:"details"`
	AmountDebit     decimal.Decimal `json:"amount_debit"`
	AmountCredit    decimal.Decimal `json:"amount_credit"`
}

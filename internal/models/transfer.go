package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferStatus is the lifecycle state of a fund transfer. The single-letter
// values are what the core bank system stores and exchanges.
type TransferStatus string

const (
	StatusInitiated          TransferStatus = "I"
	StatusApproved           TransferStatus = "A"
	StatusRejected           TransferStatus = "R"
	StatusProcessed          TransferStatus = "P"
	StatusProcessedWithError TransferStatus = "E"
)

// Terminal reports whether the transfer can no longer change state.
func (s TransferStatus) Terminal() bool {
	return s == StatusRejected || s == StatusProcessed || s == StatusProcessedWithError
}

// Valid reports whether s is one of the known status codes.
func (s TransferStatus) Valid() bool {
	switch s {
	case StatusInitiated, StatusApproved, StatusRejected, StatusProcessed, StatusProcessedWithError:
		return true
	}
	return false
}

// PaymentSystem selects the clearing channel for a transfer.
type PaymentSystem string

const (
	PaymentSystemBISERA PaymentSystem = "B" // national clearing
	PaymentSystemRINGS  PaymentSystem = "I" // real-time interbank
)

// FundTransfer is a payment order from an internally held account to a
// beneficiary IBAN which may or may not be held by this bank.
type FundTransfer struct {
	ID              int             `json:"id" db:"id"`
	UserID          int             `json:"user_id" db:"user_id"`
	AccountID       int             `json:"account_id" db:"account_id"`
	IBANBeneficiary string          `json:"iban_beneficiary" db:"iban_beneficiary"`
	BICBeneficiary  string          `json:"bic_beneficiary" db:"bic_beneficiary"`
	BankBeneficiary string          `json:"bank_beneficiary" db:"bank_beneficiary"`
	NameBeneficiary string          `json:"name_beneficiary" db:"name_beneficiary"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	AmountBGN       decimal.Decimal `json:"amount_bgn" db:"amount_bgn"`
	CurrencyID      int             `json:"-" db:"currency_id"`
	CurrencyCode    string          `json:"currency"`
	Details         string          `json:"details" db:"details"`
	Status          TransferStatus  `json:"status" db:"status"`
	OTPGenerated    string          `json:"-" db:"otp_generated"`
	OTPReceived     string          `json:"-" db:"otp_received"`
	UserApprovedID  *int            `json:"user_approved,omitempty" db:"user_approved_id"`
	ReferenceCBS    string          `json:"reference_cbs" db:"reference_cbs"`
	PaymentSystem   PaymentSystem   `json:"payment_system" db:"payment_system"`
	Created         time.Time       `json:"created" db:"created"`
	LastUpdated     time.Time       `json:"last_updated" db:"last_updated"`
}

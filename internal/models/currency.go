package models

import "github.com/shopspring/decimal"

// Currency is a reference-table entry: an ISO code and its fixed conversion
// rate into BGN, the bank's reference currency. RateToBGN for BGN itself is 1.
type Currency struct {
	ID        int             `json:"id" db:"id"`
	Code      string          `json:"code" db:"code"`
	RateToBGN decimal.Decimal `json:"rate_to_bgn" db:"rate_to_bgn"`
}

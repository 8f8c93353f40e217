package services

import "errors"

// Failure modes of the transfer transition path. Handlers map these onto
// HTTP statuses; nothing is swallowed.
var (
	ErrInvalidStatusValue = errors.New("invalid status value")
	ErrUnrecognizedActor  = errors.New("wrong user type")
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrLimitExceeded      = errors.New("transfer limit exceeded")
	ErrForbidden          = errors.New("operation not permitted for this role")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrTransferConflict   = errors.New("transfer already finalized")
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountConflict    = errors.New("account balance conflict")
	ErrCurrencyNotFound   = errors.New("currency not found")
)

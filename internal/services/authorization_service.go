package services

import (
	"crypto/subtle"
	"database/sql"

	"github.com/corebank/backoffice/internal/models"
	"github.com/shopspring/decimal"
)

// AuthorizationService decides whether an actor may move a transfer towards
// settlement. Authorize itself is a pure predicate over the transfer, the
// resolved actor and the submitted credential; it mutates nothing.
type AuthorizationService struct {
	db *sql.DB
}

func NewAuthorizationService(db *sql.DB) *AuthorizationService {
	return &AuthorizationService{db: db}
}

// ResolveActor finds the role-bearing identity behind a user id. The lookup
// is an ordered match: person first, then manager, then accountant. A user
// with none of the three is not a recognized actor.
func (s *AuthorizationService) ResolveActor(userID int) (models.Actor, error) {
	var pin string
	var customerID sql.NullInt64

	err := s.db.QueryRow(`SELECT pin, customer_id FROM persons WHERE user_id = $1`, userID).
		Scan(&pin, &customerID)
	if err == nil {
		return models.Actor{UserID: userID, Role: models.RolePerson, CustomerID: int(customerID.Int64), PIN: pin}, nil
	}
	if err != sql.ErrNoRows {
		return models.Actor{}, err
	}

	var limit decimal.NullDecimal
	err = s.db.QueryRow(`SELECT pin, customer_id, limit_per_transfer FROM managers WHERE user_id = $1`, userID).
		Scan(&pin, &customerID, &limit)
	if err == nil {
		actor := models.Actor{UserID: userID, Role: models.RoleManager, CustomerID: int(customerID.Int64), PIN: pin}
		if limit.Valid {
			actor.TransferLimit = &limit.Decimal
		}
		return actor, nil
	}
	if err != sql.ErrNoRows {
		return models.Actor{}, err
	}

	err = s.db.QueryRow(`SELECT customer_id FROM accountants WHERE user_id = $1`, userID).
		Scan(&customerID)
	if err == nil {
		return models.Actor{UserID: userID, Role: models.RoleAccountant, CustomerID: int(customerID.Int64)}, nil
	}
	if err != sql.ErrNoRows {
		return models.Actor{}, err
	}

	return models.Actor{}, ErrUnrecognizedActor
}

// Authorize validates that the actor may settle the transfer. A submitted
// credential must equal the actor's PIN followed by the transfer's generated
// OTP; an empty credential is a direct staff approval and skips the check.
// The comparison is constant-time but otherwise an exact byte match.
func (s *AuthorizationService) Authorize(transfer *models.FundTransfer, actor models.Actor, credential string) error {
	if credential != "" {
		expected := actor.PIN + transfer.OTPGenerated
		if subtle.ConstantTimeCompare([]byte(credential), []byte(expected)) != 1 {
			return ErrInvalidCredential
		}
	}

	if actor.Role == models.RoleManager && actor.TransferLimit != nil &&
		transfer.AmountBGN.GreaterThan(*actor.TransferLimit) {
		return ErrLimitExceeded
	}

	if !actor.CanAuthorize() {
		return ErrForbidden
	}

	return nil
}

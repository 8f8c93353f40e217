package services

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/corebank/backoffice/internal/models"
)

func TestAuthorizationService_ResolveActor(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuthorizationService(db)

	t.Run("person found first", func(t *testing.T) {
		mock.ExpectQuery("SELECT pin, customer_id FROM persons WHERE user_id = \\$1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"pin", "customer_id"}).AddRow("1234", 10))

		actor, err := service.ResolveActor(1)
		assert.NoError(t, err)
		assert.Equal(t, models.RolePerson, actor.Role)
		assert.Equal(t, "1234", actor.PIN)
		assert.Equal(t, 10, actor.CustomerID)
		assert.Nil(t, actor.TransferLimit)
	})

	t.Run("manager with limit", func(t *testing.T) {
		mock.ExpectQuery("SELECT pin, customer_id FROM persons WHERE user_id = \\$1").
			WithArgs(2).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT pin, customer_id, limit_per_transfer FROM managers WHERE user_id = \\$1").
			WithArgs(2).
			WillReturnRows(sqlmock.NewRows([]string{"pin", "customer_id", "limit_per_transfer"}).
				AddRow("5678", 20, "10000.00"))

		actor, err := service.ResolveActor(2)
		assert.NoError(t, err)
		assert.Equal(t, models.RoleManager, actor.Role)
		assert.NotNil(t, actor.TransferLimit)
		assert.True(t, actor.TransferLimit.Equal(decimal.RequireFromString("10000.00")))
	})

	t.Run("manager without limit", func(t *testing.T) {
		mock.ExpectQuery("SELECT pin, customer_id FROM persons WHERE user_id = \\$1").
			WithArgs(3).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT pin, customer_id, limit_per_transfer FROM managers WHERE user_id = \\$1").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"pin", "customer_id", "limit_per_transfer"}).
				AddRow("5678", 20, nil))

		actor, err := service.ResolveActor(3)
		assert.NoError(t, err)
		assert.Equal(t, models.RoleManager, actor.Role)
		assert.Nil(t, actor.TransferLimit)
	})

	t.Run("accountant last", func(t *testing.T) {
		mock.ExpectQuery("SELECT pin, customer_id FROM persons WHERE user_id = \\$1").
			WithArgs(4).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT pin, customer_id, limit_per_transfer FROM managers WHERE user_id = \\$1").
			WithArgs(4).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT customer_id FROM accountants WHERE user_id = \\$1").
			WithArgs(4).
			WillReturnRows(sqlmock.NewRows([]string{"customer_id"}).AddRow(20))

		actor, err := service.ResolveActor(4)
		assert.NoError(t, err)
		assert.Equal(t, models.RoleAccountant, actor.Role)
		assert.Empty(t, actor.PIN)
		assert.False(t, actor.CanAuthorize())
	})

	t.Run("unrecognized user", func(t *testing.T) {
		mock.ExpectQuery("SELECT pin, customer_id FROM persons WHERE user_id = \\$1").
			WithArgs(5).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT pin, customer_id, limit_per_transfer FROM managers WHERE user_id = \\$1").
			WithArgs(5).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT customer_id FROM accountants WHERE user_id = \\$1").
			WithArgs(5).
			WillReturnError(sql.ErrNoRows)

		_, err := service.ResolveActor(5)
		assert.ErrorIs(t, err, ErrUnrecognizedActor)
	})
}

func TestAuthorizationService_Authorize(t *testing.T) {
	service := NewAuthorizationService(nil)

	person := models.Actor{UserID: 1, Role: models.RolePerson, PIN: "1234"}
	transfer := &models.FundTransfer{
		AmountBGN:    decimal.RequireFromString("500.00"),
		OTPGenerated: "987654",
	}

	t.Run("valid credential", func(t *testing.T) {
		err := service.Authorize(transfer, person, "1234987654")
		assert.NoError(t, err)
	})

	t.Run("wrong pin", func(t *testing.T) {
		err := service.Authorize(transfer, person, "9999987654")
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("wrong otp", func(t *testing.T) {
		err := service.Authorize(transfer, person, "1234000000")
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("credential must be exact concatenation", func(t *testing.T) {
		err := service.Authorize(transfer, person, "1234 987654")
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("empty credential skips the check", func(t *testing.T) {
		err := service.Authorize(transfer, person, "")
		assert.NoError(t, err)
	})

	t.Run("manager within limit", func(t *testing.T) {
		limit := decimal.RequireFromString("1000.00")
		manager := models.Actor{UserID: 2, Role: models.RoleManager, PIN: "5678", TransferLimit: &limit}

		err := service.Authorize(transfer, manager, "5678987654")
		assert.NoError(t, err)
	})

	t.Run("manager at limit passes", func(t *testing.T) {
		limit := decimal.RequireFromString("500.00")
		manager := models.Actor{UserID: 2, Role: models.RoleManager, PIN: "5678", TransferLimit: &limit}

		err := service.Authorize(transfer, manager, "5678987654")
		assert.NoError(t, err)
	})

	t.Run("manager over limit", func(t *testing.T) {
		limit := decimal.RequireFromString("499.99")
		manager := models.Actor{UserID: 2, Role: models.RoleManager, PIN: "5678", TransferLimit: &limit}

		err := service.Authorize(transfer, manager, "5678987654")
		assert.ErrorIs(t, err, ErrLimitExceeded)
	})

	t.Run("limit is checked against the BGN amount", func(t *testing.T) {
		limit := decimal.RequireFromString("400.00")
		manager := models.Actor{UserID: 2, Role: models.RoleManager, PIN: "5678", TransferLimit: &limit}
		small := &models.FundTransfer{
			Amount:       decimal.RequireFromString("300.00"),
			AmountBGN:    decimal.RequireFromString("586.75"),
			OTPGenerated: "987654",
		}

		err := service.Authorize(small, manager, "5678987654")
		assert.ErrorIs(t, err, ErrLimitExceeded)
	})

	t.Run("accountant forbidden even with valid credential shape", func(t *testing.T) {
		accountant := models.Actor{UserID: 3, Role: models.RoleAccountant}

		err := service.Authorize(transfer, accountant, "")
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

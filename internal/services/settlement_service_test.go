package services

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

const (
	debitIBAN  = "BG78CRBK82801020000007"
	creditIBAN = "BG89CRBK82801020000003"
)

func settlementAccountRows(id int, iban, balance string, version int, rate string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "iban", "balance", "version", "rate_to_bgn"}).
		AddRow(id, iban, balance, version, rate)
}

func TestSettlementService_SettleTx(t *testing.T) {
	amountBGN := decimal.RequireFromString("100.00")

	t.Run("internal transfer settles both legs", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewSettlementService(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT iban FROM accounts WHERE id = \\$1").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"iban"}).AddRow(debitIBAN))
		mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM accounts WHERE iban = \\$1\\)").
			WithArgs(creditIBAN).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		// Debit IBAN sorts first, so it locks first.
		mock.ExpectQuery("FOR UPDATE OF a").
			WithArgs(debitIBAN).
			WillReturnRows(settlementAccountRows(7, debitIBAN, "1000.00", 3, "1"))
		mock.ExpectQuery("FOR UPDATE OF a").
			WithArgs(creditIBAN).
			WillReturnRows(settlementAccountRows(9, creditIBAN, "200.00", 1, "1.95583"))

		// Debit leg: 100.00 BGN at rate 1 is 100.00, leaving 900.00.
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(42, 7, "-100", "DEBIT", "900", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs("900", sqlmock.AnyArg(), 7, 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		// Credit leg: 100.00 BGN at 1.95583 BGN/EUR is 51.13 EUR, banker's rounded.
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(42, 9, "51.13", "CREDIT", "251.13", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs("251.13", sqlmock.AnyArg(), 9, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		tx, err := db.Begin()
		assert.NoError(t, err)

		err = service.SettleTx(tx, 7, creditIBAN, 42, amountBGN)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("external beneficiary debits only", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewSettlementService(db)

		externalIBAN := "BG80BNBG96611020345678"

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT iban FROM accounts WHERE id = \\$1").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"iban"}).AddRow(debitIBAN))
		mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM accounts WHERE iban = \\$1\\)").
			WithArgs(externalIBAN).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery("FOR UPDATE OF a").
			WithArgs(debitIBAN).
			WillReturnRows(settlementAccountRows(7, debitIBAN, "1000.00", 3, "1"))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(42, 7, "-100", "DEBIT", "900", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs("900", sqlmock.AnyArg(), 7, 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		tx, err := db.Begin()
		assert.NoError(t, err)

		err = service.SettleTx(tx, 7, externalIBAN, 42, amountBGN)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds stops before any mutation", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewSettlementService(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT iban FROM accounts WHERE id = \\$1").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"iban"}).AddRow(debitIBAN))
		mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM accounts WHERE iban = \\$1\\)").
			WithArgs(creditIBAN).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectQuery("FOR UPDATE OF a").
			WithArgs(debitIBAN).
			WillReturnRows(settlementAccountRows(7, debitIBAN, "99.99", 3, "1"))
		mock.ExpectQuery("FOR UPDATE OF a").
			WithArgs(creditIBAN).
			WillReturnRows(settlementAccountRows(9, creditIBAN, "200.00", 1, "1"))

		tx, err := db.Begin()
		assert.NoError(t, err)

		err = service.SettleTx(tx, 7, creditIBAN, 42, amountBGN)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("version conflict on balance update", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewSettlementService(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT iban FROM accounts WHERE id = \\$1").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"iban"}).AddRow(debitIBAN))
		mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM accounts WHERE iban = \\$1\\)").
			WithArgs(creditIBAN).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectQuery("FOR UPDATE OF a").
			WithArgs(debitIBAN).
			WillReturnRows(settlementAccountRows(7, debitIBAN, "1000.00", 3, "1"))
		mock.ExpectQuery("FOR UPDATE OF a").
			WithArgs(creditIBAN).
			WillReturnRows(settlementAccountRows(9, creditIBAN, "200.00", 1, "1"))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WillReturnResult(sqlmock.NewResult(0, 0))

		tx, err := db.Begin()
		assert.NoError(t, err)

		err = service.SettleTx(tx, 7, creditIBAN, 42, amountBGN)
		assert.ErrorIs(t, err, ErrAccountConflict)
	})

	t.Run("locks follow IBAN order when credit sorts first", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewSettlementService(db)

		lowIBAN := "BG46CRBK82801020000001"

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT iban FROM accounts WHERE id = \\$1").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"iban"}).AddRow(debitIBAN))
		mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM accounts WHERE iban = \\$1\\)").
			WithArgs(lowIBAN).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		// Credit IBAN sorts before the debit IBAN, so it locks first.
		mock.ExpectQuery("FOR UPDATE OF a").
			WithArgs(lowIBAN).
			WillReturnRows(settlementAccountRows(2, lowIBAN, "0.00", 5, "1"))
		mock.ExpectQuery("FOR UPDATE OF a").
			WithArgs(debitIBAN).
			WillReturnRows(settlementAccountRows(7, debitIBAN, "1000.00", 3, "1"))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(42, 7, "-100", "DEBIT", "900", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs("900", sqlmock.AnyArg(), 7, 3).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(42, 2, "100", "CREDIT", "100", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs("100", sqlmock.AnyArg(), 2, 5).
			WillReturnResult(sqlmock.NewResult(0, 1))

		tx, err := db.Begin()
		assert.NoError(t, err)

		err = service.SettleTx(tx, 7, lowIBAN, 42, amountBGN)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

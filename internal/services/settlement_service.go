package services

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// SettlementService applies the dual-entry balance mutation of a processed
// transfer. Both legs run inside the caller's transaction: if the credit leg
// fails after the debit leg, rolling the transaction back is the
// compensation that restores the debit account.
type SettlementService struct {
	db *sql.DB
}

func NewSettlementService(db *sql.DB) *SettlementService {
	return &SettlementService{db: db}
}

type settlementAccount struct {
	ID      int
	IBAN    string
	Balance decimal.Decimal
	Version int
	Rate    decimal.Decimal
}

// SettleTx moves amountBGN from the debit account to the account holding the
// credit IBAN. Amounts are converted into each account's own currency and
// rounded half-to-even at two decimals on both legs. A credit IBAN not held
// by this bank is a no-op success: the money left through the clearing
// channel, not our ledger.
func (s *SettlementService) SettleTx(tx *sql.Tx, debitAccountID int, creditIBAN string, transferID int, amountBGN decimal.Decimal) error {
	var debitIBAN string
	err := tx.QueryRow(`SELECT iban FROM accounts WHERE id = $1`, debitAccountID).Scan(&debitIBAN)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrAccountNotFound
		}
		return err
	}

	var creditHeld bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM accounts WHERE iban = $1)`, creditIBAN).Scan(&creditHeld); err != nil {
		return err
	}

	// Lock accounts in IBAN order to prevent deadlocks between concurrent
	// settlements touching the same pair.
	var debit, credit *settlementAccount
	if creditHeld && creditIBAN < debitIBAN {
		if credit, err = s.lockAccount(tx, creditIBAN); err != nil {
			return err
		}
		if debit, err = s.lockAccount(tx, debitIBAN); err != nil {
			return err
		}
	} else {
		if debit, err = s.lockAccount(tx, debitIBAN); err != nil {
			return err
		}
		if creditHeld {
			if credit, err = s.lockAccount(tx, creditIBAN); err != nil {
				return err
			}
		}
	}

	debitAmount := amountBGN.Div(debit.Rate).RoundBank(2)
	if debit.Balance.LessThan(debitAmount) {
		return ErrInsufficientFunds
	}

	newDebitBalance := debit.Balance.Sub(debitAmount)
	if err := s.createLedgerEntry(tx, transferID, debit.ID, debitAmount.Neg(), "DEBIT", newDebitBalance); err != nil {
		return err
	}
	if err := s.updateAccountBalance(tx, debit.ID, newDebitBalance, debit.Version); err != nil {
		return err
	}

	if credit != nil {
		creditAmount := amountBGN.Div(credit.Rate).RoundBank(2)
		newCreditBalance := credit.Balance.Add(creditAmount)
		if err := s.createLedgerEntry(tx, transferID, credit.ID, creditAmount, "CREDIT", newCreditBalance); err != nil {
			return err
		}
		if err := s.updateAccountBalance(tx, credit.ID, newCreditBalance, credit.Version); err != nil {
			return err
		}
	}

	return nil
}

func (s *SettlementService) lockAccount(tx *sql.Tx, iban string) (*settlementAccount, error) {
	var account settlementAccount
	err := tx.QueryRow(`
		SELECT a.id, a.iban, a.balance, a.version, c.rate_to_bgn
		FROM accounts a
		JOIN currencies c ON a.currency_id = c.id
		WHERE a.iban = $1
		FOR UPDATE OF a`, iban).
		Scan(&account.ID, &account.IBAN, &account.Balance, &account.Version, &account.Rate)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (s *SettlementService) createLedgerEntry(tx *sql.Tx, transferID, accountID int, amount decimal.Decimal, entryType string, balance decimal.Decimal) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries (transfer_id, account_id, amount, entry_type, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		transferID, accountID, amount, entryType, balance, time.Now())
	return err
}

func (s *SettlementService) updateAccountBalance(tx *sql.Tx, accountID int, newBalance decimal.Decimal, version int) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrAccountConflict
	}

	return nil
}

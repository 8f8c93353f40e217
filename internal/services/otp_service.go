package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"

	"github.com/corebank/backoffice/internal/config"
	"github.com/corebank/backoffice/internal/models"
)

// OTPService issues one-time passwords for transfer authorization. The code
// of record lives on the transfer row; redis mirrors it with a TTL so expiry
// can be observed without touching the database.
type OTPService struct {
	db       *sql.DB
	redis    *redis.Client
	cfg      *config.BankConfig
	notifier *NotificationService
}

func NewOTPService(db *sql.DB, redisClient *redis.Client, cfg *config.BankConfig, notifier *NotificationService) *OTPService {
	return &OTPService{
		db:       db,
		redis:    redisClient,
		cfg:      cfg,
		notifier: notifier,
	}
}

// GenerateCode produces a numeric code of the configured length.
func (os *OTPService) GenerateCode() (string, error) {
	code := make([]byte, os.cfg.OTPLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate otp digit: %w", err)
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}

// IssueForTransfer generates and stores a fresh OTP for a transfer that has
// not reached a terminal state. Reissuing replaces the previous code.
func (os *OTPService) IssueForTransfer(ctx context.Context, transferID int) (string, error) {
	code, err := os.GenerateCode()
	if err != nil {
		return "", err
	}

	result, err := os.db.Exec(`
		UPDATE fund_transfers SET otp_generated = $1, last_updated = NOW()
		WHERE id = $2 AND status IN ('I', 'A')`,
		code, transferID)
	if err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return "", ErrTransferConflict
	}

	key := fmt.Sprintf("otp:transfer:%d", transferID)
	if err := os.redis.Set(ctx, key, code, os.cfg.OTPTimeout).Err(); err != nil {
		// The row is authoritative; a failed mirror only loses the expiry hint.
		log.Printf("[OTP] Failed to mirror OTP for transfer %d in redis: %v", transferID, err)
	}

	return code, nil
}

// RequestOTP issues an OTP for a transfer and texts it to the caller
// @Summary Request an OTP for a transfer
// @Description Generate a one-time password for authorizing the transfer and send it by SMS
// @Tags transfers
// @Produce json
// @Param id path int true "Transfer ID"
// @Success 200 {object} object{message=string}
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /transfers/{id}/otp [post]
func (os *OTPService) RequestOTP(w http.ResponseWriter, r *http.Request) {
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

	var status models.TransferStatus
	var accountID int
	err = os.db.QueryRow(`SELECT status, account_id FROM fund_transfers WHERE id = $1`, transferID).
		Scan(&status, &accountID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Transfer not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[OTP] Failed to load transfer %d: %v", transferID, err)
			SendErrorResponse(w, "Failed to issue OTP", http.StatusInternalServerError, nil)
		}
		return
	}
	if status.Terminal() {
		SendErrorResponse(w, "Transfer already finalized", http.StatusConflict, nil)
		return
	}

	var hasAccess bool
	err = os.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM account_users WHERE account_id = $1 AND user_id = $2)`,
		accountID, userID).Scan(&hasAccess)
	if err != nil || !hasAccess {
		SendErrorResponse(w, "Operation not permitted", http.StatusForbidden, nil)
		return
	}

	code, err := os.IssueForTransfer(r.Context(), transferID)
	if err != nil {
		if err == ErrTransferConflict {
			SendErrorResponse(w, "Transfer already finalized", http.StatusConflict, nil)
			return
		}
		log.Printf("[OTP] Failed to issue OTP for transfer %d: %v", transferID, err)
		SendErrorResponse(w, "Failed to issue OTP", http.StatusInternalServerError, nil)
		return
	}

	var phone string
	err = os.db.QueryRow(`
		SELECT mobile_phone FROM (
			SELECT mobile_phone, 1 AS priority FROM persons WHERE user_id = $1
			UNION ALL
			SELECT mobile_phone, 2 AS priority FROM managers WHERE user_id = $1
			UNION ALL
			SELECT mobile_phone, 3 AS priority FROM accountants WHERE user_id = $1
		) phones ORDER BY priority LIMIT 1`, userID).Scan(&phone)
	if err != nil {
		log.Printf("[OTP] No phone for user %d: %v", userID, err)
		SendErrorResponse(w, "No mobile phone on record", http.StatusBadRequest, nil)
		return
	}

	os.notifier.EnqueueSMS(phone, fmt.Sprintf("Your transfer authorization code is %s", code))
	log.Printf("[OTP] OTP issued for transfer %d, SMS queued to user %d", transferID, userID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "OTP sent"})
}

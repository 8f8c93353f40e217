package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/corebank/backoffice/internal/models"
)

const notificationQueueKey = "notifications:outbox"

// SMSSender delivers a text message to a phone number.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, contents string) error
}

// LogSMSSender writes messages to the process log instead of a gateway.
// Used when no SMS provider is configured.
type LogSMSSender struct{}

func (LogSMSSender) SendSMS(_ context.Context, phone, contents string) error {
	log.Printf("[SMS] To %s: %s", phone, contents)
	return nil
}

// NotificationService records outbound notifications and drains them through
// a redis-backed queue. Enqueueing is fire-and-forget from the caller's view;
// the delivery outcome is recorded on the notification row.
type NotificationService struct {
	db     *sql.DB
	redis  *redis.Client
	sender SMSSender
}

func NewNotificationService(db *sql.DB, redisClient *redis.Client, sender SMSSender) *NotificationService {
	if sender == nil {
		sender = LogSMSSender{}
	}
	return &NotificationService{db: db, redis: redisClient, sender: sender}
}

// EnqueueSMS records a pending SMS notification and pushes its id onto the
// delivery queue. Failures are logged, never surfaced to the caller.
func (ns *NotificationService) EnqueueSMS(phone, contents string) {
	ns.enqueue(models.NotificationSMS, phone, contents)
}

// EnqueueMail records a pending mail notification for an address.
func (ns *NotificationService) EnqueueMail(address, contents string) {
	ns.enqueue(models.NotificationMail, address, contents)
}

func (ns *NotificationService) enqueue(ntype models.NotificationType, recipient, contents string) {
	id := uuid.New().String()
	_, err := ns.db.Exec(`
		INSERT INTO notifications (id, type, recipient, contents, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, ntype, recipient, contents, models.NotificationPending, time.Now())
	if err != nil {
		log.Printf("[NOTIFY] Failed to record notification: %v", err)
		return
	}

	if err := ns.redis.RPush(context.Background(), notificationQueueKey, id).Err(); err != nil {
		log.Printf("[NOTIFY] Failed to queue notification %s: %v", id, err)
	}
}

// Run drains the notification queue until the context is cancelled. Each
// queued id is loaded, delivered and marked Success or Failed.
func (ns *NotificationService) Run(ctx context.Context) {
	log.Println("[NOTIFY] Notification worker started")
	for {
		result, err := ns.redis.BLPop(ctx, 5*time.Second, notificationQueueKey).Result()
		if err != nil {
			if ctx.Err() != nil {
				log.Println("[NOTIFY] Notification worker stopped")
				return
			}
			if err != redis.Nil {
				log.Printf("[NOTIFY] Queue pop failed: %v", err)
				time.Sleep(time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}
		ns.deliver(ctx, result[1])
	}
}

func (ns *NotificationService) deliver(ctx context.Context, id string) {
	var recipient, contents string
	var ntype models.NotificationType
	err := ns.db.QueryRow(`
		SELECT type, recipient, contents FROM notifications WHERE id = $1 AND status = $2`,
		id, models.NotificationPending).Scan(&ntype, &recipient, &contents)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("[NOTIFY] Failed to load notification %s: %v", id, err)
		}
		return
	}

	status := models.NotificationSuccess
	if ntype == models.NotificationSMS {
		if err := ns.sender.SendSMS(ctx, recipient, contents); err != nil {
			log.Printf("[NOTIFY] SMS delivery failed for %s: %v", id, err)
			status = models.NotificationFailed
		}
	} else {
		// Mail delivery goes through the log until a provider is configured.
		log.Printf("[MAIL] To %s: %s", recipient, contents)
	}

	_, err = ns.db.Exec(`UPDATE notifications SET status = $1, sent_at = $2 WHERE id = $3`,
		status, time.Now(), id)
	if err != nil {
		log.Printf("[NOTIFY] Failed to update notification %s: %v", id, err)
	}
}

// ListNotifications returns recent notifications
// @Summary List notifications
// @Description List recent outbound notifications, newest first
// @Tags notifications
// @Produce json
// @Param status query string false "Filter by status (P, S, F)"
// @Success 200 {object} object{notifications=[]models.Notification,count=int}
// @Router /notifications [get]
func (ns *NotificationService) ListNotifications(w http.ResponseWriter, r *http.Request) {
	query := `
		SELECT id, type, recipient, contents, status, created_at, sent_at
		FROM notifications`
	var args []interface{}
	if v := r.URL.Query().Get("status"); v != "" {
		query += " WHERE status = $1"
		args = append(args, v)
	}
	query += " ORDER BY created_at DESC LIMIT 100"

	rows, err := ns.db.Query(query, args...)
	if err != nil {
		log.Printf("[NOTIFY] Failed to list notifications: %v", err)
		SendErrorResponse(w, "Failed to fetch notifications", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		var sentAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.Type, &n.Recipient, &n.Contents, &n.Status, &n.CreatedAt, &sentAt); err != nil {
			log.Printf("[NOTIFY] Failed to scan notification: %v", err)
			SendErrorResponse(w, "Failed to fetch notifications", http.StatusInternalServerError, nil)
			return
		}
		if sentAt.Valid {
			n.SentAt = &sentAt.Time
		}
		notifications = append(notifications, n)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"notifications": notifications,
		"count":         len(notifications),
	})
}

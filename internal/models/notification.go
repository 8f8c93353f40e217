package models

import "time"

type NotificationType string

const (
	NotificationMail NotificationType = "M"
	NotificationSMS  NotificationType = "S"
)

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "P"
	NotificationSuccess NotificationStatus = "S"
	NotificationFailed  NotificationStatus = "F"
)

// Notification is a queued outbound message. Delivery is fire-and-forget:
// the record tracks the outcome but nothing in the transfer path waits on it.
type Notification struct {
	ID        string             `json:"id" db:"id"`
	Type      NotificationType   `json:"type" db:"type"`
	Recipient string             `json:"to" db:"recipient"`
	Contents  string             `json:"contents" db:"contents"`
	Status    NotificationStatus `json:"status" db:"status"`
	CreatedAt time.Time          `json:"created_at" db:"created_at"`
	SentAt    *time.Time         `json:"sent_at,omitempty" db:"sent_at"`
}

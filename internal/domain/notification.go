package domain

import "time"

// NotificationCategory classifies a notification row.
type NotificationCategory string

const (
	NotificationTransferReceived NotificationCategory = "TRANSFER_RECEIVED"
	NotificationTransferSent     NotificationCategory = "TRANSFER_SENT"
	NotificationTransferFailed   NotificationCategory = "TRANSFER_FAILED"
	NotificationAlert            NotificationCategory = "ALERT"
	NotificationSystem           NotificationCategory = "SYSTEM"
	NotificationPromotional      NotificationCategory = "PROMOTIONAL"
)

// Valid reports whether c is one of the known categories.
func (c NotificationCategory) Valid() bool {
	switch c {
	case NotificationTransferReceived, NotificationTransferSent, NotificationTransferFailed,
		NotificationAlert, NotificationSystem, NotificationPromotional:
		return true
	default:
		return false
	}
}

// NotificationEvent is an append-only notification row addressed to one account holder.
// Only the delivery fields (Sent, Attempts, LastAttemptAt) change after insert.
type NotificationEvent struct {
	ID            int64                `json:"id"`
	AccountID     int64                `json:"account_id"`
	TransferID    *int64               `json:"transfer_id,omitempty"`
	Message       string               `json:"message"`
	Category      NotificationCategory `json:"category"`
	Sent          bool                 `json:"sent"`
	Attempts      int                  `json:"attempts"`
	LastAttemptAt *time.Time           `json:"last_attempt_at,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

// NotificationListOptions pages an account's notifications.
type NotificationListOptions struct {
	Limit      int
	UnsentOnly bool
}

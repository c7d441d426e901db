package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Routing keys published on the events exchange.
const (
	RoutingKeyTransferCompleted = "transfer.completed"
)

// TransferCompletedEvent is published after a transfer commits.
type TransferCompletedEvent struct {
	EventID              uuid.UUID       `json:"event_id"`
	TransferID           int64           `json:"transfer_id"`
	OriginAccountID      int64           `json:"origin_account_id"`
	DestinationAccountID int64           `json:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount"`
	Description          *string         `json:"description,omitempty"`
	CompletedAt          time.Time       `json:"completed_at"`
}

// NewTransferCompletedEvent builds the event payload for a committed transfer.
func NewTransferCompletedEvent(t Transfer) TransferCompletedEvent {
	return TransferCompletedEvent{
		EventID:              uuid.New(),
		TransferID:           t.ID,
		OriginAccountID:      t.OriginAccountID,
		DestinationAccountID: t.DestinationAccountID,
		Amount:               t.Amount,
		Description:          t.Description,
		CompletedAt:          t.CreatedAt,
	}
}

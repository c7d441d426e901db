package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transfer statuses. A failed transfer never produces a row, so there is no failed status.
const (
	TransferStatusPending   = "pending"
	TransferStatusCompleted = "completed"
)

// Transfer is an immutable record of money moved between two accounts.
type Transfer struct {
	ID                   int64           `json:"id"`
	OriginAccountID      int64           `json:"origin_account_id"`
	DestinationAccountID int64           `json:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount"`
	Status               string          `json:"status"`
	Description          *string         `json:"description,omitempty"`
	CreatedAt            time.Time       `json:"timestamp"`
}

// TransferRequest carries the caller's intent. Amount is validated by the engine.
type TransferRequest struct {
	OriginAccountID      int64           `json:"origin_account_id" validate:"required,gt=0"`
	DestinationAccountID int64           `json:"destination_account_id" validate:"required,gt=0"`
	Amount               decimal.Decimal `json:"amount" validate:"required,gt=0"`
	Description          string          `json:"description,omitempty" validate:"max=255"`
}

// TransferListOptions pages an account's transfer history.
type TransferListOptions struct {
	Limit  int
	Offset int
}

// NewPendingTransfer builds the record that the engine persists once balances are written.
func NewPendingTransfer(req TransferRequest) *Transfer {
	t := &Transfer{
		OriginAccountID:      req.OriginAccountID,
		DestinationAccountID: req.DestinationAccountID,
		Amount:               req.Amount,
		Status:               TransferStatusPending,
	}
	if req.Description != "" {
		description := req.Description
		t.Description = &description
	}
	return t
}

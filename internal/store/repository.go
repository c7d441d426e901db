/**
 * @description
 * This file defines the storage contracts required by the transfer-service. The core only
 * needs "a row store with per-row locking and transactional commit"; everything else here
 * is a plain read or an append-only write.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/transfa/transfer-service/internal/domain"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrTransferNotFound     = errors.New("transfer not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrLockTimeout          = errors.New("timed out waiting for account lock")
	ErrLockNotHeld          = errors.New("account row is not locked by this unit")
	ErrUnitClosed           = errors.New("unit already committed or aborted")
	ErrInvalidCategory      = errors.New("unknown notification category")
)

// AccountUnit is one atomic read-modify-write sequence over locked account rows.
// Nothing written through a unit is visible to other readers until Commit succeeds.
type AccountUnit interface {
	// LockedRead blocks until the caller holds an exclusive lock on the row, then returns
	// the balance as seen under that lock. The lock is held until Commit or Abort.
	LockedRead(ctx context.Context, accountID int64) (*domain.Account, error)
	// Write stages the new balance for a row previously locked by LockedRead.
	Write(ctx context.Context, account *domain.Account) error
	// CreateTransfer stages the transfer row. ID and CreatedAt are filled in by the store.
	CreateTransfer(ctx context.Context, transfer *domain.Transfer) error
	Commit(ctx context.Context) error
	// Abort discards the unit and releases its locks. It is safe to call after Commit.
	Abort(ctx context.Context) error
}

// AccountStore hands out atomic units.
type AccountStore interface {
	BeginUnit(ctx context.Context) (AccountUnit, error)
}

// AccountReader is an unlocked, read-only view used for display data (names, emails).
type AccountReader interface {
	FindAccountByID(ctx context.Context, accountID int64) (*domain.Account, error)
}

// TransferReader serves committed transfers. Rows are immutable once written.
type TransferReader interface {
	FindTransferByID(ctx context.Context, transferID int64) (*domain.Transfer, error)
	ListTransfersByAccount(ctx context.Context, accountID int64, opts domain.TransferListOptions) ([]domain.Transfer, error)
}

// NotificationStore persists notification rows.
type NotificationStore interface {
	// CreateNotifications inserts all events in one write and fills in their IDs.
	CreateNotifications(ctx context.Context, events []domain.NotificationEvent) error
	ListNotificationsByAccount(ctx context.Context, accountID int64, opts domain.NotificationListOptions) ([]domain.NotificationEvent, error)
	// FindUnsentNotifications returns unsent rows of category created before createdBefore.
	// Rows never attempted come first, then the least recently attempted, so rows that keep
	// failing rotate to the back instead of holding the head of the queue.
	FindUnsentNotifications(ctx context.Context, category domain.NotificationCategory, createdBefore time.Time, limit int) ([]domain.NotificationEvent, error)
	// RecordNotificationAttempt bumps the attempt counter and stamps the attempt time.
	RecordNotificationAttempt(ctx context.Context, notificationID int64) error
	MarkNotificationSent(ctx context.Context, notificationID int64) error
}

// Repository is the full set of storage operations the service depends on.
type Repository interface {
	AccountStore
	AccountReader
	TransferReader
	NotificationStore
}

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/transfa/transfer-service/internal/domain"
)

// MemoryRepository is an in-process Repository. Each account row has its own
// weighted semaphore acting as an exclusive row lock; writes made through a unit
// are staged and applied in one step on Commit.
type MemoryRepository struct {
	mu            sync.RWMutex
	accounts      map[int64]domain.Account
	rowLocks      map[int64]*semaphore.Weighted
	transfers     map[int64]domain.Transfer
	notifications []domain.NotificationEvent

	nextTransferID     int64
	nextNotificationID int64

	lockTimeout time.Duration
	now         func() time.Time
}

// NewMemoryRepository creates an empty repository. A zero lockTimeout waits until ctx ends.
func NewMemoryRepository(lockTimeout time.Duration) *MemoryRepository {
	return &MemoryRepository{
		accounts:    make(map[int64]domain.Account),
		rowLocks:    make(map[int64]*semaphore.Weighted),
		transfers:   make(map[int64]domain.Transfer),
		lockTimeout: lockTimeout,
		now:         time.Now,
	}
}

// SeedAccount inserts or replaces an account row.
func (r *MemoryRepository) SeedAccount(account domain.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	r.accounts[account.ID] = account
	if _, ok := r.rowLocks[account.ID]; !ok {
		r.rowLocks[account.ID] = semaphore.NewWeighted(1)
	}
}

func (r *MemoryRepository) BeginUnit(ctx context.Context) (AccountUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryUnit{
		repo:   r,
		held:   make(map[int64]*semaphore.Weighted, 2),
		staged: make(map[int64]domain.Account, 2),
	}, nil
}

func (r *MemoryRepository) rowLock(accountID int64) (*semaphore.Weighted, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sem, ok := r.rowLocks[accountID]
	return sem, ok
}

type memoryUnit struct {
	repo      *MemoryRepository
	held      map[int64]*semaphore.Weighted
	staged    map[int64]domain.Account
	transfers []*domain.Transfer
	closed    bool
}

func (u *memoryUnit) LockedRead(ctx context.Context, accountID int64) (*domain.Account, error) {
	if u.closed {
		return nil, ErrUnitClosed
	}

	if _, ok := u.held[accountID]; !ok {
		sem, exists := u.repo.rowLock(accountID)
		if !exists {
			return nil, ErrAccountNotFound
		}
		if err := u.acquire(ctx, sem); err != nil {
			return nil, err
		}
		u.held[accountID] = sem
	}

	if staged, ok := u.staged[accountID]; ok {
		return &staged, nil
	}

	u.repo.mu.RLock()
	account := u.repo.accounts[accountID]
	u.repo.mu.RUnlock()
	return &account, nil
}

func (u *memoryUnit) acquire(ctx context.Context, sem *semaphore.Weighted) error {
	acquireCtx := ctx
	if u.repo.lockTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, u.repo.lockTimeout)
		defer cancel()
	}

	if err := sem.Acquire(acquireCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return ErrLockTimeout
	}
	return nil
}

func (u *memoryUnit) Write(_ context.Context, account *domain.Account) error {
	if u.closed {
		return ErrUnitClosed
	}
	if _, ok := u.held[account.ID]; !ok {
		return ErrLockNotHeld
	}
	u.staged[account.ID] = *account
	return nil
}

func (u *memoryUnit) CreateTransfer(_ context.Context, transfer *domain.Transfer) error {
	if u.closed {
		return ErrUnitClosed
	}
	u.transfers = append(u.transfers, transfer)
	return nil
}

func (u *memoryUnit) Commit(ctx context.Context) error {
	if u.closed {
		return ErrUnitClosed
	}
	if err := ctx.Err(); err != nil {
		u.release()
		return err
	}

	r := u.repo
	r.mu.Lock()
	now := r.now().UTC()
	for id, account := range u.staged {
		current := r.accounts[id]
		current.Balance = account.Balance
		current.UpdatedAt = now
		r.accounts[id] = current
	}
	for _, t := range u.transfers {
		r.nextTransferID++
		t.ID = r.nextTransferID
		t.CreatedAt = now
		r.transfers[t.ID] = *t
	}
	r.mu.Unlock()

	u.release()
	return nil
}

func (u *memoryUnit) Abort(_ context.Context) error {
	if u.closed {
		return nil
	}
	u.release()
	return nil
}

func (u *memoryUnit) release() {
	u.closed = true
	for id, sem := range u.held {
		sem.Release(1)
		delete(u.held, id)
	}
	u.staged = nil
	u.transfers = nil
}

func (r *MemoryRepository) FindAccountByID(_ context.Context, accountID int64) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &account, nil
}

func (r *MemoryRepository) FindTransferByID(_ context.Context, transferID int64) (*domain.Transfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	transfer, ok := r.transfers[transferID]
	if !ok {
		return nil, ErrTransferNotFound
	}
	return &transfer, nil
}

func (r *MemoryRepository) ListTransfersByAccount(_ context.Context, accountID int64, opts domain.TransferListOptions) ([]domain.Transfer, error) {
	r.mu.RLock()
	matched := make([]domain.Transfer, 0)
	for _, t := range r.transfers {
		if t.OriginAccountID == accountID || t.DestinationAccountID == accountID {
			matched = append(matched, t)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []domain.Transfer{}, nil
	}
	end := offset + normalizeLimit(opts.Limit)
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (r *MemoryRepository) CreateNotifications(_ context.Context, events []domain.NotificationEvent) error {
	for _, e := range events {
		if !e.Category.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidCategory, e.Category)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	for i := range events {
		r.nextNotificationID++
		events[i].ID = r.nextNotificationID
		events[i].CreatedAt = now
		r.notifications = append(r.notifications, events[i])
	}
	return nil
}

func (r *MemoryRepository) ListNotificationsByAccount(_ context.Context, accountID int64, opts domain.NotificationListOptions) ([]domain.NotificationEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limit := normalizeLimit(opts.Limit)
	events := make([]domain.NotificationEvent, 0)
	for i := len(r.notifications) - 1; i >= 0 && len(events) < limit; i-- {
		e := r.notifications[i]
		if e.AccountID != accountID || (opts.UnsentOnly && e.Sent) {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

func (r *MemoryRepository) FindUnsentNotifications(_ context.Context, category domain.NotificationCategory, createdBefore time.Time, limit int) ([]domain.NotificationEvent, error) {
	r.mu.RLock()
	matched := make([]domain.NotificationEvent, 0)
	for _, e := range r.notifications {
		if !e.Sent && e.Category == category && !e.CreatedAt.After(createdBefore) {
			matched = append(matched, e)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i].LastAttemptAt, matched[j].LastAttemptAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return matched[i].ID < matched[j].ID
	})

	if limit = normalizeLimit(limit); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *MemoryRepository) RecordNotificationAttempt(_ context.Context, notificationID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.notifications {
		if r.notifications[i].ID == notificationID {
			at := r.now().UTC()
			r.notifications[i].Attempts++
			r.notifications[i].LastAttemptAt = &at
			return nil
		}
	}
	return ErrNotificationNotFound
}

func (r *MemoryRepository) MarkNotificationSent(_ context.Context, notificationID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.notifications {
		if r.notifications[i].ID == notificationID {
			r.notifications[i].Sent = true
			return nil
		}
	}
	return ErrNotificationNotFound
}

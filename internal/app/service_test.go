package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type recordingDispatcher struct {
	mu        sync.Mutex
	transfers []domain.Transfer
}

func (d *recordingDispatcher) Dispatch(transfer domain.Transfer) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transfers = append(d.transfers, transfer)
	return true
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transfers)
}

func newMemoryService(t *testing.T, lockTimeout time.Duration, balances map[int64]string) (*Service, *store.MemoryRepository, *recordingDispatcher) {
	t.Helper()
	repo := store.NewMemoryRepository(lockTimeout)
	for id, balance := range balances {
		repo.SeedAccount(domain.Account{ID: id, Name: "holder", Email: "holder@example.com", Balance: money(balance)})
	}
	dispatcher := &recordingDispatcher{}
	return NewService(repo, dispatcher, discardLogger()), repo, dispatcher
}

func balanceOf(t *testing.T, repo *store.MemoryRepository, id int64) decimal.Decimal {
	t.Helper()
	account, err := repo.FindAccountByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindAccountByID(%d): %v", id, err)
	}
	return account.Balance
}

func TestTransfer_MovesFundsAndRecordsCompletedTransfer(t *testing.T) {
	svc, repo, dispatcher := newMemoryService(t, time.Second, map[int64]string{1: "1000.00", 2: "500.00"})

	transfer, err := svc.Transfer(context.Background(), domain.TransferRequest{
		OriginAccountID:      1,
		DestinationAccountID: 2,
		Amount:               money("200.00"),
		Description:          "rent",
	})
	if err != nil {
		t.Fatalf("Transfer returned error: %v", err)
	}

	if got := balanceOf(t, repo, 1); !got.Equal(money("800.00")) {
		t.Fatalf("expected origin balance 800.00, got %s", got)
	}
	if got := balanceOf(t, repo, 2); !got.Equal(money("700.00")) {
		t.Fatalf("expected destination balance 700.00, got %s", got)
	}
	if transfer.ID == 0 || transfer.Status != domain.TransferStatusCompleted || transfer.CreatedAt.IsZero() {
		t.Fatalf("unexpected transfer record: %+v", transfer)
	}
	if transfer.Description == nil || *transfer.Description != "rent" {
		t.Fatalf("expected description to be kept, got %v", transfer.Description)
	}
	if dispatcher.count() != 1 {
		t.Fatalf("expected committed transfer to be dispatched once, got %d", dispatcher.count())
	}
}

func TestTransfer_InsufficientBalanceLeavesBalancesUntouched(t *testing.T) {
	svc, repo, dispatcher := newMemoryService(t, time.Second, map[int64]string{1: "100.00", 2: "0.00"})

	_, err := svc.Transfer(context.Background(), domain.TransferRequest{OriginAccountID: 1, DestinationAccountID: 2, Amount: money("1500.00")})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	var balanceErr *InsufficientBalanceError
	if !errors.As(err, &balanceErr) {
		t.Fatalf("expected *InsufficientBalanceError, got %T", err)
	}
	if !balanceErr.Current.Equal(money("100.00")) || !balanceErr.Requested.Equal(money("1500.00")) {
		t.Fatalf("unexpected error fields: current=%s requested=%s", balanceErr.Current, balanceErr.Requested)
	}

	if got := balanceOf(t, repo, 1); !got.Equal(money("100.00")) {
		t.Fatalf("origin balance changed to %s", got)
	}
	if got := balanceOf(t, repo, 2); !got.Equal(decimal.Zero) {
		t.Fatalf("destination balance changed to %s", got)
	}
	history, _ := repo.ListTransfersByAccount(context.Background(), 1, domain.TransferListOptions{})
	if len(history) != 0 {
		t.Fatalf("expected no transfer rows, got %d", len(history))
	}
	if dispatcher.count() != 0 {
		t.Fatalf("expected no dispatch for failed transfer")
	}
}

func TestTransfer_ExactBalanceIsAllowed(t *testing.T) {
	svc, repo, _ := newMemoryService(t, time.Second, map[int64]string{1: "50.00", 2: "0"})

	if _, err := svc.Transfer(context.Background(), domain.TransferRequest{OriginAccountID: 1, DestinationAccountID: 2, Amount: money("50")}); err != nil {
		t.Fatalf("Transfer returned error: %v", err)
	}
	if got := balanceOf(t, repo, 1); !got.IsZero() {
		t.Fatalf("expected zero origin balance, got %s", got)
	}
}

type countingRepo struct {
	store.Repository
	beginCalls int
	unit       store.AccountUnit
	beginErr   error
}

func (r *countingRepo) BeginUnit(ctx context.Context) (store.AccountUnit, error) {
	r.beginCalls++
	if r.beginErr != nil {
		return nil, r.beginErr
	}
	return r.unit, nil
}

func TestTransfer_RejectsInvalidRequestsBeforeTouchingStore(t *testing.T) {
	tests := []struct {
		name string
		req  domain.TransferRequest
	}{
		{name: "same account", req: domain.TransferRequest{OriginAccountID: 7, DestinationAccountID: 7, Amount: money("10")}},
		{name: "zero amount", req: domain.TransferRequest{OriginAccountID: 1, DestinationAccountID: 2, Amount: decimal.Zero}},
		{name: "negative amount", req: domain.TransferRequest{OriginAccountID: 1, DestinationAccountID: 2, Amount: money("-5")}},
		{name: "sub-cent amount", req: domain.TransferRequest{OriginAccountID: 1, DestinationAccountID: 2, Amount: money("1.005")}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := &countingRepo{}
			svc := NewService(repo, nil, discardLogger())

			_, err := svc.Transfer(context.Background(), tc.req)
			if !errors.Is(err, ErrInvalidTransfer) {
				t.Fatalf("expected ErrInvalidTransfer, got %v", err)
			}
			if repo.beginCalls != 0 {
				t.Fatalf("expected store to be untouched, BeginUnit called %d times", repo.beginCalls)
			}
		})
	}
}

func TestTransfer_MissingAccount(t *testing.T) {
	svc, repo, _ := newMemoryService(t, time.Second, map[int64]string{1: "100"})

	_, err := svc.Transfer(context.Background(), domain.TransferRequest{OriginAccountID: 1, DestinationAccountID: 99, Amount: money("10")})
	if !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if got := balanceOf(t, repo, 1); !got.Equal(money("100")) {
		t.Fatalf("origin balance changed to %s", got)
	}
}

type failingUnit struct {
	accounts  map[int64]domain.Account
	writeErr  error
	commitErr error
	writes    int
	aborted   bool
}

func (u *failingUnit) LockedRead(ctx context.Context, id int64) (*domain.Account, error) {
	account := u.accounts[id]
	return &account, nil
}

func (u *failingUnit) Write(ctx context.Context, account *domain.Account) error {
	u.writes++
	if u.writeErr != nil && u.writes == 2 {
		return u.writeErr
	}
	return nil
}

func (u *failingUnit) CreateTransfer(ctx context.Context, transfer *domain.Transfer) error {
	return nil
}

func (u *failingUnit) Commit(ctx context.Context) error {
	return u.commitErr
}

func (u *failingUnit) Abort(ctx context.Context) error {
	u.aborted = true
	return nil
}

func TestTransfer_UnitFailuresSurfaceTransactionErrorAndAbort(t *testing.T) {
	cause := errors.New("connection reset by peer")
	accounts := map[int64]domain.Account{
		1: {ID: 1, Balance: money("100")},
		2: {ID: 2, Balance: money("0")},
	}

	tests := []struct {
		name string
		unit *failingUnit
	}{
		{name: "second write fails", unit: &failingUnit{accounts: accounts, writeErr: cause}},
		{name: "commit fails", unit: &failingUnit{accounts: accounts, commitErr: cause}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dispatcher := &recordingDispatcher{}
			svc := NewService(&countingRepo{unit: tc.unit}, dispatcher, discardLogger())

			_, err := svc.Transfer(context.Background(), domain.TransferRequest{OriginAccountID: 1, DestinationAccountID: 2, Amount: money("10")})
			if !errors.Is(err, ErrTransaction) {
				t.Fatalf("expected ErrTransaction, got %v", err)
			}
			if !errors.Is(err, cause) {
				t.Fatalf("expected cause to be wrapped, got %v", err)
			}
			var txErr *TransactionError
			if !errors.As(err, &txErr) || txErr.Op == "" {
				t.Fatalf("expected *TransactionError with op, got %#v", err)
			}
			if !tc.unit.aborted {
				t.Fatalf("expected unit to be aborted")
			}
			if dispatcher.count() != 0 {
				t.Fatalf("expected no dispatch for failed transfer")
			}
		})
	}
}

func TestTransfer_BeginFailureIsTransactionError(t *testing.T) {
	cause := errors.New("pool exhausted")
	svc := NewService(&countingRepo{beginErr: cause}, nil, discardLogger())

	_, err := svc.Transfer(context.Background(), domain.TransferRequest{OriginAccountID: 1, DestinationAccountID: 2, Amount: money("1")})
	if !errors.Is(err, ErrTransaction) || !errors.Is(err, cause) {
		t.Fatalf("expected wrapped transaction error, got %v", err)
	}
}

func TestTransfer_LockTimeoutIsTransactionError(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newMemoryService(t, 20*time.Millisecond, map[int64]string{1: "100", 2: "100"})

	holder, err := repo.BeginUnit(ctx)
	if err != nil {
		t.Fatalf("BeginUnit: %v", err)
	}
	defer holder.Abort(ctx)
	if _, err := holder.LockedRead(ctx, 2); err != nil {
		t.Fatalf("LockedRead: %v", err)
	}

	_, err = svc.Transfer(ctx, domain.TransferRequest{OriginAccountID: 1, DestinationAccountID: 2, Amount: money("10")})
	if !errors.Is(err, ErrTransaction) || !errors.Is(err, store.ErrLockTimeout) {
		t.Fatalf("expected transaction error caused by lock timeout, got %v", err)
	}
	if got := balanceOf(t, repo, 1); !got.Equal(money("100")) {
		t.Fatalf("origin balance changed to %s", got)
	}
}

func TestTransfer_ConcurrentTransfersConserveTotalBalance(t *testing.T) {
	const accounts = 6
	balances := make(map[int64]string, accounts)
	for id := int64(1); id <= accounts; id++ {
		balances[id] = "1000.00"
	}
	svc, repo, _ := newMemoryService(t, 5*time.Second, balances)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for k := 0; k < 300; k++ {
		origin := int64(k%accounts) + 1
		destination := int64((k+1)%accounts) + 1
		if k%2 == 1 {
			origin, destination = destination, origin
		}
		g.Go(func() error {
			_, err := svc.Transfer(gctx, domain.TransferRequest{OriginAccountID: origin, DestinationAccountID: destination, Amount: money("3.25")})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent transfer failed: %v", err)
	}

	total := decimal.Zero
	for id := int64(1); id <= accounts; id++ {
		balance := balanceOf(t, repo, id)
		if balance.IsNegative() {
			t.Fatalf("account %d went negative: %s", id, balance)
		}
		total = total.Add(balance)
	}
	if !total.Equal(money("6000.00")) {
		t.Fatalf("expected total 6000.00 to be conserved, got %s", total)
	}
}

func TestTransfer_OpposingTransfersCompleteWithoutDeadlock(t *testing.T) {
	svc, repo, _ := newMemoryService(t, 0, map[int64]string{1: "500", 2: "500"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			_, err := svc.Transfer(gctx, domain.TransferRequest{OriginAccountID: 1, DestinationAccountID: 2, Amount: money("1")})
			return err
		})
		g.Go(func() error {
			_, err := svc.Transfer(gctx, domain.TransferRequest{OriginAccountID: 2, DestinationAccountID: 1, Amount: money("1")})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("opposing transfers failed: %v", err)
	}

	if got := balanceOf(t, repo, 1); !got.Equal(money("500")) {
		t.Fatalf("expected account 1 back at 500, got %s", got)
	}
	if got := balanceOf(t, repo, 2); !got.Equal(money("500")) {
		t.Fatalf("expected account 2 back at 500, got %s", got)
	}
}

func TestFindByID_IsIdempotent(t *testing.T) {
	svc, _, _ := newMemoryService(t, time.Second, map[int64]string{1: "100", 2: "0"})
	ctx := context.Background()

	created, err := svc.Transfer(ctx, domain.TransferRequest{OriginAccountID: 1, DestinationAccountID: 2, Amount: money("12.50")})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	first, err := svc.FindByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	second, err := svc.FindByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if first.ID != second.ID || !first.Amount.Equal(second.Amount) || !first.CreatedAt.Equal(second.CreatedAt) || first.Status != second.Status {
		t.Fatalf("expected identical records, got %+v and %+v", first, second)
	}

	if _, err := svc.FindByID(ctx, created.ID+100); !errors.Is(err, ErrTransferNotFound) {
		t.Fatalf("expected ErrTransferNotFound, got %v", err)
	}
}

type stubLimiter struct {
	err     error
	origins []int64
}

func (l *stubLimiter) AllowTransfer(ctx context.Context, originAccountID int64) error {
	l.origins = append(l.origins, originAccountID)
	return l.err
}

func TestTransfer_RateLimit(t *testing.T) {
	t.Run("over limit", func(t *testing.T) {
		svc, repo, _ := newMemoryService(t, time.Second, map[int64]string{1: "100", 2: "0"})
		limiter := &stubLimiter{err: &RateLimitError{RetryAfterSeconds: 30}}
		svc.SetRateLimiter(limiter)

		_, err := svc.Transfer(context.Background(), domain.TransferRequest{OriginAccountID: 1, DestinationAccountID: 2, Amount: money("1")})
		if len(limiter.origins) != 1 || limiter.origins[0] != 1 {
			t.Fatalf("expected the origin account to be checked, got %v", limiter.origins)
		}
		var rateErr *RateLimitError
		if !errors.As(err, &rateErr) || rateErr.RetryAfterSeconds != 30 {
			t.Fatalf("expected RateLimitError with retry-after, got %v", err)
		}
		if got := balanceOf(t, repo, 1); !got.Equal(money("100")) {
			t.Fatalf("balance changed despite rate limit: %s", got)
		}
	})

	t.Run("limiter unavailable", func(t *testing.T) {
		svc, _, _ := newMemoryService(t, time.Second, map[int64]string{1: "100", 2: "0"})
		svc.SetRateLimiter(&stubLimiter{err: errors.New("redis down")})

		if _, err := svc.Transfer(context.Background(), domain.TransferRequest{OriginAccountID: 1, DestinationAccountID: 2, Amount: money("1")}); err != nil {
			t.Fatalf("expected transfer to proceed when limiter fails, got %v", err)
		}
	})
}

func TestListTransfers_UnknownAccount(t *testing.T) {
	svc, _, _ := newMemoryService(t, time.Second, map[int64]string{1: "100"})

	if _, err := svc.ListTransfers(context.Background(), 42, domain.TransferListOptions{}); !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

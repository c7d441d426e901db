/**
 * @description
 * This file contains the core business logic for the transfer-service. The `Service`
 * struct moves money between two accounts as one atomic unit and hands every committed
 * transfer to the notification pipeline.
 *
 * Key features:
 * - Rejects same-account and non-positive transfers before any lock is taken.
 * - Locks both account rows in ascending id order so opposing transfers cannot deadlock.
 * - Uses only balances read under lock for the sufficiency check.
 * - Optional per-origin rate limiting backed by Redis.
 *
 * @dependencies
 * - context, errors, fmt, log/slog, strconv: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
)

// Dispatcher receives committed transfers for best-effort post-commit work.
type Dispatcher interface {
	Dispatch(transfer domain.Transfer) bool
}

// TransferLimiter decides whether an origin account may start another transfer. It returns
// an error matching ErrRateLimited when the origin is over its allowance.
type TransferLimiter interface {
	AllowTransfer(ctx context.Context, originAccountID int64) error
}

// Service provides the core business logic for transfers.
type Service struct {
	repo       store.Repository
	transfers  store.TransferReader
	dispatcher Dispatcher
	limiter    TransferLimiter
	logger     *slog.Logger
}

// NewService creates a new transfer service instance. dispatcher may be nil.
func NewService(repo store.Repository, dispatcher Dispatcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		transfers:  repo,
		dispatcher: dispatcher,
		logger:     logger.With("component", "transfer_service"),
	}
}

// SetTransferReader replaces the reader used by FindByID, typically with a cache in front of repo.
func (s *Service) SetTransferReader(reader store.TransferReader) {
	if reader != nil {
		s.transfers = reader
	}
}

// SetRateLimiter enables per-origin rate limiting.
func (s *Service) SetRateLimiter(limiter TransferLimiter) {
	s.limiter = limiter
}

// Transfer validates the request, moves the funds atomically and returns the committed record.
func (s *Service) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.Transfer, error) {
	if err := validateTransfer(req); err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, req.OriginAccountID); err != nil {
		return nil, err
	}

	transfer, err := s.executeTransfer(ctx, req)
	if err != nil {
		s.logger.Warn("transfer failed",
			"origin_account_id", req.OriginAccountID,
			"destination_account_id", req.DestinationAccountID,
			"amount", req.Amount.StringFixed(2),
			"error", err,
		)
		return nil, err
	}

	s.logger.Info("transfer completed",
		"transfer_id", transfer.ID,
		"origin_account_id", transfer.OriginAccountID,
		"destination_account_id", transfer.DestinationAccountID,
		"amount", transfer.Amount.StringFixed(2),
	)

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(*transfer)
	}
	return transfer, nil
}

func validateTransfer(req domain.TransferRequest) error {
	if req.OriginAccountID == req.DestinationAccountID {
		return &InvalidTransferError{Reason: "cannot transfer to the same origin account"}
	}
	if !req.Amount.IsPositive() {
		return &InvalidTransferError{Reason: "transfer amount must be greater than 0"}
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return &InvalidTransferError{Reason: "transfer amount must have at most 2 decimal places"}
	}
	return nil
}

func (s *Service) checkRateLimit(ctx context.Context, originID int64) error {
	if s.limiter == nil {
		return nil
	}
	err := s.limiter.AllowTransfer(ctx, originID)
	if err == nil || errors.Is(err, ErrRateLimited) {
		return err
	}
	// Fail open when Redis is unreachable.
	s.logger.Warn("rate limiter unavailable; allowing transfer", "origin_account_id", originID, "error", err)
	return nil
}

func (s *Service) executeTransfer(ctx context.Context, req domain.TransferRequest) (*domain.Transfer, error) {
	unit, err := s.repo.BeginUnit(ctx)
	if err != nil {
		return nil, &TransactionError{Op: "begin", Err: err}
	}
	defer func() {
		// No-op once committed. Detached so a cancelled request still releases its locks.
		if abortErr := unit.Abort(context.WithoutCancel(ctx)); abortErr != nil {
			s.logger.Error("failed to abort transfer unit", "error", abortErr)
		}
	}()

	firstID, secondID := req.OriginAccountID, req.DestinationAccountID
	if secondID < firstID {
		firstID, secondID = secondID, firstID
	}

	locked := make(map[int64]*domain.Account, 2)
	for _, id := range []int64{firstID, secondID} {
		account, lockErr := unit.LockedRead(ctx, id)
		if lockErr != nil {
			if errors.Is(lockErr, store.ErrAccountNotFound) {
				return nil, fmt.Errorf("%w: %d", store.ErrAccountNotFound, id)
			}
			return nil, &TransactionError{Op: "lock account " + strconv.FormatInt(id, 10), Err: lockErr}
		}
		locked[id] = account
	}

	origin := locked[req.OriginAccountID]
	destination := locked[req.DestinationAccountID]

	if !origin.CanCover(req.Amount) {
		return nil, &InsufficientBalanceError{Current: origin.Balance, Requested: req.Amount}
	}

	debited := origin.Debit(req.Amount)
	credited := destination.Credit(req.Amount)
	if err := unit.Write(ctx, &debited); err != nil {
		return nil, &TransactionError{Op: "debit origin", Err: err}
	}
	if err := unit.Write(ctx, &credited); err != nil {
		return nil, &TransactionError{Op: "credit destination", Err: err}
	}

	record := domain.NewPendingTransfer(req)
	record.Status = domain.TransferStatusCompleted
	if err := unit.CreateTransfer(ctx, record); err != nil {
		return nil, &TransactionError{Op: "record transfer", Err: err}
	}
	if err := unit.Commit(ctx); err != nil {
		return nil, &TransactionError{Op: "commit", Err: err}
	}
	return record, nil
}

// FindByID returns a committed transfer.
func (s *Service) FindByID(ctx context.Context, transferID int64) (*domain.Transfer, error) {
	transfer, err := s.transfers.FindTransferByID(ctx, transferID)
	if err != nil {
		if errors.Is(err, store.ErrTransferNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrTransferNotFound, transferID)
		}
		return nil, fmt.Errorf("failed to find transfer: %w", err)
	}
	return transfer, nil
}

// ListTransfers returns an account's transfer history, newest first.
func (s *Service) ListTransfers(ctx context.Context, accountID int64, opts domain.TransferListOptions) ([]domain.Transfer, error) {
	if _, err := s.repo.FindAccountByID(ctx, accountID); err != nil {
		return nil, err
	}
	transfers, err := s.transfers.ListTransfersByAccount(ctx, accountID, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	return transfers, nil
}

// ListNotifications returns an account's notification rows, newest first.
func (s *Service) ListNotifications(ctx context.Context, accountID int64, opts domain.NotificationListOptions) ([]domain.NotificationEvent, error) {
	if _, err := s.repo.FindAccountByID(ctx, accountID); err != nil {
		return nil, err
	}
	events, err := s.repo.ListNotificationsByAccount(ctx, accountID, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return events, nil
}

/**
 * @description
 * NotificationDispatcher performs the post-commit side effects of a transfer: two
 * notification rows, a `transfer.completed` event and an email to the recipient. Work is
 * queued on a bounded channel and drained by a fixed worker pool, so Dispatch never blocks
 * the caller and nothing here can fail a committed transfer.
 *
 * @dependencies
 * - context, log/slog, sync, time: Standard Go libraries.
 * - internal/domain, internal/store, internal/mail: Models, persistence and email jobs.
 */

package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/mail"
	"github.com/transfa/transfer-service/internal/store"
)

// EmailSender delivers one email and reports whether it went out.
type EmailSender interface {
	Send(ctx context.Context, job *domain.EmailJob) bool
}

// EventPublisher publishes a JSON event to an exchange.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// NotificationRepository is the storage the dispatcher and sweeper need.
type NotificationRepository interface {
	store.AccountReader
	store.TransferReader
	store.NotificationStore
}

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	Exchange   string
}

// NotificationDispatcher fans committed transfers out to notification workers.
type NotificationDispatcher struct {
	repo      NotificationRepository
	mailer    EmailSender
	publisher EventPublisher
	cfg       DispatcherConfig
	logger    *slog.Logger

	queue     chan domain.Transfer
	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	wg        sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewNotificationDispatcher(repo NotificationRepository, mailer EmailSender, publisher EventPublisher, cfg DispatcherConfig, logger *slog.Logger) *NotificationDispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "transfer_events"
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &NotificationDispatcher{
		repo:      repo,
		mailer:    mailer,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With("component", "notification_dispatcher"),
		queue:     make(chan domain.Transfer, cfg.QueueSize),
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (d *NotificationDispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.worker()
		}
		d.logger.Info("notification workers started", "workers", d.cfg.Workers, "queue_size", d.cfg.QueueSize)
	})
}

// Dispatch enqueues a committed transfer without blocking. It returns false when the job
// was dropped because the queue is full or the dispatcher is shutting down.
func (d *NotificationDispatcher) Dispatch(transfer domain.Transfer) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("dispatcher stopped; dropping notification", "transfer_id", transfer.ID)
		return false
	}

	select {
	case d.queue <- transfer:
		return true
	default:
		d.logger.Warn("notification queue full; dropping notification", "transfer_id", transfer.ID, "queue_size", d.cfg.QueueSize)
		return false
	}
}

// Shutdown stops intake and waits for queued and in-flight work. When ctx expires first,
// outstanding work is cancelled and ctx.Err() is returned.
func (d *NotificationDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	// Workers that were never started still need the queue drained.
	d.Start()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.logger.Info("notification workers stopped")
		return nil
	case <-ctx.Done():
		d.cancel()
		d.logger.Warn("notification shutdown timed out; abandoning pending work", "pending", len(d.queue))
		return ctx.Err()
	}
}

func (d *NotificationDispatcher) worker() {
	defer d.wg.Done()
	for transfer := range d.queue {
		if d.baseCtx.Err() != nil {
			continue
		}
		d.process(transfer)
	}
}

func (d *NotificationDispatcher) process(transfer domain.Transfer) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification worker panic", "transfer_id", transfer.ID, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(d.baseCtx, d.cfg.JobTimeout)
	defer cancel()

	d.notify(ctx, transfer)
}

func (d *NotificationDispatcher) notify(ctx context.Context, transfer domain.Transfer) {
	logger := d.logger.With("transfer_id", transfer.ID)

	origin, err := d.repo.FindAccountByID(ctx, transfer.OriginAccountID)
	if err != nil {
		logger.Error("failed to load origin account for notification", "account_id", transfer.OriginAccountID, "error", err)
		return
	}
	destination, err := d.repo.FindAccountByID(ctx, transfer.DestinationAccountID)
	if err != nil {
		logger.Error("failed to load destination account for notification", "account_id", transfer.DestinationAccountID, "error", err)
		return
	}

	events := BuildTransferNotifications(*origin, *destination, transfer)
	if err := d.repo.CreateNotifications(ctx, events); err != nil {
		logger.Error("failed to persist notifications", "error", err)
	}

	if d.publisher != nil {
		event := domain.NewTransferCompletedEvent(transfer)
		if err := d.publisher.Publish(ctx, d.cfg.Exchange, domain.RoutingKeyTransferCompleted, event); err != nil {
			logger.Error("failed to publish transfer event", "routing_key", domain.RoutingKeyTransferCompleted, "error", err)
		}
	}

	if d.mailer == nil {
		return
	}
	job := mail.TransferReceivedJob(*destination, *origin, transfer)
	if !d.mailer.Send(ctx, job) {
		logger.Warn("transfer email not sent; left for sweeper", "to", job.To)
		return
	}

	received := events[0]
	if received.ID == 0 {
		return
	}
	if err := d.repo.MarkNotificationSent(ctx, received.ID); err != nil {
		logger.Error("failed to mark notification sent", "notification_id", received.ID, "error", err)
	}
}

// BuildTransferNotifications returns the recipient's TRANSFER_RECEIVED row followed by the
// sender's TRANSFER_SENT row. The sent row needs no delivery and starts as sent.
func BuildTransferNotifications(origin, destination domain.Account, transfer domain.Transfer) []domain.NotificationEvent {
	amount := transfer.Amount.StringFixed(2)
	transferID := transfer.ID
	return []domain.NotificationEvent{
		{
			AccountID:  destination.ID,
			TransferID: &transferID,
			Message:    fmt.Sprintf("You received a transfer of $ %s from %s", amount, origin.Name),
			Category:   domain.NotificationTransferReceived,
			Sent:       false,
		},
		{
			AccountID:  origin.ID,
			TransferID: &transferID,
			Message:    fmt.Sprintf("Transfer of $ %s to %s completed", amount, destination.Name),
			Category:   domain.NotificationTransferSent,
			Sent:       true,
		},
	}
}

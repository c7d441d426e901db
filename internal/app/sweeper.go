package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/mail"
)

// NotificationSweeper retries the recipient email for TRANSFER_RECEIVED rows still marked
// unsent. Rows younger than MinAge are skipped so the dispatcher's own retries finish first.
type NotificationSweeper struct {
	repo    NotificationRepository
	mailer  EmailSender
	batch   int
	minAge  time.Duration
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func NewNotificationSweeper(repo NotificationRepository, mailer EmailSender, batch int, minAge, timeout time.Duration, logger *slog.Logger) *NotificationSweeper {
	if batch <= 0 {
		batch = 50
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationSweeper{
		repo:    repo,
		mailer:  mailer,
		batch:   batch,
		minAge:  minAge,
		timeout: timeout,
		logger:  logger.With("component", "notification_sweeper"),
		now:     time.Now,
	}
}

// Run is the cron entry point.
func (s *NotificationSweeper) Run() {
	s.logger.Info("starting unsent notification sweep")
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	sent, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("unsent notification sweep failed", "error", err)
		return
	}
	s.logger.Info("unsent notification sweep finished", "sent", sent)
}

// Sweep processes one batch and returns how many emails went out. Every row it picks up is
// stamped with an attempt first, so rows that keep failing drop behind newer ones.
func (s *NotificationSweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.minAge)
	rows, err := s.repo.FindUnsentNotifications(ctx, domain.NotificationTransferReceived, cutoff, s.batch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if err := s.repo.RecordNotificationAttempt(ctx, row.ID); err != nil {
			s.logger.Error("failed to record notification attempt", "notification_id", row.ID, "error", err)
			continue
		}
		if row.TransferID == nil {
			s.logger.Warn("unsent notification has no transfer; skipping", "notification_id", row.ID)
			continue
		}
		if s.resend(ctx, row) {
			sent++
		} else {
			s.logger.Warn("notification email still failing", "notification_id", row.ID, "attempts", row.Attempts+1)
		}
	}
	return sent, nil
}

func (s *NotificationSweeper) resend(ctx context.Context, row domain.NotificationEvent) bool {
	logger := s.logger.With("notification_id", row.ID, "transfer_id", *row.TransferID)

	transfer, err := s.repo.FindTransferByID(ctx, *row.TransferID)
	if err != nil {
		logger.Error("failed to load transfer for notification", "error", err)
		return false
	}
	origin, err := s.repo.FindAccountByID(ctx, transfer.OriginAccountID)
	if err != nil {
		logger.Error("failed to load origin account", "error", err)
		return false
	}
	destination, err := s.repo.FindAccountByID(ctx, transfer.DestinationAccountID)
	if err != nil {
		logger.Error("failed to load destination account", "error", err)
		return false
	}

	if !s.mailer.Send(ctx, mail.TransferReceivedJob(*destination, *origin, *transfer)) {
		return false
	}
	if err := s.repo.MarkNotificationSent(ctx, row.ID); err != nil {
		logger.Error("failed to mark notification sent", "error", err)
	}
	return true
}

package app

import (
	"context"
	"testing"
	"time"

	"github.com/transfa/transfer-service/internal/domain"
)

func TestSweep_ResendsOldUnsentNotifications(t *testing.T) {
	repo := seededNotificationRepo(t)
	ctx := context.Background()

	svc := NewService(repo, nil, discardLogger())
	transfer, err := svc.Transfer(ctx, domain.TransferRequest{OriginAccountID: 1, DestinationAccountID: 2, Amount: money("75")})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	origin, _ := repo.FindAccountByID(ctx, 1)
	destination, _ := repo.FindAccountByID(ctx, 2)
	if err := repo.CreateNotifications(ctx, BuildTransferNotifications(*origin, *destination, *transfer)); err != nil {
		t.Fatalf("CreateNotifications: %v", err)
	}

	mailer := &recordingMailer{ok: true}
	sweeper := NewNotificationSweeper(repo, mailer, 10, time.Minute, time.Second, discardLogger())

	// Rows younger than the minimum age are left for the dispatcher.
	sent, err := sweeper.Sweep(ctx)
	if err != nil || sent != 0 {
		t.Fatalf("expected young rows to be skipped, sent=%d err=%v", sent, err)
	}

	sweeper.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	sent, err = sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected one email resent, got %d", sent)
	}
	jobs := mailer.sent()
	if len(jobs) != 1 || jobs[0].To != "grace@example.com" {
		t.Fatalf("unexpected email jobs %+v", jobs)
	}

	unsent, _ := repo.FindUnsentNotifications(ctx, domain.NotificationTransferReceived, time.Now(), 10)
	if len(unsent) != 0 {
		t.Fatalf("expected row to be marked sent, %d still unsent", len(unsent))
	}
}

func TestSweep_FailedEmailStaysUnsent(t *testing.T) {
	repo := seededNotificationRepo(t)
	ctx := context.Background()

	svc := NewService(repo, nil, discardLogger())
	transfer, _ := svc.Transfer(ctx, domain.TransferRequest{OriginAccountID: 1, DestinationAccountID: 2, Amount: money("1")})
	origin, _ := repo.FindAccountByID(ctx, 1)
	destination, _ := repo.FindAccountByID(ctx, 2)
	_ = repo.CreateNotifications(ctx, BuildTransferNotifications(*origin, *destination, *transfer))

	sweeper := NewNotificationSweeper(repo, &recordingMailer{ok: false}, 10, 0, time.Second, discardLogger())
	sent, err := sweeper.Sweep(ctx)
	if err != nil || sent != 0 {
		t.Fatalf("expected nothing sent, sent=%d err=%v", sent, err)
	}

	unsent, _ := repo.FindUnsentNotifications(ctx, domain.NotificationTransferReceived, time.Now(), 10)
	if len(unsent) != 1 {
		t.Fatalf("expected row to stay unsent, got %d", len(unsent))
	}
}

// recipientMailer fails every email addressed to one of the rejected recipients.
type recipientMailer struct {
	recordingMailer
	rejected map[string]bool
}

func (m *recipientMailer) Send(ctx context.Context, job *domain.EmailJob) bool {
	m.recordingMailer.Send(ctx, job)
	return !m.rejected[job.To]
}

func TestSweep_FailingRowsDoNotStarveNewerOnes(t *testing.T) {
	repo := seededNotificationRepo(t)
	repo.SeedAccount(domain.Account{ID: 3, Name: "Broken Inbox", Email: "broken@invalid", Balance: money("0")})
	ctx := context.Background()
	svc := NewService(repo, nil, discardLogger())

	// Two rows whose email always fails sit at the head of the queue, then one deliverable row.
	for _, destinationID := range []int64{3, 3, 2} {
		transfer, err := svc.Transfer(ctx, domain.TransferRequest{OriginAccountID: 1, DestinationAccountID: destinationID, Amount: money("5")})
		if err != nil {
			t.Fatalf("Transfer: %v", err)
		}
		origin, _ := repo.FindAccountByID(ctx, 1)
		destination, _ := repo.FindAccountByID(ctx, destinationID)
		if err := repo.CreateNotifications(ctx, BuildTransferNotifications(*origin, *destination, *transfer)); err != nil {
			t.Fatalf("CreateNotifications: %v", err)
		}
	}

	mailer := &recipientMailer{recordingMailer: recordingMailer{ok: true}, rejected: map[string]bool{"broken@invalid": true}}
	sweeper := NewNotificationSweeper(repo, mailer, 2, 0, time.Second, discardLogger())
	sweeper.now = func() time.Time { return time.Now().Add(time.Second) }

	for i := 0; i < 3; i++ {
		if _, err := sweeper.Sweep(ctx); err != nil {
			t.Fatalf("Sweep %d: %v", i, err)
		}
	}

	delivered := false
	for _, job := range mailer.sent() {
		if job.To == "grace@example.com" {
			delivered = true
		}
	}
	if !delivered {
		t.Fatal("expected the deliverable row to be retried despite failing rows ahead of it")
	}

	unsent, _ := repo.FindUnsentNotifications(ctx, domain.NotificationTransferReceived, time.Now().Add(time.Second), 10)
	if len(unsent) != 2 {
		t.Fatalf("expected only the failing rows to stay unsent, got %d", len(unsent))
	}
	for _, row := range unsent {
		if row.AccountID != 3 || row.Attempts == 0 || row.LastAttemptAt == nil {
			t.Fatalf("expected failing rows to carry attempt stamps, got %+v", row)
		}
	}
}

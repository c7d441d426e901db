/**
 * @description
 * Sender delivers one EmailJob with bounded retries and exponential backoff. It is its own
 * failure domain: callers only ever see a success flag, and every failure is logged here.
 *
 * @dependencies
 * - github.com/wneessen/go-mail (via SMTPTransport): SMTP delivery.
 * - log/slog: Structured logging.
 */

package mail

import (
	"context"
	"fmt"
	"log/slog"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/transfa/transfer-service/internal/domain"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 5 * time.Second
	DefaultMaxDelay    = time.Minute
)

// SenderConfig controls addressing and retry behaviour.
type SenderConfig struct {
	From     string
	FromName string
	// OverrideRecipient, when set, replaces every To/Cc/Bcc. Used for sandbox environments.
	OverrideRecipient string
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
}

// Sender renders and delivers emails.
type Sender struct {
	transport Transport
	renderer  *Renderer
	cfg       SenderConfig
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewSender(transport Transport, renderer *Renderer, cfg SenderConfig, logger *slog.Logger) *Sender {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		transport: transport,
		renderer:  renderer,
		cfg:       cfg,
		logger:    logger.With("component", "mail_sender"),
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Send tries up to MaxAttempts times, waiting BaseDelay before the first retry and doubling
// the wait each time up to MaxDelay. Permanent failures stop immediately. The returned
// flag is also recorded on job.Success.
func (s *Sender) Send(ctx context.Context, job *domain.EmailJob) bool {
	job.Success = false
	delay := s.cfg.BaseDelay

	for attempt := 1; ; attempt++ {
		err := s.attempt(ctx, job)
		if err == nil {
			job.Success = true
			s.logger.Info("email sent", "to", job.To, "template", job.Template, "attempt", attempt)
			return true
		}

		if !IsTransient(err) {
			s.logger.Error("email failed permanently", "to", job.To, "template", job.Template, "attempt", attempt, "error", err)
			return false
		}
		if attempt >= s.cfg.MaxAttempts {
			s.logger.Error("email dropped after retries", "to", job.To, "template", job.Template, "attempts", attempt, "error", err)
			return false
		}

		s.logger.Warn("email attempt failed; retrying", "to", job.To, "attempt", attempt, "retry_in", delay, "error", err)
		if err := s.sleep(ctx, delay); err != nil {
			s.logger.Warn("email retry abandoned", "to", job.To, "error", err)
			return false
		}

		delay *= 2
		if delay > s.cfg.MaxDelay {
			delay = s.cfg.MaxDelay
		}
	}
}

func (s *Sender) attempt(ctx context.Context, job *domain.EmailJob) error {
	msg, err := s.buildMessage(job)
	if err != nil {
		return err
	}
	return s.transport.Deliver(ctx, msg)
}

func (s *Sender) buildMessage(job *domain.EmailJob) (*Message, error) {
	if _, err := netmail.ParseAddress(s.cfg.From); err != nil {
		return nil, Permanent(fmt.Errorf("%w: %q", ErrInvalidSender, s.cfg.From))
	}

	to, err := parseRecipients(job.To)
	if err != nil {
		return nil, err
	}
	if len(to) == 0 {
		return nil, Permanent(fmt.Errorf("%w: empty", ErrInvalidRecipient))
	}
	cc, err := parseRecipients(job.Cc)
	if err != nil {
		return nil, err
	}
	bcc, err := parseRecipients(job.Bcc)
	if err != nil {
		return nil, err
	}

	if s.cfg.OverrideRecipient != "" {
		to, cc, bcc = []string{s.cfg.OverrideRecipient}, nil, nil
	}

	html, text, err := s.renderer.Render(job.Template, job.Variables)
	if err != nil {
		return nil, err
	}

	return &Message{
		FromName: s.cfg.FromName,
		From:     s.cfg.From,
		To:       to,
		Cc:       cc,
		Bcc:      bcc,
		Subject:  job.Subject,
		HTML:     html,
		Text:     text,
	}, nil
}

// parseRecipients splits a comma-separated address list. An empty list is not an error.
func parseRecipients(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	addrs, err := netmail.ParseAddressList(raw)
	if err != nil {
		return nil, Permanent(fmt.Errorf("%w: %q", ErrInvalidRecipient, raw))
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out, nil
}

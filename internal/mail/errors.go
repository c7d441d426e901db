package mail

import (
	"context"
	"errors"

	gomail "github.com/wneessen/go-mail"
)

var (
	ErrUnknownTemplate  = errors.New("unknown email template")
	ErrInvalidRecipient = errors.New("invalid recipient address")
	ErrInvalidSender    = errors.New("invalid sender address")
	ErrNotConfigured    = errors.New("smtp transport not configured")
)

// PermanentError marks a failure that no amount of retrying will fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that IsTransient reports false for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether a failed attempt is worth retrying. Rejected recipients
// (permanent SMTP reply to RCPT TO), explicit Permanent errors and caller cancellation
// are not; transport and composition failures are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var sendErr *gomail.SendError
	if errors.As(err, &sendErr) {
		if sendErr.Reason == gomail.ErrSMTPRcptTo && !sendErr.IsTemp() {
			return false
		}
	}
	return true
}

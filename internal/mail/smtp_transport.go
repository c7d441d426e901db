package mail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	gomail "github.com/wneessen/go-mail"
)

// Message is a fully rendered email ready for delivery.
type Message struct {
	FromName string
	From     string
	To       []string
	Cc       []string
	Bcc      []string
	Subject  string
	HTML     string
	Text     string
}

// Transport delivers one rendered message. Implementations return Permanent errors for
// failures that retrying cannot fix.
type Transport interface {
	Deliver(ctx context.Context, msg *Message) error
}

// SMTPConfig configures SMTPTransport.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// TLS is one of "mandatory", "opportunistic", "none" or "ssl".
	TLS     string
	Timeout time.Duration
}

// SMTPTransport delivers through an SMTP relay, dialing per message.
type SMTPTransport struct {
	client *gomail.Client
}

func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	opts := []gomail.Option{gomail.WithPort(cfg.Port)}
	if cfg.Timeout > 0 {
		opts = append(opts, gomail.WithTimeout(cfg.Timeout))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.TLS)) {
	case "none":
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	case "ssl":
		opts = append(opts, gomail.WithSSL())
	case "mandatory":
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	default:
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSOpportunistic))
	}

	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &SMTPTransport{client: client}, nil
}

func (t *SMTPTransport) Deliver(ctx context.Context, msg *Message) error {
	m, err := composeMessage(msg)
	if err != nil {
		return err
	}
	if err := t.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp deliver: %w", err)
	}
	return nil
}

// DisabledTransport rejects every message. It stands in when SMTP_HOST is unset so rows stay
// unsent for the sweeper instead of being marked delivered.
type DisabledTransport struct{}

func (DisabledTransport) Deliver(ctx context.Context, msg *Message) error {
	return Permanent(ErrNotConfigured)
}

func composeMessage(msg *Message) (*gomail.Msg, error) {
	m := gomail.NewMsg()

	if err := m.FromFormat(msg.FromName, msg.From); err != nil {
		return nil, Permanent(fmt.Errorf("%w: %v", ErrInvalidSender, err))
	}
	if err := m.To(msg.To...); err != nil {
		return nil, Permanent(fmt.Errorf("%w: %v", ErrInvalidRecipient, err))
	}
	if len(msg.Cc) > 0 {
		if err := m.Cc(msg.Cc...); err != nil {
			return nil, Permanent(fmt.Errorf("%w: cc: %v", ErrInvalidRecipient, err))
		}
	}
	if len(msg.Bcc) > 0 {
		if err := m.Bcc(msg.Bcc...); err != nil {
			return nil, Permanent(fmt.Errorf("%w: bcc: %v", ErrInvalidRecipient, err))
		}
	}

	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageIDWithValue(uuid.NewString() + "@transfer-service")

	if msg.Text != "" {
		m.SetBodyString(gomail.TypeTextPlain, msg.Text)
		m.AddAlternativeString(gomail.TypeTextHTML, msg.HTML)
	} else {
		m.SetBodyString(gomail.TypeTextHTML, msg.HTML)
	}
	return m, nil
}

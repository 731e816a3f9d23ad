package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"

	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

// ErrNotConfigured is returned when the SMTP settings are incomplete.
var ErrNotConfigured = errors.New("smtp notifier not configured")

// SMTPConfig holds the mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// Validate reports the first missing setting.
func (c SMTPConfig) Validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("%w: host is empty", ErrNotConfigured)
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: invalid port %d", ErrNotConfigured, c.Port)
	case c.From == "":
		return fmt.Errorf("%w: from is empty", ErrNotConfigured)
	case len(c.To) == 0:
		return fmt.Errorf("%w: no recipients", ErrNotConfigured)
	}
	return nil
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier sends reports through an SMTP relay. smtp.SendMail upgrades
// the connection with STARTTLS when the relay offers it.
type SMTPNotifier struct {
	cfg   SMTPConfig
	send  SendFunc
	clock timeutil.Clock
}

// NewSMTPNotifier validates cfg and returns a notifier using smtp.SendMail.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail, clock: timeutil.RealClock{}}, nil
}

// WithSendFunc replaces the transport, for tests.
func (n *SMTPNotifier) WithSendFunc(f SendFunc) *SMTPNotifier {
	n.send = f
	return n
}

// WithClock replaces the clock used for the Date header.
func (n *SMTPNotifier) WithClock(c timeutil.Clock) *SMTPNotifier {
	n.clock = c
	return n
}

// Send composes and delivers msg. It returns when delivery finishes or ctx is
// done, whichever comes first.
func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := Compose(n.cfg.From, n.cfg.To, msg, n.clock.Now())
	if err != nil {
		return fmt.Errorf("compose report email: %w", err)
	}

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))

	done := make(chan error, 1)
	go func() { done <- n.send(addr, auth, n.cfg.From, n.cfg.To, raw) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send report email via %s: %w", addr, err)
		}
	}
	monitoring.Logf("notify: sent %q to %d recipient(s)", msg.Subject, len(n.cfg.To))
	return nil
}

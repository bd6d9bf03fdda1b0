package outbound

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/wneessen/go-mail/smtp"
)

// SMTPClient is the part of an SMTP session the relay uses.
type SMTPClient interface {
	Hello(localName string) error
	Extension(ext string) (bool, string)
	StartTLS(config *tls.Config) error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// RelayConfig configures the smart host connection.
type RelayConfig struct {
	Host     string
	Port     int
	Helo     string
	StartTLS bool
	Timeout  time.Duration
}

// Relay sends messages to the smart host over SMTP.
type Relay struct {
	cfg  RelayConfig
	dial func(ctx context.Context, addr, host string) (SMTPClient, error)
}

// NewRelay creates a new Relay.
func NewRelay(cfg RelayConfig) *Relay {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Relay{cfg: cfg, dial: dialSMTP}
}

func dialSMTP(ctx context.Context, addr, host string) (SMTPClient, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Send relays raw to the smart host with the given envelope. Any recipient
// refusal fails the whole send so the queue retries it.
func (r *Relay) Send(ctx context.Context, from string, to []string, raw []byte) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(r.cfg.Host, strconv.Itoa(r.cfg.Port))
	c, err := r.dial(ctx, addr, r.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer c.Close()

	if r.cfg.Helo != "" {
		if err := c.Hello(r.cfg.Helo); err != nil {
			return fmt.Errorf("HELO failed: %w", err)
		}
	}
	if r.cfg.StartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return fmt.Errorf("smart host %s does not offer STARTTLS", addr)
		}
		if err := c.StartTLS(&tls.Config{ServerName: r.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("STARTTLS failed: %w", err)
		}
	}

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s rejected: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}
	return c.Quit()
}

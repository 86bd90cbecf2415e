// Package mail sends transactional email (verification codes) over SMTP
// using the settings from config.SMTPConfig.
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	netmail "net/mail"
	gosmtp "net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/keyxmakerx/trakit/internal/config"
)

// ErrNotConfigured is returned by Send when no SMTP host is configured.
var ErrNotConfigured = errors.New("smtp not configured")

// dialTimeout bounds connection setup to the SMTP server.
const dialTimeout = 10 * time.Second

// Sender is the contract plugins use to send mail.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPSender delivers mail through a single SMTP relay.
type SMTPSender struct {
	cfg config.SMTPConfig
	log *slog.Logger
}

// NewSMTPSender creates a sender. An unconfigured sender logs the message
// subject instead of sending so local development works without a relay.
func NewSMTPSender(cfg config.SMTPConfig, log *slog.Logger) *SMTPSender {
	return &SMTPSender{cfg: cfg, log: log.With(slog.String("component", "mail"))}
}

// Send delivers a plain-text message to a single recipient.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if !s.cfg.Configured() {
		s.log.Warn("smtp not configured, dropping message",
			slog.String("to", to),
			slog.String("subject", subject),
		)
		return ErrNotConfigured
	}

	if _, err := netmail.ParseAddress(to); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}

	from, err := netmail.ParseAddress(s.cfg.From)
	if err != nil {
		return fmt.Errorf("invalid SMTP_FROM: %w", err)
	}

	msg := buildMessage(from, to, subject, body, time.Now())
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	done := make(chan error, 1)
	go func() {
		switch s.cfg.Encryption {
		case "ssl":
			done <- s.sendSSL(addr, from.Address, to, msg)
		case "none":
			done <- s.sendPlain(addr, from.Address, to, msg)
		default:
			done <- s.sendStartTLS(addr, from.Address, to, msg)
		}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("sending mail: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("sending mail to %s: %w", to, err)
		}
		return nil
	}
}

// buildMessage renders an RFC 5322 message with a plain-text body.
func buildMessage(from *netmail.Address, to, subject, body string, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from.String())
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", strings.NewReplacer("\r", "", "\n", "").Replace(subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now.UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}

func (s *SMTPSender) auth() gosmtp.Auth {
	if s.cfg.Username == "" {
		return nil
	}
	return gosmtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
}

// sendStartTLS upgrades a plain connection (port 587).
func (s *SMTPSender) sendStartTLS(addr, from, to, msg string) error {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	client, err := gosmtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
		return fmt.Errorf("starting TLS: %w", err)
	}
	return s.deliver(client, from, to, msg)
}

// sendSSL uses implicit TLS (port 465).
func (s *SMTPSender) sendSSL(addr, from, to, msg string) error {
	tlsConfig := &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: dialTimeout}, "tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("connecting to %s (SSL): %w", addr, err)
	}
	defer conn.Close()

	client, err := gosmtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Close()

	return s.deliver(client, from, to, msg)
}

// sendPlain sends without TLS. Only for local relays.
func (s *SMTPSender) sendPlain(addr, from, to, msg string) error {
	return gosmtp.SendMail(addr, s.auth(), from, []string{to}, []byte(msg))
}

// deliver authenticates if needed and runs MAIL, RCPT, DATA, QUIT.
func (s *SMTPSender) deliver(client *gosmtp.Client, from, to, msg string) error {
	if a := s.auth(); a != nil {
		if err := client.Auth(a); err != nil {
			return fmt.Errorf("authenticating: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data: %w", err)
	}
	return client.Quit()
}

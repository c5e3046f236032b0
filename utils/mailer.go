package utils

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/cppla/engage/config"
)

var ErrMailNotConfigured = errors.New("smtp not configured")

// Mailer sends plain text mail with the configured SMTP account.
type Mailer struct {
	cfg config.AppConfig
}

func NewMailer(cfg config.AppConfig) *Mailer {
	return &Mailer{cfg: cfg}
}

// Enabled reports whether SMTP host and sender are set.
func (m *Mailer) Enabled() bool {
	return m.cfg.SMTPHost != "" && m.cfg.SMTPFrom != ""
}

// Send delivers one message to every recipient.
func (m *Mailer) Send(ctx context.Context, to []string, subject, body string) error {
	if !m.Enabled() {
		return ErrMailNotConfigured
	}
	var errs []error
	for _, rcpt := range to {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.sendOne(rcpt, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rcpt, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Mailer) message(to, subject, body string) []byte {
	fromName := m.cfg.SMTPFromName
	if fromName == "" {
		fromName = "Engage"
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", mime.BEncoding.Encode("UTF-8", fromName), m.cfg.SMTPFrom)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.BEncoding.Encode("UTF-8", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(body)
	return []byte(msg.String())
}

func (m *Mailer) sendOne(to, subject, body string) error {
	addr := net.JoinHostPort(m.cfg.SMTPHost, strconv.Itoa(m.cfg.SMTPPort))
	auth := smtp.PlainAuth("", m.cfg.SMTPUsername, m.cfg.SMTPPassword, m.cfg.SMTPHost)
	msg := m.message(to, subject, body)

	if !m.cfg.SMTPTLS {
		return smtp.SendMail(addr, auth, m.cfg.SMTPFrom, []string{to}, msg)
	}

	// STARTTLS with timeouts
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return err
	}
	_ = conn.SetDeadline(time.Now().Add(15 * time.Second))
	c, err := smtp.NewClient(conn, m.cfg.SMTPHost)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.cfg.SMTPHost}); err != nil {
			return err
		}
	}
	if m.cfg.SMTPUsername != "" {
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(m.cfg.SMTPFrom); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	wc, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := wc.Write(msg); err != nil {
		_ = wc.Close()
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return c.Quit()
}

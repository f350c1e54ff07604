// Package mailer — доставка OTP по e-mail.
package mailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"campusvote/internal/logs"
)

type Mailer interface {
	SendOTP(ctx context.Context, code, recipient string) error
}

// LogMailer пишет код в лог вместо отправки. Для разработки.
type LogMailer struct{}

func (LogMailer) SendOTP(_ context.Context, code, recipient string) error {
	logs.Logger.WithField("recipient", recipient).Infof("otp: %s", code)
	return nil
}

type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer отправляет письма через SMTP с PLAIN-аутентификацией (если задан Username).
type SMTPMailer struct {
	opts SMTPOptions
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now  func() time.Time
}

func NewSMTP(opts SMTPOptions) *SMTPMailer {
	if opts.Port == 0 {
		opts.Port = 587
	}
	return &SMTPMailer{opts: opts, send: smtp.SendMail, now: time.Now}
}

func (m *SMTPMailer) SendOTP(ctx context.Context, code, recipient string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(recipient, "\r\n") {
		return fmt.Errorf("smtp: bad recipient %q", recipient)
	}
	var auth smtp.Auth
	if m.opts.Username != "" {
		auth = smtp.PlainAuth("", m.opts.Username, m.opts.Password, m.opts.Host)
	}
	addr := net.JoinHostPort(m.opts.Host, strconv.Itoa(m.opts.Port))
	if err := m.send(addr, auth, m.opts.From, []string{recipient}, m.message(code, recipient)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	logs.Logger.WithField("recipient", recipient).Debug("otp mail sent")
	return nil
}

func (m *SMTPMailer) message(code, recipient string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.opts.From)
	fmt.Fprintf(&b, "To: %s\r\n", recipient)
	fmt.Fprintf(&b, "Subject: Your verification code\r\n")
	fmt.Fprintf(&b, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&b, "Your one-time code is %s.\r\n", code)
	b.WriteString("If you did not request it, ignore this message.\r\n")
	return []byte(b.String())
}

// New — по имени драйвера из конфигурации: log|smtp.
func New(driver string, opts SMTPOptions) (Mailer, error) {
	switch driver {
	case "", "log":
		return LogMailer{}, nil
	case "smtp":
		return NewSMTP(opts), nil
	default:
		return nil, fmt.Errorf("unsupported mail driver: %s", driver)
	}
}

package authgate

import (
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"

	"reobot/pkg/logx"
)

// Mailer delivers login codes.
type Mailer interface {
	SendCode(ctx context.Context, to, code string) error
}

type SMTPConfig struct {
	Server   string
	Port     int
	User     string
	Password string
	From     string
}

// SMTPMailer sends a multipart (plain + HTML) message through an SMTP relay
// with STARTTLS and PLAIN auth. Without credentials it only logs, which is
// handy for local runs.
type SMTPMailer struct {
	cfg          SMTPConfig
	dashboardURL string
	log          logx.Logger
	attempts     uint
	send         func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg SMTPConfig, dashboardURL string, log logx.Logger) *SMTPMailer {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	return &SMTPMailer{cfg: cfg, dashboardURL: dashboardURL, log: log, attempts: 3, send: smtp.SendMail}
}

func (m *SMTPMailer) Configured() bool { return m.cfg.User != "" && m.cfg.Password != "" }

func (m *SMTPMailer) SendCode(ctx context.Context, to, code string) error {
	if !m.Configured() {
		m.log.Warn("smtp not configured; code not mailed", logx.String("to", to))
		return nil
	}
	msg, err := m.compose(to, code)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(m.cfg.Server, strconv.Itoa(m.cfg.Port))
	auth := smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Server)

	err = retry.Do(
		func() error {
			start := time.Now()
			if err := m.send(addr, auth, m.cfg.From, []string{to}, msg); err != nil {
				m.log.Warn("smtp send failed", logx.String("to", to), logx.Duration("dur", time.Since(start)), logx.Err(err))
				return err
			}
			return nil
		},
		retry.Attempts(m.attempts),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			m.log.Info("retrying code email", logx.Uint64("attempt", uint64(n)), logx.Err(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("after retries: %w", err)
	}
	m.log.Info("code email sent", logx.String("to", to))
	return nil
}

var htmlBody = template.Must(template.New("otp").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; background-color: #f4f4f4; margin: 0; padding: 20px;">
  <div style="max-width: 600px; margin: 0 auto; background-color: #ffffff; padding: 30px; border-radius: 10px;">
    <div style="text-align: center; font-size: 24px; font-weight: bold; color: #6B46C1;">🔐 REO Dashboard</div>
    <h2 style="color: #333;">Your Login Code</h2>
    <p>Use this one-time password to access the REO Dashboard:</p>
    <div style="background-color: #f0e7ff; border: 2px solid #6B46C1; border-radius: 8px; padding: 20px; text-align: center;">
      <div style="font-size: 32px; font-weight: bold; color: #6B46C1; letter-spacing: 5px;">{{.Code}}</div>
    </div>
    <p style="color: #666; font-size: 14px;">⏱️ This code will expire in <strong>{{.Minutes}} minutes</strong>.</p>
    <p style="color: #666; font-size: 14px;">If you didn't request this code, please ignore this email.</p>
    <div style="color: #999; font-size: 12px; margin-top: 30px; border-top: 1px solid #eee; text-align: center;">
      <p><strong>The Graph Protocol</strong></p>
      <p>Rewards Eligibility Oracle Dashboard</p>
      <p><a href="{{.URL}}" style="color: #6B46C1;">{{.URL}}</a></p>
    </div>
  </div>
</body>
</html>
`))

const codeMinutes = 10

func (m *SMTPMailer) compose(to, code string) ([]byte, error) {
	var html strings.Builder
	err := htmlBody.Execute(&html, struct {
		Code    string
		Minutes int
		URL     string
	}{code, codeMinutes, m.dashboardURL})
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf("REO Dashboard - One-Time Password\r\n\r\nYour login code is: %s\r\n\r\n"+
		"This code will expire in %d minutes.\r\n\r\nIf you didn't request this code, please ignore this email.\r\n\r\n"+
		"---\r\nThe Graph Protocol - Rewards Eligibility Oracle Dashboard\r\n%s\r\n", code, codeMinutes, m.dashboardURL)

	boundary := "reo-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	var b strings.Builder
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	b.WriteString("Subject: Your REO Dashboard Login Code\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", boundary, text)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n", boundary, html.String())
	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String()), nil
}

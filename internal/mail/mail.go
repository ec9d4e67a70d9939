// Package mail sends account emails: verification and password reset links.
package mail

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Mailer delivers account emails. token is appended to the link path.
type Mailer interface {
	SendVerification(ctx context.Context, to, name, token string) error
	SendPasswordReset(ctx context.Context, to, name, token string) error
}

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	AppURL   string
}

// SMTP is a Mailer that delivers through an SMTP relay.
type SMTP struct {
	from   string
	appURL string
	send   func(*gomail.Message) error
}

var _ Mailer = (*SMTP)(nil)

// New returns an SMTP mailer, or a Noop mailer when no host is configured.
func New(cfg Config) Mailer {
	if cfg.Host == "" {
		zap.S().Infow("mail host not configured, account emails will be logged only")
		return Noop{AppURL: cfg.AppURL}
	}
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &SMTP{from: cfg.From, appURL: cfg.AppURL, send: func(m *gomail.Message) error {
		return dialer.DialAndSend(m)
	}}
}

func (s *SMTP) SendVerification(ctx context.Context, to, name, token string) error {
	link := VerificationLink(s.appURL, token)
	body := fmt.Sprintf("Dear %s,\n\nThanks for signing up. Please verify your email address by opening the link below:\n\n%s\n", name, link)
	return s.deliver(ctx, to, "Verify your email address", body)
}

func (s *SMTP) SendPasswordReset(ctx context.Context, to, name, token string) error {
	link := PasswordResetLink(s.appURL, token)
	body := fmt.Sprintf("Dear %s,\n\nWe received a request to reset your password. Open the link below to choose a new one:\n\n%s\n\nIf you did not ask for this, ignore this email.\n", name, link)
	return s.deliver(ctx, to, "Reset your password", body)
}

func (s *SMTP) deliver(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage(gomail.SetEncoding(gomail.Unencoded))
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.send(m); err != nil {
		return fmt.Errorf("send %q to %s: %w", subject, to, err)
	}
	zap.S().Infow("email sent", "to", to, "subject", subject)
	return nil
}

// Noop logs the links it would have sent.
type Noop struct {
	AppURL string
}

func (n Noop) SendVerification(_ context.Context, to, _, token string) error {
	zap.S().Infow("verification email skipped", "to", to, "link", VerificationLink(n.AppURL, token))
	return nil
}

func (n Noop) SendPasswordReset(_ context.Context, to, _, token string) error {
	zap.S().Infow("password reset email skipped", "to", to, "link", PasswordResetLink(n.AppURL, token))
	return nil
}

// VerificationLink is the front-end page that activates an account.
func VerificationLink(appURL, token string) string {
	return appURL + "/email-verify/" + token
}

// PasswordResetLink is the front-end page that sets a new password.
func PasswordResetLink(appURL, token string) string {
	return appURL + "/password-reset/" + token
}

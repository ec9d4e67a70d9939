package mail

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

func newCapture(t *testing.T) (*SMTP, *[]*gomail.Message) {
	t.Helper()
	var sent []*gomail.Message
	s := &SMTP{
		from:   "no-reply@shop.test",
		appURL: "https://shop.test",
		send: func(m *gomail.Message) error {
			sent = append(sent, m)
			return nil
		},
	}
	return s, &sent
}

func raw(t *testing.T, m *gomail.Message) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	return buf.String()
}

func TestSendVerification(t *testing.T) {
	s, sent := newCapture(t)

	require.NoError(t, s.SendVerification(context.Background(), "ann@example.com", "Ann", "tok123"))
	require.Len(t, *sent, 1)

	m := (*sent)[0]
	assert.Equal(t, []string{"ann@example.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{"no-reply@shop.test"}, m.GetHeader("From"))
	assert.Contains(t, raw(t, m), "https://shop.test/email-verify/tok123")
}

func TestSendPasswordReset(t *testing.T) {
	s, sent := newCapture(t)

	require.NoError(t, s.SendPasswordReset(context.Background(), "ann@example.com", "Ann", "tok456"))
	require.Len(t, *sent, 1)
	assert.Contains(t, raw(t, (*sent)[0]), "https://shop.test/password-reset/tok456")
}

func TestSendErrorAndCancelledContext(t *testing.T) {
	s := &SMTP{from: "x@shop.test", send: func(*gomail.Message) error { return errors.New("relay down") }}
	err := s.SendVerification(context.Background(), "ann@example.com", "Ann", "t")
	assert.ErrorContains(t, err, "relay down")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.SendPasswordReset(ctx, "ann@example.com", "Ann", "t"), context.Canceled)
}

func TestNewWithoutHostIsNoop(t *testing.T) {
	m := New(Config{AppURL: "https://shop.test"})
	require.IsType(t, Noop{}, m)
	assert.NoError(t, m.SendVerification(context.Background(), "a@b.c", "A", "t"))
	assert.NoError(t, m.SendPasswordReset(context.Background(), "a@b.c", "A", "t"))
}

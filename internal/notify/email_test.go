package notify

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturedMail struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  string
}

func newCapturingNotifier(t *testing.T, config EmailConfig) (*EmailNotifier, *[]capturedMail) {
	t.Helper()
	n, err := NewEmailNotifier(config, zap.NewNop())
	require.NoError(t, err)

	var sent []capturedMail
	n.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, capturedMail{addr: addr, auth: a, from: from, to: to, msg: string(msg)})
		return nil
	}
	return n, &sent
}

func TestNewEmailNotifier_Validation(t *testing.T) {
	_, err := NewEmailNotifier(EmailConfig{From: "alerts@example.com"}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewEmailNotifier(EmailConfig{Host: "smtp.example.com"}, zap.NewNop())
	assert.Error(t, err)

	n, err := NewEmailNotifier(EmailConfig{Host: " smtp.example.com ", From: "alerts@example.com"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 587, n.config.Port)
	assert.Equal(t, "smtp.example.com", n.config.Host)
}

func TestEmailNotifier_Send(t *testing.T) {
	n, sent := newCapturingNotifier(t, EmailConfig{
		Host:       "smtp.example.com",
		Port:       2525,
		Username:   "user",
		Password:   "secret",
		From:       "alerts@example.com",
		Recipients: []string{"ops@example.com", " ", "owner@example.com"},
	})

	require.NoError(t, n.Send(context.Background(), Notification{
		Subject: "[CRITICAL] Ana - Netflix overdue by 5 days - $12.50",
		Body:    "line one\nline two\n",
		Alert:   testAlert(),
	}))

	require.Len(t, *sent, 1)
	mail := (*sent)[0]
	assert.Equal(t, "smtp.example.com:2525", mail.addr)
	assert.NotNil(t, mail.auth)
	assert.Equal(t, "alerts@example.com", mail.from)
	assert.Equal(t, []string{"ops@example.com", "owner@example.com"}, mail.to)
	assert.Contains(t, mail.msg, "To: ops@example.com,owner@example.com\r\n")
	assert.Contains(t, mail.msg, "Subject: [CRITICAL] Ana - Netflix overdue by 5 days - $12.50\r\n")
	assert.Contains(t, mail.msg, "\r\n\r\nline one\r\nline two\r\n")
}

func TestEmailNotifier_NoRecipients(t *testing.T) {
	n, sent := newCapturingNotifier(t, EmailConfig{Host: "smtp.example.com", From: "alerts@example.com"})

	require.NoError(t, n.Send(context.Background(), Notification{Alert: testAlert()}))
	assert.Empty(t, *sent)
}

func TestEmailNotifier_SendFailure(t *testing.T) {
	n, err := NewEmailNotifier(EmailConfig{
		Host:       "smtp.example.com",
		From:       "alerts@example.com",
		Recipients: []string{"ops@example.com"},
	}, zap.NewNop())
	require.NoError(t, err)
	n.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("421 service not available")
	}

	err = n.Send(context.Background(), Notification{Alert: testAlert()})
	assert.ErrorContains(t, err, "421 service not available")
}

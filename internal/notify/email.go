package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

// EmailConfig holds SMTP delivery settings
type EmailConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Recipients []string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends notifications over SMTP
type EmailNotifier struct {
	logger     *zap.Logger
	config     EmailConfig
	recipients []string
	sendMail   sendMailFunc
}

// NewEmailNotifier creates an SMTP channel
func NewEmailNotifier(config EmailConfig, logger *zap.Logger) (*EmailNotifier, error) {
	config.Host = strings.TrimSpace(config.Host)
	config.From = strings.TrimSpace(config.From)
	if config.Host == "" {
		return nil, errors.New("smtp host is required for email notifier")
	}
	if config.From == "" {
		return nil, errors.New("from address is required for email notifier")
	}
	if config.Port == 0 {
		config.Port = 587
	}

	var recipients []string
	for _, r := range config.Recipients {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}

	return &EmailNotifier{
		logger:     logger.Named("email"),
		config:     config,
		recipients: recipients,
		sendMail:   smtp.SendMail,
	}, nil
}

// Send emails the notification to every configured recipient
func (n *EmailNotifier) Send(_ context.Context, notif Notification) error {
	if len(n.recipients) == 0 {
		return nil
	}

	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/plain; charset=\"UTF-8\"\r\n"+
		"\r\n"+
		"%s\r\n",
		n.config.From,
		strings.Join(n.recipients, ","),
		notif.Subject,
		strings.ReplaceAll(notif.Body, "\n", "\r\n"))

	var auth smtp.Auth
	if n.config.Username != "" {
		auth = smtp.PlainAuth("", n.config.Username, n.config.Password, n.config.Host)
	}

	addr := fmt.Sprintf("%s:%d", n.config.Host, n.config.Port)
	if err := n.sendMail(addr, auth, n.config.From, n.recipients, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Info("Email notification sent",
		zap.String("alert_id", notif.Alert.ID),
		zap.Strings("recipients", n.recipients))
	return nil
}

func (n *EmailNotifier) String() string {
	return "email"
}

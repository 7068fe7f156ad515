package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// AlertStreamName is the JetStream stream carrying alert events
	AlertStreamName = "ALERTS"

	alertSubjectPrefix = "alert."
	alertStreamMaxAge  = 30 * 24 * time.Hour
)

// AlertSubject returns the subject an alert of the given type is published on
func AlertSubject(alertType string) string {
	return alertSubjectPrefix + alertType
}

// JetStreamPublisher publishes notifications to the ALERTS stream
type JetStreamPublisher struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewJetStreamPublisher creates the publisher, creating the stream when it does not exist
func NewJetStreamPublisher(js nats.JetStreamContext, logger *zap.Logger) (*JetStreamPublisher, error) {
	p := &JetStreamPublisher{
		logger: logger.Named("jetstream"),
		js:     js,
	}
	if err := p.ensureStream(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *JetStreamPublisher) ensureStream() error {
	_, err := p.js.StreamInfo(AlertStreamName)
	if err == nil {
		p.logger.Info("Using existing alert stream", zap.String("name", AlertStreamName))
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:     AlertStreamName,
		Subjects: []string{alertSubjectPrefix + "*"},
		Storage:  nats.FileStorage,
		MaxAge:   alertStreamMaxAge,
		MaxMsgs:  -1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	p.logger.Info("Created alert stream", zap.String("name", AlertStreamName))
	return nil
}

// Send publishes the notification. The alert ID is used as the message ID so
// redelivery of the same alert is deduplicated by the stream.
func (p *JetStreamPublisher) Send(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	subject := AlertSubject(string(n.Alert.Type))
	if _, err := p.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(n.Alert.ID)); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	p.logger.Info("Alert published",
		zap.String("id", n.Alert.ID),
		zap.String("subject", subject),
		zap.String("severity", string(n.Alert.Severity)))
	return nil
}

func (p *JetStreamPublisher) String() string {
	return "jetstream"
}

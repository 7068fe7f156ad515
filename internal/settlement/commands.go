package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// ClientPaymentSubject receives ClientPaymentRequest messages
	ClientPaymentSubject = "settlement.client_payment"
	// PlatformPaymentSubject receives PlatformPaymentRequest messages
	PlatformPaymentSubject = "settlement.platform_payment"
)

// ClientPaymentRequest records a payment made by a client
type ClientPaymentRequest struct {
	SubscriptionID string          `json:"subscription_id"`
	Amount         decimal.Decimal `json:"amount"`
	PaidAt         time.Time       `json:"paid_at"`
}

// PlatformPaymentRequest records a payment made to a platform
type PlatformPaymentRequest struct {
	PlatformPaymentID string    `json:"platform_payment_id"`
	PaidAt            time.Time `json:"paid_at"`
}

// CommandReply is the response to a settlement request
type CommandReply struct {
	OK             bool       `json:"ok"`
	Error          string     `json:"error,omitempty"`
	PaymentID      string     `json:"payment_id,omitempty"`
	NextPaymentDue *time.Time `json:"next_payment_due,omitempty"`
}

// Subscribe handles settlement requests published on NATS
func (s *Service) Subscribe(nc *nats.Conn) ([]*nats.Subscription, error) {
	clientSub, err := nc.Subscribe(ClientPaymentSubject, func(msg *nats.Msg) {
		var req ClientPaymentRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.respond(msg, CommandReply{Error: fmt.Sprintf("invalid request: %v", err)})
			return
		}

		ctx := context.Background()
		payment, err := s.RecordClientPayment(ctx, req.SubscriptionID, req.Amount, req.PaidAt)
		if err != nil {
			s.respond(msg, CommandReply{Error: err.Error()})
			return
		}
		reply := CommandReply{OK: true, PaymentID: payment.ID}
		if sub, err := s.store.GetSubscription(ctx, req.SubscriptionID); err == nil {
			reply.NextPaymentDue = &sub.NextPaymentDue
		}
		s.respond(msg, reply)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", ClientPaymentSubject, err)
	}

	platformSub, err := nc.Subscribe(PlatformPaymentSubject, func(msg *nats.Msg) {
		var req PlatformPaymentRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.respond(msg, CommandReply{Error: fmt.Sprintf("invalid request: %v", err)})
			return
		}

		payment, err := s.RecordPlatformPayment(context.Background(), req.PlatformPaymentID, req.PaidAt)
		if err != nil {
			s.respond(msg, CommandReply{Error: err.Error()})
			return
		}
		s.respond(msg, CommandReply{OK: true, NextPaymentDue: &payment.NextPaymentDue})
	})
	if err != nil {
		clientSub.Unsubscribe()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", PlatformPaymentSubject, err)
	}

	return []*nats.Subscription{clientSub, platformSub}, nil
}

func (s *Service) respond(msg *nats.Msg, reply CommandReply) {
	if !reply.OK {
		s.logger.Warn("Settlement request rejected",
			zap.String("subject", msg.Subject),
			zap.String("error", reply.Error))
	}
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error("Failed to marshal settlement reply", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Error("Failed to respond to settlement request", zap.Error(err))
	}
}

package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/resale-alerts/internal/alerting"
)

// RefreshReply is the response to a manual refresh request
type RefreshReply struct {
	Created    int    `json:"created"`
	Duplicates int    `json:"duplicates"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
}

func newRefreshReply(summary *alerting.Summary, err error) RefreshReply {
	var reply RefreshReply
	if summary != nil {
		reply.Created = summary.Count(alerting.OutcomeCreated)
		reply.Duplicates = summary.Count(alerting.OutcomeDuplicate)
		reply.Skipped = summary.Count(alerting.OutcomeMissingRelationship) + summary.Count(alerting.OutcomeInvalidDueDate)
		reply.Failed = summary.Count(alerting.OutcomeFailed)
	}
	if err != nil {
		reply.Error = err.Error()
	}
	return reply
}

// SubscribeRefresh listens for manual refresh requests on RefreshSubject.
// Each request triggers a pass through the same guard as timer ticks; requests
// carrying a reply subject receive a RefreshReply.
func (s *Scheduler) SubscribeRefresh(nc *nats.Conn) (*nats.Subscription, error) {
	sub, err := nc.Subscribe(RefreshSubject, func(msg *nats.Msg) {
		s.logger.Info("Manual refresh requested", zap.String("subject", msg.Subject))

		summary, runErr := s.TriggerNow(context.Background())
		if msg.Reply == "" {
			return
		}

		data, err := json.Marshal(newRefreshReply(summary, runErr))
		if err != nil {
			s.logger.Error("Failed to marshal refresh reply", zap.Error(err))
			return
		}
		if err := msg.Respond(data); err != nil {
			s.logger.Error("Failed to respond to refresh request", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", RefreshSubject, err)
	}
	return sub, nil
}

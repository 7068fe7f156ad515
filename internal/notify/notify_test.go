package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/resale-alerts/internal/model"
)

func testAlert() *model.Alert {
	return &model.Alert{
		ID:            "alert-1",
		Type:          model.AlertTypeClientCharge,
		EntityType:    model.EntityTypeSubscription,
		EntityID:      "sub-1",
		ClientID:      "ana",
		PlatformID:    "netflix",
		Severity:      model.AlertSeverityCritical,
		DaysRemaining: -5,
		Amount:        decimal.RequireFromString("12.5"),
		Message:       "Ana - Netflix overdue by 5 days - $12.50",
		State:         model.AlertStatePending,
		CreatedAt:     time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC),
	}
}

type recordingChannel struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (c *recordingChannel) Send(_ context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return c.err
}

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer("", "")
	require.NoError(t, err)
	return r
}

func TestDispatcher_FansOut(t *testing.T) {
	first := &recordingChannel{}
	second := &recordingChannel{}
	d := NewDispatcher(newTestRenderer(t), zap.NewNop(), first, nil, second)
	assert.Equal(t, 2, d.Channels())

	require.NoError(t, d.Dispatch(context.Background(), testAlert()))

	require.Len(t, first.sent, 1)
	require.Len(t, second.sent, 1)
	assert.Equal(t, "[CRITICAL] Ana - Netflix overdue by 5 days - $12.50", first.sent[0].Subject)
	assert.Equal(t, "alert-1", second.sent[0].Alert.ID)
}

func TestDispatcher_ChannelFailureDoesNotStopOthers(t *testing.T) {
	failing := &recordingChannel{err: errors.New("connection refused")}
	healthy := &recordingChannel{}
	d := NewDispatcher(newTestRenderer(t), zap.NewNop(), failing, healthy)

	err := d.Dispatch(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Len(t, healthy.sent, 1)
}

func TestDispatcher_NoChannels(t *testing.T) {
	d := NewDispatcher(newTestRenderer(t), zap.NewNop())
	assert.NoError(t, d.Dispatch(context.Background(), testAlert()))
}

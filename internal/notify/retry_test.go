package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyChannel fails its first sends
type flakyChannel struct {
	recordingChannel
	failures int
	attempts int
}

func (c *flakyChannel) Send(ctx context.Context, n Notification) error {
	c.attempts++
	if c.attempts <= c.failures {
		return errors.New("temporary failure")
	}
	return c.recordingChannel.Send(ctx, n)
}

func (c *flakyChannel) String() string {
	return "flaky"
}

var fastBackoff = &ExponentialBackoff{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

func TestExponentialBackoff(t *testing.T) {
	b := &ExponentialBackoff{InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, b.NextRetry(0))
	assert.Equal(t, 2*time.Second, b.NextRetry(1))
	assert.Equal(t, 8*time.Second, b.NextRetry(3))
	assert.Equal(t, 10*time.Second, b.NextRetry(4))
}

func TestRetryingChannel_RecoversFromTransientFailure(t *testing.T) {
	ch := &flakyChannel{failures: 2}
	r := WithRetry(ch, fastBackoff, 3, zap.NewNop())

	require.NoError(t, r.Send(context.Background(), Notification{Alert: testAlert()}))
	assert.Equal(t, 3, ch.attempts)
	assert.Len(t, ch.sent, 1)
	assert.Equal(t, "flaky", r.String())
}

func TestRetryingChannel_GivesUp(t *testing.T) {
	ch := &flakyChannel{failures: 5}
	r := WithRetry(ch, fastBackoff, 3, zap.NewNop())

	err := r.Send(context.Background(), Notification{Alert: testAlert()})
	assert.EqualError(t, err, "temporary failure")
	assert.Equal(t, 3, ch.attempts)
}

func TestRetryingChannel_StopsOnCancellation(t *testing.T) {
	ch := &flakyChannel{failures: 5}
	slow := &ExponentialBackoff{InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}
	r := WithRetry(ch, slow, 3, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Send(ctx, Notification{Alert: testAlert()})
	assert.Error(t, err)
	assert.Equal(t, 1, ch.attempts)
}

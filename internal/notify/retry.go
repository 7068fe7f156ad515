package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryStrategy defines the interface for retry strategies
type RetryStrategy interface {
	// NextRetry returns how long to wait before the given retry attempt (0-based)
	NextRetry(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff retry strategy
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// NextRetry calculates the next retry delay using exponential backoff
func (s *ExponentialBackoff) NextRetry(attempt int) time.Duration {
	delay := float64(s.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= s.Multiplier
	}

	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// DefaultBackoff is used for delivery retries when none is configured
var DefaultBackoff = &ExponentialBackoff{
	InitialDelay: time.Second,
	MaxDelay:     10 * time.Second,
	Multiplier:   2,
}

// RetryingChannel retries a failed send on the wrapped channel
type RetryingChannel struct {
	logger      *zap.Logger
	channel     Channel
	strategy    RetryStrategy
	maxAttempts int
}

// WithRetry wraps ch so each notification is attempted up to maxAttempts times
func WithRetry(ch Channel, strategy RetryStrategy, maxAttempts int, logger *zap.Logger) *RetryingChannel {
	if strategy == nil {
		strategy = DefaultBackoff
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryingChannel{
		logger:      logger.Named("retry"),
		channel:     ch,
		strategy:    strategy,
		maxAttempts: maxAttempts,
	}
}

// Send delivers n, waiting between attempts. It gives up early when ctx is done.
func (r *RetryingChannel) Send(ctx context.Context, n Notification) error {
	var err error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if err = r.channel.Send(ctx, n); err == nil {
			return nil
		}
		if attempt == r.maxAttempts-1 {
			break
		}

		delay := r.strategy.NextRetry(attempt)
		r.logger.Warn("Notification delivery failed, retrying",
			zap.String("channel", channelName(r.channel)),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

func (r *RetryingChannel) String() string {
	return channelName(r.channel)
}

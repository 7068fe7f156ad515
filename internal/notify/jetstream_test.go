package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/resale-alerts/internal/model"
	"github.com/t77yq/resale-alerts/internal/testutil"
)

func TestJetStreamPublisher(t *testing.T) {
	_, js := testutil.StartJetStream(t)

	publisher, err := NewJetStreamPublisher(js, zap.NewNop())
	require.NoError(t, err)

	t.Run("Setup", func(t *testing.T) {
		require.NoError(t, testutil.WaitForStream(t, js, AlertStreamName, 5*time.Second))
		stream, err := js.StreamInfo(AlertStreamName)
		require.NoError(t, err)
		assert.Equal(t, []string{"alert.*"}, stream.Config.Subjects)

		// A second publisher reuses the stream.
		_, err = NewJetStreamPublisher(js, zap.NewNop())
		require.NoError(t, err)
	})

	t.Run("Publish", func(t *testing.T) {
		renderer, err := NewRenderer("", "")
		require.NoError(t, err)
		n, err := renderer.Render(testAlert())
		require.NoError(t, err)

		require.NoError(t, publisher.Send(context.Background(), n))
		// The same alert is deduplicated by message ID.
		require.NoError(t, publisher.Send(context.Background(), n))

		messages := testutil.ConsumeMessages(t, js, AlertSubject(string(model.AlertTypeClientCharge)), 2, time.Second)
		require.Len(t, messages, 1)

		var got Notification
		require.NoError(t, json.Unmarshal(messages[0].Data, &got))
		assert.Equal(t, n.Subject, got.Subject)
		assert.Equal(t, "alert-1", got.Alert.ID)
		assert.True(t, got.Alert.Amount.Equal(n.Alert.Amount))
	})
}

package anthropic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingClient struct {
	calls int
}

func (c *countingClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	c.calls++
	return &MessageResponse{ID: "msg-1", Content: []ContentBlock{{Type: "text", Text: "ok"}}}, nil
}

func TestNewRateLimited(t *testing.T) {
	t.Parallel()

	t.Run("zero rps returns client unchanged", func(t *testing.T) {
		t.Parallel()

		inner := &countingClient{}
		assert.Same(t, Client(inner), NewRateLimited(inner, 0))
		assert.Same(t, Client(inner), NewRateLimited(inner, -1))
	})

	t.Run("passes calls through", func(t *testing.T) {
		t.Parallel()

		inner := &countingClient{}
		limited := NewRateLimited(inner, 100)

		resp, err := limited.CreateMessage(context.Background(), MessageRequest{Model: "test"})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Text())
		assert.Equal(t, 1, inner.calls)
	})

	t.Run("throttles beyond the burst", func(t *testing.T) {
		t.Parallel()

		inner := &countingClient{}
		limited := NewRateLimited(inner, 20) // burst 20, then 50ms apart

		ctx := context.Background()
		start := time.Now()
		for range 22 {
			_, err := limited.CreateMessage(ctx, MessageRequest{})
			require.NoError(t, err)
		}
		assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
		assert.Equal(t, 22, inner.calls)
	})

	t.Run("cancelled context stops the wait", func(t *testing.T) {
		t.Parallel()

		inner := &countingClient{}
		limited := NewRateLimited(inner, 0.001)

		ctx, cancel := context.WithCancel(context.Background())
		_, err := limited.CreateMessage(ctx, MessageRequest{}) // consumes the single burst token
		require.NoError(t, err)

		cancel()
		_, err = limited.CreateMessage(ctx, MessageRequest{})
		require.Error(t, err)
		assert.Equal(t, 1, inner.calls)
	})
}

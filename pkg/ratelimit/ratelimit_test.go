package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/pkg/agent"
)

func TestTokenBucketRefill(t *testing.T) {
	clock := time.Unix(0, 0)
	tb := NewTokenBucket(60, 2) // 每秒 1 个令牌
	tb.now = func() time.Time { return clock }
	tb.lastRefillTime = clock

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "容量耗尽")

	clock = clock.Add(1500 * time.Millisecond)
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	clock = clock.Add(10 * time.Second)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "补充不超过容量")
}

func TestTokenBucketWaitCancelled(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	require.NoError(t, tb.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}

func TestWithRateLimit(t *testing.T) {
	mock := agent.NewMockChatClient(`{"Skills":["Go"]}`, nil)

	assert.Same(t, mock, WithRateLimit(mock, 0), "qpm<=0 不包装")

	limited := WithRateLimit(mock, 120)
	require.IsType(t, &RateLimitedChatModel{}, limited)

	msg, err := limited.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, `{"Skills":["Go"]}`, msg.Content)
	assert.Equal(t, 1, mock.CallCount())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	drained := NewRateLimitedChatModel(mock, 1)
	_, _ = drained.Generate(context.Background(), nil)
	_, err = drained.Generate(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, mock.CallCount(), "取消后不再调用模型")
}

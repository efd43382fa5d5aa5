package inbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/prewarm/internal/testutil"
)

func TestInbox_Send_Success(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[int](10, 100*time.Millisecond, logger.Logger())

	for i := 0; i < 5; i++ {
		require.NoError(t, ib.Send(context.Background(), i), "send %d", i)
	}

	stats := ib.GetStats()
	assert.Equal(t, int64(5), stats.TotalSent)
	assert.Equal(t, int64(0), stats.TimeoutCount)
	assert.Equal(t, int64(5), stats.MaxDepthSeen)
	assert.Equal(t, 5, ib.Len())
}

func TestInbox_Send_Timeout(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[int](2, 10*time.Millisecond, logger.Logger())

	require.NoError(t, ib.Send(context.Background(), 1))
	require.NoError(t, ib.Send(context.Background(), 2))

	err := ib.Send(context.Background(), 3)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int64(1), ib.GetStats().TimeoutCount)
	assert.True(t, logger.HasLevel("WARN"), "expected timeout to be logged")
}

func TestInbox_Send_ContextCancelled(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[int](1, time.Second, logger.Logger())
	require.NoError(t, ib.Send(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ib.Send(ctx, 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), ib.GetStats().TimeoutCount)
}

func TestInbox_ReceiveOrder(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[string](10, 100*time.Millisecond, logger.Logger())

	for _, msg := range []string{"hover", "leave", "click"} {
		require.NoError(t, ib.Send(context.Background(), msg))
	}

	got := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		msg, err := ib.Receive(context.Background())
		require.NoError(t, err)
		got = append(got, msg)
	}

	assert.Equal(t, []string{"hover", "leave", "click"}, got)
	assert.Equal(t, int64(3), ib.GetStats().TotalReceived)
}

func TestInbox_TryReceive_Empty(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[int](10, 100*time.Millisecond, logger.Logger())

	msg, ok := ib.TryReceive()
	assert.False(t, ok)
	assert.Zero(t, msg)
}

func TestInbox_Receive_ContextDone(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[int](10, 100*time.Millisecond, logger.Logger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := ib.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInbox_SendWait_OutlastsTimeout(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[int](1, time.Millisecond, logger.Logger())
	require.NoError(t, ib.Send(context.Background(), 1))

	done := make(chan error, 1)
	go func() { done <- ib.SendWait(context.Background(), 2) }()

	select {
	case err := <-done:
		t.Fatalf("SendWait returned %v while the inbox was full", err)
	case <-time.After(50 * time.Millisecond):
	}

	first, ok := ib.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 1, first)
	require.NoError(t, <-done)

	second, ok := ib.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 2, second)
	assert.Equal(t, int64(0), ib.GetStats().TimeoutCount)
}

func TestInbox_SendWait_ContextDone(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[int](1, time.Second, logger.Logger())
	require.NoError(t, ib.Send(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, ib.SendWait(ctx, 2), context.DeadlineExceeded)
	assert.Equal(t, int64(1), ib.GetStats().TotalSent)
}

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWatcherWakesOnNotification(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wake, err := NewWatcher(client, "smarthome:control:changed", zap.NewNop()).Watch(ctx)
	require.NoError(t, err)

	notifier := NewNotifier(client, "smarthome:control:changed")
	require.NoError(t, notifier.ControlChanged(ctx, "override"))
	require.NoError(t, notifier.ControlChanged(ctx, "resolve"))

	select {
	case <-wake:
	case <-time.After(time.Second):
		t.Fatal("no wake-up received")
	}

	// 两次通知最多合并成一次待处理的唤醒
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, len(wake), 1)
}

func TestNotifier_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	assert.Error(t, NewNotifier(client, "c").ControlChanged(context.Background(), "x"))
}

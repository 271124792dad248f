package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisSink_PublishAndRecent(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	sink := NewRedisSink(client, "test:events", "test:activity:")
	ctx := context.Background()

	sub := client.Subscribe(ctx, "test:events")
	defer sub.Close()
	_, err = sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	first := New(LockAcquired, 11, "u1", nil)
	second := New(RevisionCreated, 11, "u1", map[string]string{"revision": "1"})
	require.NoError(t, sink.Publish(ctx, first))
	require.NoError(t, sink.Publish(ctx, second))
	require.NoError(t, sink.Publish(ctx, New(LockAcquired, 12, "u2", nil)))

	select {
	case msg := <-sub.Channel():
		var got Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		require.Equal(t, first.ID, got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}

	recent, err := sink.Recent(ctx, 11, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, second.ID, recent[0].ID)
	require.Equal(t, "1", recent[0].Data["revision"])

	empty, err := sink.Recent(ctx, 99, 10)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestRedisSink_KeepsCappedHistory(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	sink := NewRedisSink(client, "", "")
	sink.keep = 3
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Publish(ctx, New(RevisionCreated, 1, "u", nil)))
	}
	recent, err := sink.Recent(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, recent, 3)
}

func TestRedisSink_FailureIsSwallowedByEmit(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	sink := NewRedisSink(client, "", "")
	m.Close()

	require.Error(t, sink.Publish(context.Background(), New(LockReleased, 1, "u", nil)))
	require.NotPanics(t, func() { Emit(context.Background(), sink, New(LockReleased, 1, "u", nil)) })
}

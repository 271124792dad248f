package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes events on a Redis channel and keeps a capped list of
// recent events per document under "<prefix><mindmapID>".
type RedisSink struct {
	client  *redis.Client
	channel string
	prefix  string
	keep    int64
	ttl     time.Duration
}

// NewRedisSink creates a Redis-backed sink. Empty channel/prefix fall back to defaults.
func NewRedisSink(client *redis.Client, channel, prefix string) *RedisSink {
	if channel == "" {
		channel = "mindmap:events"
	}
	if prefix == "" {
		prefix = "mindmap:activity:"
	}
	return &RedisSink{client: client, channel: channel, prefix: prefix, keep: 50, ttl: 7 * 24 * time.Hour}
}

func (r *RedisSink) Name() string { return "redis" }

func (r *RedisSink) key(mindmapID int64) string {
	return fmt.Sprintf("%s%d", r.prefix, mindmapID)
}

func (r *RedisSink) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Publish(ctx, r.channel, b)
	pipe.LPush(ctx, r.key(e.MindmapID), b)
	pipe.LTrim(ctx, r.key(e.MindmapID), 0, r.keep-1)
	pipe.Expire(ctx, r.key(e.MindmapID), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %s: %w", e.Type, err)
	}
	return nil
}

// Recent returns up to n of the latest events for a document, newest first.
func (r *RedisSink) Recent(ctx context.Context, mindmapID int64, n int64) ([]Event, error) {
	if n <= 0 || n > r.keep {
		n = r.keep
	}
	raw, err := r.client.LRange(ctx, r.key(mindmapID), 0, n-1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Event, 0, len(raw))
	for _, s := range raw {
		var e Event
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

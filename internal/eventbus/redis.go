// Package eventbus publishes wave events to shared brokers so dashboards on
// other hosts can follow a wave.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/egv/yolo-wave/internal/contracts"
)

// RedisSink appends each event to a Redis stream. Entries carry the event
// type and item id as fields next to the JSON payload.
type RedisSink struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

func NewRedisSink(client redis.UniversalClient, stream string, maxLen int64) (*RedisSink, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if strings.TrimSpace(stream) == "" {
		return nil, errors.New("redis stream name is required")
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}, nil
}

// DialRedis accepts host:port or a redis:// URL.
func DialRedis(addr string) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		options, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(options), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

func (s *RedisSink) Emit(ctx context.Context, event contracts.Event) error {
	payload, err := contracts.MarshalEventJSONL(event)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"type":    string(event.Type),
			"wave_id": event.WaveID,
			"item_id": event.ItemID,
			"payload": strings.TrimSuffix(payload, "\n"),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

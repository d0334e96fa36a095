package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/roach88/strainline/internal/model"
)

// DefaultRelayChannel is the Redis channel used when none is configured.
const DefaultRelayChannel = "strainline:lineage"

// RelaySubscriberID is the id the relay subscribes under.
const RelaySubscriberID = "redis-relay"

// envelope tags relayed events with the publishing process so a relay
// ignores its own messages.
type envelope struct {
	Origin string            `json:"origin"`
	Event  model.ChangeEvent `json:"event"`
}

// RedisRelay republishes local change events on a Redis channel and feeds
// events from other processes back into a local notifier.
type RedisRelay struct {
	log     *slog.Logger
	rdb     *goredis.Client
	channel string
	origin  string
}

// NewRedisRelay connects to addr and verifies the connection. origin must
// be unique per process.
func NewRedisRelay(addr, channel, origin string, log *slog.Logger) (*RedisRelay, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("redis relay: missing address")
	}
	if strings.TrimSpace(origin) == "" {
		return nil, fmt.Errorf("redis relay: missing origin")
	}
	if channel = strings.TrimSpace(channel); channel == "" {
		channel = DefaultRelayChannel
	}
	if log == nil {
		log = slog.Default()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisRelay{
		log:     log.With("component", "redis-relay", "channel", channel),
		rdb:     rdb,
		channel: channel,
		origin:  origin,
	}, nil
}

// Handler returns the notifier handler that publishes local events. Events
// that arrived from Redis are not published again.
func (r *RedisRelay) Handler() Handler {
	return func(ctx context.Context, ev model.ChangeEvent) error {
		if ev.Remote {
			return nil
		}
		payload, err := encodeEnvelope(r.origin, ev)
		if err != nil {
			return err
		}
		if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
			return fmt.Errorf("redis publish: %w", err)
		}
		return nil
	}
}

// Forward subscribes to the channel and hands events published by other
// processes to onEvent until ctx is done.
func (r *RedisRelay) Forward(ctx context.Context, onEvent func(model.ChangeEvent)) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, origin, err := decodeEnvelope([]byte(msg.Payload))
				if err != nil {
					r.log.Warn("bad relay payload", "error", err)
					continue
				}
				if origin == r.origin {
					continue
				}
				ev.Remote = true
				onEvent(ev)
			}
		}
	}()
	return nil
}

// Close closes the Redis client.
func (r *RedisRelay) Close() error {
	return r.rdb.Close()
}

func encodeEnvelope(origin string, ev model.ChangeEvent) ([]byte, error) {
	b, err := json.Marshal(envelope{Origin: origin, Event: ev})
	if err != nil {
		return nil, fmt.Errorf("encode relay envelope: %w", err)
	}
	return b, nil
}

func decodeEnvelope(b []byte) (model.ChangeEvent, string, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return model.ChangeEvent{}, "", fmt.Errorf("decode relay envelope: %w", err)
	}
	return env.Event, env.Origin, nil
}

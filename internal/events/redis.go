package events

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	Channel  string
}

// RedisBroadcaster carries frames over a Redis pub/sub channel.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
}

func NewRedisBroadcaster(cfg RedisConfig) (*RedisBroadcaster, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		return nil, errors.New("event channel required")
	}
	return &RedisBroadcaster{
		client:  redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		channel: channel,
	}, nil
}

func (r *RedisBroadcaster) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBroadcaster) Broadcast(ctx context.Context, frame []byte) error {
	return r.client.Publish(ctx, r.channel, frame).Err()
}

func (r *RedisBroadcaster) Listen(ctx context.Context) (<-chan []byte, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *RedisBroadcaster) Close() error {
	return r.client.Close()
}

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"nexus-backend/internal/metrics"
)

const broadcastTimeout = 5 * time.Second

type Handler func(Event)

// Subscription is the handle returned by Subscribe. Unsubscribe removes
// exactly the registration it identifies.
type Subscription struct {
	typ Type
	fn  Handler
}

// Broadcaster moves encoded frames between processes sharing a store.
type Broadcaster interface {
	Broadcast(ctx context.Context, frame []byte) error
	// Listen returns once the subscription is live; the channel closes when
	// ctx ends or the connection is lost.
	Listen(ctx context.Context) (<-chan []byte, error)
	Close() error
}

type Bus struct {
	logger      *slog.Logger
	origin      string
	broadcaster Broadcaster

	mu   sync.RWMutex
	subs map[Type][]*Subscription
}

// New returns a bus. A nil broadcaster keeps delivery process-local.
func New(logger *slog.Logger, broadcaster Broadcaster) *Bus {
	return &Bus{
		logger:      logger.With("component", "events"),
		origin:      uuid.NewString(),
		broadcaster: broadcaster,
		subs:        make(map[Type][]*Subscription),
	}
}

// Origin identifies this bus on the broadcast channel.
func (b *Bus) Origin() string {
	return b.origin
}

func (b *Bus) Subscribe(t Type, h Handler) *Subscription {
	sub := &Subscription{typ: t, fn: h}
	b.mu.Lock()
	b.subs[t] = append(b.subs[t], sub)
	b.mu.Unlock()
	return sub
}

func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.typ]
	for i, s := range list {
		if s == sub {
			next := make([]*Subscription, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			b.subs[sub.typ] = next
			return
		}
	}
}

// OnStorageChange registers fn for storage-changed signals from this and
// other sessions.
func (b *Bus) OnStorageChange(fn func(key string)) *Subscription {
	return b.Subscribe(TypeStorage, func(e Event) {
		if sc, ok := e.(StorageChangedEvent); ok {
			fn(sc.Key)
		}
	})
}

// NotifyStorageChanged lets the record store signal writes through the bus.
func (b *Bus) NotifyStorageChanged(key string) {
	b.Publish(context.Background(), StorageChangedEvent{Key: key})
}

// Publish delivers e to local subscribers of its type in registration order,
// then hands it to the broadcaster without waiting for the result.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e == nil {
		return
	}
	metrics.EventsPublished.WithLabelValues(string(e.EventType())).Inc()
	b.deliver(e)

	if b.broadcaster == nil {
		return
	}
	frame, err := Encode(e, b.origin)
	if err != nil {
		metrics.BroadcastFailures.Inc()
		b.logger.Error("encode event failed", "type", e.EventType(), "error", err)
		return
	}
	go func() {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), broadcastTimeout)
		defer cancel()
		if err := b.broadcaster.Broadcast(bctx, frame); err != nil {
			metrics.BroadcastFailures.Inc()
			b.logger.Warn("broadcast failed", "type", e.EventType(), "error", err)
		}
	}()
}

// Start subscribes to the broadcaster and delivers remote events locally
// until ctx ends. Frames published by this bus are skipped.
func (b *Bus) Start(ctx context.Context) error {
	if b.broadcaster == nil {
		return nil
	}
	frames, err := b.broadcaster.Listen(ctx)
	if err != nil {
		return err
	}
	go func() {
		for data := range frames {
			b.handleRemote(data)
		}
		b.logger.Info("broadcast listener stopped")
	}()
	return nil
}

func (b *Bus) handleRemote(data []byte) {
	e, origin, err := Decode(data)
	if err != nil {
		b.logger.Warn("dropping malformed broadcast frame", "error", err)
		return
	}
	if origin == b.origin {
		return
	}
	metrics.EventsReceived.WithLabelValues(string(e.EventType())).Inc()
	b.deliver(e)
}

func (b *Bus) deliver(e Event) {
	b.mu.RLock()
	list := b.subs[e.EventType()]
	b.mu.RUnlock()

	for _, sub := range list {
		b.invoke(sub, e)
	}
}

func (b *Bus) invoke(sub *Subscription, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("event handler panic", "type", e.EventType(), "panic", rec)
		}
	}()
	sub.fn(e)
}

func (b *Bus) Close() error {
	if b.broadcaster == nil {
		return nil
	}
	return b.broadcaster.Close()
}

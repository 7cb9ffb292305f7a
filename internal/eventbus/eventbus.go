// Package eventbus fans out engine events (step results, approval
// requests, execution results) to external
// dashboards: it publishes to a Redis channel (repurposing the
// teacher's own go-redis dependency, previously used for a distributed
// agent registry, away from coordination and into pub/sub) and relays
// the same events to connected WebSocket clients.
package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const channel = "runbook.events"

// Event is a single fan-out message tagged by Type. The scheduler
// publishes step_completed (a step result), approval_requested (an
// approval queue entry) and execution_finished (an execution result).
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Bus publishes events to Redis and relays them to websocket clients.
type Bus struct {
	redis *redis.Client
	log   *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
}

// NewBus builds a Bus backed by a Redis client (nil is accepted for
// tests and for running without a Redis broker — events are then only
// fanned out to local websocket clients).
func NewBus(redisClient *redis.Client, log *zap.SugaredLogger) *Bus {
	return &Bus{redis: redisClient, log: log, clients: make(map[*websocket.Conn]struct{})}
}

// Publish sends an event to Redis (if configured) and to every
// connected websocket client.
func (b *Bus) Publish(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		if b.log != nil {
			b.log.Warnw("eventbus: marshal event failed", "error", err)
		}
		return
	}

	if b.redis != nil {
		if err := b.redis.Publish(ctx, channel, payload).Err(); err != nil && b.log != nil {
			b.log.Warnw("eventbus: redis publish failed", "error", err)
		}
	}

	b.broadcast(payload)
}

func (b *Bus) broadcast(payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for conn := range b.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil && b.log != nil {
			b.log.Debugw("eventbus: websocket write failed", "error", err)
		}
	}
}

// Register adds a websocket connection to the broadcast set.
func (b *Bus) Register(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[conn] = struct{}{}
}

// Unregister removes a websocket connection from the broadcast set.
func (b *Bus) Unregister(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, conn)
}

// Subscribe starts a goroutine relaying events from Redis's pub/sub
// channel into local websocket broadcast, so multiple engine processes
// sharing one Redis instance fan out to each other's dashboard clients.
// It returns immediately; the relay stops when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context) {
	if b.redis == nil {
		return
	}
	sub := b.redis.Subscribe(ctx, channel)
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
				b.broadcast([]byte(msg.Payload))
			}
		}
	}()
}

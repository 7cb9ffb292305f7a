// Package adapterhealth publishes each engine instance's adapter health
// checks to Redis so a fleet of engine instances behind a load balancer
// shares one view of which integrations are currently reachable, instead
// of each instance only knowing about the adapters it has probed itself.
package adapterhealth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	healthKeyPrefix = "adapter_health:"
	healthSetKey    = "adapter_health:known"
	entryTTL        = 90 * time.Second
)

// Status is the reachability of one adapter as last observed by some
// engine instance.
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusUnreachable Status = "unreachable"
)

// Entry is one adapter's most recently published health observation.
type Entry struct {
	Adapter    string    `json:"adapter"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
	InstanceID string    `json:"instance_id"`
}

// Checker runs the engine's own adapter health checks, keyed by adapter
// name, returning a non-nil error for any adapter currently unreachable.
type Checker func(ctx context.Context) map[string]error

// Registry periodically runs a Checker and publishes its results to
// Redis under a short TTL, so a stale instance's last-seen health
// expires rather than lingering as a false positive.
type Registry struct {
	redis      *redis.Client
	instanceID string

	mu     sync.Mutex
	stopCh chan struct{}
}

// NewRegistry builds a Registry publishing under instanceID.
func NewRegistry(redisClient *redis.Client, instanceID string) *Registry {
	return &Registry{redis: redisClient, instanceID: instanceID, stopCh: make(chan struct{})}
}

// Start runs check on the given interval until Stop is called, publishing
// each result to Redis. The first check runs immediately.
func (r *Registry) Start(ctx context.Context, interval time.Duration, check Checker) {
	r.publishAll(ctx, check(ctx))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.publishAll(ctx, check(ctx))
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the periodic publish loop. Safe to call once.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
}

func (r *Registry) publishAll(ctx context.Context, results map[string]error) {
	for adapter, err := range results {
		entry := Entry{Adapter: adapter, CheckedAt: time.Now(), InstanceID: r.instanceID}
		if err != nil {
			entry.Status = StatusUnreachable
			entry.Error = err.Error()
		} else {
			entry.Status = StatusHealthy
		}
		_ = r.publish(ctx, entry)
	}
}

func (r *Registry) publish(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal health entry: %w", err)
	}
	key := healthKeyPrefix + entry.Adapter
	if err := r.redis.Set(ctx, key, data, entryTTL).Err(); err != nil {
		return fmt.Errorf("store health entry: %w", err)
	}
	return r.redis.SAdd(ctx, healthSetKey, entry.Adapter).Err()
}

// All returns the most recently published entry for every adapter that
// has reported within its TTL. An adapter whose entry has expired (no
// instance has checked it recently) is silently omitted.
func (r *Registry) All(ctx context.Context) ([]Entry, error) {
	names, err := r.redis.SMembers(ctx, healthSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list known adapters: %w", err)
	}

	out := make([]Entry, 0, len(names))
	for _, name := range names {
		data, err := r.redis.Get(ctx, healthKeyPrefix+name).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get health entry %s: %w", name, err)
		}
		var entry Entry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal health entry %s: %w", name, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// Package redis provides the Redis plan cache and plan event publication.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/config"
	"github.com/limiquantix/planner/internal/domain"
)

// ErrCacheMiss indicates the key was not found in cache.
var ErrCacheMiss = fmt.Errorf("cache miss: %w", domain.ErrNotFound)

// PlanChannel is the channel plan events are published on.
const PlanChannel = "events:plan"

// Cache wraps a Redis client for caching operations.
type Cache struct {
	client  *redis.Client
	planTTL time.Duration
	logger  *zap.Logger
}

// NewCache creates a new Redis cache connection.
func NewCache(cfg config.RedisConfig, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", cfg.Address()))

	return &Cache{client: client, planTTL: cfg.PlanTTL, logger: logger}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Health checks if Redis is reachable.
func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// =============================================================================
// Generic Cache Operations
// =============================================================================

// Get retrieves a value from cache and unmarshals it into dest.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get error: %w", err)
	}

	return json.Unmarshal([]byte(val), dest)
}

// Set stores a value in cache with a TTL.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

// Delete removes a key from cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// =============================================================================
// Plan Cache Operations
// =============================================================================

func planKey(id string) string {
	return fmt.Sprintf("plan:%s", id)
}

// GetPlan retrieves a plan record from cache.
func (c *Cache) GetPlan(ctx context.Context, id string) (*domain.PlanRecord, error) {
	var rec domain.PlanRecord
	if err := c.Get(ctx, planKey(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetPlan stores a plan record in cache and announces its status.
func (c *Cache) SetPlan(ctx context.Context, rec *domain.PlanRecord) error {
	if err := c.Set(ctx, planKey(rec.ID), rec, c.planTTL); err != nil {
		return err
	}
	return c.Publish(ctx, PlanChannel, PlanEvent(rec))
}

// InvalidatePlan removes a plan record from cache.
func (c *Cache) InvalidatePlan(ctx context.Context, id string) error {
	return c.Delete(ctx, planKey(id))
}

// =============================================================================
// Pub/Sub Operations for Real-time Updates
// =============================================================================

// Event represents a real-time event.
type Event struct {
	Type       string      `json:"type"` // "plan.PENDING", "plan.APPROVED", etc.
	ResourceID string      `json:"resource_id"`
	Data       interface{} `json:"data,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// PlanEvent describes a plan status change.
func PlanEvent(rec *domain.PlanRecord) Event {
	return Event{
		Type:       "plan." + string(rec.Status),
		ResourceID: rec.ID,
		Data: map[string]interface{}{
			"priority": rec.Priority,
			"actions":  len(rec.Actions),
			"reason":   rec.Reason,
		},
	}
}

// Publish publishes an event to a channel.
func (c *Cache) Publish(ctx context.Context, channel string, event Event) error {
	event.Timestamp = time.Now()
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return c.client.Publish(ctx, channel, data).Err()
}

// Subscribe subscribes to channels and returns a message channel.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) <-chan Event {
	pubsub := c.client.Subscribe(ctx, channels...)
	events := make(chan Event, 100)

	go func() {
		defer close(events)
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
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					c.logger.Warn("Failed to unmarshal event", zap.Error(err))
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events
}

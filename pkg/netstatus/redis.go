package netstatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis keys and channel used by RedisPublisher.
const (
	RedisKeyStatus     = "tracker:network:status"
	RedisKeyLastChange = "tracker:network:last_change"
	RedisChannelStatus = "tracker:network:status_changes"
)

// DefaultPublishTimeout bounds each Redis round trip made from a listener.
const DefaultPublishTimeout = 2 * time.Second

// ErrNoPublishedStatus is returned by LoadStatus when nothing was published yet.
var ErrNoPublishedStatus = errors.New("no published network status")

// StatusChange is the message published on RedisChannelStatus.
type StatusChange struct {
	Status    Status    `json:"status"`
	ChangedAt time.Time `json:"changed_at"`
}

// RedisPublisher mirrors status transitions into Redis so that other local
// processes (a status bar, a dashboard) can display them. It only writes:
// nothing published here is ever fed back into a Tracker.
type RedisPublisher struct {
	redis   *redis.Client
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

// NewRedisPublisher creates a publisher. A non-positive timeout falls back to
// DefaultPublishTimeout.
func NewRedisPublisher(redisClient *redis.Client, timeout time.Duration, logger zerolog.Logger) *RedisPublisher {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &RedisPublisher{
		redis:   redisClient,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// Attach publishes the tracker's current status and subscribes to its
// transitions. The returned func detaches the publisher.
func (p *RedisPublisher) Attach(ctx context.Context, t *Tracker) (detach func(), err error) {
	if err := p.Publish(ctx, t.Status()); err != nil {
		return nil, err
	}
	return t.OnStatusChange(p.Listener()), nil
}

// Listener returns a status change listener that publishes each transition.
// Publish errors are logged, never raised.
func (p *RedisPublisher) Listener() Listener {
	return func(status Status) {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := p.Publish(ctx, status); err != nil {
			p.logger.Warn().Err(err).Str("status", string(status)).Msg("Failed to publish network status")
		}
	}
}

// Publish stores status under RedisKeyStatus and announces it on
// RedisChannelStatus.
func (p *RedisPublisher) Publish(ctx context.Context, status Status) error {
	change := StatusChange{Status: status, ChangedAt: p.now().UTC()}

	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal status change: %w", err)
	}

	pipe := p.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyStatus, string(status), 0)
	pipe.Set(ctx, RedisKeyLastChange, change.ChangedAt.Format(time.RFC3339Nano), 0)
	pipe.Publish(ctx, RedisChannelStatus, payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish network status to redis: %w", err)
	}

	p.logger.Debug().Str("status", string(status)).Msg("Published network status")
	return nil
}

// LoadStatus reads the last published status.
func (p *RedisPublisher) LoadStatus(ctx context.Context) (StatusChange, error) {
	status, err := p.redis.Get(ctx, RedisKeyStatus).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return StatusChange{}, ErrNoPublishedStatus
		}
		return StatusChange{}, fmt.Errorf("get published status: %w", err)
	}

	change := StatusChange{Status: Status(status)}
	if !change.Status.Valid() {
		return StatusChange{}, fmt.Errorf("invalid published status %q", status)
	}

	changedAt, err := p.redis.Get(ctx, RedisKeyLastChange).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return StatusChange{}, fmt.Errorf("get last change: %w", err)
	}
	if changedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, changedAt)
		if err != nil {
			return StatusChange{}, fmt.Errorf("parse last change: %w", err)
		}
		change.ChangedAt = ts
	}

	return change, nil
}

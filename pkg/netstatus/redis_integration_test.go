//go:build integration

package netstatus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to ping Redis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		redisContainer.Terminate(context.Background())
	})

	return client
}

func TestRedisPublisher_Integration(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	logger := zerolog.New(io.Discard)

	publisher := NewRedisPublisher(client, time.Second, logger)

	if _, err := publisher.LoadStatus(ctx); !errors.Is(err, ErrNoPublishedStatus) {
		t.Fatalf("LoadStatus() before publish error = %v, want ErrNoPublishedStatus", err)
	}

	sub := client.Subscribe(ctx, RedisChannelStatus)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	messages := sub.Channel()

	tracker := NewTracker(Config{FailureThreshold: 2}, logger)
	detach, err := publisher.Attach(ctx, tracker)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	defer detach()

	tracker.RecordFailure()
	tracker.RecordFailure()

	got, err := publisher.LoadStatus(ctx)
	if err != nil {
		t.Fatalf("LoadStatus() error = %v", err)
	}
	if got.Status != StatusOffline {
		t.Errorf("published status = %s, want offline", got.Status)
	}
	if got.ChangedAt.IsZero() {
		t.Error("published change time not set")
	}

	// online (attach), degraded, offline
	want := []Status{StatusOnline, StatusDegraded, StatusOffline}
	for i, w := range want {
		select {
		case msg := <-messages:
			var change StatusChange
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				t.Fatalf("message %d: invalid payload %q: %v", i, msg.Payload, err)
			}
			if change.Status != w {
				t.Errorf("message %d: status = %s, want %s", i, change.Status, w)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

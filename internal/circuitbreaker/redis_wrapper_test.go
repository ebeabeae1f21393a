package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap/zaptest"
)

func testWrapperConfig() Config {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	return cfg
}

func TestRedisWrapper_NormalOperations(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	wrapper := NewRedisWrapper(client, testWrapperConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	if err := wrapper.Ping(ctx).Err(); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	if err := wrapper.Set(ctx, "ns:key", "value", time.Minute).Err(); err != nil {
		t.Errorf("Set failed: %v", err)
	}

	got := wrapper.Get(ctx, "ns:key")
	if got.Err() != nil {
		t.Errorf("Get failed: %v", got.Err())
	}
	if got.Val() != "value" {
		t.Errorf("Expected 'value', got '%s'", got.Val())
	}

	// Miss returns redis.Nil and must not trip the breaker.
	if err := wrapper.Get(ctx, "ns:missing").Err(); err != redis.Nil {
		t.Errorf("Expected redis.Nil for missing key, got %v", err)
	}
	if wrapper.IsCircuitBreakerOpen() {
		t.Error("Circuit breaker should remain closed after a miss")
	}

	if err := wrapper.SAdd(ctx, "ns:tags:alpha", "ns:key").Err(); err != nil {
		t.Errorf("SAdd failed: %v", err)
	}
	members := wrapper.SMembers(ctx, "ns:tags:alpha")
	if members.Err() != nil {
		t.Errorf("SMembers failed: %v", members.Err())
	}
	if len(members.Val()) != 1 || members.Val()[0] != "ns:key" {
		t.Errorf("Expected ['ns:key'], got %v", members.Val())
	}
	if err := wrapper.SRem(ctx, "ns:tags:alpha", "ns:key").Err(); err != nil {
		t.Errorf("SRem failed: %v", err)
	}

	keys := wrapper.Keys(ctx, "ns:*")
	if keys.Err() != nil {
		t.Errorf("Keys failed: %v", keys.Err())
	}

	del := wrapper.Del(ctx, "ns:key")
	if del.Err() != nil {
		t.Errorf("Del failed: %v", del.Err())
	}
	if del.Val() != 1 {
		t.Errorf("Expected 1 deleted key, got %d", del.Val())
	}
}

func TestRedisWrapper_CircuitBreakerTriggering(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:1", // nothing listens here
	})
	defer client.Close()

	wrapper := NewRedisWrapper(client, testWrapperConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if wrapper.Ping(ctx).Err() == nil {
			t.Error("Expected ping to fail against unreachable server")
		}
	}

	if !wrapper.IsCircuitBreakerOpen() {
		t.Error("Expected circuit breaker to be open after repeated failures")
	}

	// Open breaker fails fast without dialing.
	if err := wrapper.Get(ctx, "any:key").Err(); err != ErrCircuitBreakerOpen {
		t.Errorf("Expected circuit breaker open error, got %v", err)
	}
}

func TestRedisWrapper_RedisNilHandling(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	wrapper := NewRedisWrapper(client, testWrapperConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := wrapper.Get(ctx, "missing:key").Err(); err != redis.Nil {
			t.Errorf("Expected redis.Nil, got %v", err)
		}
	}

	if wrapper.IsCircuitBreakerOpen() {
		t.Error("Circuit breaker should remain closed for redis.Nil results")
	}
}

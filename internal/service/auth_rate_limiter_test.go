package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestAuthRateLimiter_Window(t *testing.T) {
	l := NewAuthRateLimiter(time.Minute, 2)

	if !l.Allow("k") || !l.Allow("k") {
		t.Fatalf("first two attempts must pass")
	}
	if l.Allow("k") {
		t.Fatalf("third attempt within window must be denied")
	}
	if !l.Allow("other") {
		t.Fatalf("different keys must not share the window")
	}
}

type mockRedisEvaler struct {
	lastScript string
	lastKeys   []string
	lastArgs   []interface{}
	result     int64
	err        error
}

func (m *mockRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	m.lastScript = script
	m.lastKeys = keys
	m.lastArgs = args
	cmd := redis.NewCmd(ctx)
	if m.err != nil {
		cmd.SetErr(m.err)
		return cmd
	}
	cmd.SetVal(m.result)
	return cmd
}

func TestRedisAuthRateLimiterAllow(t *testing.T) {
	t.Run("allow when count within max", func(t *testing.T) {
		mock := &mockRedisEvaler{result: 2}
		l := &redisAuthRateLimiter{
			client: mock,
			window: 2 * time.Minute,
			max:    3,
			prefix: "auth:rl:",
		}
		if !l.Allow(" Login:User@Example.com ") {
			t.Fatalf("expected allow when count <= max")
		}
		if len(mock.lastKeys) != 1 || mock.lastKeys[0] != "auth:rl:login:user@example.com" {
			t.Fatalf("unexpected key normalization, got %+v", mock.lastKeys)
		}
		if len(mock.lastArgs) != 1 || mock.lastArgs[0] != 120 {
			t.Fatalf("expected TTL seconds=120, got %+v", mock.lastArgs)
		}
	})

	t.Run("deny when count exceeds max", func(t *testing.T) {
		l := &redisAuthRateLimiter{
			client: &mockRedisEvaler{result: 4},
			window: time.Minute,
			max:    3,
			prefix: "auth:rl:",
		}
		if l.Allow("login:user@example.com") {
			t.Fatalf("expected deny when count > max")
		}
	})

	t.Run("empty key rejected", func(t *testing.T) {
		l := &redisAuthRateLimiter{
			client: &mockRedisEvaler{result: 1},
			window: time.Minute,
			max:    3,
			prefix: "auth:rl:",
		}
		if l.Allow("   ") {
			t.Fatalf("expected empty key to be rejected")
		}
	})

	t.Run("redis error fail-open", func(t *testing.T) {
		l := &redisAuthRateLimiter{
			client: &mockRedisEvaler{err: errors.New("redis down")},
			window: time.Minute,
			max:    3,
			prefix: "auth:rl:",
		}
		if !l.Allow("login:user@example.com") {
			t.Fatalf("expected fail-open on redis errors")
		}
	})
}

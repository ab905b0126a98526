package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRateLimiterAllow(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	rl := NewRateLimiter(rdb, 2)
	now := time.Date(2026, 2, 13, 10, 15, 0, 0, time.UTC)

	allowed, used, resetAt, err := rl.Allow(context.Background(), "UID00001", now)
	if err != nil {
		t.Fatalf("allow#1: %v", err)
	}
	if !allowed || used != 1 {
		t.Fatalf("expected first call allowed with used=1, got allowed=%v used=%d", allowed, used)
	}
	if want := time.Date(2026, 2, 13, 11, 0, 0, 0, time.UTC); !resetAt.Equal(want) {
		t.Fatalf("expected reset at %s, got %s", want, resetAt)
	}

	allowed, used, _, err = rl.Allow(context.Background(), "UID00001", now)
	if err != nil {
		t.Fatalf("allow#2: %v", err)
	}
	if !allowed || used != 2 {
		t.Fatalf("expected second call allowed with used=2, got allowed=%v used=%d", allowed, used)
	}

	allowed, used, _, err = rl.Allow(context.Background(), "UID00001", now)
	if err != nil {
		t.Fatalf("allow#3: %v", err)
	}
	if allowed || used != 3 {
		t.Fatalf("expected third call denied with used=3, got allowed=%v used=%d", allowed, used)
	}

	allowed, _, _, err = rl.Allow(context.Background(), "UID00002", now)
	if err != nil {
		t.Fatalf("allow other user: %v", err)
	}
	if !allowed {
		t.Fatalf("expected other user to have its own window")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(nil, 0)
	allowed, _, _, err := rl.Allow(context.Background(), "UID00001", time.Now())
	if err != nil || !allowed {
		t.Fatalf("expected disabled limiter to allow, got allowed=%v err=%v", allowed, err)
	}
}

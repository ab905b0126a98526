package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestLock(t *testing.T, wait time.Duration) (*ParentLock, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewParentLock(rdb, wait, zerolog.Nop()), mr
}

func TestParentLockExclusive(t *testing.T) {
	lock, mr := newTestLock(t, 100*time.Millisecond)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "ids:session:UID00001", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !mr.Exists("agentchat:lock:ids:session:UID00001") {
		t.Fatalf("expected lock key to exist")
	}

	if _, err := lock.Acquire(ctx, "ids:session:UID00001", time.Second); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout while held, got %v", err)
	}

	other, err := lock.Acquire(ctx, "ids:session:UID00002", time.Second)
	if err != nil {
		t.Fatalf("acquire other parent: %v", err)
	}
	other()

	release()
	if mr.Exists("agentchat:lock:ids:session:UID00001") {
		t.Fatalf("expected lock key removed after release")
	}

	again, err := lock.Acquire(ctx, "ids:session:UID00001", time.Second)
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	again()
}

func TestParentLockReleaseKeepsForeignOwner(t *testing.T) {
	lock, mr := newTestLock(t, 50*time.Millisecond)

	release, err := lock.Acquire(context.Background(), "ids:prompt:CSID1-001", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// lock expired and another holder took it
	if err := mr.Set("agentchat:lock:ids:prompt:CSID1-001", "someone-else"); err != nil {
		t.Fatalf("set: %v", err)
	}
	release()

	got, err := mr.Get("agentchat:lock:ids:prompt:CSID1-001")
	if err != nil || got != "someone-else" {
		t.Fatalf("expected foreign lock to survive release, got %q err=%v", got, err)
	}
}

func TestParentLockHonoursContext(t *testing.T) {
	lock, _ := newTestLock(t, time.Minute)
	release, err := lock.Acquire(context.Background(), "k", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := lock.Acquire(ctx, "k", time.Minute); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

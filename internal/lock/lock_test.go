package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	l, err := NewRedisLocker("redis://"+mr.Addr(), "test:lock", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLocker: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l, mr
}

func TestRedisLockerExclusive(t *testing.T) {
	l, mr := newLocker(t)
	ctx := context.Background()

	release, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !mr.Exists("test:lock") {
		t.Fatal("expected lock key to exist")
	}
	if ttl := mr.TTL("test:lock"); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}

	if _, err := l.Acquire(ctx); !errors.Is(err, ErrHeld) {
		t.Fatalf("second acquire: got %v, want ErrHeld", err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists("test:lock") {
		t.Fatal("expected lock key to be deleted")
	}

	release, err = l.Acquire(ctx)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	_ = release(ctx)
}

func TestRedisLockerExpiredLease(t *testing.T) {
	l, mr := newLocker(t)
	ctx := context.Background()

	release, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	other, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}

	// The stale release must not delete the new holder's key.
	if err := release(ctx); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("stale release: got %v, want ErrNotHeld", err)
	}
	if !mr.Exists("test:lock") {
		t.Fatal("stale release removed the new lease")
	}
	if err := other(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestNewRedisLockerDefaults(t *testing.T) {
	l, err := NewRedisLocker("redis://localhost:6379/0", "", 0)
	if err != nil {
		t.Fatalf("NewRedisLocker: %v", err)
	}
	defer func() { _ = l.Close() }()
	if l.key != DefaultKey || l.ttl != DefaultTTL {
		t.Errorf("got key %q ttl %v", l.key, l.ttl)
	}

	if _, err := NewRedisLocker("not a url", "", 0); err == nil {
		t.Error("expected error for bad url")
	}
}

func TestNoop(t *testing.T) {
	var l Locker = Noop{}
	release, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := release(context.Background()); err != nil {
		t.Fatal(err)
	}
}

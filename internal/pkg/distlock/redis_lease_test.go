package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisLease_MutualExclusion(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	a := NewRedisLease(client, "scanner", time.Minute)
	b := NewRedisLease(client, "scanner", time.Minute)

	held, err := a.TryAcquire(ctx)
	if err != nil || !held {
		t.Fatalf("first acquire: held=%v err=%v", held, err)
	}
	held, err = b.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if held {
		t.Fatal("second holder must not take a held lease")
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	held, err = b.TryAcquire(ctx)
	if err != nil || !held {
		t.Fatalf("acquire after release: held=%v err=%v", held, err)
	}
}

func TestRedisLease_ReleaseOnlyByOwner(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	owner := NewRedisLease(client, "scanner", time.Minute)
	intruder := NewRedisLease(client, "scanner", time.Minute)

	if held, err := owner.TryAcquire(ctx); err != nil || !held {
		t.Fatalf("acquire: held=%v err=%v", held, err)
	}

	// A foreign release is a no-op: the stored token is not the intruder's.
	if err := intruder.Release(ctx); err != nil {
		t.Fatalf("intruder release: %v", err)
	}
	if held, err := intruder.TryAcquire(ctx); err != nil || held {
		t.Fatalf("lease must survive a foreign release: held=%v err=%v", held, err)
	}
}

func TestRedisLease_TTLExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	a := NewRedisLease(client, "scanner", 50*time.Millisecond)
	if held, err := a.TryAcquire(ctx); err != nil || !held {
		t.Fatalf("acquire: held=%v err=%v", held, err)
	}

	mr.FastForward(100 * time.Millisecond)

	b := NewRedisLease(client, "scanner", time.Minute)
	if held, err := b.TryAcquire(ctx); err != nil || !held {
		t.Fatalf("acquire after expiry: held=%v err=%v", held, err)
	}
}

func TestRedisLease_Extend(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	a := NewRedisLease(client, "scanner", 50*time.Millisecond)
	if held, err := a.TryAcquire(ctx); err != nil || !held {
		t.Fatalf("acquire: held=%v err=%v", held, err)
	}
	if err := a.Extend(ctx, time.Minute); err != nil {
		t.Fatalf("extend: %v", err)
	}

	mr.FastForward(100 * time.Millisecond)

	b := NewRedisLease(client, "scanner", time.Minute)
	if held, err := b.TryAcquire(ctx); err != nil || held {
		t.Fatalf("extended lease must still be held: held=%v err=%v", held, err)
	}
}

package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb, 10*time.Minute), mr
}

func TestStoreLifecycle(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, &Record{JobID: "job-1", Kind: KindTxt2Img, SessionID: "s1", Status: StatusQueued}); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if ttl := mr.TTL("job:job-1"); ttl != 10*time.Minute {
		t.Fatalf("unexpected ttl: %v", ttl)
	}

	if err := store.MarkRunning(ctx, "job-1"); err != nil {
		t.Fatalf("MarkRunning returned error: %v", err)
	}
	if err := store.MarkFailed(ctx, "job-1", &ErrorInfo{Code: "EXECUTION_ERROR", Message: "boom"}); err != nil {
		t.Fatalf("MarkFailed returned error: %v", err)
	}

	record, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if record.Status != StatusFailed {
		t.Fatalf("unexpected status: %s", record.Status)
	}
	if record.Error == nil || record.Error.Message != "boom" {
		t.Fatalf("unexpected error info: %#v", record.Error)
	}
	if record.ExpiresAt.Sub(record.CreatedAt) != 10*time.Minute {
		t.Fatalf("unexpected expiresAt: %v", record.ExpiresAt)
	}
}

func TestStoreMissingRecord(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	record, err := store.Get(ctx, "nope")
	if err != nil || record != nil {
		t.Fatalf("Get = %#v, %v; want nil, nil", record, err)
	}
	if err := store.MarkDone(ctx, "nope"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("MarkDone err = %v, want ErrRecordNotFound", err)
	}
}

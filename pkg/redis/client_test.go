package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	allowed, count, err := client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatalf("expected allowed on first request")
	}
	if count != 1 {
		t.Fatalf("expected counter 1 got %d", count)
	}
	if mock.windows["vcl:rate_limit:test-scope"] != 1000 {
		t.Fatalf("expected window set on first hit, got %v", mock.windows)
	}

	allowed, count, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed || count != 2 {
		t.Fatalf("unexpected second call state allowed=%v count=%d", allowed, count)
	}
	if mock.windowSets != 1 {
		t.Fatalf("window should not be reset, got %d sets", mock.windowSets)
	}

	allowed, _, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("expected limit reached")
	}
}

func TestGetSetDelRoundTrip(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	key := client.ProjectionKey("tenant-1", "SKU1", "loc-1")
	if err := client.Set(ctx, key, `{"sequence":4}`, 10*time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	value, err := client.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if value != `{"sequence":4}` {
		t.Fatalf("unexpected value %q", value)
	}

	if err := client.Del(ctx, key); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := client.Get(ctx, key); err != redis.Nil {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestSetNXOnlyFirstWins(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	key := client.IdempotencyKey("webhook:ecocash", "evt-1")
	first, err := client.SetNX(ctx, key, "1", time.Hour)
	if err != nil || !first {
		t.Fatalf("expected first setnx to win, got %v %v", first, err)
	}
	second, err := client.SetNX(ctx, key, "1", time.Hour)
	if err != nil || second {
		t.Fatalf("expected second setnx to lose, got %v %v", second, err)
	}
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected ping on empty client to fail")
	}
	if _, err := client.Get(context.Background(), "k"); err == nil {
		t.Fatal("expected get on empty client to fail")
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "vcl:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.RateLimitKey("scope"); got != "vcl:rate_limit:scope" {
		t.Fatalf("unexpected rate limit key %s", got)
	}
	if got := client.LockKey("cron"); got != "vcl:lock:cron" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.ProjectionKey("t", "SKU1", "l"); got != "vcl:projection:t:SKU1:l" {
		t.Fatalf("unexpected projection key %s", got)
	}
	if got := client.ProjectionKey("t", "", "l"); got != "vcl:projection:t:l" {
		t.Fatalf("empty parts should be skipped, got %s", got)
	}
}

func TestDeleteIfValueOnlyRemovesOwnedLease(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}
	key := client.LockKey("cron-worker")

	if _, err := client.SetNX(ctx, key, "replica-a", time.Minute); err != nil {
		t.Fatalf("setnx: %v", err)
	}
	deleted, err := client.DeleteIfValue(ctx, key, "replica-b")
	if err != nil || deleted {
		t.Fatalf("foreign owner must not delete, got %v %v", deleted, err)
	}
	deleted, err = client.DeleteIfValue(ctx, key, "replica-a")
	if err != nil || !deleted {
		t.Fatalf("owner should delete, got %v %v", deleted, err)
	}
	if _, err := client.Get(ctx, key); err != redis.Nil {
		t.Fatalf("expected lease gone, got %v", err)
	}
}

// mockCmdable understands the two scripts the client sends.
type mockCmdable struct {
	data       map[string]string
	counters   map[string]int64
	windows    map[string]int64
	windowSets int
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data:     make(map[string]string),
		counters: make(map[string]int64),
		windows:  make(map[string]int64),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCmdable) Eval(_ context.Context, script string, keys []string, args ...any) *redis.Cmd {
	switch script {
	case fixedWindowScript:
		m.counters[keys[0]]++
		if m.counters[keys[0]] == 1 {
			m.windows[keys[0]] = args[0].(int64)
			m.windowSets++
		}
		return redis.NewCmdResult(m.counters[keys[0]], nil)
	case compareAndDeleteScript:
		if v, ok := m.data[keys[0]]; ok && v == args[0] {
			delete(m.data, keys[0])
			return redis.NewCmdResult(int64(1), nil)
		}
		return redis.NewCmdResult(int64(0), nil)
	}
	return redis.NewCmdResult(nil, fmt.Errorf("unexpected script"))
}

package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestSetNXFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	mock := newMemoryStore()
	client := &Client{store: mock}

	key := client.IdempotencyKey("checkout", "abc")
	won, err := client.SetNX(ctx, key, "record", time.Minute)
	if err != nil || !won {
		t.Fatalf("first SetNX should win, won=%v err=%v", won, err)
	}
	won, err = client.SetNX(ctx, key, "other", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if won {
		t.Fatalf("second SetNX should lose")
	}
	got, err := client.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != "record" {
		t.Fatalf("expected original record, got %q", got)
	}

	if err := client.Del(ctx, key); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := client.Get(ctx, key); err != redis.Nil {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestPublishWritesChannel(t *testing.T) {
	ctx := context.Background()
	mock := newMemoryStore()
	client := &Client{store: mock}

	if err := client.Publish(ctx, "order-123", `{"event":"status"}`); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if got := mock.published["order-123"]; len(got) != 1 || got[0] != `{"event":"status"}` {
		t.Fatalf("unexpected published messages %v", got)
	}
}

func TestIdempotencyKeyFormat(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "tm:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.IdempotencyKey("", "id"); got != "tm:idempotency:id" {
		t.Fatalf("empty scope should be skipped, got %s", got)
	}
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	if _, err := client.Get(context.Background(), "k"); err != errNotInitialized {
		t.Fatalf("expected errNotInitialized, got %v", err)
	}
	if err := client.Ping(context.Background()); err != errNotInitialized {
		t.Fatalf("expected errNotInitialized, got %v", err)
	}
}

type memoryStore struct {
	data      map[string]string
	published map[string][]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		data:      make(map[string]string),
		published: make(map[string][]string),
	}
}

func (m *memoryStore) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *memoryStore) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *memoryStore) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *memoryStore) Publish(_ context.Context, channel string, payload any) *redis.IntCmd {
	m.published[channel] = append(m.published[channel], fmt.Sprint(payload))
	return redis.NewIntResult(1, nil)
}

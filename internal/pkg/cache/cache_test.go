package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type payload struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(rdb, logger, "test:"), s, rdb
}

func TestCache_SetGetRoundtrip(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	want := payload{Name: "iPhone 15", Price: 299}
	c.Set(ctx, "task:abc", want, time.Minute)

	var got payload
	if !c.Get(ctx, "task:abc", &got) {
		t.Fatal("expected cache hit")
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestCache_MissOnAbsentKey(t *testing.T) {
	c, _, _ := newTestCache(t)

	var got payload
	if c.Get(context.Background(), "task:nope", &got) {
		t.Fatal("expected cache miss")
	}
}

func TestCache_CorruptValueTreatedAsMiss(t *testing.T) {
	c, s, _ := newTestCache(t)

	s.Set("test:task:bad", "{not json")

	var got payload
	if c.Get(context.Background(), "task:bad", &got) {
		t.Fatal("expected corrupt value to be treated as miss")
	}
}

func TestCache_Delete(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "task:a", payload{Name: "a"}, time.Minute)
	c.Set(ctx, "results:a", payload{Name: "r"}, time.Minute)
	c.Delete(ctx, "task:a", "results:a")

	var got payload
	if c.Get(ctx, "task:a", &got) || c.Get(ctx, "results:a", &got) {
		t.Fatal("expected deleted keys to miss")
	}
}

func TestCache_DeleteByPrefix(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "tasks:1:10", payload{Name: "p1"}, time.Minute)
	c.Set(ctx, "tasks:2:10", payload{Name: "p2"}, time.Minute)
	c.Set(ctx, "task:keep", payload{Name: "keep"}, time.Minute)

	c.DeleteByPrefix(ctx, "tasks:")

	var got payload
	if c.Get(ctx, "tasks:1:10", &got) || c.Get(ctx, "tasks:2:10", &got) {
		t.Fatal("expected prefix-swept keys to miss")
	}
	if !c.Get(ctx, "task:keep", &got) {
		t.Fatal("expected unrelated key to survive the sweep")
	}
}

func TestCache_RedisDownDegradesToMiss(t *testing.T) {
	c, s, _ := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "task:x", payload{Name: "x"}, time.Minute)
	s.Close()

	var got payload
	if c.Get(ctx, "task:x", &got) {
		t.Fatal("expected miss when redis is unreachable")
	}
	// 写入与删除同样不应报错或 panic
	c.Set(ctx, "task:y", payload{Name: "y"}, time.Minute)
	c.Delete(ctx, "task:x")
	c.DeleteByPrefix(ctx, "tasks:")
}

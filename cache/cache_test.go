package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, *Cache) {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return s, New(rdb)
}

func TestSetGetDefaultTTL(t *testing.T) {
	s, c := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	val, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(val) != "v" {
		t.Errorf("value = %q", val)
	}
	if ttl := s.TTL("k"); ttl != DefaultTTL {
		t.Errorf("ttl = %s, want default %s", ttl, DefaultTTL)
	}
}

func TestGetMiss(t *testing.T) {
	_, c := newTestCache(t)
	val, ok, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatal(err)
	}
	if ok || val != nil {
		t.Errorf("miss returned ok=%v val=%q", ok, val)
	}
}

func TestDeleteAndExists(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Hour)
	if ok, _ := c.Exists(ctx, "k"); !ok {
		t.Error("key should exist after set")
	}
	n, err := c.Delete(ctx, "k", "never-there")
	if err != nil || n != 1 {
		t.Errorf("delete = %d, %v", n, err)
	}
	if ok, _ := c.Exists(ctx, "k"); ok {
		t.Error("key should be gone after delete")
	}
}

func TestMSetMGet(t *testing.T) {
	s, c := newTestCache(t)
	ctx := context.Background()

	entries := map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
		"c": []byte("3"),
	}
	if err := c.MSet(ctx, entries, time.Hour); err != nil {
		t.Fatal(err)
	}
	for k := range entries {
		if ttl := s.TTL(k); ttl != time.Hour {
			t.Errorf("ttl[%s] = %s, want 1h", k, ttl)
		}
	}

	got, err := c.MGet(ctx, "a", "b", "c", "missing")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("mget = %v, want 3 present keys", got)
	}
	if string(got["b"]) != "2" {
		t.Errorf("b = %q", got["b"])
	}
}

func TestIncrement(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	if n, _ := c.Increment(ctx, "counter", 5); n != 5 {
		t.Errorf("first increment = %d", n)
	}
	if n, _ := c.Increment(ctx, "counter", 2); n != 7 {
		t.Errorf("second increment = %d", n)
	}
}

func TestFlushPattern(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "member:1", []byte("a"), time.Hour)
	c.Set(ctx, "member:2", []byte("b"), time.Hour)
	c.Set(ctx, "bill:1", []byte("c"), time.Hour)

	n, err := c.FlushPattern(ctx, "member:*")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("flushed = %d, want 2", n)
	}
	if ok, _ := c.Exists(ctx, "bill:1"); !ok {
		t.Error("non-matching key must survive the flush")
	}
}

func TestStale(t *testing.T) {
	s, c := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 0)
	if stale, _ := c.Stale(ctx, "k"); stale {
		t.Error("fresh entry reported stale")
	}

	s.FastForward(7 * time.Hour)
	stale, err := c.Stale(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if !stale {
		t.Error("entry aged past the threshold must be stale")
	}

	// No expiry means never stale.
	s.Set("forever", "v")
	if stale, _ := c.Stale(ctx, "forever"); stale {
		t.Error("key without expiry reported stale")
	}
}

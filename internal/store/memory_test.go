package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreTTLExpiry(t *testing.T) {
	t.Parallel()

	st := NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st.Now = func() time.Time { return now }

	ctx := context.Background()
	if err := st.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	if _, ok, _ := st.Get(ctx, "k"); !ok {
		t.Fatal("value should be live before expiry")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := st.Get(ctx, "k"); ok {
		t.Fatal("value should have expired")
	}
}

func TestMemoryStoreSetNX(t *testing.T) {
	t.Parallel()

	st := NewMemory()
	ctx := context.Background()

	stored, err := st.SetNX(ctx, "marker", []byte("1"), 0)
	if err != nil || !stored {
		t.Fatalf("first SetNX = (%v, %v), want (true, nil)", stored, err)
	}
	stored, err = st.SetNX(ctx, "marker", []byte("2"), 0)
	if err != nil || stored {
		t.Fatalf("second SetNX = (%v, %v), want (false, nil)", stored, err)
	}

	data, ok, _ := st.Get(ctx, "marker")
	if !ok || string(data) != "1" {
		t.Fatalf("value = %q, want original %q", data, "1")
	}
}

func TestMemoryStoreSetNXAfterExpiry(t *testing.T) {
	t.Parallel()

	st := NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st.Now = func() time.Time { return now }
	ctx := context.Background()

	if stored, _ := st.SetNX(ctx, "marker", []byte("1"), time.Minute); !stored {
		t.Fatal("first SetNX should store")
	}
	now = now.Add(2 * time.Minute)
	if stored, _ := st.SetNX(ctx, "marker", []byte("2"), time.Minute); !stored {
		t.Fatal("SetNX should store again after the previous value expired")
	}
}

func TestMemoryStoreIncrKeepsExpiry(t *testing.T) {
	t.Parallel()

	st := NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st.Now = func() time.Time { return now }
	ctx := context.Background()

	n, err := st.Incr(ctx, "counter")
	if err != nil || n != 1 {
		t.Fatalf("first Incr = (%d, %v), want (1, nil)", n, err)
	}
	if err := st.Expire(ctx, "counter", time.Minute); err != nil {
		t.Fatalf("expire failed: %v", err)
	}
	if n, _ = st.Incr(ctx, "counter"); n != 2 {
		t.Fatalf("second Incr = %d, want 2", n)
	}

	now = now.Add(2 * time.Minute)
	if n, _ = st.Incr(ctx, "counter"); n != 1 {
		t.Fatalf("Incr after window = %d, want 1 (counter reset)", n)
	}
}

func TestMemoryStoreListFIFO(t *testing.T) {
	t.Parallel()

	st := NewMemory()
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c"} {
		if err := st.LPush(ctx, "q", []byte(v)); err != nil {
			t.Fatalf("push failed: %v", err)
		}
	}

	// BRPop drains from the tail, so the first pushed comes out first.
	for _, want := range []string{"a", "b", "c"} {
		_, got, ok, err := st.BRPop(ctx, 10*time.Millisecond, "q")
		if err != nil || !ok {
			t.Fatalf("pop = (ok=%v, err=%v), want value", ok, err)
		}
		if string(got) != want {
			t.Fatalf("pop = %q, want %q", got, want)
		}
	}

	_, _, ok, err := st.BRPop(ctx, 10*time.Millisecond, "q")
	if err != nil || ok {
		t.Fatalf("pop on empty queue = (ok=%v, err=%v), want timeout", ok, err)
	}
}

func TestMemoryStoreLRangeLTrim(t *testing.T) {
	t.Parallel()

	st := NewMemory()
	ctx := context.Background()

	for _, v := range []string{"1", "2", "3", "4", "5"} {
		_ = st.LPush(ctx, "list", []byte(v))
	}

	got, err := st.LRange(ctx, "list", 0, 2)
	if err != nil {
		t.Fatalf("lrange failed: %v", err)
	}
	if len(got) != 3 || string(got[0]) != "5" || string(got[2]) != "3" {
		t.Fatalf("lrange head = %v, want newest first", got)
	}

	if err := st.LTrim(ctx, "list", 0, 1); err != nil {
		t.Fatalf("ltrim failed: %v", err)
	}
	got, _ = st.LRange(ctx, "list", 0, -1)
	if len(got) != 2 || string(got[0]) != "5" || string(got[1]) != "4" {
		t.Fatalf("after trim = %v, want two newest", got)
	}
}

func TestMemoryStoreHashOps(t *testing.T) {
	t.Parallel()

	st := NewMemory()
	ctx := context.Background()

	if err := st.HSet(ctx, "h", "a", []byte("1")); err != nil {
		t.Fatalf("hset failed: %v", err)
	}
	_ = st.HSet(ctx, "h", "b", []byte("2"))

	v, ok, _ := st.HGet(ctx, "h", "a")
	if !ok || string(v) != "1" {
		t.Fatalf("hget = (%q, %v), want (1, true)", v, ok)
	}

	all, _ := st.HGetAll(ctx, "h")
	if len(all) != 2 {
		t.Fatalf("hgetall len = %d, want 2", len(all))
	}

	removed, _ := st.HDel(ctx, "h", "a")
	if !removed {
		t.Fatal("hdel should report the field existed")
	}
	removed, _ = st.HDel(ctx, "h", "a")
	if removed {
		t.Fatal("second hdel should report the field was gone")
	}

	if err := st.HIncrBy(ctx, "h", "n", 3); err != nil {
		t.Fatalf("hincrby failed: %v", err)
	}
	_ = st.HIncrBy(ctx, "h", "n", 4)
	v, _, _ = st.HGet(ctx, "h", "n")
	if string(v) != "7" {
		t.Fatalf("counter = %q, want 7", v)
	}
}

func TestMemoryStoreKeysByPrefix(t *testing.T) {
	t.Parallel()

	st := NewMemory()
	ctx := context.Background()

	_ = st.Set(ctx, "stats:emea:2026-01-01", []byte("x"), 0)
	_ = st.HSet(ctx, "stats:emea:2026-01-02", "messages", []byte("1"))
	_ = st.Set(ctx, "stats:apac:2026-01-01", []byte("x"), 0)

	keys, err := st.KeysByPrefix(ctx, "stats:emea:")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("keys = %v, want 2 emea buckets", keys)
	}
}

func TestStatsKeyLayout(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 2, 3, 23, 50, 0, 0, time.FixedZone("plus5", 5*3600))
	if got := StatsKey("emea", day); got != "stats:emea:2026-02-03" {
		t.Fatalf("StatsKey = %q, want UTC day bucket", got)
	}
	if got := SessionKey("whatsapp", "491701"); got != "session:whatsapp:491701" {
		t.Fatalf("SessionKey = %q", got)
	}
}

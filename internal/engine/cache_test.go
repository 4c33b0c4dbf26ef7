package engine

import (
	"fmt"
	"testing"
	"time"
)

func TestCacheKey(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		k1 := CacheKey("bili_subtitles", "BV1xx411c7mD", "zh-CN")
		k2 := CacheKey("bili_subtitles", "BV1xx411c7mD", "zh-CN")
		if k1 != k2 {
			t.Errorf("CacheKey not deterministic: %q != %q", k1, k2)
		}
	})

	t.Run("different inputs differ", func(t *testing.T) {
		k1 := CacheKey("bili_search", "golang")
		k2 := CacheKey("bili_search", "python")
		if k1 == k2 {
			t.Errorf("different inputs produced same key: %q", k1)
		}
	})

	t.Run("has prefix", func(t *testing.T) {
		k := CacheKey("test")
		if k[:3] != "bl:" {
			t.Errorf("expected bl: prefix, got %q", k[:3])
		}
	})
}

func TestCacheGetSet(t *testing.T) {
	InitCache(time.Minute, 100, 5*time.Minute)

	key := CacheKey("test", "round-trip")
	if _, ok := CacheGet(key); ok {
		t.Fatal("unexpected hit on empty cache")
	}

	CacheSet(key, []byte(`{"found":true}`))
	data, ok := CacheGet(key)
	if !ok {
		t.Fatal("expected hit after set")
	}
	if string(data) != `{"found":true}` {
		t.Errorf("got %q", data)
	}
}

func TestCacheExpiry(t *testing.T) {
	InitCache(10*time.Millisecond, 100, time.Minute)

	key := CacheKey("test", "expiry")
	CacheSet(key, []byte("v"))
	if _, ok := CacheGet(key); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := CacheGet(key); ok {
		t.Error("expected miss after TTL")
	}
}

func TestCacheEviction(t *testing.T) {
	InitCache(time.Minute, 5, time.Minute)

	for i := range 10 {
		CacheSet(CacheKey("test", fmt.Sprintf("evict-%d", i)), []byte("v"))
	}
	if size := resultCache.size(); size > 6 {
		t.Errorf("cache size = %d, want bounded near 5", size)
	}
}

package toolutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_bili/internal/engine"
)

type cachedResult struct {
	BVID  string `json:"bvid"`
	Title string `json:"title"`
}

func TestCacheJSONRoundTrip(t *testing.T) {
	engine.InitCache(time.Minute, 16, time.Minute)

	key := engine.CacheKey("test", "BV1GJ411x7h7")

	_, ok := CacheLoadJSON[cachedResult](key)
	assert.False(t, ok)

	CacheStoreJSON(key, cachedResult{BVID: "BV1GJ411x7h7", Title: "测试"})

	got, ok := CacheLoadJSON[cachedResult](key)
	require.True(t, ok)
	assert.Equal(t, "BV1GJ411x7h7", got.BVID)
	assert.Equal(t, "测试", got.Title)
}

func TestCacheLoadJSONDecodeError(t *testing.T) {
	engine.InitCache(time.Minute, 16, time.Minute)

	key := engine.CacheKey("bad")
	engine.CacheSet(key, []byte("{not json"))

	_, ok := CacheLoadJSON[cachedResult](key)
	assert.False(t, ok)
}

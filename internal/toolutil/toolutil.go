// Package toolutil provides shared helper functions for go_bili MCP tools.
package toolutil

import (
	"encoding/json"

	"github.com/anatolykoptev/go_bili/internal/engine"
)

// CacheLoadJSON tries to load a cached value of type T from the engine cache.
// Returns the decoded value and true on hit; zero value and false on miss or decode error.
func CacheLoadJSON[T any](key string) (T, bool) {
	var zero T
	data, ok := engine.CacheGet(key)
	if !ok {
		return zero, false
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, false
	}
	return out, true
}

// CacheStoreJSON marshals v and stores it in the engine cache.
func CacheStoreJSON[T any](key string, v T) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	engine.CacheSet(key, data)
}

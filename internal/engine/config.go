package engine

import (
	"net/http"
	"time"
)

// Config holds all engine configuration, injected from main.
type Config struct {
	Cookies              map[string]string // SESSDATA, bili_jct, buvid3 — optional
	FetchTimeout         time.Duration
	SubtitleAttempts     int           // per-track download consensus budget
	CatalogAttempts      int           // track-list consensus budget
	SubtitleStagger      time.Duration // min delay between per-track attempts
	CatalogStagger       time.Duration // min delay between track-list attempts
	CacheTTL             time.Duration
	CacheMaxEntries      int
	CacheCleanupInterval time.Duration
	HTTPClient           *http.Client
	BrowserClient        *BrowserClient // nil = plain HTTPClient for all requests
	Signer               *Signer
}

var cfg Config

// Cfg exposes the engine configuration for sub-packages (sources, subserver).
// Always points to the current cfg value.
var Cfg = &cfg

// Init initializes the engine with the given configuration.
func Init(c Config) {
	if c.SubtitleAttempts <= 0 {
		c.SubtitleAttempts = 10
	}
	if c.CatalogAttempts <= 0 {
		c.CatalogAttempts = 5
	}
	if c.SubtitleStagger <= 0 {
		c.SubtitleStagger = 500 * time.Millisecond
	}
	if c.CatalogStagger <= 0 {
		c.CatalogStagger = time.Second
	}
	cfg = c
	Cfg = &cfg
}

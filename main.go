// go_bili — Bilibili subtitle & search MCP server.
//
// Exposes three MCP tools: bili_search, bili_video_info, bili_subtitles.
// Runs as HTTP MCP server or stdio transport.
//
// The Bilibili subtitle API is unreliable (the same URL can serve another
// video's subtitles), so every payload goes through consensus validation
// before it is returned — see internal/engine/consensus.go.
package main

import (
	"log/slog"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/anatolykoptev/go-mcpserver"
	"github.com/anatolykoptev/go_bili/internal/engine"
	"github.com/anatolykoptev/go_bili/internal/subserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var (
	version = "dev"
	mcpPort = env.Str("MCP_PORT", "8893")
)

func main() {
	initEngine()

	slog.Info("starting go_bili",
		slog.String("port", mcpPort),
	)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "go_bili",
		Version: version,
	}, nil)

	subserver.RegisterTools(server)
	slog.Info("tools registered", slog.Int("count", 3))

	if err := mcpserver.Run(server, mcpserver.Config{
		Name:         "go_bili",
		Version:      version,
		Port:         mcpPort,
		WriteTimeout: 300 * time.Second,
		Metrics:      engine.FormatMetrics,
	}); err != nil {
		slog.Error("server failed", slog.Any("error", err))
	}
}

func initEngine() {
	c := engine.Config{
		Cookies:              loadCookies(),
		FetchTimeout:         env.Duration("FETCH_TIMEOUT", 10*time.Second),
		SubtitleAttempts:     env.Int("SUBTITLE_ATTEMPTS", 10),
		CatalogAttempts:      env.Int("CATALOG_ATTEMPTS", 5),
		SubtitleStagger:      env.Duration("SUBTITLE_STAGGER", 500*time.Millisecond),
		CatalogStagger:       env.Duration("CATALOG_STAGGER", time.Second),
		CacheTTL:             env.Duration("CACHE_TTL", 15*time.Minute),
		CacheMaxEntries:      env.Int("CACHE_MAX_ENTRIES", 1000),
		CacheCleanupInterval: env.Duration("CACHE_CLEANUP_INTERVAL", 300*time.Second),
	}
	c.HTTPClient = engine.NewHTTPClient(15 * time.Second)

	if env.Bool("BROWSER_TLS", false) {
		bc, err := engine.NewBrowserClient()
		if err != nil {
			slog.Warn("browser client init failed, using plain HTTP", slog.Any("error", err))
		} else {
			c.BrowserClient = bc
			slog.Info("browser TLS client initialized")
		}
	}

	c.Signer = engine.NewSigner(c.HTTPClient, c.Cookies)

	engine.Init(c)
	engine.InitCache(c.CacheTTL, c.CacheMaxEntries, c.CacheCleanupInterval)
}

// loadCookies reads the Bilibili session cookies from the environment.
// All are optional: the WBI keys are public and search works anonymously,
// but most subtitle tracks require a logged-in SESSDATA.
func loadCookies() map[string]string {
	cookies := map[string]string{}
	for name, envKey := range map[string]string{
		"SESSDATA": "BILIBILI_SESSDATA",
		"bili_jct": "BILIBILI_BILI_JCT",
		"buvid3":   "BILIBILI_BUVID3",
	} {
		if v := env.Str(envKey, ""); v != "" {
			cookies[name] = v
		}
	}
	if cookies["SESSDATA"] == "" {
		slog.Warn("no SESSDATA cookie configured, some subtitles will be unavailable")
	}
	return cookies
}

package subserver

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/anatolykoptev/go_bili/internal/engine"
	"github.com/anatolykoptev/go_bili/internal/engine/sources"
	"github.com/anatolykoptev/go_bili/internal/toolutil"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type SearchInput struct {
	Keyword  string `json:"keyword" jsonschema:"Search keywords"`
	Page     int    `json:"page,omitempty" jsonschema:"Result page, starting at 1"`
	PageSize int    `json:"page_size,omitempty" jsonschema:"Results per page (default 20, max 50)"`
	Order    string `json:"order,omitempty" jsonschema:"Sort order: totalrank (default), click, pubdate, dm, stow"`
}

type SearchOutput struct {
	Keyword string                `json:"keyword"`
	Count   int                   `json:"count"`
	Videos  []sources.SearchVideo `json:"videos"`
}

func registerSearch(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "bili_search",
		Description: "Search Bilibili for videos by keyword. Returns structured JSON with video details (title, BV id, author, play count, duration, URL). Requests are WBI-signed automatically.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
		if input.Keyword == "" {
			return nil, SearchOutput{}, fmt.Errorf("keyword is required")
		}

		cacheKey := engine.CacheKey("bili_search", input.Keyword,
			strconv.Itoa(input.Page), strconv.Itoa(input.PageSize), input.Order)
		if out, ok := toolutil.CacheLoadJSON[SearchOutput](cacheKey); ok {
			return nil, out, nil
		}

		videos, err := sources.SearchVideos(ctx, input.Keyword, input.Page, input.PageSize, input.Order)
		if err != nil {
			slog.Warn("bili_search error", slog.Any("error", err))
			return nil, SearchOutput{}, fmt.Errorf("search failed: %w", err)
		}

		out := SearchOutput{
			Keyword: input.Keyword,
			Count:   len(videos),
			Videos:  videos,
		}
		toolutil.CacheStoreJSON(cacheKey, out)
		return nil, out, nil
	})
}

package subserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anatolykoptev/go_bili/internal/engine"
	"github.com/anatolykoptev/go_bili/internal/engine/sources"
	"github.com/anatolykoptev/go_bili/internal/toolutil"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type VideoInfoInput struct {
	Video string `json:"video" jsonschema:"BV id, full video URL, or b23.tv short link"`
}

func registerVideoInfo(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "bili_video_info",
		Description: "Get Bilibili video metadata (title, author, duration, cid) by BV id or URL. The cid is needed for subtitle retrieval.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input VideoInfoInput) (*mcp.CallToolResult, sources.VideoInfo, error) {
		if input.Video == "" {
			return nil, sources.VideoInfo{}, fmt.Errorf("video is required")
		}

		bvid, err := sources.ExtractBVID(ctx, input.Video)
		if err != nil {
			return nil, sources.VideoInfo{}, fmt.Errorf("cannot extract BV id: %w", err)
		}

		cacheKey := engine.CacheKey("bili_video_info", bvid)
		if out, ok := toolutil.CacheLoadJSON[sources.VideoInfo](cacheKey); ok {
			return nil, out, nil
		}

		info, err := sources.GetVideoInfo(ctx, bvid)
		if err != nil {
			slog.Warn("bili_video_info error", slog.String("bvid", bvid), slog.Any("error", err))
			return nil, sources.VideoInfo{}, fmt.Errorf("video info failed: %w", err)
		}

		toolutil.CacheStoreJSON(cacheKey, *info)
		return nil, *info, nil
	})
}

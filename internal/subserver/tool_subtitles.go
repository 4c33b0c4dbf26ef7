package subserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anatolykoptev/go_bili/internal/engine"
	"github.com/anatolykoptev/go_bili/internal/engine/sources"
	"github.com/anatolykoptev/go_bili/internal/toolutil"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type SubtitlesInput struct {
	Video       string `json:"video,omitempty" jsonschema:"BV id, full video URL, or b23.tv short link"`
	SubtitleURL string `json:"subtitle_url,omitempty" jsonschema:"Direct subtitle JSON URL — skips track discovery and validates just this track"`
	Language    string `json:"language,omitempty" jsonschema:"Language code filter, e.g. zh-CN, ai-zh, en (default: all)"`
	Format      string `json:"format,omitempty" jsonschema:"Output format: text (default), srt, json"`
}

type SubtitleTrackOutput struct {
	Lan       string                 `json:"lan,omitempty"`
	LanDoc    string                 `json:"lan_doc,omitempty"`
	Verified  bool                   `json:"verified"`
	Agreement int                    `json:"agreement"`
	Attempts  int                    `json:"attempts"`
	Content   string                 `json:"content,omitempty"`
	Lines     []sources.SubtitleLine `json:"lines,omitempty"` // format=json only
}

type SubtitlesOutput struct {
	BVID   string                `json:"bvid,omitempty"`
	Title  string                `json:"title,omitempty"`
	Found  bool                  `json:"found"`
	Note   string                `json:"note,omitempty"`
	Tracks []SubtitleTrackOutput `json:"tracks"`
}

func registerSubtitles(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "bili_subtitles",
		Description: "Fetch subtitles for a Bilibili video with consensus validation: the subtitle API is unstable and can return another video's content, so each track is fetched repeatedly and only majority-agreed content is returned. Tracks carry verified/agreement fields.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input SubtitlesInput) (*mcp.CallToolResult, SubtitlesOutput, error) {
		format := strings.ToLower(strings.TrimSpace(input.Format))
		if format == "" {
			format = "text"
		}
		if format != "text" && format != "srt" && format != "json" {
			return nil, SubtitlesOutput{}, fmt.Errorf("unknown format %q (want text, srt, or json)", input.Format)
		}

		if input.SubtitleURL != "" {
			return subtitleFromURL(ctx, input.SubtitleURL, format)
		}
		if input.Video == "" {
			return nil, SubtitlesOutput{}, fmt.Errorf("video or subtitle_url is required")
		}

		bvid, err := sources.ExtractBVID(ctx, input.Video)
		if err != nil {
			return nil, SubtitlesOutput{}, fmt.Errorf("cannot extract BV id: %w", err)
		}

		lang := engine.NormLang(input.Language)
		cacheKey := engine.CacheKey("bili_subtitles", bvid, lang, format)
		if out, ok := toolutil.CacheLoadJSON[SubtitlesOutput](cacheKey); ok {
			return nil, out, nil
		}

		info, err := sources.GetVideoInfo(ctx, bvid)
		if err != nil {
			return nil, SubtitlesOutput{}, fmt.Errorf("video info failed: %w", err)
		}

		subs, err := sources.FetchSubtitles(ctx, bvid, info.CID)
		if err != nil {
			if errors.Is(err, sources.ErrNoSubtitles) {
				out := SubtitlesOutput{BVID: bvid, Title: info.Title, Found: false,
					Note: "video has no subtitle tracks", Tracks: []SubtitleTrackOutput{}}
				toolutil.CacheStoreJSON(cacheKey, out)
				return nil, out, nil
			}
			slog.Warn("bili_subtitles error", slog.String("bvid", bvid), slog.Any("error", err))
			return nil, SubtitlesOutput{}, fmt.Errorf("subtitle fetch failed: %w", err)
		}

		out := SubtitlesOutput{BVID: bvid, Title: info.Title, Tracks: []SubtitleTrackOutput{}}
		for _, s := range subs {
			if lang != "all" && s.Lan != lang {
				continue
			}
			out.Tracks = append(out.Tracks, renderTrack(s, format))
		}
		out.Found = len(out.Tracks) > 0
		if !out.Found {
			if lang != "all" {
				out.Note = fmt.Sprintf("no verified %s subtitles", lang)
			} else {
				out.Note = "tracks found but none passed consensus validation"
			}
		}

		toolutil.CacheStoreJSON(cacheKey, out)
		return nil, out, nil
	})
}

func subtitleFromURL(ctx context.Context, subtitleURL, format string) (*mcp.CallToolResult, SubtitlesOutput, error) {
	res, err := sources.FetchSubtitleTrack(ctx, subtitleURL)
	if err != nil {
		if errors.Is(err, sources.ErrNoSubtitles) {
			return nil, SubtitlesOutput{Found: false, Note: "subtitle track is empty",
				Tracks: []SubtitleTrackOutput{}}, nil
		}
		return nil, SubtitlesOutput{}, fmt.Errorf("subtitle fetch failed: %w", err)
	}

	track := renderTrack(sources.Subtitle{
		Lines:     res.Lines,
		Agreement: res.Agreement,
		Attempts:  res.Attempts,
		Verified:  res.Verified,
	}, format)

	out := SubtitlesOutput{Found: true, Tracks: []SubtitleTrackOutput{track}}
	if !res.Verified {
		out.Note = fmt.Sprintf("best effort: only %d of %d attempts agreed", res.Agreement, res.Attempts)
	}
	return nil, out, nil
}

func renderTrack(s sources.Subtitle, format string) SubtitleTrackOutput {
	t := SubtitleTrackOutput{
		Lan:       s.Lan,
		LanDoc:    s.LanDoc,
		Verified:  s.Verified,
		Agreement: s.Agreement,
		Attempts:  s.Attempts,
	}
	switch format {
	case "srt":
		t.Content = sources.RenderSRT(s.Lines)
	case "json":
		t.Lines = s.Lines
	default:
		t.Content = sources.RenderText(s.Lines)
	}
	return t
}

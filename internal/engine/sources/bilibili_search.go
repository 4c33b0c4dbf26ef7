package sources

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/anatolykoptev/go_bili/internal/engine"
)

// Video search via the WBI-signed /x/web-interface/wbi/search/type endpoint.

// SearchVideo is one search hit.
type SearchVideo struct {
	Title       string `json:"title"`
	BVID        string `json:"bvid"`
	Author      string `json:"author"`
	Play        int64  `json:"play"`
	Danmaku     int64  `json:"danmaku"`
	Favorites   int64  `json:"favorites"`
	Duration    string `json:"duration"`
	Pubdate     int64  `json:"pubdate"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
}

type searchData struct {
	Result []struct {
		Title       string `json:"title"`
		BVID        string `json:"bvid"`
		Author      string `json:"author"`
		Play        int64  `json:"play"`
		VideoReview int64  `json:"video_review"`
		Favorites   int64  `json:"favorites"`
		Duration    string `json:"duration"`
		Pubdate     int64  `json:"pubdate"`
		Description string `json:"description"`
	} `json:"result"`
}

// SearchVideos searches for videos by keyword. order is one of totalrank,
// click, pubdate, dm, stow (server-defined). Requests are WBI-signed;
// on signing degradation the unsigned request is still attempted and the
// server's verdict is surfaced as an APIError.
func SearchVideos(ctx context.Context, keyword string, page, pageSize int, order string) ([]SearchVideo, error) {
	engine.IncrSearch()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 50 {
		pageSize = 20
	}
	if order == "" {
		order = "totalrank"
	}

	params := map[string]string{
		"search_type": "video",
		"keyword":     keyword,
		"page":        strconv.Itoa(page),
		"page_size":   strconv.Itoa(pageSize),
		"order":       order,
	}

	signed, ok := engine.Cfg.Signer.SignParams(ctx, params)
	if !ok {
		slog.Warn("search request going out unsigned", slog.String("keyword", keyword))
	}

	var data searchData
	if err := apiGetJSON(ctx, biliSearchURL+"?"+signed.Encode(), &data); err != nil {
		return nil, fmt.Errorf("search %q: %w", keyword, err)
	}

	videos := make([]SearchVideo, 0, len(data.Result))
	for _, r := range data.Result {
		if r.BVID == "" {
			continue
		}
		videos = append(videos, SearchVideo{
			Title:       engine.CleanHTML(r.Title), // matches come wrapped in <em> tags
			BVID:        r.BVID,
			Author:      r.Author,
			Play:        r.Play,
			Danmaku:     r.VideoReview,
			Favorites:   r.Favorites,
			Duration:    r.Duration,
			Pubdate:     r.Pubdate,
			Description: r.Description,
			URL:         "https://www.bilibili.com/video/" + r.BVID,
		})
	}
	return videos, nil
}

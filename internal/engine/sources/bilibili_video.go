package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"github.com/anatolykoptev/go_bili/internal/engine"
)

var (
	bvidRe      = regexp.MustCompile(`BV[0-9A-Za-z]{10}`)
	shortLinkRe = regexp.MustCompile(`b23\.tv/\w+`)
)

// ErrNoBVID means no video ID could be extracted from the input.
var ErrNoBVID = errors.New("no BV id found")

// VideoInfo is the metadata needed to locate a video's subtitle tracks.
type VideoInfo struct {
	BVID     string `json:"bvid"`
	AID      int64  `json:"aid"`
	CID      int64  `json:"cid"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	Duration int64  `json:"duration"` // seconds
	Desc     string `json:"desc,omitempty"`
}

// ExtractBVID pulls a BV id out of a raw id, a full video URL, or a
// b23.tv short link (resolved via redirect).
func ExtractBVID(ctx context.Context, raw string) (string, error) {
	if m := bvidRe.FindString(raw); m != "" {
		return m, nil
	}
	if shortLinkRe.MatchString(raw) {
		return resolveShortLink(ctx, raw)
	}
	return "", fmt.Errorf("%w in %q", ErrNoBVID, raw)
}

// resolveShortLink follows a b23.tv redirect to the canonical video URL.
func resolveShortLink(ctx context.Context, shortURL string) (string, error) {
	if u, err := url.Parse(shortURL); err != nil || u.Scheme == "" {
		shortURL = "https://" + shortURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, shortURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", engine.RandomUserAgent())

	resp, err := engine.Cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve short link: %w", err)
	}
	defer resp.Body.Close()

	if m := bvidRe.FindString(resp.Request.URL.String()); m != "" {
		return m, nil
	}
	return "", fmt.Errorf("%w after resolving %q", ErrNoBVID, shortURL)
}

type viewData struct {
	BVID     string `json:"bvid"`
	AID      int64  `json:"aid"`
	CID      int64  `json:"cid"`
	Title    string `json:"title"`
	Duration int64  `json:"duration"`
	Desc     string `json:"desc"`
	Owner    struct {
		Name string `json:"name"`
	} `json:"owner"`
}

// GetVideoInfo fetches title, owner and the cid needed for subtitle lookup.
func GetVideoInfo(ctx context.Context, bvid string) (*VideoInfo, error) {
	engine.IncrVideoInfo()

	var data viewData
	if err := apiGetJSON(ctx, biliViewURL+"?bvid="+url.QueryEscape(bvid), &data); err != nil {
		return nil, fmt.Errorf("video info %s: %w", bvid, err)
	}
	return &VideoInfo{
		BVID:     bvid,
		AID:      data.AID,
		CID:      data.CID,
		Title:    data.Title,
		Author:   data.Owner.Name,
		Duration: data.Duration,
		Desc:     data.Desc,
	}, nil
}

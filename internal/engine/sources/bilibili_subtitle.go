package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anatolykoptev/go_bili/internal/engine"
)

// Subtitle retrieval. The subtitle CDN is unreliable: the same URL can
// return lines belonging to a different video on consecutive calls, and
// the track list itself varies between calls. Both levels therefore go
// through consensus voting (engine.Converge) before anything is trusted:
//
//	catalog: /x/player/wbi/v2 track list, 5 attempts, per-language majority ≥2
//	track:   one known subtitle URL, 10 attempts, early stop on majority ≥3

// ErrNoSubtitles means the video has no subtitle tracks at all.
// Normal absence, not a failure.
var ErrNoSubtitles = errors.New("video has no subtitles")

// SubtitleLine is one timed cue.
type SubtitleLine struct {
	From    float64 `json:"from"`
	To      float64 `json:"to"`
	Content string  `json:"content"`
}

// Subtitle is one consensus-validated track.
type Subtitle struct {
	Lan       string         `json:"lan"`
	LanDoc    string         `json:"lan_doc"`
	Lines     []SubtitleLine `json:"lines"`
	Agreement int            `json:"agreement"` // attempts that returned identical content
	Attempts  int            `json:"attempts"`
	Verified  bool           `json:"verified"`
}

type subtitleTrack struct {
	Lan         string `json:"lan"`
	LanDoc      string `json:"lan_doc"`
	SubtitleURL string `json:"subtitle_url"`
}

type playerData struct {
	NeedLoginSubtitle bool `json:"need_login_subtitle"`
	Subtitle          struct {
		Subtitles  []subtitleTrack `json:"subtitles"`
		AISubtitle *subtitleTrack  `json:"ai_subtitle"`
	} `json:"subtitle"`
}

type subtitleBody struct {
	Body []SubtitleLine `json:"body"`
}

func lineContents(lines []SubtitleLine) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.Content)
	}
	return out
}

func preview(lines []SubtitleLine) string {
	if len(lines) == 0 {
		return ""
	}
	return engine.TruncateRunes(lines[0].Content, 40, "…")
}

// fetchTrackBody downloads one subtitle document. Returns nil lines (no
// error) on an empty body — an empty response is a skipped observation,
// not a failed one.
func fetchTrackBody(ctx context.Context, subtitleURL string) ([]SubtitleLine, error) {
	raw, err := apiGet(ctx, normalizeURL(subtitleURL))
	if err != nil {
		return nil, err
	}
	var doc subtitleBody
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode subtitle body: %w", err)
	}
	return doc.Body, nil
}

// FetchSubtitles discovers and validates every subtitle track of a video.
//
// Each outer attempt re-fetches the track list and downloads every listed
// track once; ballots are grouped per language code across attempts. A
// language whose majority fingerprint recurs fewer than twice is dropped
// entirely — serving mixed-up foreign subtitles is worse than serving none.
//
// Returns ErrNoSubtitles when no attempt ever discovered a track,
// engine.ErrFetchExhausted when every attempt failed at the transport
// level, and an empty slice when tracks were seen but none verified.
func FetchSubtitles(ctx context.Context, bvid string, cid int64) ([]Subtitle, error) {
	engine.IncrSubtitle()

	listURL := fmt.Sprintf("%s?bvid=%s&cid=%d", biliPlayerURL, bvid, cid)
	langDocs := make(map[string]string)
	aiLangs := make(map[string]bool)
	loginWarned := false

	cfg := engine.ConsensusConfig{
		Budget:    engine.Cfg.CatalogAttempts,
		Threshold: 2,
		Stagger:   engine.Cfg.CatalogStagger,
	}

	verdicts, err := engine.Converge(ctx, cfg, func(ctx context.Context, attempt int) ([]engine.Ballot[[]SubtitleLine], error) {
		var data playerData
		if err := apiGetJSON(ctx, listURL, &data); err != nil {
			return nil, err
		}

		// The flag can be set while track data is still present; with a
		// valid session the tracks tend to be usable anyway, so keep going
		// and let consensus decide.
		if data.NeedLoginSubtitle && !loginWarned {
			loginWarned = true
			slog.Warn("subtitles flagged as login-required, trying anyway",
				slog.String("bvid", bvid))
		}

		tracks := data.Subtitle.Subtitles
		if len(tracks) == 0 && data.Subtitle.AISubtitle != nil {
			tracks = []subtitleTrack{*data.Subtitle.AISubtitle}
			aiLangs[data.Subtitle.AISubtitle.Lan] = true
		}

		var ballots []engine.Ballot[[]SubtitleLine]
		for _, tr := range tracks {
			if tr.SubtitleURL == "" {
				continue
			}
			langDocs[tr.Lan] = tr.LanDoc

			lines, err := fetchTrackBody(ctx, tr.SubtitleURL)
			if err != nil {
				slog.Warn("subtitle track fetch failed",
					slog.String("lan", tr.Lan), slog.Any("error", err))
				continue
			}
			if len(lines) == 0 {
				continue
			}
			ballots = append(ballots, engine.Ballot[[]SubtitleLine]{
				Key:         tr.Lan,
				Fingerprint: engine.Fingerprint(lineContents(lines)),
				Payload:     lines,
				Preview:     preview(lines),
			})
		}
		return ballots, nil
	})
	if err != nil {
		return nil, fmt.Errorf("subtitles %s: %w", bvid, err)
	}

	if len(verdicts) == 0 {
		if len(langDocs) > 0 {
			// Tracks were listed but every body fetch failed or came back empty.
			return []Subtitle{}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNoSubtitles, bvid)
	}

	subs := make([]Subtitle, 0, len(verdicts))
	for _, v := range verdicts {
		if !v.Verified {
			slog.Warn("dropping unverified subtitle track",
				slog.String("lan", v.Key),
				slog.Int("agreement", v.Agreement),
				slog.Int("attempts", v.Attempts),
				slog.String("preview", v.Preview))
			continue
		}
		slog.Info("subtitle track verified",
			slog.String("lan", v.Key),
			slog.Int("agreement", v.Agreement),
			slog.Int("attempts", v.Attempts),
			slog.Bool("ai", aiLangs[v.Key]))
		subs = append(subs, Subtitle{
			Lan:       v.Key,
			LanDoc:    langDocs[v.Key],
			Lines:     v.Payload,
			Agreement: v.Agreement,
			Attempts:  v.Attempts,
			Verified:  true,
		})
	}
	return subs, nil
}

// TrackResult is the outcome of a single-URL consensus fetch.
type TrackResult struct {
	Lines     []SubtitleLine `json:"lines"`
	Agreement int            `json:"agreement"`
	Attempts  int            `json:"attempts"`
	Verified  bool           `json:"verified"`
}

// FetchSubtitleTrack validates one known subtitle URL: up to 10 fetches,
// early stop as soon as three attempts agree. When the budget runs out
// without a 3-way majority the most common payload is still returned,
// marked unverified with its agreement count — the caller decides whether
// a best-effort result is acceptable.
func FetchSubtitleTrack(ctx context.Context, subtitleURL string) (*TrackResult, error) {
	engine.IncrSubtitle()

	cfg := engine.ConsensusConfig{
		Budget:    engine.Cfg.SubtitleAttempts,
		Threshold: 3,
		Stagger:   engine.Cfg.SubtitleStagger,
		EarlyStop: true,
	}

	verdicts, err := engine.Converge(ctx, cfg, func(ctx context.Context, attempt int) ([]engine.Ballot[[]SubtitleLine], error) {
		lines, err := fetchTrackBody(ctx, subtitleURL)
		if err != nil {
			return nil, err
		}
		if len(lines) == 0 {
			return nil, nil
		}
		return []engine.Ballot[[]SubtitleLine]{{
			Fingerprint: engine.Fingerprint(lineContents(lines)),
			Payload:     lines,
			Preview:     preview(lines),
		}}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("subtitle track: %w", err)
	}
	if len(verdicts) == 0 {
		return nil, fmt.Errorf("%w: empty track at %s", ErrNoSubtitles, subtitleURL)
	}

	v := verdicts[0]
	if !v.Verified {
		slog.Warn("subtitle track below agreement threshold, returning best effort",
			slog.Int("agreement", v.Agreement),
			slog.Int("attempts", v.Attempts),
			slog.String("preview", v.Preview))
	}
	return &TrackResult{
		Lines:     v.Payload,
		Agreement: v.Agreement,
		Attempts:  v.Attempts,
		Verified:  v.Verified,
	}, nil
}

package engine

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"
)

// WBI request signing for Bilibili web API endpoints.
// The scheme is public: two rotating key fragments are served by the nav
// endpoint, shuffled through a fixed permutation table into a 32-char mixin
// key, and an md5 over the sorted query string + mixin key is appended as
// w_rid. Reference: bilibili-API-collect docs/misc/sign/wbi.
const (
	wbiNavURL = "https://api.bilibili.com/x/web-interface/nav"
	wbiKeyTTL = time.Hour
)

// ErrKeyFetch marks a failure to obtain WBI keys from the nav endpoint.
// Callers degrade to unsigned requests rather than abort.
var ErrKeyFetch = errors.New("wbi key fetch")

// mixinKeyEncTab is the fixed permutation applied to img_key+sub_key.
// Byte-for-byte server contract — any deviation silently produces
// rejected signatures (-403).
var mixinKeyEncTab = [64]int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35, 27, 43, 5, 49,
	33, 9, 42, 19, 29, 28, 14, 39, 12, 38, 41, 13, 37, 48, 7, 16, 24, 55, 40,
	61, 26, 17, 0, 1, 60, 51, 30, 4, 22, 25, 54, 21, 56, 59, 6, 63, 57, 62, 11,
	36, 20, 34, 44, 52,
}

// WBIKeys is the rotating key pair. Replaced wholesale, never mutated —
// a reader must never see one request's img fragment paired with another's
// sub fragment.
type WBIKeys struct {
	Img       string
	Sub       string
	FetchedAt time.Time
}

// Empty reports whether either fragment is missing.
func (k WBIKeys) Empty() bool {
	return k.Img == "" || k.Sub == ""
}

// Signer produces WBI-signed query parameters. Safe for concurrent use.
// Zero dependencies on globals: transport, cookies, nav URL, and clock are
// all injectable for tests.
type Signer struct {
	Client  *http.Client
	Cookies map[string]string
	NavURL  string
	TTL     time.Duration
	Now     func() time.Time

	keys atomic.Pointer[WBIKeys]
	sf   singleflight.Group
}

// NewSigner creates a Signer using the given transport and cookies.
func NewSigner(client *http.Client, cookies map[string]string) *Signer {
	return &Signer{
		Client:  client,
		Cookies: cookies,
		NavURL:  wbiNavURL,
		TTL:     wbiKeyTTL,
		Now:     time.Now,
	}
}

// Keys returns the cached key pair, refreshing it when absent, stale, or
// forceRefresh is set. Concurrent cold callers are collapsed into a single
// nav request via singleflight; every caller observes a fully-formed pair.
func (s *Signer) Keys(ctx context.Context, forceRefresh bool) (WBIKeys, error) {
	if !forceRefresh {
		if k := s.keys.Load(); k != nil && s.Now().Sub(k.FetchedAt) < s.TTL {
			return *k, nil
		}
	}

	v, err, _ := s.sf.Do("wbi-keys", func() (any, error) {
		// Another caller may have refreshed while we waited.
		if !forceRefresh {
			if k := s.keys.Load(); k != nil && s.Now().Sub(k.FetchedAt) < s.TTL {
				return *k, nil
			}
		}
		k, err := s.fetchKeys(ctx)
		if err != nil {
			return WBIKeys{}, err
		}
		s.keys.Store(&k)
		return k, nil
	})
	if err != nil {
		return WBIKeys{}, err
	}
	return v.(WBIKeys), nil
}

type navResp struct {
	Code int `json:"code"`
	Data struct {
		WbiImg struct {
			ImgURL string `json:"img_url"`
			SubURL string `json:"sub_url"`
		} `json:"wbi_img"`
	} `json:"data"`
}

// fetchKeys calls the nav endpoint and extracts both key fragments.
// The keys are not secrets: they are returned even for unauthenticated
// sessions (code -101), so the response code is deliberately ignored.
func (s *Signer) fetchKeys(ctx context.Context) (WBIKeys, error) {
	IncrKeyFetch()

	operation := func() (navResp, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.NavURL, nil)
		if err != nil {
			return navResp{}, backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", RandomUserAgent())
		req.Header.Set("Referer", "https://www.bilibili.com/")
		for name, val := range s.Cookies {
			req.AddCookie(&http.Cookie{Name: name, Value: val})
		}

		resp, err := s.Client.Do(req)
		if err != nil {
			return navResp{}, backoff.Permanent(err)
		}
		defer resp.Body.Close()

		if isRetryableStatus(resp.StatusCode) {
			return navResp{}, fmt.Errorf("status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return navResp{}, backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}

		var nav navResp
		if err := json.NewDecoder(resp.Body).Decode(&nav); err != nil {
			return navResp{}, backoff.Permanent(fmt.Errorf("decode nav: %w", err))
		}
		return nav, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	nav, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(3))
	if err != nil {
		IncrKeyFetchError()
		return WBIKeys{}, fmt.Errorf("%w: %w", ErrKeyFetch, err)
	}

	imgKey := keyStem(nav.Data.WbiImg.ImgURL)
	subKey := keyStem(nav.Data.WbiImg.SubURL)
	if imgKey == "" || subKey == "" {
		// Malformed but reachable response: hand back empty keys and let
		// the caller decide whether an unsigned request is worth a shot.
		slog.Warn("wbi: nav response missing key URLs", slog.Int("code", nav.Code))
		IncrKeyFetchError()
		return WBIKeys{FetchedAt: s.Now()}, nil
	}

	slog.Debug("wbi: keys refreshed")
	return WBIKeys{Img: imgKey, Sub: subKey, FetchedAt: s.Now()}, nil
}

// keyStem returns the filename stem of a key URL:
// ".../7cd08494...077c.png" → "7cd08494...077c".
func keyStem(u string) string {
	name := u[strings.LastIndexByte(u, '/')+1:]
	stem, _, _ := strings.Cut(name, ".")
	return stem
}

// mixinKey derives the 32-char signing key from the two fragments by
// permuting their concatenation through mixinKeyEncTab.
func mixinKey(imgKey, subKey string) string {
	orig := imgKey + subKey
	var sb strings.Builder
	sb.Grow(32)
	for _, idx := range mixinKeyEncTab {
		if idx < len(orig) {
			sb.WriteByte(orig[idx])
		}
		if sb.Len() == 32 {
			break
		}
	}
	return sb.String()
}

// blocked characters are stripped from every parameter value before signing.
const wbiBlockedChars = "!'()*"

func stripBlocked(v string) string {
	if !strings.ContainsAny(v, wbiBlockedChars) {
		return v
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(wbiBlockedChars, r) {
			return -1
		}
		return r
	}, v)
}

// SignParams returns params extended with wts (current Unix seconds) and
// w_rid (the WBI signature). The boolean reports whether signing actually
// happened: on key fetch failure the original params come back unsigned and
// the caller may still attempt the request (the server will likely reject
// it, but that is the caller's call).
//
// For a fixed key pair and clock the result is fully deterministic.
func (s *Signer) SignParams(ctx context.Context, params map[string]string) (url.Values, bool) {
	keys, err := s.Keys(ctx, false)
	if err != nil || keys.Empty() {
		if err != nil {
			slog.Warn("wbi: keys unavailable, returning unsigned params", slog.Any("error", err))
		} else {
			slog.Warn("wbi: empty keys, returning unsigned params")
		}
		IncrSignDegraded()
		out := url.Values{}
		for k, v := range params {
			out.Set(k, v)
		}
		return out, false
	}
	return signWith(params, keys, s.Now()), true
}

// signWith is the pure signing core: fixed keys + fixed time → fixed w_rid.
func signWith(params map[string]string, keys WBIKeys, now time.Time) url.Values {
	out := url.Values{}
	for k, v := range params {
		out.Set(k, stripBlocked(v))
	}
	out.Set("wts", strconv.FormatInt(now.Unix(), 10))

	// Encode() sorts keys lexicographically and form-encodes values —
	// the exact canonical query the server hashes on its side.
	query := out.Encode()
	sum := md5.Sum([]byte(query + mixinKey(keys.Img, keys.Sub)))
	out.Set("w_rid", hex.EncodeToString(sum[:]))
	return out
}

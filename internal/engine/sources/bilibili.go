package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/anatolykoptev/go_bili/internal/engine"
)

// Bilibili web API — endpoint constants, response envelope, and HTTP
// primitives. Higher-level logic lives in bilibili_video.go,
// bilibili_subtitle.go and bilibili_search.go.

// Endpoint URLs are vars so tests can point them at a local server.
var (
	biliViewURL   = "https://api.bilibili.com/x/web-interface/view"
	biliPlayerURL = "https://api.bilibili.com/x/player/wbi/v2"
	biliSearchURL = "https://api.bilibili.com/x/web-interface/wbi/search/type"
)

const maxBodyBytes = 8 * 1024 * 1024

// apiEnvelope is the common {code, message, data} wrapper on every
// Bilibili API response. code 0 = success.
type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// APIError is a non-zero code in an otherwise well-formed response.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bilibili api code %d: %s", e.Code, e.Message)
}

func cookieHeader(cookies map[string]string) string {
	pairs := make([]string, 0, len(cookies))
	for k, v := range cookies {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, "; ")
}

// apiGet fetches rawURL with Chrome headers and session cookies.
// Uses the TLS-fingerprint browser client when configured, otherwise the
// plain HTTP client with retry on transient statuses.
func apiGet(ctx context.Context, rawURL string) ([]byte, error) {
	headers := engine.ChromeHeaders()

	if bc := engine.Cfg.BrowserClient; bc != nil {
		if len(engine.Cfg.Cookies) > 0 {
			headers["cookie"] = cookieHeader(engine.Cfg.Cookies)
		}
		body, status, err := bc.Do(http.MethodGet, rawURL, headers, nil)
		if err != nil {
			return nil, fmt.Errorf("browser get: %w", err)
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("status %d", status)
		}
		return body, nil
	}

	// net/http decompresses transparently when Accept-Encoding is unset.
	delete(headers, "accept-encoding")

	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		for name, val := range engine.Cfg.Cookies {
			req.AddCookie(&http.Cookie{Name: name, Value: val})
		}
		return engine.Cfg.HTTPClient.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// apiGetJSON fetches rawURL, unwraps the envelope, and decodes data into out.
func apiGetJSON(ctx context.Context, rawURL string, out any) error {
	body, err := apiGet(ctx, rawURL)
	if err != nil {
		return err
	}
	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.Code != 0 {
		return &APIError{Code: env.Code, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// normalizeURL completes protocol-relative URLs the subtitle API returns.
func normalizeURL(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}

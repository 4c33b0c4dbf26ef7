package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Reference vectors from the publicly documented WBI example key pair.
const (
	testImgKey = "7cd084941338484aae1ad9425b84077c"
	testSubKey = "4932caff0ff746eab6f01bf08b70ac45"
	testMixin  = "ea1db124af3c7062474693fa704f4ff8"
)

func TestMixinKey(t *testing.T) {
	tests := []struct {
		name string
		img  string
		sub  string
		want string
	}{
		{"documented example", testImgKey, testSubKey, testMixin},
		{"synthetic", "0123456789abcdefghijklmnopqrstuv", "wxyzABCDEFGHIJKLMNOPQRSTUVWXYZ+-", "KLi2R8nwfOavW3JzrH5Nx9GjtseDcCFd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mixinKey(tt.img, tt.sub)
			if got != tt.want {
				t.Errorf("mixinKey() = %q, want %q", got, tt.want)
			}
			if len(got) != 32 {
				t.Errorf("mixinKey() length = %d, want 32", len(got))
			}
		})
	}
}

func TestMixinKeyShortInput(t *testing.T) {
	// Must not panic on fragments shorter than the permutation table.
	got := mixinKey("abc", "def")
	if len(got) > 32 {
		t.Errorf("mixinKey() length = %d, want <= 32", len(got))
	}
}

func TestStripBlocked(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hello world!*", "hello world"},
		{"it's (fine)", "its fine"},
		{"!'()*", ""},
		{"clean value", "clean value"},
		{"中文字幕(测试)", "中文字幕测试"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := stripBlocked(tt.in); got != tt.want {
			t.Errorf("stripBlocked(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKeyStem(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://i0.hdslb.com/bfs/wbi/7cd084941338484aae1ad9425b84077c.png", "7cd084941338484aae1ad9425b84077c"},
		{"https://i0.hdslb.com/bfs/wbi/4932caff0ff746eab6f01bf08b70ac45.png", "4932caff0ff746eab6f01bf08b70ac45"},
		{"", ""},
		{"no-slashes.png", "no-slashes"},
	}
	for _, tt := range tests {
		if got := keyStem(tt.url); got != tt.want {
			t.Errorf("keyStem(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestSignWithKnownVectors(t *testing.T) {
	keys := WBIKeys{Img: testImgKey, Sub: testSubKey, FetchedAt: time.Now()}

	t.Run("documented example", func(t *testing.T) {
		params := map[string]string{"foo": "114", "bar": "514", "zab": "1919810"}
		out := signWith(params, keys, time.Unix(1702204169, 0))
		if got := out.Get("wts"); got != "1702204169" {
			t.Errorf("wts = %q, want 1702204169", got)
		}
		if got := out.Get("w_rid"); got != "8f6f2b5b3d485fe1886cec6a0be8c5d4" {
			t.Errorf("w_rid = %q, want 8f6f2b5b3d485fe1886cec6a0be8c5d4", got)
		}
	})

	t.Run("blocked chars and spaces", func(t *testing.T) {
		params := map[string]string{"keyword": "hello world!*", "page": "1", "note": "it's (fine)"}
		out := signWith(params, keys, time.Unix(1700000000, 0))
		if got := out.Get("keyword"); got != "hello world" {
			t.Errorf("keyword = %q, want %q", got, "hello world")
		}
		if got := out.Get("w_rid"); got != "2f7beed9348e1208e226b1d6cdc48778" {
			t.Errorf("w_rid = %q, want 2f7beed9348e1208e226b1d6cdc48778", got)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		params := map[string]string{"bvid": "BV1xx411c7mD", "cid": "12345"}
		ts := time.Unix(1710000000, 0)
		first := signWith(params, keys, ts).Get("w_rid")
		for range 5 {
			if got := signWith(params, keys, ts).Get("w_rid"); got != first {
				t.Fatalf("signature not deterministic: %q != %q", got, first)
			}
		}
	})
}

func navServer(t *testing.T, calls *atomic.Int64, img, sub string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprintf(w, `{"code":-101,"data":{"wbi_img":{"img_url":"https://i0.hdslb.com/bfs/wbi/%s.png","sub_url":"https://i0.hdslb.com/bfs/wbi/%s.png"}}}`, img, sub)
	}))
}

func newTestSigner(srv *httptest.Server) *Signer {
	s := NewSigner(srv.Client(), nil)
	s.NavURL = srv.URL
	return s
}

func TestKeysTTL(t *testing.T) {
	var calls atomic.Int64
	srv := navServer(t, &calls, testImgKey, testSubKey)
	defer srv.Close()

	now := time.Unix(1700000000, 0)
	s := newTestSigner(srv)
	s.Now = func() time.Time { return now }

	ctx := context.Background()
	k, err := s.Keys(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k.Img != testImgKey || k.Sub != testSubKey {
		t.Fatalf("got keys %q/%q", k.Img, k.Sub)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 nav call, got %d", calls.Load())
	}

	// One second before expiry: cached pair reused.
	now = now.Add(time.Hour - time.Second)
	if _, err := s.Keys(ctx, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected cached keys, got %d nav calls", calls.Load())
	}

	// One second after expiry: refreshed.
	now = now.Add(2 * time.Second)
	if _, err := s.Keys(ctx, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected refresh after TTL, got %d nav calls", calls.Load())
	}
}

func TestKeysForceRefresh(t *testing.T) {
	var calls atomic.Int64
	srv := navServer(t, &calls, testImgKey, testSubKey)
	defer srv.Close()

	s := newTestSigner(srv)
	ctx := context.Background()

	if _, err := s.Keys(ctx, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Keys(ctx, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 nav calls with force refresh, got %d", calls.Load())
	}
}

func TestKeysConcurrent(t *testing.T) {
	// Serve distinct pairs per request so a torn read would be detectable.
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		fmt.Fprintf(w, `{"code":0,"data":{"wbi_img":{"img_url":"https://x/img%d.png","sub_url":"https://x/sub%d.png"}}}`, n, n)
	}))
	defer srv.Close()

	s := newTestSigner(srv)
	ctx := context.Background()

	const workers = 8
	results := make([]WBIKeys, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k, err := s.Keys(ctx, false)
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			results[i] = k
		}(i)
	}
	wg.Wait()

	if n := calls.Load(); n < 1 || n > workers {
		t.Errorf("nav calls = %d, want between 1 and %d", n, workers)
	}
	for i, k := range results {
		if k.Empty() {
			t.Errorf("worker %d observed empty keys", i)
			continue
		}
		// img and sub must come from the same response
		if k.Img[len("img"):] != k.Sub[len("sub"):] {
			t.Errorf("worker %d observed torn pair %q/%q", i, k.Img, k.Sub)
		}
	}
}

func TestKeysMissingURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":0,"data":{}}`)
	}))
	defer srv.Close()

	s := newTestSigner(srv)
	k, err := s.Keys(context.Background(), false)
	if err != nil {
		t.Fatalf("missing key URLs must not error, got %v", err)
	}
	if !k.Empty() {
		t.Errorf("expected empty keys, got %q/%q", k.Img, k.Sub)
	}
}

func TestSignParamsDegraded(t *testing.T) {
	srv := httptest.NewServer(nil)
	srv.Close() // unreachable endpoint

	s := NewSigner(&http.Client{Timeout: time.Second}, nil)
	s.NavURL = srv.URL

	params := map[string]string{"keyword": "test!", "page": "1"}
	out, signed := s.SignParams(context.Background(), params)
	if signed {
		t.Fatal("expected degraded signing")
	}
	if out.Has("w_rid") || out.Has("wts") {
		t.Errorf("unsigned params must not carry signature fields: %v", out)
	}
	// Unsigned path passes values through untouched.
	if got := out.Get("keyword"); got != "test!" {
		t.Errorf("keyword = %q, want %q", got, "test!")
	}
}

func TestSignParamsSigned(t *testing.T) {
	var calls atomic.Int64
	srv := navServer(t, &calls, testImgKey, testSubKey)
	defer srv.Close()

	s := newTestSigner(srv)
	out, signed := s.SignParams(context.Background(), map[string]string{"keyword": "go"})
	if !signed {
		t.Fatal("expected signed params")
	}
	if !out.Has("w_rid") || !out.Has("wts") {
		t.Fatalf("missing signature fields: %v", out)
	}
	if len(out.Get("w_rid")) != 32 {
		t.Errorf("w_rid length = %d, want 32 hex chars", len(out.Get("w_rid")))
	}
}

package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBVID(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare id", "BV1GJ411x7h7", "BV1GJ411x7h7", false},
		{"full url", "https://www.bilibili.com/video/BV1GJ411x7h7?p=1&t=30", "BV1GJ411x7h7", false},
		{"embedded in text", "看看这个 BV1xx411c7mD 视频", "BV1xx411c7mD", false},
		{"garbage", "not a video at all", "", true},
		{"av id unsupported", "av170001", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBVID(context.Background(), tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrNoBVID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveShortLink(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/s", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/video/BV1GJ411x7h7", http.StatusFound)
	})
	mux.HandleFunc("/video/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html></html>")
	})

	setupEngine(t, srv)

	got, err := resolveShortLink(context.Background(), srv.URL+"/s")
	require.NoError(t, err)
	assert.Equal(t, "BV1GJ411x7h7", got)
}

func TestGetVideoInfo(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/view", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BV1GJ411x7h7", r.URL.Query().Get("bvid"))
		fmt.Fprint(w, `{"code":0,"data":{"bvid":"BV1GJ411x7h7","aid":170001,"cid":279786,
			"title":"测试视频","duration":213,"desc":"简介","owner":{"name":"UP主"}}}`)
	})

	setupEngine(t, srv)

	info, err := GetVideoInfo(context.Background(), "BV1GJ411x7h7")
	require.NoError(t, err)
	assert.Equal(t, "BV1GJ411x7h7", info.BVID)
	assert.EqualValues(t, 279786, info.CID)
	assert.EqualValues(t, 170001, info.AID)
	assert.Equal(t, "测试视频", info.Title)
	assert.Equal(t, "UP主", info.Author)
	assert.EqualValues(t, 213, info.Duration)
}

func TestGetVideoInfoAPIError(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/view", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":-400,"message":"请求错误"}`)
	})

	setupEngine(t, srv)

	_, err := GetVideoInfo(context.Background(), "BV1GJ411x7h7")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, -400, apiErr.Code)
}

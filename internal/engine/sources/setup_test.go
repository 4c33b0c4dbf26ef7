package sources

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anatolykoptev/go_bili/internal/engine"
)

// setupEngine points the engine at a local test server with fast consensus
// staggers. Endpoint overrides are restored on cleanup.
func setupEngine(t *testing.T, srv *httptest.Server) {
	t.Helper()

	signer := engine.NewSigner(srv.Client(), nil)
	signer.NavURL = srv.URL + "/nav"

	engine.Init(engine.Config{
		HTTPClient:       srv.Client(),
		FetchTimeout:     5 * time.Second,
		SubtitleAttempts: 10,
		CatalogAttempts:  5,
		SubtitleStagger:  time.Millisecond,
		CatalogStagger:   time.Millisecond,
		Signer:           signer,
	})

	origView, origPlayer, origSearch := biliViewURL, biliPlayerURL, biliSearchURL
	biliViewURL = srv.URL + "/view"
	biliPlayerURL = srv.URL + "/player"
	biliSearchURL = srv.URL + "/search"
	t.Cleanup(func() {
		biliViewURL, biliPlayerURL, biliSearchURL = origView, origPlayer, origSearch
	})
}

// serveNavKeys handles /nav with a fixed WBI key pair.
func serveNavKeys(mux *http.ServeMux) {
	mux.HandleFunc("/nav", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":0,"data":{"wbi_img":{
			"img_url":"https://i0.hdslb.com/bfs/wbi/7cd084941338484aae1ad9425b84077c.png",
			"sub_url":"https://i0.hdslb.com/bfs/wbi/4932caff0ff746eab6f01bf08b70ac45.png"}}}`)
	})
}

// subtitleBodyJSON renders a subtitle document with the given cue contents.
func subtitleBodyJSON(contents ...string) string {
	body := ""
	for i, c := range contents {
		if i > 0 {
			body += ","
		}
		body += fmt.Sprintf(`{"from":%d.0,"to":%d.5,"content":"%s"}`, i, i, c)
	}
	return `{"body":[` + body + `]}`
}

package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siftd/sift/internal/log"
)

const articleHTML = `<html><head><title>Pooling Guide</title></head><body>
<p>Connection pooling keeps a warm set of database connections.</p>
<p>Size the pool to the workload, not the core count.</p>
</body></html>`

func TestCrawler_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/article":
			_, _ = w.Write([]byte(articleHTML))
		case "/moved":
			http.Redirect(w, r, "/article", http.StatusFound)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	crawler := NewCrawler(2, 5*time.Second, log.NewNop())

	pages := crawler.Fetch(context.Background(), []string{srv.URL + "/article"})
	require.Len(t, pages, 1)
	assert.Equal(t, srv.URL+"/article", pages[0].URL)
	assert.Contains(t, pages[0].Content, "Connection pooling")
}

// A redirected page must key back to the URL that was handed in, or the
// caller cannot match it up and falls back to the provider snippet.
func TestCrawler_FetchFollowsRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/article":
			_, _ = w.Write([]byte(articleHTML))
		case "/moved":
			http.Redirect(w, r, "/article", http.StatusFound)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	crawler := NewCrawler(2, 5*time.Second, log.NewNop())

	pages := crawler.Fetch(context.Background(), []string{srv.URL + "/moved"})
	require.Len(t, pages, 1)
	assert.Equal(t, srv.URL+"/moved", pages[0].URL, "page keyed by the requested URL, not the redirect target")
	assert.Contains(t, pages[0].Content, "Connection pooling")
}

func TestCrawler_FetchDropsUnreachableURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/article" {
			_, _ = w.Write([]byte(articleHTML))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	crawler := NewCrawler(2, 5*time.Second, log.NewNop())

	pages := crawler.Fetch(context.Background(), []string{
		srv.URL + "/missing",
		srv.URL + "/article",
	})
	require.Len(t, pages, 1)
	assert.Equal(t, srv.URL+"/article", pages[0].URL)
}

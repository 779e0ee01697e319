package websearch

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"

	"github.com/siftd/sift/internal/log"
)

const crawlerUserAgent = "sift/1.0 (+https://github.com/siftd/sift)"

// visitURLKey carries the originally requested URL through the request
// context so redirected responses still key back to it.
const visitURLKey = "visit_url"

// Page is the readable content extracted from one crawled URL.
type Page struct {
	URL     string
	Title   string
	Content string
}

// Crawler fetches pages concurrently and extracts their main content.
type Crawler struct {
	parallelism int
	timeout     time.Duration
	logger      log.Logger
}

// NewCrawler creates a crawler with the given per-request timeout and
// number of parallel fetches.
func NewCrawler(parallelism int, timeout time.Duration, logger log.Logger) *Crawler {
	if parallelism < 1 {
		parallelism = 2
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Crawler{parallelism: parallelism, timeout: timeout, logger: logger}
}

// Fetch crawls the URLs and returns the pages that yielded content, in the
// order of the input URLs. Unreachable or empty pages are dropped; the
// caller falls back to provider snippets for those.
func (c *Crawler) Fetch(ctx context.Context, urls []string) []Page {
	if len(urls) == 0 {
		return nil
	}

	collector := colly.NewCollector(
		colly.Async(true),
		colly.MaxDepth(1),
		colly.UserAgent(crawlerUserAgent),
	)
	collector.SetRequestTimeout(c.timeout)
	if err := collector.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: c.parallelism}); err != nil {
		c.logger.Warn("crawler limit rule rejected", "error", err)
	}

	var (
		mu    sync.Mutex
		pages = make(map[string]Page, len(urls))
	)

	collector.OnResponse(func(resp *colly.Response) {
		// resp.Request.URL is the post-redirect URL; key the page by the
		// URL that was handed in so callers can match it back up.
		visitURL := resp.Ctx.Get(visitURLKey)
		if visitURL == "" {
			visitURL = resp.Request.URL.String()
		}
		page := extractPage(resp.Request.URL.String(), resp.Body)
		if page.Content == "" {
			return
		}
		page.URL = visitURL
		mu.Lock()
		pages[visitURL] = page
		mu.Unlock()
	})
	collector.OnError(func(resp *colly.Response, err error) {
		c.logger.Debug("crawl failed", "url", resp.Request.URL.String(), "error", err)
	})

	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		rctx := colly.NewContext()
		rctx.Put(visitURLKey, u)
		if err := collector.Request("GET", u, nil, rctx, nil); err != nil {
			c.logger.Debug("crawl skipped", "url", u, "error", err)
		}
	}
	collector.Wait()

	out := make([]Page, 0, len(pages))
	for _, u := range urls {
		if p, ok := pages[u]; ok {
			out = append(out, p)
		}
	}
	return out
}

// extractPage pulls readable text from an HTML body, trying readability
// extraction first and falling back to bare paragraph text.
func extractPage(pageURL string, body []byte) Page {
	page := Page{URL: pageURL}

	if parsed, err := url.Parse(pageURL); err == nil {
		article, err := readability.FromReader(bytes.NewReader(body), parsed)
		if err == nil && strings.TrimSpace(article.TextContent) != "" {
			page.Title = article.Title
			page.Content = normalizeText(article.TextContent)
			return page
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return page
	}
	page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	var paragraphs []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	page.Content = normalizeText(strings.Join(paragraphs, "\n\n"))
	return page
}

// normalizeText collapses runs of whitespace inside lines but keeps
// paragraph breaks.
func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		out = append(out, strings.Join(fields, " "))
	}
	return strings.Join(out, "\n")
}

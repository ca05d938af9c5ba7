package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tenantbot/backend/internal/metrics"
	"github.com/tenantbot/backend/pkg/logger"
)

// Page is one fetched page: its resolved URL and the markup-stripped
// text content.
type Page struct {
	URL  string
	Text string
}

// Crawler performs a bounded-depth breadth-first traversal restricted to
// the starting domain. Pages at each depth are fetched in bounded
// concurrent batches, paced by a rate limiter so crawled hosts are not
// hammered.
type Crawler struct {
	httpClient *http.Client
	batchSize  int
	limiter    *rate.Limiter
	userAgent  string
}

type Config struct {
	BatchSize    int
	BatchDelay   time.Duration
	FetchTimeout time.Duration
	UserAgent    string
}

func New(cfg Config) *Crawler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = 500 * time.Millisecond
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "tenantbot-crawler/1.0"
	}

	return &Crawler{
		httpClient: &http.Client{
			Timeout: cfg.FetchTimeout,
		},
		batchSize: cfg.BatchSize,
		limiter:   rate.NewLimiter(rate.Every(cfg.BatchDelay), 1),
		userAgent: cfg.UserAgent,
	}
}

// Crawl visits at most depth link levels starting at startURL, never
// visits a URL twice, and never leaves the starting domain.
func (c *Crawler) Crawl(ctx context.Context, startURL string, depth int) ([]Page, error) {
	if depth < 1 {
		depth = 1
	}

	start, err := url.Parse(startURL)
	if err != nil {
		return nil, fmt.Errorf("invalid start URL %q: %w", startURL, err)
	}
	if start.Scheme != "http" && start.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q", start.Scheme)
	}
	rootHost := start.Hostname()

	visited := map[string]bool{}
	frontier := []string{start.String()}
	var pages []Page

	for level := 1; level <= depth && len(frontier) > 0; level++ {
		var next []string

		for batchStart := 0; batchStart < len(frontier); batchStart += c.batchSize {
			batchEnd := batchStart + c.batchSize
			if batchEnd > len(frontier) {
				batchEnd = len(frontier)
			}

			var batch []string
			for _, u := range frontier[batchStart:batchEnd] {
				if visited[u] {
					continue
				}
				visited[u] = true
				batch = append(batch, u)
			}
			if len(batch) == 0 {
				continue
			}

			if err := c.limiter.Wait(ctx); err != nil {
				return pages, err
			}

			fetched, links := c.fetchBatch(ctx, batch, rootHost)
			pages = append(pages, fetched...)
			next = append(next, links...)
		}

		frontier = next
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages fetched from %s", startURL)
	}

	metrics.PagesCrawled.Add(float64(len(pages)))

	logger.Info("Crawl completed",
		zap.String("start_url", startURL),
		zap.Int("depth", depth),
		zap.Int("pages", len(pages)),
	)

	return pages, nil
}

type fetchResult struct {
	page  *Page
	links []string
}

func (c *Crawler) fetchBatch(ctx context.Context, urls []string, rootHost string) ([]Page, []string) {
	results := make([]fetchResult, len(urls))

	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			page, links, err := c.fetchPage(ctx, u, rootHost)
			if err != nil {
				logger.Warn("Failed to fetch page", zap.String("url", u), zap.Error(err))
				return
			}
			results[i] = fetchResult{page: page, links: links}
		}(i, u)
	}
	wg.Wait()

	var pages []Page
	var links []string
	for _, r := range results {
		if r.page != nil {
			pages = append(pages, *r.page)
		}
		links = append(links, r.links...)
	}
	return pages, links
}

func (c *Crawler) fetchPage(ctx context.Context, pageURL, rootHost string) (*Page, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("status %d fetching %s", resp.StatusCode, pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base := resp.Request.URL

	text := ExtractText(doc)
	links := extractLinks(doc, base, rootHost)

	return &Page{URL: base.String(), Text: text}, links, nil
}

// ExtractText strips script/style/navigation markup and renders the
// content elements in document order. Headings get a level-prefixed
// marker so structure survives into plain text.
func ExtractText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, header, footer, aside").Remove()

	var b strings.Builder
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, td, th").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}

		tag := goquery.NodeName(s)
		if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
			level := int(tag[1] - '0')
			b.WriteString(strings.Repeat("#", level))
			b.WriteString(" ")
		}
		b.WriteString(text)
		b.WriteString("\n")
	})

	return strings.TrimSpace(b.String())
}

// extractLinks resolves every anchor to absolute form and keeps only
// links on the starting domain.
func extractLinks(doc *goquery.Document, base *url.URL, rootHost string) []string {
	seen := map[string]bool{}
	var links []string

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}

		resolved := base.ResolveReference(ref)
		resolved.Fragment = ""

		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		if !SameDomain(resolved.Hostname(), rootHost) {
			return
		}

		u := resolved.String()
		if !seen[u] {
			seen[u] = true
			links = append(links, u)
		}
	})

	return links
}

// SameDomain accepts the root host itself and any subdomain of it.
func SameDomain(host, rootHost string) bool {
	return host == rootHost || strings.HasSuffix(host, "."+rootHost)
}

package sources

import (
	"context"

	"github.com/tenantbot/backend/internal/ingestion/crawler"
	"github.com/tenantbot/backend/internal/storage/models"
)

// WebsiteSource crawls a site breadth-first from its start URL.
type WebsiteSource struct {
	crawler *crawler.Crawler
	name    string
	url     string
	depth   int
}

func (s *WebsiteSource) Name() string            { return s.name }
func (s *WebsiteSource) Locator() string         { return s.url }
func (s *WebsiteSource) Type() models.SourceType { return models.SourceTypeWebsite }

func (s *WebsiteSource) Fetch(ctx context.Context) (*RawContent, error) {
	pages, err := s.crawler.Crawl(ctx, s.url, s.depth)
	if err != nil {
		return nil, err
	}

	return &RawContent{
		SourceType: models.SourceTypeWebsite,
		SourceName: s.name,
		SourceURL:  s.url,
		Pages:      pages,
	}, nil
}

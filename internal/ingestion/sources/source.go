package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tenantbot/backend/internal/docanalysis"
	"github.com/tenantbot/backend/internal/ingestion/crawler"
	"github.com/tenantbot/backend/internal/objectstore"
	"github.com/tenantbot/backend/internal/secrets"
	"github.com/tenantbot/backend/internal/storage/models"
)

// ErrUnknownSourceType is the one runtime case left by the variant
// dispatch: wire input declaring a type no adapter implements.
var ErrUnknownSourceType = errors.New("unknown source type")

// RawContent is the unprocessed payload one adapter produced. Websites
// fill Pages; API and document sources fill Body.
type RawContent struct {
	SourceType  models.SourceType
	SourceName  string
	SourceURL   string
	Pages       []crawler.Page
	Body        []byte
	ContentType string
}

// Fetcher is the per-variant fetch capability. Each DataSource type maps
// to exactly one implementation.
type Fetcher interface {
	Fetch(ctx context.Context) (*RawContent, error)
	Name() string
	Locator() string
	Type() models.SourceType
}

// Factory binds the shared adapter dependencies and constructs the
// concrete variant for a declared DataSource.
type Factory struct {
	crawler    *crawler.Crawler
	httpClient *http.Client
	secrets    secrets.Resolver
	objects    objectstore.Store
	analyzer   docanalysis.Analyzer
}

func NewFactory(c *crawler.Crawler, secretResolver secrets.Resolver, objects objectstore.Store, analyzer docanalysis.Analyzer) *Factory {
	return &Factory{
		crawler: c,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		secrets:  secretResolver,
		objects:  objects,
		analyzer: analyzer,
	}
}

// ForSource dispatches on the declared type. Unknown wire input is the
// explicit default case.
func (f *Factory) ForSource(tenantID string, ds models.DataSource, crawlDepth int) (Fetcher, error) {
	switch ds.Type {
	case models.SourceTypeWebsite:
		return &WebsiteSource{
			crawler: f.crawler,
			name:    ds.Name,
			url:     ds.URL,
			depth:   crawlDepth,
		}, nil
	case models.SourceTypeAPI:
		return &APISource{
			httpClient: f.httpClient,
			secrets:    f.secrets,
			tenantID:   tenantID,
			name:       ds.Name,
			url:        ds.URL,
			options:    ds.Options,
		}, nil
	case models.SourceTypeDocument:
		return &DocumentSource{
			objects:  f.objects,
			analyzer: f.analyzer,
			tenantID: tenantID,
			name:     ds.Name,
			locator:  ds.URL,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSourceType, ds.Type)
	}
}

package sources

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/tenantbot/backend/internal/docanalysis"
	"github.com/tenantbot/backend/internal/objectstore"
	"github.com/tenantbot/backend/internal/storage/models"
)

var ErrUnsupportedContentType = errors.New("unsupported document content type")

// analyzedTypes are extracted via the document-analysis capability;
// plainTypes are read directly.
var (
	analyzedTypes = map[string]string{
		".pdf":  "application/pdf",
		".png":  "image/png",
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".tiff": "image/tiff",
		".doc":  "application/msword",
		".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	}
	plainTypes = map[string]bool{
		".txt":  true,
		".md":   true,
		".csv":  true,
		".json": true,
		".html": true,
	}
)

// DocumentSource resolves an uploaded document from the object store and
// extracts its text. Ownership is enforced through the tenant-prefixed
// key convention.
type DocumentSource struct {
	objects  objectstore.Store
	analyzer docanalysis.Analyzer
	tenantID string
	name     string
	locator  string
}

func (s *DocumentSource) Name() string            { return s.name }
func (s *DocumentSource) Locator() string         { return s.locator }
func (s *DocumentSource) Type() models.SourceType { return models.SourceTypeDocument }

func (s *DocumentSource) Fetch(ctx context.Context) (*RawContent, error) {
	if !objectstore.OwnedByTenant(s.tenantID, s.locator) {
		return nil, fmt.Errorf("document %q: %w", s.locator, objectstore.ErrForbidden)
	}

	exists, err := s.objects.Head(ctx, s.tenantID, s.locator)
	if err != nil {
		return nil, fmt.Errorf("failed to check document %q: %w", s.locator, err)
	}
	if !exists {
		return nil, fmt.Errorf("document %q: %w", s.locator, objectstore.ErrNotFound)
	}

	data, err := s.objects.Get(ctx, s.tenantID, s.locator)
	if err != nil {
		return nil, fmt.Errorf("failed to read document %q: %w", s.locator, err)
	}

	ext := strings.ToLower(path.Ext(s.locator))

	var text string
	switch {
	case plainTypes[ext]:
		text = string(data)
	default:
		contentType, ok := analyzedTypes[ext]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, ext)
		}
		text, err = s.analyzer.Extract(ctx, data, contentType)
		if err != nil {
			return nil, fmt.Errorf("failed to extract document %q: %w", s.locator, err)
		}
	}

	return &RawContent{
		SourceType:  models.SourceTypeDocument,
		SourceName:  s.name,
		SourceURL:   s.locator,
		Body:        []byte(text),
		ContentType: "text/plain",
	}, nil
}

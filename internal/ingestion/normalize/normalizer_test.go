package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantbot/backend/internal/ingestion/crawler"
	"github.com/tenantbot/backend/internal/ingestion/sources"
	"github.com/tenantbot/backend/internal/storage/models"
)

func TestNormalize_WebsiteJoinsPages(t *testing.T) {
	n := New()

	raw := &sources.RawContent{
		SourceType: models.SourceTypeWebsite,
		Pages: []crawler.Page{
			{URL: "https://example.com/", Text: "Welcome home."},
			{URL: "https://example.com/about", Text: "About us."},
		},
	}

	text, err := n.Normalize(raw)
	require.NoError(t, err)

	assert.Contains(t, text, "# Page: https://example.com/")
	assert.Contains(t, text, "Welcome home.")
	assert.Contains(t, text, "# Page: https://example.com/about")
	assert.Contains(t, text, "---")
}

func TestNormalize_APIFlattensJSON(t *testing.T) {
	n := New()

	raw := &sources.RawContent{
		SourceType: models.SourceTypeAPI,
		Body:       []byte(`{"name":"Widget","price":19.99,"tags":["red","small"],"stock":{"count":5}}`),
	}

	text, err := n.Normalize(raw)
	require.NoError(t, err)

	assert.Contains(t, text, "name: Widget")
	assert.Contains(t, text, "price: 19.99")
	assert.Contains(t, text, "tags: red, small")
	assert.Contains(t, text, "stock.count: 5")
}

func TestNormalize_APIArrayOfObjects(t *testing.T) {
	n := New()

	raw := &sources.RawContent{
		SourceType: models.SourceTypeAPI,
		Body:       []byte(`[{"id":1,"title":"First"},{"id":2,"title":"Second"}]`),
	}

	text, err := n.Normalize(raw)
	require.NoError(t, err)

	assert.Contains(t, text, "[0].id: 1")
	assert.Contains(t, text, "[0].title: First")
	assert.Contains(t, text, "[1].title: Second")
}

func TestNormalize_APINonJSONPassesThrough(t *testing.T) {
	n := New()

	raw := &sources.RawContent{
		SourceType: models.SourceTypeAPI,
		Body:       []byte("plain text response"),
	}

	text, err := n.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "plain text response", text)
}

func TestNormalize_DocumentPassesThrough(t *testing.T) {
	n := New()

	raw := &sources.RawContent{
		SourceType: models.SourceTypeDocument,
		Body:       []byte("Extracted document text."),
	}

	text, err := n.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "Extracted document text.", text)
}

func TestNormalize_UnknownTypeFails(t *testing.T) {
	n := New()

	_, err := n.Normalize(&sources.RawContent{SourceType: "ftp"})
	assert.Error(t, err)
}

func TestClean_StripsResidualTags(t *testing.T) {
	got := Clean("Hello <b>world</b> and <a href=\"x\">link</a>.")
	assert.NotContains(t, got, "<b>")
	assert.NotContains(t, got, "</a>")
	assert.Contains(t, got, "world")
	assert.Contains(t, got, "link")
}

func TestClean_CollapsesWhitespace(t *testing.T) {
	got := Clean("too    many\t\tspaces")
	assert.Equal(t, "too many spaces", got)
}

func TestClean_CapsNewlineRuns(t *testing.T) {
	got := Clean("first\n\n\n\n\nsecond")
	assert.Equal(t, "first\n\nsecond", got)
}

func TestClean_TrimsAndNormalizes(t *testing.T) {
	// e + combining acute accent composes to a single rune under NFC.
	got := Clean("  café  ")
	assert.Equal(t, "café", got)
}

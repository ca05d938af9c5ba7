package sources

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantbot/backend/internal/objectstore"
	"github.com/tenantbot/backend/internal/storage/models"
)

type fakeSecrets struct {
	values map[string]string
}

func (f *fakeSecrets) Resolve(tenantID, name string) (string, error) {
	if v, ok := f.values[tenantID+"/"+name]; ok {
		return v, nil
	}
	return "", fmt.Errorf("secret %q not found", name)
}

type fakeAnalyzer struct {
	text string
	err  error
	got  string
}

func (f *fakeAnalyzer) Extract(ctx context.Context, data []byte, contentType string) (string, error) {
	f.got = contentType
	return f.text, f.err
}

func newTestFactory(t *testing.T) (*Factory, objectstore.Store) {
	t.Helper()
	store, err := objectstore.NewFSStore(t.TempDir())
	require.NoError(t, err)

	return NewFactory(nil, &fakeSecrets{}, store, &fakeAnalyzer{}), store
}

func TestForSource_DispatchesOnType(t *testing.T) {
	factory, _ := newTestFactory(t)

	website, err := factory.ForSource("tenant-a", models.DataSource{
		Type: models.SourceTypeWebsite, Name: "site", URL: "https://example.com",
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, models.SourceTypeWebsite, website.Type())

	api, err := factory.ForSource("tenant-a", models.DataSource{
		Type: models.SourceTypeAPI, Name: "api", URL: "https://api.example.com/items",
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SourceTypeAPI, api.Type())

	doc, err := factory.ForSource("tenant-a", models.DataSource{
		Type: models.SourceTypeDocument, Name: "doc", URL: "manual.pdf",
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SourceTypeDocument, doc.Type())
}

func TestForSource_UnknownTypeRejected(t *testing.T) {
	factory, _ := newTestFactory(t)

	_, err := factory.ForSource("tenant-a", models.DataSource{
		Type: "ftp", Name: "x", URL: "ftp://example.com",
	}, 1)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownSourceType)
}

func TestAPISource_FetchReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[1,2,3]}`)
	}))
	defer srv.Close()

	factory, _ := newTestFactory(t)
	src, err := factory.ForSource("tenant-a", models.DataSource{
		Type: models.SourceTypeAPI, Name: "inventory", URL: srv.URL,
	}, 1)
	require.NoError(t, err)

	raw, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"items":[1,2,3]}`), raw.Body)
	assert.Equal(t, "application/json", raw.ContentType)
	assert.Equal(t, models.SourceTypeAPI, raw.SourceType)
}

func TestAPISource_PostWithBodyAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		fmt.Fprint(w, `ok`)
	}))
	defer srv.Close()

	factory, _ := newTestFactory(t)
	src, err := factory.ForSource("tenant-a", models.DataSource{
		Type: models.SourceTypeAPI, Name: "api", URL: srv.URL,
		Options: map[string]string{
			"method":  "post",
			"body":    `{"query":"all"}`,
			"headers": `{"Content-Type":"application/json"}`,
		},
	}, 1)
	require.NoError(t, err)

	_, err = src.Fetch(context.Background())
	require.NoError(t, err)
}

func TestAPISource_BearerAuthFromSecretStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		fmt.Fprint(w, `ok`)
	}))
	defer srv.Close()

	store, err := objectstore.NewFSStore(t.TempDir())
	require.NoError(t, err)
	factory := NewFactory(nil, &fakeSecrets{
		values: map[string]string{"tenant-a/inventory-token": "s3cret"},
	}, store, &fakeAnalyzer{})

	src, err := factory.ForSource("tenant-a", models.DataSource{
		Type: models.SourceTypeAPI, Name: "api", URL: srv.URL,
		Options: map[string]string{
			"auth":       "bearer",
			"authSecret": "inventory-token",
		},
	}, 1)
	require.NoError(t, err)

	_, err = src.Fetch(context.Background())
	require.NoError(t, err)
}

func TestAPISource_BasicAuth(t *testing.T) {
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("user:pass"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, want, r.Header.Get("Authorization"))
		fmt.Fprint(w, `ok`)
	}))
	defer srv.Close()

	factory, _ := newTestFactory(t)
	src, err := factory.ForSource("tenant-a", models.DataSource{
		Type: models.SourceTypeAPI, Name: "api", URL: srv.URL,
		Options: map[string]string{
			"auth":      "basic",
			"authToken": "user:pass",
		},
	}, 1)
	require.NoError(t, err)

	_, err = src.Fetch(context.Background())
	require.NoError(t, err)
}

func TestAPISource_NonSuccessStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	factory, _ := newTestFactory(t)
	src, err := factory.ForSource("tenant-a", models.DataSource{
		Type: models.SourceTypeAPI, Name: "api", URL: srv.URL,
	}, 1)
	require.NoError(t, err)

	_, err = src.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestAPISource_AuthWithoutCredentialFails(t *testing.T) {
	factory, _ := newTestFactory(t)
	src, err := factory.ForSource("tenant-a", models.DataSource{
		Type: models.SourceTypeAPI, Name: "api", URL: "https://api.example.com",
		Options: map[string]string{"auth": "bearer"},
	}, 1)
	require.NoError(t, err)

	_, err = src.Fetch(context.Background())
	assert.Error(t, err)
}

func TestDocumentSource_PlainTextReadDirectly(t *testing.T) {
	factory, store := newTestFactory(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "tenant-a", "notes.txt", []byte("plain notes")))

	src, err := factory.ForSource("tenant-a", models.DataSource{
		Type: models.SourceTypeDocument, Name: "notes", URL: "notes.txt",
	}, 1)
	require.NoError(t, err)

	raw, err := src.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("plain notes"), raw.Body)
}

func TestDocumentSource_PDFGoesThroughAnalyzer(t *testing.T) {
	store, err := objectstore.NewFSStore(t.TempDir())
	require.NoError(t, err)
	analyzer := &fakeAnalyzer{text: "extracted pdf text"}
	factory := NewFactory(nil, &fakeSecrets{}, store, analyzer)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "tenant-a", "manual.pdf", []byte("%PDF-1.4")))

	src, err := factory.ForSource("tenant-a", models.DataSource{
		Type: models.SourceTypeDocument, Name: "manual", URL: "manual.pdf",
	}, 1)
	require.NoError(t, err)

	raw, err := src.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("extracted pdf text"), raw.Body)
	assert.Equal(t, "application/pdf", analyzer.got)
}

func TestDocumentSource_MissingDocument(t *testing.T) {
	factory, _ := newTestFactory(t)

	src, err := factory.ForSource("tenant-a", models.DataSource{
		Type: models.SourceTypeDocument, Name: "ghost", URL: "ghost.txt",
	}, 1)
	require.NoError(t, err)

	_, err = src.Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestDocumentSource_CrossTenantLocatorForbidden(t *testing.T) {
	factory, store := newTestFactory(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "tenant-b", "tenant-b/private.txt", []byte("secret")))

	src, err := factory.ForSource("tenant-a", models.DataSource{
		Type: models.SourceTypeDocument, Name: "steal", URL: "tenant-b/private.txt",
	}, 1)
	require.NoError(t, err)

	_, err = src.Fetch(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, objectstore.ErrForbidden)
}

func TestDocumentSource_UnsupportedExtension(t *testing.T) {
	factory, store := newTestFactory(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "tenant-a", "archive.zip", []byte("PK")))

	src, err := factory.ForSource("tenant-a", models.DataSource{
		Type: models.SourceTypeDocument, Name: "archive", URL: "archive.zip",
	}, 1)
	require.NoError(t, err)

	_, err = src.Fetch(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedContentType)
}

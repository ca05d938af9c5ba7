package sources

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tenantbot/backend/internal/secrets"
	"github.com/tenantbot/backend/internal/storage/models"
)

// APISource performs one HTTP call against an external API. Options:
// "method", "body", "headers" (JSON object), "auth" (bearer|basic|apikey),
// "authSecret" (secret-store reference) or "authToken" (literal), and
// "apiKeyHeader" for the apikey scheme.
type APISource struct {
	httpClient *http.Client
	secrets    secrets.Resolver
	tenantID   string
	name       string
	url        string
	options    map[string]string
}

func (s *APISource) Name() string            { return s.name }
func (s *APISource) Locator() string         { return s.url }
func (s *APISource) Type() models.SourceType { return models.SourceTypeAPI }

func (s *APISource) Fetch(ctx context.Context) (*RawContent, error) {
	method := strings.ToUpper(s.option("method", http.MethodGet))

	var body io.Reader
	if b := s.option("body", ""); b != "" {
		body = strings.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build API request: %w", err)
	}

	if headersJSON := s.option("headers", ""); headersJSON != "" {
		var headers map[string]string
		if err := json.Unmarshal([]byte(headersJSON), &headers); err != nil {
			return nil, fmt.Errorf("invalid headers option: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	if err := s.applyAuth(req); err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API returned status %d for %s", resp.StatusCode, s.url)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read API response: %w", err)
	}

	return &RawContent{
		SourceType:  models.SourceTypeAPI,
		SourceName:  s.name,
		SourceURL:   s.url,
		Body:        payload,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func (s *APISource) applyAuth(req *http.Request) error {
	scheme := strings.ToLower(s.option("auth", ""))
	if scheme == "" {
		return nil
	}

	credential, err := s.credential()
	if err != nil {
		return err
	}

	switch scheme {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+credential)
	case "basic":
		user, pass, found := strings.Cut(credential, ":")
		if !found {
			return fmt.Errorf("basic auth credential must be user:password")
		}
		req.Header.Set("Authorization", "Basic "+
			base64.StdEncoding.EncodeToString([]byte(user+":"+pass)))
	case "apikey":
		header := s.option("apiKeyHeader", "X-API-Key")
		req.Header.Set(header, credential)
	default:
		return fmt.Errorf("unsupported auth scheme %q", scheme)
	}

	return nil
}

// credential prefers a secret-store reference over an inline token.
func (s *APISource) credential() (string, error) {
	if ref := s.option("authSecret", ""); ref != "" {
		value, err := s.secrets.Resolve(s.tenantID, ref)
		if err != nil {
			return "", fmt.Errorf("failed to resolve auth secret: %w", err)
		}
		return value, nil
	}
	if token := s.option("authToken", ""); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("auth scheme set but no authSecret or authToken provided")
}

func (s *APISource) option(key, fallback string) string {
	if v, ok := s.options[key]; ok && v != "" {
		return v
	}
	return fallback
}

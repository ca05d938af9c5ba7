package normalize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tenantbot/backend/internal/ingestion/sources"
	"github.com/tenantbot/backend/internal/storage/models"
)

var (
	tagPattern        = regexp.MustCompile(`<[a-zA-Z/!][^>]*>`)
	horizontalSpaces  = regexp.MustCompile(`[ \t\r]+`)
	spacedNewline     = regexp.MustCompile(` ?\n ?`)
	excessiveNewlines = regexp.MustCompile(`\n{3,}`)
)

// Normalizer converts source-type-specific raw content into clean plain
// text ready for chunking.
type Normalizer struct{}

func New() *Normalizer {
	return &Normalizer{}
}

func (n *Normalizer) Normalize(raw *sources.RawContent) (string, error) {
	var text string

	switch raw.SourceType {
	case models.SourceTypeWebsite:
		text = joinPages(raw)
	case models.SourceTypeAPI:
		text = flattenPayload(raw.Body)
	case models.SourceTypeDocument:
		text = string(raw.Body)
	default:
		return "", fmt.Errorf("cannot normalize source type %q", raw.SourceType)
	}

	return Clean(text), nil
}

// joinPages renders each crawled page under a "# Page: <url>" heading,
// separated by a rule.
func joinPages(raw *sources.RawContent) string {
	sections := make([]string, 0, len(raw.Pages))
	for _, page := range raw.Pages {
		sections = append(sections, fmt.Sprintf("# Page: %s\n\n%s", page.URL, page.Text))
	}
	return strings.Join(sections, "\n\n---\n\n")
}

// flattenPayload turns a structured JSON payload into "path: value"
// lines. Non-JSON payloads pass through untouched.
func flattenPayload(body []byte) string {
	var parsed interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return string(body)
	}

	var lines []string
	flattenValue("", parsed, &lines)
	return strings.Join(lines, "\n")
}

func flattenValue(path string, value interface{}, lines *[]string) {
	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenValue(joinPath(path, k), v[k], lines)
		}
	case []interface{}:
		if isPrimitiveSlice(v) {
			parts := make([]string, len(v))
			for i, item := range v {
				parts[i] = formatScalar(item)
			}
			*lines = append(*lines, fmt.Sprintf("%s: %s", path, strings.Join(parts, ", ")))
			return
		}
		for i, item := range v {
			flattenValue(fmt.Sprintf("%s[%d]", path, i), item, lines)
		}
	default:
		*lines = append(*lines, fmt.Sprintf("%s: %s", path, formatScalar(v)))
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func isPrimitiveSlice(items []interface{}) bool {
	for _, item := range items {
		switch item.(type) {
		case map[string]interface{}, []interface{}:
			return false
		}
	}
	return true
}

func formatScalar(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return "null"
	case string:
		return s
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", s), "0"), ".")
	default:
		return fmt.Sprintf("%v", s)
	}
}

// Clean strips residual markup, collapses whitespace runs to single
// spaces, caps newline runs at two so paragraph breaks survive, and
// applies Unicode NFC.
func Clean(text string) string {
	if tagPattern.MatchString(text) {
		text = tagPattern.ReplaceAllString(text, " ")
	}

	text = horizontalSpaces.ReplaceAllString(text, " ")
	text = spacedNewline.ReplaceAllString(text, "\n")
	text = excessiveNewlines.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	return norm.NFC.String(text)
}

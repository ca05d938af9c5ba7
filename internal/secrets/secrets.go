package secrets

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Resolver looks up a named credential scoped to one tenant. Names are
// opaque references declared on data sources ("crm-api-token" etc.).
type Resolver interface {
	Resolve(tenantID, name string) (string, error)
}

// ViperResolver resolves secrets from configuration and environment,
// under the key "secrets.<tenantID>.<name>" (environment form
// TENANTBOT_SECRETS_<TENANT>_<NAME>).
type ViperResolver struct{}

func NewViperResolver() *ViperResolver {
	return &ViperResolver{}
}

func (r *ViperResolver) Resolve(tenantID, name string) (string, error) {
	key := fmt.Sprintf("secrets.%s.%s", normalize(tenantID), normalize(name))
	value := viper.GetString(key)
	if value == "" {
		return "", fmt.Errorf("secret %q not found for tenant %s", name, tenantID)
	}
	return value, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "-", "_"))
}

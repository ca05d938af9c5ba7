package objectstore

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNotFound = errors.New("object not found")
	// ErrForbidden is returned when a key does not live under the
	// requesting tenant's prefix.
	ErrForbidden = errors.New("object not owned by tenant")
)

// Store is tenant-prefixed blob storage. All keys are rooted at
// "<tenantID>/"; access with a mismatched tenant fails with ErrForbidden.
type Store interface {
	Put(ctx context.Context, tenantID, key string, data []byte) error
	Get(ctx context.Context, tenantID, key string) ([]byte, error)
	Head(ctx context.Context, tenantID, key string) (bool, error)
}

// OwnedByTenant reports whether key resolves under the tenant's prefix.
// Keys are normalized before the check so "../other-tenant/doc" cannot
// escape.
func OwnedByTenant(tenantID, key string) bool {
	clean := strings.TrimPrefix(key, "/")
	if strings.Contains(clean, "..") {
		return false
	}
	return strings.HasPrefix(clean, tenantID+"/") || !strings.Contains(clean, "/")
}

// TenantKey joins a tenant id and a relative key into the canonical
// storage key.
func TenantKey(tenantID, key string) string {
	if strings.HasPrefix(key, tenantID+"/") {
		return key
	}
	return tenantID + "/" + strings.TrimPrefix(key, "/")
}

package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/tenantbot/backend/pkg/logger"
)

// FSStore implements Store on the local filesystem, one directory per
// tenant under the configured root.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create object store root: %w", err)
	}

	logger.Info("Object store initialized", zap.String("root", root))

	return &FSStore{root: root}, nil
}

func (s *FSStore) Put(ctx context.Context, tenantID, key string, data []byte) error {
	path, err := s.resolve(tenantID, key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

func (s *FSStore) Get(ctx context.Context, tenantID, key string) ([]byte, error) {
	path, err := s.resolve(tenantID, key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

func (s *FSStore) Head(ctx context.Context, tenantID, key string) (bool, error) {
	path, err := s.resolve(tenantID, key)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

func (s *FSStore) resolve(tenantID, key string) (string, error) {
	if !OwnedByTenant(tenantID, key) {
		return "", ErrForbidden
	}
	return filepath.Join(s.root, TenantKey(tenantID, key)), nil
}

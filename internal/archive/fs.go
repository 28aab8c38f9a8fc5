package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// FSStore keeps artifacts as files below a data directory.
type FSStore struct {
	dir string
	log logrus.FieldLogger
}

func NewFSStore(dir string, logger logrus.FieldLogger) *FSStore {
	return &FSStore{
		dir: dir,
		log: logger.WithField("component", "archive_fs"),
	}
}

// path maps a key to a file path, refusing keys that escape the data directory.
func (s *FSStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid archive key %q", key)
	}
	return filepath.Join(s.dir, clean), nil
}

func (s *FSStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("failed to write archive %s: %w", key, err)
	}
	return nil
}

func (s *FSStore) RemoveNamespace(ctx context.Context, prefix string) error {
	p, err := s.path(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("failed to remove archive namespace %s: %w", prefix, err)
	}
	s.log.WithField("namespace", prefix).Debug("Archive namespace removed")
	return nil
}

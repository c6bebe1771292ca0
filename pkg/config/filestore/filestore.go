package filestore

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/andrej220/cassops/pkg/config/configstore"
)

var _ configstore.ConfigStore = (*FileStore)(nil)

// FileStore reads YAML documents. JSON is a subset of YAML, so JSON inventories load too.
type FileStore struct {
	Path string
}

func New(path string) *FileStore {
	return &FileStore{Path: path}
}

func (f *FileStore) Load(out any) error {
	if out == nil {
		return fmt.Errorf("Load: output parameter must not be nil")
	}

	bytes, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("Load: failed to read file %s: %w", f.Path, err)
	}

	if len(bytes) == 0 {
		return fmt.Errorf("Load: config file %s is empty", f.Path)
	}

	if err := yaml.Unmarshal(bytes, out); err != nil {
		return fmt.Errorf("Load: failed to parse %s: %w", f.Path, err)
	}

	return nil
}

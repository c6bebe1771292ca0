package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrej220/cassops/pkg/config/configstore"
	"github.com/andrej220/cassops/pkg/config/filestore"
	"github.com/andrej220/cassops/pkg/config/mongostore"
)

type StoreType int

const (
	FileStore StoreType = iota
	MongoStore
)

var (
	ErrInvalidStoreType = errors.New("invalid store type")
)

type FileConfig struct {
	Path string `yaml:"path" json:"path"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" json:"uri"`
	DBName   string `yaml:"dbName" json:"dbName"`
	CollName string `yaml:"collName" json:"collName"`
	ID       string `yaml:"id" json:"id"` // document ID, e.g. "production"
}

// ParseStoreType maps the textual source name used on the command line.
func ParseStoreType(s string) (StoreType, error) {
	switch s {
	case "", "file":
		return FileStore, nil
	case "mongo":
		return MongoStore, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidStoreType, s)
	}
}

// NewStore builds the store for storeType. cfg must be *FileConfig or *MongoConfig.
func NewStore(ctx context.Context, storeType StoreType, cfg any) (configstore.ConfigStore, error) {
	switch storeType {
	case FileStore:
		fileCfg, ok := cfg.(*FileConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for file store, expected *FileConfig")
		}
		return filestore.New(fileCfg.Path), nil
	case MongoStore:
		mongoCfg, ok := cfg.(*MongoConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for mongo store, expected *MongoConfig")
		}
		return mongostore.New(ctx, mongoCfg.URI, mongoCfg.DBName, mongoCfg.CollName, mongoCfg.ID)
	default:
		return nil, ErrInvalidStoreType
	}
}

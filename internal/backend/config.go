package backend

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"fundledger/internal/config"
	"fundledger/internal/store"
)

// BackendType names a store implementation selectable through DATA_BACKEND.
type BackendType string

const (
	MemoryBackend BackendType = "memory"
	SQLiteBackend BackendType = "sqlite"
	MongoBackend  BackendType = "mongo"
)

var backendTypes = []BackendType{MemoryBackend, SQLiteBackend, MongoBackend}

func (bt BackendType) String() string { return string(bt) }

func (bt BackendType) IsValid() bool { return slices.Contains(backendTypes, bt) }

// GetBackendTypes lists the supported backends in preference order for tests
// and help output.
func GetBackendTypes() []BackendType { return slices.Clone(backendTypes) }

// Config selects one backend and carries only the settings it reads.
type Config struct {
	Type          BackendType
	SQLiteDBPath  string
	MongoURI      string
	MongoDatabase string
}

// BackendResult is an opened store. Cleanup releases its connections and
// must be called once the process stops using Store.
type BackendResult struct {
	Store   store.Store
	Cleanup func() error
}

// Factory opens the store described by a Config.
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

var errNilAppConfig = errors.New("backend: nil app config")

// FromAppConfig picks the backend settings out of the process config.
func FromAppConfig(cfg *config.Config) (Config, error) {
	if cfg == nil {
		return Config{}, errNilAppConfig
	}
	c := Config{
		Type:          BackendType(cfg.DataBackend),
		SQLiteDBPath:  cfg.SQLiteDBPath,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
	}
	if !c.Type.IsValid() {
		return Config{}, fmt.Errorf("DATA_BACKEND %q is not one of %v", cfg.DataBackend, backendTypes)
	}
	return c, nil
}

func (c Config) Validate() error {
	switch c.Type {
	case MemoryBackend:
		return nil
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return errors.New("sqlite backend needs SQLITE_DB_PATH")
		}
		return nil
	case MongoBackend:
		if c.MongoURI == "" || c.MongoDatabase == "" {
			return errors.New("mongo backend needs MONGO_URI and MONGO_DATABASE")
		}
		return nil
	default:
		return fmt.Errorf("unknown backend %q", c.Type)
	}
}

package persist

import (
	"fmt"
	"path/filepath"
	"strings"

	"pkt.systems/pslog"
)

// Supported store drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config selects and configures a store backend.
type Config struct {
	Driver    string
	Dir       string
	Path      string
	Namespace string
}

// Open constructs the store selected by cfg.Driver.
func Open(cfg Config, logger pslog.Logger) (Store, error) {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverFile
	}
	if logger != nil {
		logger = logger.With("store", driver)
	}
	switch driver {
	case DriverFile:
		return NewFileStoreWithLogger(cfg.Dir, namespace, logger)
	case DriverSQLite:
		path := cfg.Path
		if path == "" && cfg.Dir != "" {
			path = filepath.Join(cfg.Dir, "tabrotor.db")
		}
		return NewSQLiteStore(path, namespace, logger)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

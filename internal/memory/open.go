package memory

import (
	"fmt"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendSQLite   = "sqlite"
	BackendFile     = "file"
	BackendSemantic = "semantic"
)

// Config selects and locates a memory backend.
type Config struct {
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	Compress bool   `yaml:"compress"`
}

// Open creates the configured backend. An empty path places the store under dir.
func Open(cfg Config, dir string) (Store, error) {
	path := cfg.Path
	switch cfg.Backend {
	case "", BackendSQLite:
		if path == "" {
			path = filepath.Join(dir, "memory.db")
		}
		return NewSQLiteStore(path)
	case BackendFile:
		if path == "" {
			path = filepath.Join(dir, "memory.jsonl")
		}
		return NewFileStore(path)
	case BackendSemantic:
		if path == "" {
			path = filepath.Join(dir, "semantic")
		}
		return NewSemanticStore(path, cfg.Compress)
	default:
		return nil, fmt.Errorf("unknown memory backend %q (want sqlite, file or semantic)", cfg.Backend)
	}
}

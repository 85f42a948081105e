// Package llm defines the contract between the embedding driver and the
// inference backends that load models and compute embeddings.
package llm

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type BackendConfig struct {
	Threads    int
	Host       string
	HTTPClient *http.Client
	Logger     *logrus.Logger
}

type Factory func(cfg BackendConfig) (Loader, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Factory)
)

// Register makes a backend available by name. It panics if the name is taken
// or the factory is nil.
func Register(name string, factory Factory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	if factory == nil {
		panic("llm: Register factory is nil")
	}
	if _, dup := backends[name]; dup {
		panic("llm: Register called twice for backend " + name)
	}
	backends[name] = factory
}

func Open(name string, cfg BackendConfig) (Loader, error) {
	backendsMu.RLock()
	factory, ok := backends[name]
	backendsMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown backend %q (available: %s)", name, strings.Join(Backends(), ", "))
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return factory(cfg)
}

func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

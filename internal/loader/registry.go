package loader

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/livinlefevreloca/prewarm/internal/clock"
	"github.com/livinlefevreloca/prewarm/internal/prefetch"
)

// Target sources
const (
	SourceHTTP      = "http"
	SourceSynthetic = "synthetic"
)

// Spec describes one configured target
type Spec struct {
	ID     string `toml:"id"`
	Source string `toml:"source"`
	Kind   Kind   `toml:"kind"`

	// Hover delay for trigger points on this target; zero uses the default
	Delay time.Duration `toml:"delay"`

	// http
	URL string `toml:"url"`

	// synthetic
	Duration time.Duration `toml:"duration"`
	Size     int           `toml:"size"`
}

// Validate checks the spec and fills in the default kind
func (s *Spec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id must be specified", ErrInvalidSpec)
	}
	if s.Kind == "" {
		s.Kind = KindPrefetch
	}
	if s.Delay < 0 {
		return fmt.Errorf("%w: target %s has negative delay", ErrInvalidSpec, s.ID)
	}
	if !s.Kind.Valid() {
		return fmt.Errorf("%w: target %s has unknown kind %q", ErrInvalidSpec, s.ID, s.Kind)
	}

	switch s.Source {
	case SourceHTTP:
		if s.URL == "" {
			return fmt.Errorf("%w: http target %s needs a url", ErrInvalidSpec, s.ID)
		}
	case SourceSynthetic:
		if s.Duration < 0 {
			return fmt.Errorf("%w: synthetic target %s has negative duration", ErrInvalidSpec, s.ID)
		}
		if s.Size < 0 {
			return fmt.Errorf("%w: synthetic target %s has negative size", ErrInvalidSpec, s.ID)
		}
	default:
		return fmt.Errorf("%w: target %s has unknown source %q (must be http or synthetic)", ErrInvalidSpec, s.ID, s.Source)
	}
	return nil
}

// Registry holds the known targets and builds their loaders
type Registry struct {
	config Config
	clock  clock.Clock
	client *http.Client
	cache  *Cache
	logger *slog.Logger

	mu           sync.RWMutex
	specs        map[string]Spec
	interceptors []Interceptor
}

// NewRegistry creates an empty registry
func NewRegistry(config Config, clk clock.Clock, logger *slog.Logger) *Registry {
	return &Registry{
		config: config,
		clock:  clk,
		client: &http.Client{Timeout: config.Timeout},
		cache:  NewCache(config.Timeout, logger),
		logger: logger,
		specs:  make(map[string]Spec),
	}
}

// SetHTTPClient replaces the client used by http targets
func (r *Registry) SetHTTPClient(client *http.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.client = client
}

// Use appends interceptors to the chain applied to every load
func (r *Registry) Use(interceptors ...Interceptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interceptors = append(r.interceptors, interceptors...)
}

// Register adds a target
func (r *Registry) Register(spec Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specs[spec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTarget, spec.ID)
	}
	r.specs[spec.ID] = spec

	r.logger.Debug("target registered",
		"trigger_id", spec.ID,
		"source", spec.Source,
		"kind", string(spec.Kind))
	return nil
}

// Lookup returns the spec registered under id
func (r *Registry) Lookup(id string) (Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.specs[id]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", ErrUnknownTarget, id)
	}
	return spec, nil
}

// Specs returns every registered target ordered by ID
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]Spec, 0, len(r.specs))
	for _, spec := range r.specs {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs
}

// Cache returns the warm cache shared by all targets
func (r *Registry) Cache() *Cache {
	return r.cache
}

// Loader returns the intercepted loader for id, without caching
func (r *Registry) Loader(id string) (Loader, error) {
	spec, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	client := r.client
	chain := Chain(r.interceptors...)
	r.mu.RUnlock()

	var base Loader
	switch spec.Source {
	case SourceHTTP:
		base = HTTPLoader(client, spec.URL, r.config.UserAgent)
	case SourceSynthetic:
		base = SyntheticLoader(r.clock, spec.Duration, spec.Size)
	default:
		return nil, fmt.Errorf("%w: target %s has unknown source %q", ErrInvalidSpec, id, spec.Source)
	}

	return chain(id, spec.Kind, base), nil
}

// Target returns a prefetch target for id whose loads go through the
// interceptor chain and the warm cache
func (r *Registry) Target(id string) (prefetch.Target, error) {
	load, err := r.Loader(id)
	if err != nil {
		return prefetch.Target{}, err
	}

	return prefetch.Target{
		ID: id,
		Load: func(ctx context.Context) error {
			_, _, err := r.cache.Warm(ctx, id, load)
			return err
		},
	}, nil
}

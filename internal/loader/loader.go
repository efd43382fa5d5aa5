// Package loader turns configured targets into prefetch triggers. Every load
// goes through an explicit interceptor chain, and results are kept in a warm
// cache so a resource is fetched at most once.
package loader

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies the resource a target loads
type Kind string

const (
	KindJS       Kind = "js"
	KindCSS      Kind = "css"
	KindPrefetch Kind = "prefetch"
	KindXHR      Kind = "xhr"
)

// Kinds lists every kind in display order
var Kinds = []Kind{KindJS, KindCSS, KindPrefetch, KindXHR}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Result describes a finished load
type Result struct {
	Bytes  int64  `json:"bytes"`
	Status string `json:"status"`

	// Aggregate computed by synthetic targets
	Value float64 `json:"value,omitempty"`
}

// Loader performs one load and blocks until it finishes or ctx ends
type Loader func(ctx context.Context) (Result, error)

// Interceptor wraps the loader of target id. Interceptors observe or
// decorate loads; they are registered explicitly instead of patching the
// transport.
type Interceptor func(id string, kind Kind, next Loader) Loader

// Chain composes interceptors; the first one is outermost
func Chain(interceptors ...Interceptor) Interceptor {
	return func(id string, kind Kind, next Loader) Loader {
		for i := len(interceptors) - 1; i >= 0; i-- {
			next = interceptors[i](id, kind, next)
		}
		return next
	}
}

// Config holds loader settings
type Config struct {
	// Upper bound for one load, including loads detached from a cancelled caller
	Timeout time.Duration `toml:"timeout" env:"TIMEOUT"`

	// User-Agent sent by HTTP targets
	UserAgent string `toml:"user_agent" env:"USER_AGENT"`
}

// DefaultConfig returns loader defaults
func DefaultConfig() Config {
	return Config{
		Timeout:   30 * time.Second,
		UserAgent: "prewarm/1.0",
	}
}

// Validate returns an error describing the first invalid setting
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("Timeout must be positive, got %v", c.Timeout)
	}
	return nil
}

// Standard errors
var (
	ErrUnknownTarget   = errors.New("loader: unknown target")
	ErrDuplicateTarget = errors.New("loader: duplicate target")
	ErrInvalidSpec     = errors.New("loader: invalid target spec")
)

// StatusError is returned by HTTP targets answering with a non-2xx status
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("loader: GET %s returned %d", e.URL, e.Code)
}

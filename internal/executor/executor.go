// Package executor defines the executor contract (§4.F) and a registry of
// script-type tags ("Application", "Chef", "Puppet") to executor factories.
//
// Ported from muranoagent.executors: a decorator-registered factory map
// (@executors.executor('Application')) backed by Executors.create_executor.
// The registry itself follows the database/sql-style global registry the
// teacher repo uses for its own decorator lookups (core/decorator/registry.go).
package executor

import (
	"fmt"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/kestrel-ops/guestagent/internal/plan"
)

// Executor runs one script once Load has bound it to a materialised path.
type Executor interface {
	// Load binds the executor to path (the script's entry point file, or the
	// script's cache directory for Chef/Puppet) and its plan-supplied options.
	Load(path string, options map[string]any) error

	// Run invokes function (the called method on the script handle, or ""
	// for a bare call) with the Body-language call's positional arguments
	// and returns the {exitCode, stdout, stderr} envelope.
	Run(function string, args ...any) (plan.ExecutorResult, error)
}

// Factory constructs a fresh Executor for one script named name.
type Factory func(name string) Executor

// Registry maps script Type tags to executor factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for tag.
func (r *Registry) Register(tag string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[tag] = f
}

// Create builds the executor for tag, naming the resulting instance name.
// An unknown tag is reported with the closest registered tag as a "did you
// mean" hint, via fuzzy string matching over the registered set.
func (r *Registry) Create(tag, name string) (Executor, error) {
	r.mu.RLock()
	f, ok := r.factories[tag]
	if ok {
		r.mu.RUnlock()
		return f(name), nil
	}
	tags := make([]string, 0, len(r.factories))
	for t := range r.factories {
		tags = append(tags, t)
	}
	r.mu.RUnlock()

	if suggestion := closest(tag, tags); suggestion != "" {
		return nil, fmt.Errorf("unknown executor type %q; did you mean %q?", tag, suggestion)
	}
	return nil, fmt.Errorf("unknown executor type %q", tag)
}

func closest(tag string, candidates []string) string {
	matches := fuzzy.RankFindFold(tag, candidates)
	if len(matches) == 0 {
		return ""
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if m.Distance < best.Distance {
			best = m
		}
	}
	return best.Target
}

// Global is the process-wide executor registry every built-in executor
// package registers itself into from its init().
var Global = NewRegistry()

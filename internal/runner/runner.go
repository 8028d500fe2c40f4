// Package runner evaluates one execution plan's Body against its Scripts
// (§4.G): each Script becomes a lazily-loaded executor handle, bound into
// the Body expression language (component L, ast.go/lexer.go/parser.go/
// eval.go) as a callable. Disposing a Runner always releases its artifact
// cache, mirroring ExecutionPlanRunner's __enter__/__exit__ contract.
//
// Ported from muranoagent/execution_plan_runner.py and script_runner.py.
package runner

import (
	"fmt"
	"log/slog"

	"github.com/kestrel-ops/guestagent/internal/artifacts"
	"github.com/kestrel-ops/guestagent/internal/executor"
	"github.com/kestrel-ops/guestagent/internal/plan"
)

// Runner evaluates one plan's Body.
type Runner struct {
	plan    *plan.Plan
	program *Program
	handles map[string]Caller
	cache   *artifacts.Cache
	logger  *slog.Logger
}

// New parses p.Body and binds every one of p.Scripts to an executor handle,
// ready to Run.
func New(p *plan.Plan, cache *artifacts.Cache, registry *executor.Registry, logger *slog.Logger) (*Runner, error) {
	prog, err := Parse(p.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing plan Body: %w", err)
	}

	handles := make(map[string]Caller, len(p.Scripts))
	for name, script := range p.Scripts {
		tag := script.Type
		// Application executors are named after the script key (used in
		// their error messages); Chef/Puppet are named after the
		// module::recipe EntryPoint, which they parse on first Call.
		executorName := name
		if tag != plan.TypeApplication {
			executorName = script.EntryPoint
		}
		exec, err := registry.Create(tag, executorName)
		if err != nil {
			return nil, fmt.Errorf("script %s: %w", name, err)
		}
		handles[name] = &scriptHandle{
			name:   name,
			script: script,
			cache:  cache,
			exec:   exec,
			logger: logger,
		}
	}

	return &Runner{plan: p, program: prog, handles: handles, cache: cache, logger: logger}, nil
}

// Run evaluates the Body and returns its result (nil if the Body never
// returns a value).
func (r *Runner) Run() (any, error) {
	params := r.plan.Parameters
	if params == nil {
		params = map[string]any{}
	}
	return Eval(r.program, r.handles, params)
}

// Dispose releases the plan's artifact cache. Safe to call even if Run was
// never invoked or failed.
func (r *Runner) Dispose() error {
	return r.cache.Clear()
}

// scriptHandle binds one Plan.Scripts entry to its executor, loading the
// executor (and materialising its files) on first Call, exactly once.
type scriptHandle struct {
	name   string
	script plan.Script
	cache  *artifacts.Cache
	exec   executor.Executor
	logger *slog.Logger

	loaded bool
}

func (h *scriptHandle) Call(method string, args ...any) (plan.ExecutorResult, error) {
	if !h.loaded {
		if err := h.load(); err != nil {
			return plan.ExecutorResult{}, err
		}
		h.loaded = true
	}
	return h.exec.Run(method, args...)
}

func (h *scriptHandle) load() error {
	for _, ref := range h.script.Files {
		if _, err := h.cache.PutRef(ref, h.name); err != nil {
			return fmt.Errorf("script %s: materialising file %s: %w", h.name, ref.FileID, err)
		}
	}

	var path string
	var err error
	if h.script.Type == plan.TypeApplication {
		path, err = h.cache.PutEntryPoint(h.script.EntryPoint, h.name)
	} else {
		path, err = h.cache.ScriptDir(h.name)
	}
	if err != nil {
		return err
	}

	return h.exec.Load(path, h.script.Options)
}

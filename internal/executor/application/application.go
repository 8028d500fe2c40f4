// Package application implements the "Application" executor (§4.F): it runs
// a single materialised script file as a shell command.
//
// Ported from muranoagent/executors/application/__init__.py.
package application

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kestrel-ops/guestagent/internal/executor"
	"github.com/kestrel-ops/guestagent/internal/plan"
)

func init() {
	executor.Global.Register(plan.TypeApplication, func(name string) executor.Executor {
		return &Executor{name: name}
	})
}

// Executor runs a single script file, chmod'd executable, via the shell.
type Executor struct {
	name string
	path string
	opts executor.Options
}

// Load binds path to the materialised entry-point file.
func (e *Executor) Load(path string, options map[string]any) error {
	e.path = path
	e.opts = executor.OptionsFromMap(options)
	return nil
}

// Run chmods the entry point executable and invokes it with the given
// commandline (args[0], if present, joined verbatim) as a shell command run
// from the entry point's directory.
func (e *Executor) Run(function string, args ...any) (plan.ExecutorResult, error) {
	if err := os.Chmod(e.path, 0o700); err != nil {
		return plan.ExecutorResult{}, fmt.Errorf("chmod %s: %w", e.path, err)
	}

	dir := filepath.Dir(e.path)
	base := filepath.Base(e.path)

	commandline := ""
	if len(args) > 0 {
		commandline = fmt.Sprint(args[0])
	}

	command := fmt.Sprintf(`./"%s" %s`, base, commandline)
	return executor.RunShell(dir, command, e.name, e.opts)
}

// Package puppet implements the "Puppet" executor (§4.F): it generates a
// minimal manifest.pp and hiera data for a single module::class and applies
// it with puppet apply.
//
// Ported from muranoagent/executors/puppet/__init__.py.
package puppet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kestrel-ops/guestagent/internal/agenterr"
	"github.com/kestrel-ops/guestagent/internal/executor"
	"github.com/kestrel-ops/guestagent/internal/plan"
)

func init() {
	executor.Global.Register(plan.TypePuppet, func(name string) executor.Executor {
		return &Executor{name: name}
	})
}

// Executor applies a single puppet module::class via puppet apply.
type Executor struct {
	name string
	path string
	opts executor.Options

	module string
	class  string
}

// Load binds path to the script's cache directory.
func (e *Executor) Load(path string, options map[string]any) error {
	e.path = path
	e.opts = executor.OptionsFromMap(options)
	return nil
}

// Run generates manifest.pp/hiera.yaml/default.yaml and invokes puppet
// apply. recipeAttributes (args[0], if present) becomes hiera data scoped
// under the module name.
func (e *Executor) Run(function string, args ...any) (plan.ExecutorResult, error) {
	if !strings.Contains(e.name, "::") {
		return plan.ExecutorResult{}, agenterr.CustomException(0, nil, "Module recipe name format %s is not valid", e.name)
	}
	idx := strings.LastIndex(e.name, "::")
	e.module = e.name[:idx]
	e.class = e.name[idx+2:]

	var recipeAttributes map[string]any
	if len(args) > 0 {
		recipeAttributes, _ = args[0].(map[string]any)
	}

	if err := e.configureHiera(); err != nil {
		return plan.ExecutorResult{}, err
	}
	if err := e.generateFiles(recipeAttributes); err != nil {
		return plan.ExecutorResult{}, err
	}

	command := fmt.Sprintf("puppet apply --hiera_config=hiera.yaml --modulepath %s manifest.pp", e.path)
	return executor.RunShell(e.path, command, e.name, e.opts)
}

func (e *Executor) configureHiera() error {
	path := filepath.Join(e.path, "hiera.yaml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data := map[string]any{
		"backends":  "yaml",
		"logger":    "console",
		"hierarchy": "%{env}",
		"yaml":      map[string]any{"datadir": "/etc/puppet/hieradata"},
	}
	return writeYAML(path, data)
}

func (e *Executor) generateFiles(recipeAttributes map[string]any) error {
	manifest := e.manifest()
	if err := os.WriteFile(filepath.Join(e.path, "manifest.pp"), []byte(manifest), 0o600); err != nil {
		return err
	}
	if recipeAttributes == nil {
		return nil
	}

	hiera := make(map[string]any, len(recipeAttributes))
	for k, v := range recipeAttributes {
		hiera[e.module+"::"+k] = v
	}
	return writeYAML(filepath.Join(e.path, "default.yaml"), hiera)
}

func (e *Executor) manifest() string {
	if e.class == "" {
		return fmt.Sprintf("node 'default' { class { %s: } }", e.module)
	}
	return fmt.Sprintf("node 'default' { class { %s::%s: } }", e.module, e.class)
}

func writeYAML(path string, data any) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}

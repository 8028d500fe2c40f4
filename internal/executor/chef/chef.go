// Package chef implements the "Chef" executor (§4.F): it runs a chef-solo
// convergence of a single cookbook::recipe against a generated node.json and
// solo.rb, optionally vendoring the cookbook's dependencies with Berkshelf.
//
// Ported from muranoagent/executors/chef/__init__.py, sharing the
// chef_puppet_executor_base.py module-name parsing and command execution
// with the puppet executor.
package chef

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kestrel-ops/guestagent/internal/agenterr"
	"github.com/kestrel-ops/guestagent/internal/executor"
	"github.com/kestrel-ops/guestagent/internal/plan"
)

func init() {
	executor.Global.Register(plan.TypeChef, func(name string) executor.Executor {
		return &Executor{name: name}
	})
}

// Executor runs chef-solo against one cookbook::recipe pair.
type Executor struct {
	name string
	path string
	opts executor.Options

	useBerkshelf  bool
	berksfilePath string

	module string
	recipe string
}

// Load binds path to the script's cache directory (name, the EntryPoint,
// is parsed lazily on Run since it must be module::recipe).
func (e *Executor) Load(path string, options map[string]any) error {
	e.path = path
	e.opts = executor.OptionsFromMap(options)
	if v, ok := options["useBerkshelf"].(bool); ok {
		e.useBerkshelf = v
	}
	if v, ok := options["berksfilePath"].(string); ok {
		e.berksfilePath = v
	}
	return nil
}

// Run generates node.json/solo.rb and invokes chef-solo. recipeAttributes
// (args[0], if present) becomes the node attribute namespace for the
// cookbook.
func (e *Executor) Run(function string, args ...any) (plan.ExecutorResult, error) {
	if err := e.validModuleName(); err != nil {
		return plan.ExecutorResult{}, err
	}

	var recipeAttributes map[string]any
	if len(args) > 0 {
		recipeAttributes, _ = args[0].(map[string]any)
	}

	cookbookPath, err := e.cookbookPath()
	if err != nil {
		return plan.ExecutorResult{}, err
	}
	if err := e.configure(cookbookPath); err != nil {
		return plan.ExecutorResult{}, err
	}
	if err := e.generateManifest(recipeAttributes); err != nil {
		return plan.ExecutorResult{}, err
	}

	soloFile := filepath.Join(e.path, "solo.rb")
	command := fmt.Sprintf("chef-solo -j node.json -c %s", soloFile)
	return executor.RunShell(e.path, command, e.name, e.opts)
}

func (e *Executor) validModuleName() error {
	if err := validateName(e.name); err != nil {
		return err
	}
	idx := strings.LastIndex(e.name, "::")
	e.module = e.name[:idx]
	e.recipe = e.name[idx+2:]
	return nil
}

func validateName(name string) error {
	if !strings.Contains(name, "::") {
		return agenterr.CustomException(0, nil, "Module recipe name format %s is not valid", name)
	}
	return nil
}

func (e *Executor) cookbookPath() (string, error) {
	abs, err := filepath.Abs(e.path)
	if err != nil {
		return "", err
	}
	if !e.useBerkshelf {
		return abs, nil
	}

	berksfilePath := e.berksfilePath
	if berksfilePath == "" {
		berksfilePath = e.module + "/Berksfile"
	}
	berksfile := filepath.Join(abs, berksfilePath)
	if _, err := os.Stat(berksfile); err != nil {
		return "", agenterr.CustomException(0, nil, "Berksfile %s not found", berksfile)
	}

	cookbookPath := filepath.Join(abs, "berks-cookbooks")
	if err := os.MkdirAll(cookbookPath, 0o700); err != nil {
		return "", fmt.Errorf("creating berks-cookbooks: %w", err)
	}

	command := fmt.Sprintf("berks vendor --berksfile=%s %s", berksfile, cookbookPath)
	result, err := executor.RunShell(abs, command, e.name, executor.Options{CaptureStdout: true, CaptureStderr: true, VerifyExitcode: false})
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", agenterr.CustomException(0, result, "Berks returned error code")
	}
	return cookbookPath, nil
}

func (e *Executor) configure(cookbookPath string) error {
	soloFile := filepath.Join(e.path, "solo.rb")
	if _, err := os.Stat(soloFile); err == nil {
		return nil
	}
	if err := os.MkdirAll(e.path, 0o700); err != nil {
		return err
	}
	content := fmt.Sprintf(`cookbook_path "%s"`, cookbookPath)
	return os.WriteFile(soloFile, []byte(content), 0o600)
}

func (e *Executor) generateManifest(recipeAttributes map[string]any) error {
	node := map[string]any{
		"run_list": []string{fmt.Sprintf("recipe[%s::%s]", e.module, e.recipe)},
	}
	if recipeAttributes != nil {
		node[e.module] = recipeAttributes
	}
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(e.path, "node.json"), data, 0o600)
}

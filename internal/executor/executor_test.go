package executor

import (
	"strings"
	"testing"

	"github.com/kestrel-ops/guestagent/internal/plan"
)

type fakeExecutor struct{ name string }

func (f *fakeExecutor) Load(string, map[string]any) error { return nil }
func (f *fakeExecutor) Run(string, ...any) (plan.ExecutorResult, error) {
	return plan.ExecutorResult{}, nil
}

func TestRegisterAndCreate(t *testing.T) {
	r := NewRegistry()
	r.Register("Application", func(name string) Executor { return &fakeExecutor{name: name} })

	e, err := r.Create("Application", "deploy")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if e.(*fakeExecutor).name != "deploy" {
		t.Errorf("got name %q", e.(*fakeExecutor).name)
	}
}

func TestCreateUnknownTagSuggestsClosestMatch(t *testing.T) {
	r := NewRegistry()
	r.Register("Application", func(name string) Executor { return &fakeExecutor{name: name} })
	r.Register("Chef", func(name string) Executor { return &fakeExecutor{name: name} })

	_, err := r.Create("Aplication", "deploy")
	if err == nil {
		t.Fatal("expected an error for an unregistered tag")
	}
	if !strings.Contains(err.Error(), "Application") {
		t.Errorf("expected suggestion to mention Application, got: %v", err)
	}
}

package runner

import (
	"fmt"

	"github.com/kestrel-ops/guestagent/internal/plan"
)

// Caller is what a parsed CallExpr invokes: a bound, lazily-loaded script.
type Caller interface {
	Call(method string, args ...any) (plan.ExecutorResult, error)
}

// Eval runs prog against handles (script name -> bound Caller) and params
// (the plan's Parameters, exposed as args.<name>), returning the value of
// its last "return" statement, or nil if the Body never returns one.
func Eval(prog *Program, handles map[string]Caller, params map[string]any) (any, error) {
	var result any
	for _, stmt := range prog.Statements {
		v, err := evalCall(stmt.Call, handles, params)
		if err != nil {
			return nil, err
		}
		if stmt.Return {
			result = v
		}
	}
	return result, nil
}

func evalCall(call CallExpr, handles map[string]Caller, params map[string]any) (any, error) {
	handle, ok := handles[call.Script]
	if !ok {
		return nil, fmt.Errorf("Body refers to unknown script %q", call.Script)
	}

	args := make([]any, len(call.Args))
	for i, a := range call.Args {
		v, err := evalValue(a, params)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	result, err := handle.Call(call.Method, args...)
	if err != nil {
		return nil, err
	}

	if call.Field == "" {
		return result, nil
	}
	switch call.Field {
	case "stdout":
		return result.Stdout, nil
	case "stderr":
		return result.Stderr, nil
	case "exitCode":
		return result.ExitCode, nil
	default:
		return nil, fmt.Errorf("executor result has no field %q", call.Field)
	}
}

func evalValue(v Value, params map[string]any) (any, error) {
	switch v.Kind {
	case KindString:
		return v.Str, nil
	case KindNumber:
		return v.Num, nil
	case KindBool:
		return v.Bool, nil
	case KindNull:
		return nil, nil
	case KindArgsRef:
		if v.ArgsField == "" {
			return params, nil
		}
		return params[v.ArgsField], nil
	case KindMap:
		m := make(map[string]any, len(v.Map))
		for k, inner := range v.Map {
			val, err := evalValue(inner, params)
			if err != nil {
				return nil, err
			}
			m[k] = val
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unevaluable value kind %d", v.Kind)
	}
}

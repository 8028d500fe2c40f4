package validate

import (
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// topLevelSchema is the structural shape every plan document must satisfy
// before the hand-written cross-field rules in validate.go run: Scripts and
// Files are required objects, Options (when present) is an object too.
// Compiling this once mirrors the teacher's own compileSchema pattern in
// core/types/validation.go (jsonschema.NewCompiler + AddResource + Compile),
// minus the $ref-loading machinery this fixed, local schema has no use for.
const topLevelSchemaJSON = `{
  "type": "object",
  "required": ["Scripts", "Files"],
  "properties": {
    "Scripts": {"type": "object"},
    "Files": {"type": "object"},
    "Options": {"type": "object"}
  }
}`

var (
	schemaOnce    sync.Once
	compiledShape *jsonschema.Schema
	compileErr    error
)

func topLevelShape() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		const url = "schema://guestagent/plan.json"
		if err := compiler.AddResource(url, strings.NewReader(topLevelSchemaJSON)); err != nil {
			compileErr = err
			return
		}
		compiledShape, compileErr = compiler.Compile(url)
	})
	return compiledShape, compileErr
}

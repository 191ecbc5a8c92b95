package metadata

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Record is the raw view of an entity handed to generators: column values
// keyed by field name, relation fields holding identifiers.
type Record map[string]any

// Generator computes the value of an additional field.
type Generator interface {
	Generate(Record) (any, error)
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func(Record) (any, error)

func (f GeneratorFunc) Generate(r Record) (any, error) { return f(r) }

type AdditionalField struct {
	Name      string
	Help      string
	Generator Generator
}

type expressionGenerator struct {
	source  string
	program *vm.Program
}

// CompileExpression compiles an expr-lang expression evaluated against
// `record`, e.g. `record.yes_votes + record.no_votes`.
func CompileExpression(source string) (Generator, error) {
	env := map[string]any{"record": map[string]any{}}
	prog, err := expr.Compile(source, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	return &expressionGenerator{source: source, program: prog}, nil
}

func (g *expressionGenerator) Generate(r Record) (any, error) {
	out, err := expr.Run(g.program, map[string]any{"record": map[string]any(r)})
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", g.source, err)
	}
	return out, nil
}

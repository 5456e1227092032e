package expressions

import "context"

// Engine evaluates expressions within a turn's scope.
// Three implementations: CEL (tool guard conditions), GoJQ (payload field
// extraction), Expr (parameter interpolation).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

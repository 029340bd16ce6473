package narration

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
)

// Policy decides which tool calls need a human decision.
type Policy interface {
	RequiresApproval(def ToolDefinition) bool
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(def ToolDefinition) bool

func (f PolicyFunc) RequiresApproval(def ToolDefinition) bool { return f(def) }

// ReadOnlyPolicy auto-approves side-effect-free tools only.
var ReadOnlyPolicy = PolicyFunc(func(def ToolDefinition) bool { return !def.ReadOnly })

// ExpressionPolicy auto-approves tools for which the expression evaluates
// to true. The expression sees `tool` (string) and `readOnly` (bool).
type ExpressionPolicy struct {
	source string
	expr   *govaluate.EvaluableExpression
}

// NewExpressionPolicy compiles an auto-approval expression, e.g.
// `readOnly || tool == 'next_turn'`.
func NewExpressionPolicy(source string) (*ExpressionPolicy, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		source = "readOnly"
	}
	expr, err := govaluate.NewEvaluableExpression(source)
	if err != nil {
		return nil, fmt.Errorf("approval policy %q: %w", source, err)
	}
	return &ExpressionPolicy{source: source, expr: expr}, nil
}

// RequiresApproval fails closed: evaluation errors and non-boolean results
// require a decision.
func (p *ExpressionPolicy) RequiresApproval(def ToolDefinition) bool {
	result, err := p.expr.Evaluate(map[string]interface{}{
		"tool":     def.Name,
		"readOnly": def.ReadOnly,
	})
	if err != nil {
		return true
	}
	auto, ok := result.(bool)
	return !ok || !auto
}

func (p *ExpressionPolicy) String() string { return p.source }

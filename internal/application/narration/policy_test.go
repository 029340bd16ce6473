package narration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadOnlyPolicy(t *testing.T) {
	assert.False(t, ReadOnlyPolicy.RequiresApproval(ToolDefinition{Name: "roll_dice", ReadOnly: true}))
	assert.True(t, ReadOnlyPolicy.RequiresApproval(ToolDefinition{Name: "start_combat"}))
}

func TestExpressionPolicy(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		def      ToolDefinition
		approval bool
	}{
		{"default read only", "", ToolDefinition{Name: "list_party", ReadOnly: true}, false},
		{"default mutating", "", ToolDefinition{Name: "next_turn"}, true},
		{"named tool allowed", "readOnly || tool == 'next_turn'", ToolDefinition{Name: "next_turn"}, false},
		{"other tool still gated", "readOnly || tool == 'next_turn'", ToolDefinition{Name: "end_combat"}, true},
		{"always ask", "false", ToolDefinition{Name: "roll_dice", ReadOnly: true}, true},
		{"non boolean fails closed", "tool", ToolDefinition{Name: "roll_dice", ReadOnly: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewExpressionPolicy(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.approval, p.RequiresApproval(tt.def))
		})
	}
}

func TestExpressionPolicy_InvalidExpression(t *testing.T) {
	_, err := NewExpressionPolicy("readOnly ||")
	assert.Error(t, err)
}

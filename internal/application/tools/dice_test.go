package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedRoller returns the given faces in order, cycling.
func fixedRoller(faces ...int) Roller {
	i := 0
	return Roller{intN: func(n int) int {
		v := faces[i%len(faces)]
		i++
		return v - 1
	}}
}

func TestRoll(t *testing.T) {
	tests := []struct {
		name   string
		expr   string
		faces  []int
		total  int
		detail string
	}{
		{"single die", "d20", []int{14}, 14, "[14]"},
		{"group with modifier", "2d6+3", []int{4, 5}, 12, "[4, 5]+3"},
		{"two groups", "1d8 + 1d4 - 1", []int{6, 2}, 7, "[6] + [2] - 1"},
		{"multiplication", "2*(1d6)", []int{3}, 6, "2*([3])"},
		{"plain arithmetic", "3+4", []int{1}, 7, "3+4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roll, err := fixedRoller(tt.faces...).Roll(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.total, roll.Total)
			assert.Equal(t, tt.detail, roll.Detail)
			assert.Equal(t, tt.expr, roll.Expression)
		})
	}
}

func TestRoll_Invalid(t *testing.T) {
	for _, expr := range []string{"", "roll a d20", "0d6", "101d6", "1d1", "1d6+", "1/0"} {
		_, err := fixedRoller(1).Roll(expr)
		assert.ErrorIs(t, err, ErrInvalidDice, expr)
	}
}

func TestRoll_WithinRange(t *testing.T) {
	r := NewRoller()
	for i := 0; i < 200; i++ {
		roll, err := r.Roll("3d6")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, roll.Total, 3)
		assert.LessOrEqual(t, roll.Total, 18)
	}
}

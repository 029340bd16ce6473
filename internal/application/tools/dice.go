package tools

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
)

const (
	maxDice  = 100
	maxSides = 1000
)

var (
	ErrInvalidDice = errors.New("invalid dice expression")

	dicePattern    = regexp.MustCompile(`(\d*)[dD](\d+)`)
	diceCharacters = regexp.MustCompile(`^[0-9dD+\-*/() ]+$`)
)

// DiceRoll is the outcome of one roll_dice call.
type DiceRoll struct {
	Expression string `json:"expression" jsonschema:"expression as submitted"`
	Detail     string `json:"detail" jsonschema:"expression with each die group replaced by its rolls"`
	Total      int    `json:"total" jsonschema:"final result"`
}

// Roller evaluates dice notation such as "2d6+3" or "d20 - 1".
type Roller struct {
	intN func(n int) int
}

func NewRoller() Roller {
	return Roller{intN: rand.IntN}
}

// Roll substitutes every NdM group with its sum, then evaluates the
// remaining arithmetic.
func (r Roller) Roll(expression string) (DiceRoll, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" || !diceCharacters.MatchString(expression) {
		return DiceRoll{}, fmt.Errorf("%w: %q", ErrInvalidDice, expression)
	}

	var arithmetic, shown strings.Builder
	last := 0
	for _, m := range dicePattern.FindAllStringSubmatchIndex(expression, -1) {
		arithmetic.WriteString(expression[last:m[0]])
		shown.WriteString(expression[last:m[0]])
		last = m[1]

		count := 1
		if m[2] != m[3] {
			count, _ = strconv.Atoi(expression[m[2]:m[3]])
		}
		sides, _ := strconv.Atoi(expression[m[4]:m[5]])
		if count < 1 || count > maxDice || sides < 2 || sides > maxSides {
			return DiceRoll{}, fmt.Errorf("%w: %s out of range", ErrInvalidDice, expression[m[0]:m[1]])
		}
		rolls := make([]string, count)
		sum := 0
		for i := range rolls {
			v := r.intN(sides) + 1
			sum += v
			rolls[i] = strconv.Itoa(v)
		}
		fmt.Fprintf(&arithmetic, "(%d)", sum)
		shown.WriteString("[" + strings.Join(rolls, ", ") + "]")
	}
	arithmetic.WriteString(expression[last:])
	shown.WriteString(expression[last:])

	expr, err := govaluate.NewEvaluableExpression(arithmetic.String())
	if err != nil {
		return DiceRoll{}, fmt.Errorf("%w: %v", ErrInvalidDice, err)
	}
	value, err := expr.Evaluate(nil)
	if err != nil {
		return DiceRoll{}, fmt.Errorf("%w: %v", ErrInvalidDice, err)
	}
	f, ok := value.(float64)
	if !ok || math.IsInf(f, 0) || math.IsNaN(f) {
		return DiceRoll{}, fmt.Errorf("%w: result is not a number", ErrInvalidDice)
	}
	return DiceRoll{
		Expression: expression,
		Detail:     shown.String(),
		Total:      int(math.Round(f)),
	}, nil
}

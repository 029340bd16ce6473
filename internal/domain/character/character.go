package character

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("character not found")

// Character is the read-only view of a player character or NPC sheet.
type Character struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Ancestry  string    `json:"ancestry,omitempty"`
	Class     string    `json:"class,omitempty"`
	Level     int       `json:"level"`
	HitPoints int       `json:"hitPoints"`
	MaxHP     int       `json:"maxHitPoints"`
	Armor     int       `json:"armorClass"`
	IsNPC     bool      `json:"isNpc"`
	Notes     string    `json:"notes,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary renders the one-line stat block handed to the narrator.
func (c *Character) Summary() string {
	var b strings.Builder
	b.WriteString(c.Name)
	desc := strings.TrimSpace(strings.Join(nonEmpty(c.Ancestry, c.Class), " "))
	if desc != "" {
		fmt.Fprintf(&b, " (%s", desc)
		if c.Level > 0 {
			fmt.Fprintf(&b, " %d", c.Level)
		}
		b.WriteString(")")
	}
	fmt.Fprintf(&b, " HP %d/%d AC %d", c.HitPoints, c.MaxHP, c.Armor)
	if c.IsNPC {
		b.WriteString(" [NPC]")
	}
	return b.String()
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tablehub/tablehub/internal/domain/character"
	"github.com/tablehub/tablehub/internal/domain/combat"
)

// CombatantInput is one entry of a start_combat request.
type CombatantInput struct {
	CharacterID string `json:"characterId,omitempty" jsonschema:"character id of a player character; omit for NPCs"`
	Name        string `json:"name" jsonschema:"display name of the combatant"`
	Initiative  int    `json:"initiative" jsonschema:"initiative roll; higher acts first"`
}

type StartCombatInput struct {
	Combatants []CombatantInput `json:"combatants" jsonschema:"every combatant taking part"`
}

type EmptyInput struct{}

type GetCharacterInput struct {
	CharacterID string `json:"characterId" jsonschema:"character id to look up"`
}

type RollDiceInput struct {
	Expression string `json:"expression" jsonschema:"dice notation such as 2d6+3 or d20-1"`
}

func readOnly() *mcp.ToolAnnotations {
	return &mcp.ToolAnnotations{ReadOnlyHint: true}
}

func StartCombatTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "start_combat",
		Description: "Start combat with the given combatants and initiative. Player turns are enforced until combat ends.",
	}
}

func NextTurnTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "next_turn",
		Description: "Advance combat to the next combatant in the turn order.",
	}
}

func EndCombatTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "end_combat",
		Description: "End combat and lift turn restrictions.",
	}
}

func CombatStateTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_combat_state",
		Description: "Show the current turn order and whose turn it is.",
		Annotations: readOnly(),
	}
}

func ListPartyTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "list_party",
		Description: "List the players at the table and their characters.",
		Annotations: readOnly(),
	}
}

func GetCharacterTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_character",
		Description: "Look up a character or NPC by id and return its stat summary.",
		Annotations: readOnly(),
	}
}

func RollDiceTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "roll_dice",
		Description: "Roll dice using standard notation and return each die and the total.",
		Annotations: readOnly(),
	}
}

func StartCombatHandler(table Table) mcp.ToolHandlerFor[StartCombatInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input StartCombatInput) (*mcp.CallToolResult, any, error) {
		entries := make([]combat.Entry, 0, len(input.Combatants))
		for _, c := range input.Combatants {
			name := strings.TrimSpace(c.Name)
			if name == "" {
				return nil, nil, fmt.Errorf("combatant name is required")
			}
			entries = append(entries, combat.Entry{
				Name:        name,
				CharacterID: strings.TrimSpace(c.CharacterID),
				Initiative:  c.Initiative,
			})
		}
		msg, err := table.StartCombat(entries)
		if err != nil {
			return nil, nil, err
		}
		return textResult(msg)
	}
}

func NextTurnHandler(table Table) mcp.ToolHandlerFor[EmptyInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
		msg, err := table.NextTurn()
		if err != nil {
			return nil, nil, err
		}
		return textResult(msg)
	}
}

func EndCombatHandler(table Table) mcp.ToolHandlerFor[EmptyInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
		msg, err := table.EndCombat()
		if err != nil {
			return nil, nil, err
		}
		return textResult(msg)
	}
}

func CombatStateHandler(table Table) mcp.ToolHandlerFor[EmptyInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
		return textResult(table.CombatSummary())
	}
}

func ListPartyHandler(table Table, characters character.Repository) mcp.ToolHandlerFor[EmptyInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
		members := table.Party()
		if len(members) == 0 {
			return textResult("Nobody is at the table.")
		}
		lines := make([]string, 0, len(members))
		for _, m := range members {
			line := m.Name
			if m.CharacterID != "" {
				line += " plays " + describeCharacter(ctx, characters, m.CharacterID)
			}
			if m.Authority {
				line += " [host]"
			}
			if !m.Connected {
				line += " [away]"
			}
			lines = append(lines, "- "+line)
		}
		return textResult(strings.Join(lines, "\n"))
	}
}

func GetCharacterHandler(characters character.Repository) mcp.ToolHandlerFor[GetCharacterInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input GetCharacterInput) (*mcp.CallToolResult, any, error) {
		id := strings.TrimSpace(input.CharacterID)
		if id == "" {
			return nil, nil, fmt.Errorf("characterId is required")
		}
		if characters == nil {
			return nil, nil, character.ErrNotFound
		}
		c, err := characters.GetByID(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("look up character: %w", err)
		}
		if c == nil {
			return nil, nil, fmt.Errorf("%w: %s", character.ErrNotFound, id)
		}
		text := c.Summary()
		if c.Notes != "" {
			text += "\n" + c.Notes
		}
		return textResult(text)
	}
}

func RollDiceHandler(roller Roller) mcp.ToolHandlerFor[RollDiceInput, DiceRoll] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input RollDiceInput) (*mcp.CallToolResult, DiceRoll, error) {
		roll, err := roller.Roll(input.Expression)
		if err != nil {
			return nil, DiceRoll{}, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{
				Text: fmt.Sprintf("%s = %s = %d", roll.Expression, roll.Detail, roll.Total),
			}},
		}, roll, nil
	}
}

func describeCharacter(ctx context.Context, characters character.Repository, id string) string {
	if characters == nil {
		return id
	}
	c, err := characters.GetByID(ctx, id)
	if err != nil || c == nil {
		return id
	}
	return c.Summary()
}

func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// Package tools exposes the table's capabilities to the narration engine
// through an in-process MCP server.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/tablehub/tablehub/internal/application/narration"
	"github.com/tablehub/tablehub/internal/domain/character"
	"github.com/tablehub/tablehub/internal/domain/combat"
)

const serverVersion = "v1.0.0"

// Member is one roster entry as the narrator sees it.
type Member struct {
	Name        string
	CharacterID string
	Authority   bool
	Connected   bool
}

// Table is the state the combat and party tools act on.
type Table interface {
	StartCombat(entries []combat.Entry) (string, error)
	NextTurn() (string, error)
	EndCombat() (string, error)
	CombatSummary() string
	Party() []Member
}

// Toolbox is a connected MCP client/server pair serving one table.
type Toolbox struct {
	server *mcp.ServerSession
	client *mcp.ClientSession
	defs   []narration.ToolDefinition
	logger zerolog.Logger
}

// New builds the tool server for table and connects a client to it.
// characters may be nil, in which case get_character reports unknown ids.
func New(ctx context.Context, table Table, characters character.Repository, logger zerolog.Logger) (*Toolbox, error) {
	return newToolbox(ctx, table, characters, NewRoller(), logger)
}

func newToolbox(ctx context.Context, table Table, characters character.Repository, roller Roller, logger zerolog.Logger) (*Toolbox, error) {
	server := mcp.NewServer(&mcp.Implementation{Name: "tablehub-table", Version: serverVersion}, nil)
	mcp.AddTool(server, StartCombatTool(), StartCombatHandler(table))
	mcp.AddTool(server, NextTurnTool(), NextTurnHandler(table))
	mcp.AddTool(server, EndCombatTool(), EndCombatHandler(table))
	mcp.AddTool(server, CombatStateTool(), CombatStateHandler(table))
	mcp.AddTool(server, ListPartyTool(), ListPartyHandler(table, characters))
	mcp.AddTool(server, GetCharacterTool(), GetCharacterHandler(characters))
	mcp.AddTool(server, RollDiceTool(), RollDiceHandler(roller))

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect tool server: %w", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "tablehub-narrator", Version: serverVersion}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		_ = ss.Close()
		return nil, fmt.Errorf("connect tool client: %w", err)
	}

	listed, err := cs.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		_ = cs.Close()
		_ = ss.Close()
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defs := make([]narration.ToolDefinition, 0, len(listed.Tools))
	for _, tool := range listed.Tools {
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		defs = append(defs, narration.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Schema:      schema,
			ReadOnly:    tool.Annotations != nil && tool.Annotations.ReadOnlyHint,
		})
	}

	return &Toolbox{
		server: ss,
		client: cs,
		defs:   defs,
		logger: logger.With().Str("component", "tools").Logger(),
	}, nil
}

func (t *Toolbox) Definitions() []narration.ToolDefinition {
	return t.defs
}

// Call invokes a tool and returns its text output. Tool-level failures are
// returned as errors carrying the tool's message.
func (t *Toolbox) Call(ctx context.Context, name string, input json.RawMessage) (string, error) {
	var args any = map[string]any{}
	if len(input) > 0 && string(input) != "null" {
		args = input
	}
	res, err := t.client.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("call %s: %w", name, err)
	}
	text := resultText(res)
	if res.IsError {
		t.logger.Debug().Str("tool", name).Str("error", text).Msg("tool reported error")
		return "", errors.New(text)
	}
	return text, nil
}

func (t *Toolbox) Close() error {
	return errors.Join(t.client.Close(), t.server.Close())
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

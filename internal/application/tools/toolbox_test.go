package tools

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/tablehub/tablehub/internal/domain/character"
	characterMocks "github.com/tablehub/tablehub/internal/domain/character/mocks"
	"github.com/tablehub/tablehub/internal/domain/combat"
)

type fakeTable struct {
	mu      sync.Mutex
	state   combat.State
	members []Member
}

func (f *fakeTable) StartCombat(entries []combat.Entry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.state.Start(entries); err != nil {
		return "", err
	}
	return "Combat started.", nil
}

func (f *fakeTable) NextTurn() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.state.Next()
	if err != nil {
		return "", err
	}
	return "It is " + e.Name + "'s turn.", nil
}

func (f *fakeTable) EndCombat() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.End()
	return "Combat ended.", nil
}

func (f *fakeTable) CombatSummary() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Describe()
}

func (f *fakeTable) Party() []Member {
	return f.members
}

func newTestToolbox(t *testing.T, table Table, characters character.Repository) *Toolbox {
	t.Helper()
	tb, err := newToolbox(context.Background(), table, characters, fixedRoller(4, 5), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tb.Close() })
	return tb
}

func TestToolbox_Definitions(t *testing.T) {
	tb := newTestToolbox(t, &fakeTable{}, nil)

	readOnly := map[string]bool{}
	for _, def := range tb.Definitions() {
		readOnly[def.Name] = def.ReadOnly
		assert.NotEmpty(t, def.Description, def.Name)
		assert.NotEmpty(t, def.Schema, def.Name)
	}
	assert.Equal(t, map[string]bool{
		"start_combat":     false,
		"next_turn":        false,
		"end_combat":       false,
		"get_combat_state": true,
		"list_party":       true,
		"get_character":    true,
		"roll_dice":        true,
	}, readOnly)
}

func TestToolbox_CombatFlow(t *testing.T) {
	table := &fakeTable{}
	tb := newTestToolbox(t, table, nil)
	ctx := context.Background()

	out, err := tb.Call(ctx, "start_combat", json.RawMessage(`{"combatants":[
		{"name":"Goblin","initiative":9},
		{"name":"Mira","characterId":"char-mira","initiative":17}
	]}`))
	require.NoError(t, err)
	assert.Equal(t, "Combat started.", out)

	state, err := tb.Call(ctx, "get_combat_state", nil)
	require.NoError(t, err)
	assert.Contains(t, state, "> Mira")

	out, err = tb.Call(ctx, "next_turn", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "It is Goblin's turn.", out)

	_, err = tb.Call(ctx, "end_combat", nil)
	require.NoError(t, err)

	_, err = tb.Call(ctx, "next_turn", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), combat.ErrNotInCombat.Error())
}

func TestToolbox_StartCombatRequiresNames(t *testing.T) {
	tb := newTestToolbox(t, &fakeTable{}, nil)
	_, err := tb.Call(context.Background(), "start_combat", json.RawMessage(`{"combatants":[{"name":" ","initiative":3}]}`))
	assert.Error(t, err)
}

func TestToolbox_GetCharacter(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	characters := characterMocks.NewMockRepository(ctrl)
	tb := newTestToolbox(t, &fakeTable{}, characters)
	ctx := context.Background()

	characters.EXPECT().
		GetByID(gomock.Any(), "char-mira").
		Return(&character.Character{ID: "char-mira", Name: "Mira", Ancestry: "Elf", Class: "Ranger", Level: 3, HitPoints: 18, MaxHP: 24, Armor: 14}, nil)
	characters.EXPECT().
		GetByID(gomock.Any(), "nobody").
		Return(nil, nil)

	out, err := tb.Call(ctx, "get_character", json.RawMessage(`{"characterId":"char-mira"}`))
	require.NoError(t, err)
	assert.Equal(t, "Mira (Elf Ranger 3) HP 18/24 AC 14", out)

	_, err = tb.Call(ctx, "get_character", json.RawMessage(`{"characterId":"nobody"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestToolbox_ListParty(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	characters := characterMocks.NewMockRepository(ctrl)
	characters.EXPECT().
		GetByID(gomock.Any(), "char-mira").
		Return(&character.Character{ID: "char-mira", Name: "Mira", HitPoints: 5, MaxHP: 5, Armor: 10}, nil)

	table := &fakeTable{members: []Member{
		{Name: "Ana", CharacterID: "char-mira", Authority: true, Connected: true},
		{Name: "Ben", Connected: false},
	}}
	tb := newTestToolbox(t, table, characters)

	out, err := tb.Call(context.Background(), "list_party", nil)
	require.NoError(t, err)
	assert.Contains(t, out, "- Ana plays Mira HP 5/5 AC 10 [host]")
	assert.Contains(t, out, "- Ben [away]")
}

func TestToolbox_RollDice(t *testing.T) {
	tb := newTestToolbox(t, &fakeTable{}, nil)

	out, err := tb.Call(context.Background(), "roll_dice", json.RawMessage(`{"expression":"2d6+3"}`))
	require.NoError(t, err)
	assert.Equal(t, "2d6+3 = [4, 5]+3 = 12", out)

	_, err = tb.Call(context.Background(), "roll_dice", json.RawMessage(`{"expression":"lots"}`))
	assert.Error(t, err)
}

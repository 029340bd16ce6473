package combat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOrder() []Entry {
	return []Entry{
		{Name: "Goblin", Initiative: 12},
		{Name: "Mira", CharacterID: "char-mira", ParticipantID: "p1", Initiative: 18},
		{Name: "Thorn", CharacterID: "char-thorn", ParticipantID: "p2", Initiative: 12},
	}
}

func TestStart_SortsByInitiativeStable(t *testing.T) {
	var s State
	require.NoError(t, s.Start(sampleOrder()))

	order := s.Order()
	require.Len(t, order, 3)
	assert.Equal(t, "Mira", order[0].Name)
	assert.Equal(t, "Goblin", order[1].Name)
	assert.Equal(t, "Thorn", order[2].Name)

	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "Mira", cur.Name)
	assert.Equal(t, 1, s.Round())
}

func TestStart_EmptyOrder(t *testing.T) {
	var s State
	assert.ErrorIs(t, s.Start(nil), ErrEmptyOrder)
	assert.False(t, s.Active())
}

func TestNext_IsCyclic(t *testing.T) {
	var s State
	require.NoError(t, s.Start(sampleOrder()))
	start := s.Index()

	for i := 0; i < len(s.Order()); i++ {
		_, err := s.Next()
		require.NoError(t, err)
	}
	assert.Equal(t, start, s.Index())
	assert.Equal(t, 2, s.Round())
}

func TestNext_Inactive(t *testing.T) {
	var s State
	_, err := s.Next()
	assert.ErrorIs(t, err, ErrNotInCombat)
}

func TestEligible(t *testing.T) {
	var s State
	assert.True(t, s.Eligible("anyone"))

	require.NoError(t, s.Start(sampleOrder()))
	assert.True(t, s.Eligible("p1"))
	assert.False(t, s.Eligible("p2"))

	_, _ = s.Next()
	assert.True(t, s.Eligible("p2"), "narrator turn is open to everyone")

	_, _ = s.Next()
	assert.True(t, s.Eligible("p2"))
	assert.False(t, s.Eligible("p1"))
}

func TestEnd(t *testing.T) {
	var s State
	assert.False(t, s.End())
	require.NoError(t, s.Start(sampleOrder()))
	assert.True(t, s.End())
	assert.False(t, s.Active())
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestRestartReplacesOrder(t *testing.T) {
	var s State
	require.NoError(t, s.Start(sampleOrder()))
	_, _ = s.Next()
	require.NoError(t, s.Start([]Entry{{Name: "Ogre", Initiative: 3}}))
	assert.Len(t, s.Order(), 1)
	assert.Equal(t, 0, s.Index())
}

func TestUnbind(t *testing.T) {
	var s State
	require.NoError(t, s.Start(sampleOrder()))
	s.Unbind("p1")
	assert.True(t, s.Eligible("p2"))
}

func TestDescribe(t *testing.T) {
	var s State
	assert.Equal(t, "Not in combat.", s.Describe())
	require.NoError(t, s.Start(sampleOrder()))
	d := s.Describe()
	assert.Contains(t, d, "Round 1")
	assert.Contains(t, d, "> Mira (initiative 18)")
	assert.Contains(t, d, "Goblin (initiative 12) [narrator]")
}

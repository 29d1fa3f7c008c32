package index

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/policyrag/internal/domain/chunk"
)

func mk(typ chunk.Type, element, content string, seq int) chunk.Chunk {
	c := chunk.Chunk{PolicyID: "CVD-BP-001", Type: typ, Element: element, Content: content, Sequence: seq}
	if typ == chunk.TypeCriteria {
		c.Criteria = &chunk.Criteria{ID: element, RiskLevel: "High"}
	}
	c.Seal()
	return c
}

func stored(cs ...chunk.Chunk) []chunk.Ref {
	refs := make([]chunk.Ref, len(cs))
	for i, c := range cs {
		c.EmbeddingModel = "m"
		refs[i] = c.Ref()
	}
	return refs
}

func TestDiff_AllNew(t *testing.T) {
	produced := []chunk.Chunk{mk(chunk.TypeHeader, "", "h", 0), mk(chunk.TypeCriteria, "c1", "a", 1)}

	plan := Diff(produced, nil, "m", false)

	assert.Len(t, plan.New, 2)
	assert.Empty(t, plan.Changed)
	assert.Empty(t, plan.Orphans)
	assert.Len(t, plan.ToEmbed(), 2)
}

func TestDiff_UnchangedNeedsNoEmbedding(t *testing.T) {
	produced := []chunk.Chunk{mk(chunk.TypeHeader, "", "h", 0), mk(chunk.TypeCriteria, "c1", "a", 1)}

	plan := Diff(produced, stored(produced...), "m", false)

	assert.Len(t, plan.Unchanged, 2)
	assert.Empty(t, plan.ToEmbed())
	assert.True(t, plan.Empty())
}

func TestDiff_ChangedContentSupersedesOldVersion(t *testing.T) {
	old := mk(chunk.TypeCriteria, "c1", "Condition: 140-159/90-99", 1)
	updated := mk(chunk.TypeCriteria, "c1", "Condition: 140-159/90-99 sustained", 1)

	plan := Diff([]chunk.Chunk{updated}, stored(old), "m", false)

	require.Len(t, plan.Changed, 1)
	assert.Equal(t, updated.ID, plan.Changed[0].ID)
	require.Len(t, plan.Orphans, 1)
	assert.Equal(t, old.ID, plan.Orphans[0].ID)
	assert.Equal(t, 1, plan.Superseded)
	assert.Equal(t, 0, plan.Removed())
}

func TestDiff_RemovedCriterionIsOnlyOrphan(t *testing.T) {
	header := mk(chunk.TypeHeader, "", "h", 0)
	c1 := mk(chunk.TypeCriteria, "c1", "a", 1)
	c2 := mk(chunk.TypeCriteria, "c2", "b", 2)
	c3 := mk(chunk.TypeCriteria, "c3", "c", 3)

	c3moved := c3
	c3moved.Sequence = 2

	plan := Diff([]chunk.Chunk{header, c1, c3moved}, stored(header, c1, c2, c3), "m", false)

	require.Len(t, plan.Orphans, 1)
	assert.Equal(t, c2.ID, plan.Orphans[0].ID)
	assert.Equal(t, 1, plan.Removed())
	assert.Empty(t, plan.ToEmbed())
	require.Len(t, plan.Restamp, 1, "shifted sequence is a metadata refresh")
	assert.Equal(t, c3.ID, plan.Restamp[0].ID)
}

func TestDiff_ForceAndModelChangeReembed(t *testing.T) {
	produced := []chunk.Chunk{mk(chunk.TypeHeader, "", "h", 0)}

	assert.Len(t, Diff(produced, stored(produced...), "m", true).Changed, 1)
	assert.Len(t, Diff(produced, stored(produced...), "other-model", false).Changed, 1)
}

func TestMachine_Transitions(t *testing.T) {
	m := NewMachine()
	require.Equal(t, StateIdle, m.Status().State)

	require.True(t, m.Begin())
	assert.False(t, m.Begin(), "second run must be rejected while one is active")

	for _, s := range []State{StateDiffing, StateEmbedding, StatePersisting, StateDiffing, StatePersisting, StateDone} {
		require.NoError(t, m.Transition(s), "to %s", s)
	}
	assert.True(t, m.Begin(), "terminal state allows a new run")
}

func TestMachine_IllegalTransition(t *testing.T) {
	m := NewMachine()
	err := m.Transition(StatePersisting)
	assert.Error(t, err)
	assert.Equal(t, StateIdle, m.Status().State)
}

func TestMachine_Fail(t *testing.T) {
	m := NewMachine()
	require.True(t, m.Begin())
	cause := errors.New("corpus unreadable")
	m.Fail(cause)

	st := m.Status()
	assert.Equal(t, StateError, st.State)
	assert.ErrorIs(t, st.Err, cause)
}

func TestSummary_Record(t *testing.T) {
	var s Summary
	s.Record(NewOK("A", Counts{Added: 3, Unchanged: 1}, nil))
	s.Record(NewFailed("B", Counts{Failed: 2}, errors.New("provider down")))
	s.Record(NewOK("C", Counts{Updated: 1, Removed: 1}, []string{"criteria[1]: missing risk_level"}))

	assert.Equal(t, 3, s.Added)
	assert.Equal(t, 1, s.Updated)
	assert.Equal(t, 1, s.Removed)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, 1, s.PoliciesFailed)
	assert.True(t, s.Partial())
	require.Len(t, s.FailedPolicies(), 1)
	assert.Equal(t, "B", s.FailedPolicies()[0].PolicyID())
}

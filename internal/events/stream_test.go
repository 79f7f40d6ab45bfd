package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soft-beds-inc/good-night/pkg/model"
)

func TestNewStream_NonPositiveCapacityDefaults(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewStream(0).cap)
	assert.Equal(t, DefaultCapacity, NewStream(-5).cap)
	assert.Equal(t, 3, NewStream(3).cap)
}

func TestEmit_AssignsIncrementingSequenceNumbers(t *testing.T) {
	s := NewStream(10)
	first := s.Emit(model.AgentEvent{AgentID: "a"})
	second := s.Emit(model.AgentEvent{AgentID: "a"})
	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, uint64(2), second.Sequence)
}

func TestEmit_FillsInZeroTimeButPreservesAnExplicitOne(t *testing.T) {
	s := NewStream(10)
	zero := s.Emit(model.AgentEvent{AgentID: "a"})
	assert.False(t, zero.Time.IsZero())

	explicit := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	kept := s.Emit(model.AgentEvent{AgentID: "a", Time: explicit})
	assert.True(t, explicit.Equal(kept.Time))
}

func TestEmit_NotifiesAllSubscribersSynchronously(t *testing.T) {
	s := NewStream(10)
	var got []model.AgentEvent
	s.Subscribe(func(e model.AgentEvent) { got = append(got, e) })

	s.Emit(model.AgentEvent{AgentID: "a"})
	s.Emit(model.AgentEvent{AgentID: "b"})

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].AgentID)
	assert.Equal(t, "b", got[1].AgentID)
}

func TestEmit_PanickingSubscriberDoesNotBreakOthersOrTheCaller(t *testing.T) {
	s := NewStream(10)
	var notified bool
	s.Subscribe(func(e model.AgentEvent) { panic("boom") })
	s.Subscribe(func(e model.AgentEvent) { notified = true })

	assert.NotPanics(t, func() { s.Emit(model.AgentEvent{AgentID: "a"}) })
	assert.True(t, notified)
}

func TestAll_ReturnsEventsOldestFirstAndWrapsAtCapacity(t *testing.T) {
	s := NewStream(2)
	s.Emit(model.AgentEvent{AgentID: "a"})
	s.Emit(model.AgentEvent{AgentID: "b"})
	s.Emit(model.AgentEvent{AgentID: "c"})

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].AgentID)
	assert.Equal(t, "c", all[1].AgentID)
}

func TestRecent_ReturnsAtMostNMostRecentEvents(t *testing.T) {
	s := NewStream(10)
	for _, id := range []string{"a", "b", "c", "d"} {
		s.Emit(model.AgentEvent{AgentID: id})
	}

	recent := s.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].AgentID)
	assert.Equal(t, "d", recent[1].AgentID)

	assert.Len(t, s.Recent(0), 4)
	assert.Len(t, s.Recent(100), 4)
}

func TestByAgent_FiltersToOneAgentInOrder(t *testing.T) {
	s := NewStream(10)
	s.Emit(model.AgentEvent{AgentID: "a", Stage: "1"})
	s.Emit(model.AgentEvent{AgentID: "b"})
	s.Emit(model.AgentEvent{AgentID: "a", Stage: "2"})

	got := s.ByAgent("a")
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].Stage)
	assert.Equal(t, "2", got[1].Stage)
}

func TestActiveAgents_ExcludesAgentsWhoseLatestEventIsTerminal(t *testing.T) {
	s := NewStream(10)
	s.Emit(model.AgentEvent{AgentID: "a"})
	s.Emit(model.AgentEvent{AgentID: "b", Terminal: true})
	s.Emit(model.AgentEvent{AgentID: "a"})

	active := s.ActiveAgents()
	assert.Contains(t, active, "a")
	assert.NotContains(t, active, "b")
}

func TestActiveAgents_EmptyAgentIDIsIgnored(t *testing.T) {
	s := NewStream(10)
	s.Emit(model.AgentEvent{AgentID: ""})
	assert.Empty(t, s.ActiveAgents())
}

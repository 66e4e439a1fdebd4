package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruinscan/ruinscan-go/internal/model"
)

func TestModeChangedRoundTrip(t *testing.T) {
	bus := NewBus()

	var got []ModeChanged
	require.NoError(t, bus.SubscribeModeChanged(func(ev ModeChanged) {
		got = append(got, ev)
	}))

	bus.PublishModeChanged(ModeChanged{
		Previous: model.ModeOnline,
		Current:  model.ModeOffline,
		Reason:   "segment request failed",
	})

	require.Len(t, got, 1)
	assert.Equal(t, model.ModeOnline, got[0].Previous)
	assert.Equal(t, model.ModeOffline, got[0].Current)
	assert.Equal(t, "segment request failed", got[0].Reason)
}

func TestTopicsAreIndependent(t *testing.T) {
	bus := NewBus()

	var completed, rejected int
	require.NoError(t, bus.SubscribeStageCompleted(func(StageCompleted) { completed++ }))
	require.NoError(t, bus.SubscribeStageRejected(func(StageRejected) { rejected++ }))

	bus.PublishStageCompleted(StageCompleted{Stage: model.StageSegment})
	bus.PublishStageCompleted(StageCompleted{Stage: model.StageDetect})
	bus.PublishStageRejected(StageRejected{Stage: model.StageSegment, Reason: "stage-busy"})

	assert.Equal(t, 2, completed)
	assert.Equal(t, 1, rejected)
}

func TestInvalidatedCarriesImageID(t *testing.T) {
	bus := NewBus()

	var gotID string
	require.NoError(t, bus.SubscribeAnalysisInvalidated(func(ev AnalysisInvalidated) {
		gotID = ev.ImageID
	}))

	bus.PublishAnalysisInvalidated(AnalysisInvalidated{ImageID: "dig-042.jpg"})

	assert.Equal(t, "dig-042.jpg", gotID)
}

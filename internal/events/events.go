// Package events provides the notification bus between the analysis
// pipeline and its collaborators (UI API, logging, tests). Publishing is
// fire-and-forget; subscribers must not block.
package events

import (
	"time"

	evbus "github.com/asaskevich/EventBus"

	"github.com/ruinscan/ruinscan-go/internal/model"
)

// Topics published by the pipeline.
const (
	TopicModeChanged         = "mode.changed"
	TopicStageCompleted      = "stage.completed"
	TopicAnalysisInvalidated = "analysis.invalidated"
	TopicStageRejected       = "stage.rejected"
)

// ModeChanged is published when the connectivity mode changes, including
// the automatic Online to Offline downgrade after a remote failure.
type ModeChanged struct {
	Previous model.Mode
	Current  model.Mode
	Reason   string
	At       time.Time
}

// StageCompleted is published after a stage result has been stored.
type StageCompleted struct {
	Stage  model.Stage
	Source model.ResultSource
	At     time.Time
}

// AnalysisInvalidated is published when a new upload clears previous
// analysis results; the UI drops its overlays in response.
type AnalysisInvalidated struct {
	ImageID string
	At      time.Time
}

// StageRejected is published when an operation is refused up front,
// either because another stage is in flight or no image is selected.
type StageRejected struct {
	Stage  model.Stage
	Reason string
	At     time.Time
}

// Bus is a typed wrapper around the underlying event bus. The zero value
// is not usable; create one with NewBus.
type Bus struct {
	bus evbus.Bus
}

// NewBus creates an empty notification bus.
func NewBus() *Bus {
	return &Bus{bus: evbus.New()}
}

// PublishModeChanged notifies subscribers of a connectivity mode change.
func (b *Bus) PublishModeChanged(ev ModeChanged) {
	b.bus.Publish(TopicModeChanged, ev)
}

// PublishStageCompleted notifies subscribers that a stage finished.
func (b *Bus) PublishStageCompleted(ev StageCompleted) {
	b.bus.Publish(TopicStageCompleted, ev)
}

// PublishAnalysisInvalidated notifies subscribers that stored analysis
// results were cleared.
func (b *Bus) PublishAnalysisInvalidated(ev AnalysisInvalidated) {
	b.bus.Publish(TopicAnalysisInvalidated, ev)
}

// PublishStageRejected notifies subscribers of a refused operation.
func (b *Bus) PublishStageRejected(ev StageRejected) {
	b.bus.Publish(TopicStageRejected, ev)
}

// SubscribeModeChanged registers fn for mode change events.
func (b *Bus) SubscribeModeChanged(fn func(ModeChanged)) error {
	return b.bus.Subscribe(TopicModeChanged, fn)
}

// SubscribeStageCompleted registers fn for stage completion events.
func (b *Bus) SubscribeStageCompleted(fn func(StageCompleted)) error {
	return b.bus.Subscribe(TopicStageCompleted, fn)
}

// SubscribeAnalysisInvalidated registers fn for invalidation events.
func (b *Bus) SubscribeAnalysisInvalidated(fn func(AnalysisInvalidated)) error {
	return b.bus.Subscribe(TopicAnalysisInvalidated, fn)
}

// SubscribeStageRejected registers fn for rejection events.
func (b *Bus) SubscribeStageRejected(fn func(StageRejected)) error {
	return b.bus.Subscribe(TopicStageRejected, fn)
}

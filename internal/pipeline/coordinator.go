package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ruinscan/ruinscan-go/internal/errors"
	"github.com/ruinscan/ruinscan-go/internal/events"
	"github.com/ruinscan/ruinscan-go/internal/logging"
	"github.com/ruinscan/ruinscan-go/internal/model"
	"github.com/ruinscan/ruinscan-go/internal/observability/metrics"
)

// State describes what the coordinator is currently doing.
type State string

const (
	StateIdle       State = "idle"
	StateUploading  State = "uploading"
	StateSegmenting State = "segmenting"
	StateDetecting  State = "detecting"
	StateCombining  State = "combining"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Sentinel errors surfaced to the caller as user-visible warnings. Remote
// failures are not among them: those are recovered by synthetic fallback.
var (
	// ErrNoImageSelected rejects stage runs before any upload.
	ErrNoImageSelected = errors.Newf("no image selected").
				Component("pipeline").
				Category(errors.CategoryValidation).
				Build()

	// ErrStageBusy rejects a stage run while another one is in flight.
	ErrStageBusy = errors.Newf("another stage is already running").
			Component("pipeline").
			Category(errors.CategoryBusy).
			Build()

	// ErrNothingToCombine rejects Combine before any analysis result exists.
	ErrNothingToCombine = errors.Newf("no analysis results to combine").
				Component("pipeline").
				Category(errors.CategoryState).
				Build()
)

// Coordinator sequences pipeline stages and enforces single-flight
// execution: a second invocation while one is active is rejected with
// ErrStageBusy, never queued. Stages invoked inside RunAll share one
// acquisition of the flag.
type Coordinator struct {
	store   *Store
	exec    *Executor
	bus     *events.Bus
	metrics *metrics.PipelineMetrics
	log     *slog.Logger

	busy atomic.Bool

	stateMu sync.RWMutex
	state   State
}

// NewCoordinator creates a coordinator. metrics may be nil.
func NewCoordinator(store *Store, exec *Executor, bus *events.Bus, m *metrics.PipelineMetrics) *Coordinator {
	return &Coordinator{
		store:   store,
		exec:    exec,
		bus:     bus,
		metrics: m,
		log:     logging.ForService("coordinator"),
		state:   StateIdle,
	}
}

// State returns the coordinator's current state.
func (c *Coordinator) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// acquire claims the single-flight flag for stage, rejecting with
// ErrStageBusy if another operation holds it.
func (c *Coordinator) acquire(stage model.Stage) error {
	if !c.busy.CompareAndSwap(false, true) {
		c.reject(stage, "stage-busy")
		return ErrStageBusy
	}
	return nil
}

func (c *Coordinator) release() {
	c.busy.Store(false)
}

func (c *Coordinator) reject(stage model.Stage, reason string) {
	c.log.Warn("Operation rejected", "stage", stage, "reason", reason)
	if c.metrics != nil {
		c.metrics.RecordRejection(stage, reason)
	}
	c.bus.PublishStageRejected(events.StageRejected{
		Stage:  stage,
		Reason: reason,
		At:     time.Now(),
	})
}

// requireImage checks that an upload happened; rejection is synchronous
// and mutates no state.
func (c *Coordinator) requireImage(stage model.Stage) error {
	if c.store.Image() == nil {
		c.reject(stage, "no-image-selected")
		return ErrNoImageSelected
	}
	return nil
}

// Upload runs the upload stage. A successful upload replaces the stored
// image wholesale and clears all prior analysis results, since they
// described the previous image.
func (c *Coordinator) Upload(ctx context.Context, input UploadInput) (*model.UploadedImage, error) {
	if input.Name == "" || len(input.Data) == 0 {
		c.reject(model.StageUpload, "no-image-selected")
		return nil, ErrNoImageSelected
	}
	if err := c.acquire(model.StageUpload); err != nil {
		return nil, err
	}
	defer c.release()

	c.setState(StateUploading)
	img, err := c.exec.Upload(ctx, input)
	if err != nil {
		c.setState(StateFailed)
		return nil, err
	}

	c.store.ClearAnalysis()
	c.bus.PublishAnalysisInvalidated(events.AnalysisInvalidated{
		ImageID: img.ID,
		At:      time.Now(),
	})
	c.log.Info("Image uploaded, previous analysis cleared",
		"image", img.ID, "size_bytes", img.SizeBytes, "source", img.Source)

	c.setState(StateIdle)
	return img, nil
}

// RunSegmentation runs the segmentation stage alone.
func (c *Coordinator) RunSegmentation(ctx context.Context) (*model.SegmentationResult, error) {
	if err := c.requireImage(model.StageSegment); err != nil {
		return nil, err
	}
	if err := c.acquire(model.StageSegment); err != nil {
		return nil, err
	}
	defer c.release()

	return c.runSegmentation(ctx)
}

// runSegmentation assumes the busy flag is held by the caller.
func (c *Coordinator) runSegmentation(ctx context.Context) (*model.SegmentationResult, error) {
	c.setState(StateSegmenting)
	res, err := c.exec.Segment(ctx)
	if err != nil {
		c.setState(StateFailed)
		return nil, err
	}
	c.setState(StateIdle)
	return res, nil
}

// RunDetection runs the artifact detection stage alone.
func (c *Coordinator) RunDetection(ctx context.Context) (*model.DetectionResult, error) {
	if err := c.requireImage(model.StageDetect); err != nil {
		return nil, err
	}
	if err := c.acquire(model.StageDetect); err != nil {
		return nil, err
	}
	defer c.release()

	return c.runDetection(ctx)
}

// runDetection assumes the busy flag is held by the caller.
func (c *Coordinator) runDetection(ctx context.Context) (*model.DetectionResult, error) {
	c.setState(StateDetecting)
	res, err := c.exec.Detect(ctx)
	if err != nil {
		c.setState(StateFailed)
		return nil, err
	}
	c.setState(StateIdle)
	return res, nil
}

// RunAll executes segmentation, detection and combination sequentially
// under a single acquisition of the busy flag. Segmentation always runs
// first; the two stages are never reordered or parallelized so progress
// reporting stays deterministic. On a mid-sequence failure the remaining
// steps are skipped but completed results are kept.
func (c *Coordinator) RunAll(ctx context.Context) (*model.CombinedSummary, error) {
	if err := c.requireImage(model.StageSegment); err != nil {
		return nil, err
	}
	if err := c.acquire(model.StageSegment); err != nil {
		return nil, err
	}
	defer c.release()

	if _, err := c.runSegmentation(ctx); err != nil {
		return nil, err
	}
	if _, err := c.runDetection(ctx); err != nil {
		return nil, err
	}

	c.setState(StateCombining)
	summary, err := c.Combine()
	if err != nil {
		c.setState(StateFailed)
		return nil, err
	}
	c.setState(StateDone)
	return summary, nil
}

// Combine recomputes the combined summary from the store's current
// segmentation and detection results. At least one of the two must be
// present; the missing one contributes zero values. The computation is a
// pure function of store contents, so repeated calls over an unchanged
// store yield identical summaries.
func (c *Coordinator) Combine() (*model.CombinedSummary, error) {
	snap := c.store.Snapshot()
	if snap.Segmentation == nil && snap.Detection == nil {
		return nil, ErrNothingToCombine
	}

	summary := model.Combine(snap.Image, snap.Segmentation, snap.Detection)
	c.store.SetCombined(&summary)
	return &summary, nil
}

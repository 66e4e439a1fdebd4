package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/ruinscan/ruinscan-go/internal/errors"
	"github.com/ruinscan/ruinscan-go/internal/events"
	"github.com/ruinscan/ruinscan-go/internal/logging"
	"github.com/ruinscan/ruinscan-go/internal/model"
	"github.com/ruinscan/ruinscan-go/internal/observability/metrics"
	"github.com/ruinscan/ruinscan-go/internal/remoteapi"
	"github.com/ruinscan/ruinscan-go/internal/synthetic"
)

// UploadInput carries the locally selected image into the upload stage.
// LocalPreviewURL is the preview location served by this process, used when
// the remote upload is skipped or fails.
type UploadInput struct {
	Name            string
	Data            []byte
	LocalPreviewURL string
}

// Executor runs one pipeline stage against the remote service or the local
// synthetic generator. When a remote call fails it downgrades the mode to
// Offline, notifies observers and transparently reruns the stage
// synthetically, so callers always receive a complete result.
type Executor struct {
	remote  remoteapi.Service
	synth   *synthetic.Generator
	store   *Store
	bus     *events.Bus
	metrics *metrics.PipelineMetrics
	log     *slog.Logger
}

// NewExecutor creates a stage executor. metrics may be nil.
func NewExecutor(remote remoteapi.Service, synth *synthetic.Generator, store *Store, bus *events.Bus, m *metrics.PipelineMetrics) *Executor {
	return &Executor{
		remote:  remote,
		synth:   synth,
		store:   store,
		bus:     bus,
		metrics: m,
		log:     logging.ForService("executor"),
	}
}

// Upload runs the upload stage and stores the resulting image identity.
func (e *Executor) Upload(ctx context.Context, input UploadInput) (*model.UploadedImage, error) {
	start := time.Now()

	if e.store.Mode() == model.ModeOnline {
		img, err := e.remote.Upload(ctx, input.Name, input.Data)
		if err == nil {
			e.store.SetImage(img)
			e.finishStage(model.StageUpload, model.SourceRemote, start)
			return img, nil
		}
		e.downgrade(model.StageUpload, err)
	}

	img, err := e.synth.Upload(ctx, input.Name, int64(len(input.Data)), input.LocalPreviewURL)
	if err != nil {
		return nil, stageAborted(model.StageUpload, err)
	}
	e.store.SetImage(img)
	e.finishStage(model.StageUpload, model.SourceSynthetic, start)
	return img, nil
}

// Segment runs the segmentation stage for the stored image.
func (e *Executor) Segment(ctx context.Context) (*model.SegmentationResult, error) {
	start := time.Now()

	if e.store.Mode() == model.ModeOnline {
		res, err := e.remote.Segment(ctx, e.imageID())
		if err == nil {
			e.store.SetSegmentation(res)
			e.finishStage(model.StageSegment, model.SourceRemote, start)
			return res, nil
		}
		e.downgrade(model.StageSegment, err)
	}

	res, err := e.synth.Segment(ctx)
	if err != nil {
		return nil, stageAborted(model.StageSegment, err)
	}
	e.store.SetSegmentation(res)
	e.finishStage(model.StageSegment, model.SourceSynthetic, start)
	return res, nil
}

// Detect runs the artifact detection stage for the stored image.
func (e *Executor) Detect(ctx context.Context) (*model.DetectionResult, error) {
	start := time.Now()

	if e.store.Mode() == model.ModeOnline {
		res, err := e.remote.Detect(ctx, e.imageID())
		if err == nil {
			e.store.SetDetection(res)
			e.recordArtifacts(res)
			e.finishStage(model.StageDetect, model.SourceRemote, start)
			return res, nil
		}
		e.downgrade(model.StageDetect, err)
	}

	res, err := e.synth.Detect(ctx)
	if err != nil {
		return nil, stageAborted(model.StageDetect, err)
	}
	e.store.SetDetection(res)
	e.recordArtifacts(res)
	e.finishStage(model.StageDetect, model.SourceSynthetic, start)
	return res, nil
}

func (e *Executor) imageID() string {
	if img := e.store.Image(); img != nil {
		return img.ID
	}
	return ""
}

// downgrade switches the store to Offline after a remote failure. The
// failure is recovered by the synthetic path, so only the mode change is
// surfaced to observers.
func (e *Executor) downgrade(stage model.Stage, cause error) {
	category := string(errors.CategoryOf(cause))
	e.log.Warn("Remote stage failed, falling back to synthetic results",
		"stage", stage, "error", cause, "category", category)

	if e.metrics != nil {
		e.metrics.RecordFallback(stage, category)
		e.metrics.SetMode(model.ModeOffline)
	}

	previous, changed := e.store.SetMode(model.ModeOffline)
	if changed {
		e.bus.PublishModeChanged(events.ModeChanged{
			Previous: previous,
			Current:  model.ModeOffline,
			Reason:   string(stage) + " request failed",
			At:       time.Now(),
		})
	}
}

func (e *Executor) finishStage(stage model.Stage, source model.ResultSource, start time.Time) {
	if e.metrics != nil {
		e.metrics.RecordStage(stage, source, "success", time.Since(start).Seconds())
	}
	e.bus.PublishStageCompleted(events.StageCompleted{
		Stage:  stage,
		Source: source,
		At:     time.Now(),
	})
}

func (e *Executor) recordArtifacts(res *model.DetectionResult) {
	if e.metrics != nil {
		e.metrics.RecordArtifacts(res.TotalDetected)
	}
}

// stageAborted wraps the only hard failure a stage can hit: context
// cancellation while generating the synthetic result.
func stageAborted(stage model.Stage, err error) error {
	return errors.New(err).
		Component("pipeline").
		Category(errors.CategoryState).
		Context("stage", string(stage)).
		Build()
}

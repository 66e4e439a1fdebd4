package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruinscan/ruinscan-go/internal/errors"
	"github.com/ruinscan/ruinscan-go/internal/events"
	"github.com/ruinscan/ruinscan-go/internal/model"
	"github.com/ruinscan/ruinscan-go/internal/synthetic"
)

// remoteDouble is an instrumented remoteapi.Service substitute. Calls are
// counted so tests can prove the offline path never touches the remote.
type remoteDouble struct {
	mu sync.Mutex

	pingCalls    int
	uploadCalls  int
	segmentCalls int
	detectCalls  int

	pingErr    error
	uploadErr  error
	segmentErr error
	detectErr  error

	// blockSegment, when non-nil, stalls Segment until closed.
	blockSegment chan struct{}
}

func (d *remoteDouble) Ping(ctx context.Context) error {
	d.mu.Lock()
	d.pingCalls++
	d.mu.Unlock()
	return d.pingErr
}

func (d *remoteDouble) Upload(ctx context.Context, name string, data []byte) (*model.UploadedImage, error) {
	d.mu.Lock()
	d.uploadCalls++
	d.mu.Unlock()
	if d.uploadErr != nil {
		return nil, d.uploadErr
	}
	return &model.UploadedImage{
		ID:          "remote_" + name,
		DisplayName: name,
		SizeBytes:   int64(len(data)),
		PreviewURL:  "http://analysis.test/uploads/remote_" + name,
		UploadedAt:  time.Now(),
		Source:      model.SourceRemote,
	}, nil
}

func (d *remoteDouble) Segment(ctx context.Context, filename string) (*model.SegmentationResult, error) {
	d.mu.Lock()
	d.segmentCalls++
	block := d.blockSegment
	d.mu.Unlock()
	if block != nil {
		<-block
	}
	if d.segmentErr != nil {
		return nil, d.segmentErr
	}
	return &model.SegmentationResult{
		RuinsPct: 44.0, VegetationPct: 21.0, WaterPct: 2.5,
		PixelsAnalyzed: 1_000_000, Success: true,
		Source: model.SourceRemote, GeneratedAt: time.Now(),
	}, nil
}

func (d *remoteDouble) Detect(ctx context.Context, filename string) (*model.DetectionResult, error) {
	d.mu.Lock()
	d.detectCalls++
	d.mu.Unlock()
	if d.detectErr != nil {
		return nil, d.detectErr
	}
	return &model.DetectionResult{
		Artifacts:     []model.Artifact{{ID: "r1", Type: "coin", Confidence: 0.9}},
		TotalDetected: 1, Success: true,
		Source: model.SourceRemote, GeneratedAt: time.Now(),
	}, nil
}

func (d *remoteDouble) calls() (ping, upload, segment, detect int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pingCalls, d.uploadCalls, d.segmentCalls, d.detectCalls
}

type testPipeline struct {
	remote *remoteDouble
	store  *Store
	bus    *events.Bus
	coord  *Coordinator
	probe  *Probe
}

func newTestPipeline(t *testing.T, mode model.Mode) *testPipeline {
	t.Helper()
	remote := &remoteDouble{}
	store := NewStore()
	store.SetMode(mode)
	bus := events.NewBus()
	gen := synthetic.NewGenerator(synthetic.Config{Seed: 1234})
	exec := NewExecutor(remote, gen, store, bus, nil)
	coord := NewCoordinator(store, exec, bus, nil)
	probe := NewProbe(remote, store, bus, nil)
	return &testPipeline{remote: remote, store: store, bus: bus, coord: coord, probe: probe}
}

func uploadTestImage(t *testing.T, tp *testPipeline, name string, size int) *model.UploadedImage {
	t.Helper()
	img, err := tp.coord.Upload(context.Background(), UploadInput{
		Name:            name,
		Data:            make([]byte, size),
		LocalPreviewURL: "/api/v1/media/preview/" + name,
	})
	require.NoError(t, err)
	return img
}

func TestOfflineExecutorNeverCallsRemote(t *testing.T) {
	tp := newTestPipeline(t, model.ModeOffline)

	uploadTestImage(t, tp, "site1.jpg", 1024)
	_, err := tp.coord.RunSegmentation(context.Background())
	require.NoError(t, err)
	_, err = tp.coord.RunDetection(context.Background())
	require.NoError(t, err)

	_, upload, segment, detect := tp.remote.calls()
	assert.Zero(t, upload)
	assert.Zero(t, segment)
	assert.Zero(t, detect)
}

func TestRemoteFailureDowngradesAndFallsBack(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"network_error", errors.Newf("dial tcp: connection refused").Category(errors.CategoryNetwork).Build()},
		{"server_error", errors.Newf("segment returned status 500").Category(errors.CategoryRemoteRejected).Build()},
		{"success_false_body", errors.Newf("segment rejected: model crashed").Category(errors.CategoryRemoteRejected).Build()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tp := newTestPipeline(t, model.ModeOnline)
			tp.remote.segmentErr = tc.err

			var modeEvents []events.ModeChanged
			require.NoError(t, tp.bus.SubscribeModeChanged(func(ev events.ModeChanged) {
				modeEvents = append(modeEvents, ev)
			}))

			uploadTestImage(t, tp, "site1.jpg", 512)
			res, err := tp.coord.RunSegmentation(context.Background())

			require.NoError(t, err, "fallback must not surface the remote failure")
			require.NotNil(t, res)
			assert.True(t, res.Success)
			assert.Equal(t, model.SourceSynthetic, res.Source)
			assert.GreaterOrEqual(t, res.RuinsPct, 20.0)
			assert.LessOrEqual(t, res.RuinsPct, 60.0)

			assert.Equal(t, model.ModeOffline, tp.store.Mode())
			require.Len(t, modeEvents, 1)
			assert.Equal(t, model.ModeOnline, modeEvents[0].Previous)
			assert.Equal(t, model.ModeOffline, modeEvents[0].Current)
		})
	}
}

func TestDowngradeIsIdempotent(t *testing.T) {
	tp := newTestPipeline(t, model.ModeOnline)
	tp.remote.segmentErr = errors.Newf("boom").Category(errors.CategoryNetwork).Build()
	tp.remote.detectErr = tp.remote.segmentErr

	var modeEvents int
	require.NoError(t, tp.bus.SubscribeModeChanged(func(events.ModeChanged) { modeEvents++ }))

	uploadTestImage(t, tp, "site1.jpg", 512)
	_, err := tp.coord.RunSegmentation(context.Background())
	require.NoError(t, err)
	_, err = tp.coord.RunDetection(context.Background())
	require.NoError(t, err)

	// Only the first failure flips the mode; detection ran offline already.
	assert.Equal(t, 1, modeEvents)
	_, _, segmentCalls, detectCalls := tp.remote.calls()
	assert.Equal(t, 1, segmentCalls)
	assert.Zero(t, detectCalls)
}

func TestCombineIdempotent(t *testing.T) {
	tp := newTestPipeline(t, model.ModeOffline)

	uploadTestImage(t, tp, "site1.jpg", 512)
	_, err := tp.coord.RunAll(context.Background())
	require.NoError(t, err)

	first, err := tp.coord.Combine()
	require.NoError(t, err)
	second, err := tp.coord.Combine()
	require.NoError(t, err)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, firstJSON, secondJSON, "combine over an unchanged store must be byte-identical")

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("summaries differ (-first +second):\n%s", diff)
	}
}

func TestCombineRequiresSomeResult(t *testing.T) {
	tp := newTestPipeline(t, model.ModeOffline)

	_, err := tp.coord.Combine()

	assert.ErrorIs(t, err, ErrNothingToCombine)
}

func TestCombineSubstitutesMissingDetection(t *testing.T) {
	tp := newTestPipeline(t, model.ModeOffline)

	uploadTestImage(t, tp, "site1.jpg", 512)
	_, err := tp.coord.RunSegmentation(context.Background())
	require.NoError(t, err)

	summary, err := tp.coord.Combine()

	require.NoError(t, err)
	assert.Zero(t, summary.ArtifactCount)
	assert.NotEmpty(t, summary.DominantTerrain)
}

func TestSingleFlightRejectsConcurrentStage(t *testing.T) {
	tp := newTestPipeline(t, model.ModeOnline)
	tp.remote.blockSegment = make(chan struct{})

	uploadTestImage(t, tp, "site1.jpg", 512)

	var rejections []events.StageRejected
	require.NoError(t, tp.bus.SubscribeStageRejected(func(ev events.StageRejected) {
		rejections = append(rejections, ev)
	}))

	firstDone := make(chan error, 1)
	go func() {
		_, err := tp.coord.RunSegmentation(context.Background())
		firstDone <- err
	}()

	// Wait until the first invocation is inside the remote call.
	require.Eventually(t, func() bool {
		_, _, segmentCalls, _ := tp.remote.calls()
		return segmentCalls == 1
	}, time.Second, 5*time.Millisecond)

	_, err := tp.coord.RunSegmentation(context.Background())
	assert.ErrorIs(t, err, ErrStageBusy)

	close(tp.remote.blockSegment)
	require.NoError(t, <-firstDone)

	// The store's segmentation slot was written exactly once.
	_, _, segmentCalls, _ := tp.remote.calls()
	assert.Equal(t, 1, segmentCalls)
	assert.NotNil(t, tp.store.Segmentation())
	require.Len(t, rejections, 1)
	assert.Equal(t, "stage-busy", rejections[0].Reason)
}

func TestStageWithoutImageIsRejected(t *testing.T) {
	tp := newTestPipeline(t, model.ModeOffline)

	_, err := tp.coord.RunSegmentation(context.Background())
	assert.ErrorIs(t, err, ErrNoImageSelected)

	_, err = tp.coord.RunDetection(context.Background())
	assert.ErrorIs(t, err, ErrNoImageSelected)

	_, err = tp.coord.RunAll(context.Background())
	assert.ErrorIs(t, err, ErrNoImageSelected)

	assert.Equal(t, StateIdle, tp.coord.State(), "rejection must not change state")
}

func TestUploadRejectsEmptyInput(t *testing.T) {
	tp := newTestPipeline(t, model.ModeOffline)

	_, err := tp.coord.Upload(context.Background(), UploadInput{})
	assert.ErrorIs(t, err, ErrNoImageSelected)

	_, err = tp.coord.Upload(context.Background(), UploadInput{Name: "x.jpg"})
	assert.ErrorIs(t, err, ErrNoImageSelected)

	assert.Equal(t, StateIdle, tp.coord.State())
	assert.Nil(t, tp.store.Image())
}

func TestSecondUploadInvalidatesPriorAnalysis(t *testing.T) {
	tp := newTestPipeline(t, model.ModeOffline)

	var invalidations []events.AnalysisInvalidated
	require.NoError(t, tp.bus.SubscribeAnalysisInvalidated(func(ev events.AnalysisInvalidated) {
		invalidations = append(invalidations, ev)
	}))

	uploadTestImage(t, tp, "site1.jpg", 512)
	_, err := tp.coord.RunAll(context.Background())
	require.NoError(t, err)

	snap := tp.store.Snapshot()
	require.NotNil(t, snap.Segmentation)
	require.NotNil(t, snap.Detection)
	require.NotNil(t, snap.Combined)

	second := uploadTestImage(t, tp, "site2.jpg", 1024)

	snap = tp.store.Snapshot()
	assert.Nil(t, snap.Segmentation)
	assert.Nil(t, snap.Detection)
	assert.Nil(t, snap.Combined)
	require.NotNil(t, snap.Image)
	assert.Equal(t, second.ID, snap.Image.ID)
	assert.Len(t, invalidations, 2)
}

func TestOfflineScenarioEndToEnd(t *testing.T) {
	tp := newTestPipeline(t, model.ModeOffline)

	// 2.4 MB site photo.
	img := uploadTestImage(t, tp, "site1.jpg", 2516582)

	assert.Equal(t, int64(2516582), img.SizeBytes)
	assert.Equal(t, "/api/v1/media/preview/site1.jpg", img.PreviewURL)
	assert.Equal(t, model.SourceSynthetic, img.Source)

	summary, err := tp.coord.RunAll(context.Background())
	require.NoError(t, err)

	snap := tp.store.Snapshot()
	require.NotNil(t, snap.Segmentation)
	assert.GreaterOrEqual(t, snap.Segmentation.RuinsPct, 20.0)
	assert.LessOrEqual(t, snap.Segmentation.RuinsPct, 60.0)
	assert.GreaterOrEqual(t, snap.Segmentation.VegetationPct, 10.0)
	assert.LessOrEqual(t, snap.Segmentation.VegetationPct, 40.0)
	assert.GreaterOrEqual(t, snap.Segmentation.WaterPct, 1.0)
	assert.LessOrEqual(t, snap.Segmentation.WaterPct, 6.0)

	require.NotNil(t, snap.Detection)
	assert.GreaterOrEqual(t, snap.Detection.TotalDetected, 3)
	assert.LessOrEqual(t, snap.Detection.TotalDetected, 14)

	assert.Equal(t, snap.Detection.TotalDetected, summary.ArtifactCount)
	assert.Equal(t, StateDone, tp.coord.State())

	_, upload, segment, detect := tp.remote.calls()
	assert.Zero(t, upload+segment+detect)
}

func TestRunAllKeepsCompletedResultsOnAbort(t *testing.T) {
	tp := newTestPipeline(t, model.ModeOffline)
	uploadTestImage(t, tp, "site1.jpg", 512)

	// Cancel after segmentation: swap in a context cancelled by the
	// segmentation completion event.
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, tp.bus.SubscribeStageCompleted(func(ev events.StageCompleted) {
		if ev.Stage == model.StageSegment {
			cancel()
		}
	}))

	_, err := tp.coord.RunAll(ctx)

	require.Error(t, err)
	assert.Equal(t, StateFailed, tp.coord.State())

	snap := tp.store.Snapshot()
	assert.NotNil(t, snap.Segmentation, "completed stage results are retained")
	assert.Nil(t, snap.Detection)
}

func TestProbeTimeoutMeansOffline(t *testing.T) {
	tp := newTestPipeline(t, model.ModeOnline)
	tp.remote.pingErr = context.DeadlineExceeded

	var mode model.Mode
	assert.NotPanics(t, func() {
		mode = tp.probe.Probe(context.Background())
	})

	assert.Equal(t, model.ModeOffline, mode)
	assert.Equal(t, model.ModeOffline, tp.store.Mode())
}

func TestProbeUpgradeIsExplicit(t *testing.T) {
	tp := newTestPipeline(t, model.ModeOffline)

	var changes []events.ModeChanged
	require.NoError(t, tp.bus.SubscribeModeChanged(func(ev events.ModeChanged) {
		changes = append(changes, ev)
	}))

	mode := tp.probe.Probe(context.Background())

	assert.Equal(t, model.ModeOnline, mode)
	require.Len(t, changes, 1)
	assert.Equal(t, model.ModeOffline, changes[0].Previous)
	assert.Equal(t, model.ModeOnline, changes[0].Current)

	// Probing again in the same mode publishes nothing new.
	tp.probe.Probe(context.Background())
	assert.Len(t, changes, 1)
}

func TestBusyFlagReleasedAfterFailure(t *testing.T) {
	tp := newTestPipeline(t, model.ModeOffline)
	uploadTestImage(t, tp, "site1.jpg", 512)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tp.coord.RunSegmentation(cancelled)
	require.Error(t, err)
	assert.Equal(t, StateFailed, tp.coord.State())

	// The flag is free again; the user can simply retry.
	_, err = tp.coord.RunSegmentation(context.Background())
	assert.NoError(t, err)
}

// Package synthetic fabricates schema-valid stage results when the remote
// analysis service is unreachable. Values are pseudo-random within bounded
// ranges so the UI stays fully exercisable offline; they carry no physical
// meaning.
package synthetic

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ruinscan/ruinscan-go/internal/model"
)

// Bounded ranges for fabricated results.
const (
	ruinsPctMin      = 20.0
	ruinsPctMax      = 60.0
	vegetationPctMin = 10.0
	vegetationPctMax = 40.0
	waterPctMin      = 1.0
	waterPctMax      = 6.0

	pixelsAnalyzedMin = 500_000
	pixelsAnalyzedMax = 8_000_000

	artifactCountMin = 3
	artifactCountMax = 14

	confidenceMin = 0.7
	confidenceMax = 1.0

	// Nominal canvas the fabricated geometry is placed on.
	canvasWidth  = 1600.0
	canvasHeight = 1200.0

	boxSideMin = 24.0
	boxSideMax = 160.0
)

// Config controls generator behavior.
type Config struct {
	// Seed of 0 selects an unpredictable source.
	Seed uint64
	// MinLatency/MaxLatency bound the artificial delay inserted before each
	// result so offline runs still show progress in the UI. Zero disables
	// the delay.
	MinLatency time.Duration
	MaxLatency time.Duration
}

// Generator produces synthetic stage results. Safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	cfg Config
}

// NewGenerator creates a generator from cfg.
func NewGenerator(cfg Config) *Generator {
	seed1, seed2 := cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15
	if cfg.Seed == 0 {
		seed1, seed2 = rand.Uint64(), rand.Uint64()
	}
	return &Generator{
		rng: rand.New(rand.NewPCG(seed1, seed2)),
		cfg: cfg,
	}
}

// Upload fabricates the upload stage result for a locally held image. The
// preview URL points at the local preview endpoint since no remote copy
// exists.
func (g *Generator) Upload(ctx context.Context, name string, sizeBytes int64, previewURL string) (*model.UploadedImage, error) {
	if err := g.sleep(ctx); err != nil {
		return nil, err
	}
	return &model.UploadedImage{
		ID:          name,
		DisplayName: name,
		SizeBytes:   sizeBytes,
		PreviewURL:  previewURL,
		UploadedAt:  time.Now(),
		Source:      model.SourceSynthetic,
	}, nil
}

// Segment fabricates a segmentation result within the documented ranges.
func (g *Generator) Segment(ctx context.Context) (*model.SegmentationResult, error) {
	if err := g.sleep(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	res := &model.SegmentationResult{
		RuinsPct:       round1(g.inRange(ruinsPctMin, ruinsPctMax)),
		VegetationPct:  round1(g.inRange(vegetationPctMin, vegetationPctMax)),
		WaterPct:       round1(g.inRange(waterPctMin, waterPctMax)),
		PixelsAnalyzed: pixelsAnalyzedMin + g.rng.Int64N(pixelsAnalyzedMax-pixelsAnalyzedMin+1),
		Success:        true,
		Source:         model.SourceSynthetic,
		GeneratedAt:    time.Now(),
	}
	g.mu.Unlock()
	return res, nil
}

// Detect fabricates between 3 and 14 artifacts with coherent geometry:
// the center sits in the middle of the bounding box and the area never
// exceeds the box.
func (g *Generator) Detect(ctx context.Context) (*model.DetectionResult, error) {
	if err := g.sleep(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	count := artifactCountMin + g.rng.IntN(artifactCountMax-artifactCountMin+1)
	artifacts := make([]model.Artifact, count)
	for i := range artifacts {
		artifacts[i] = g.artifact()
	}
	g.mu.Unlock()

	return &model.DetectionResult{
		Artifacts:     artifacts,
		TotalDetected: count,
		Success:       true,
		Source:        model.SourceSynthetic,
		GeneratedAt:   time.Now(),
	}, nil
}

// artifact fabricates one detection. Caller holds g.mu.
func (g *Generator) artifact() model.Artifact {
	w := g.inRange(boxSideMin, boxSideMax)
	h := g.inRange(boxSideMin, boxSideMax)
	x := g.inRange(0, canvasWidth-w)
	y := g.inRange(0, canvasHeight-h)

	box := model.BoundingBox{
		X:      round1(x),
		Y:      round1(y),
		Width:  round1(w),
		Height: round1(h),
	}
	return model.Artifact{
		ID:         uuid.NewString(),
		Type:       model.ArtifactTypes[g.rng.IntN(len(model.ArtifactTypes))],
		Confidence: round3(g.inRange(confidenceMin, confidenceMax)),
		// Detected objects fill only part of their box.
		Area: round1(w * h * g.inRange(0.5, 0.9)),
		Center: model.Point{
			X: round1(box.X + box.Width/2),
			Y: round1(box.Y + box.Height/2),
		},
		BoundingBox: box,
	}
}

func (g *Generator) inRange(low, high float64) float64 {
	return low + g.rng.Float64()*(high-low)
}

// sleep inserts the configured artificial latency, honoring ctx.
func (g *Generator) sleep(ctx context.Context) error {
	if g.cfg.MaxLatency <= 0 {
		return ctx.Err()
	}
	d := g.cfg.MinLatency
	if spread := g.cfg.MaxLatency - g.cfg.MinLatency; spread > 0 {
		g.mu.Lock()
		d += time.Duration(g.rng.Int64N(int64(spread)))
		g.mu.Unlock()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

// Package pipeline implements the client-side analysis pipeline: the
// connectivity probe, the per-stage executor with synthetic fallback, the
// coordinator sequencing upload, segmentation, detection and combination,
// and the result store feeding the UI.
package pipeline

import (
	"sync"

	"github.com/ruinscan/ruinscan-go/internal/model"
)

// Store is the source of truth for the latest result of each stage plus
// the current connectivity mode. It is written only by the coordinator and
// its executor; collaborators read snapshots.
type Store struct {
	mu           sync.RWMutex
	mode         model.Mode
	image        *model.UploadedImage
	segmentation *model.SegmentationResult
	detection    *model.DetectionResult
	combined     *model.CombinedSummary
}

// Snapshot is a consistent read of the store contents.
type Snapshot struct {
	Mode         model.Mode                `json:"mode"`
	Image        *model.UploadedImage      `json:"image,omitempty"`
	Segmentation *model.SegmentationResult `json:"segmentation,omitempty"`
	Detection    *model.DetectionResult    `json:"detection,omitempty"`
	Combined     *model.CombinedSummary    `json:"combined,omitempty"`
}

// NewStore creates a store. Mode starts Offline until a probe succeeds.
func NewStore() *Store {
	return &Store{mode: model.ModeOffline}
}

// Mode returns the current connectivity mode.
func (s *Store) Mode() model.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode updates the connectivity mode and reports the previous mode and
// whether anything changed. Downgrading an already-offline store is a no-op.
func (s *Store) SetMode(mode model.Mode) (previous model.Mode, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous = s.mode
	if previous == mode {
		return previous, false
	}
	s.mode = mode
	return previous, true
}

// Image returns a copy of the uploaded image, or nil.
func (s *Store) Image() *model.UploadedImage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyImage(s.image)
}

// SetImage replaces the uploaded image wholesale.
func (s *Store) SetImage(img *model.UploadedImage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.image = copyImage(img)
}

// Segmentation returns a copy of the latest segmentation result, or nil.
func (s *Store) Segmentation() *model.SegmentationResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySegmentation(s.segmentation)
}

// SetSegmentation stores a segmentation result.
func (s *Store) SetSegmentation(res *model.SegmentationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segmentation = copySegmentation(res)
}

// Detection returns a copy of the latest detection result, or nil.
func (s *Store) Detection() *model.DetectionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyDetection(s.detection)
}

// SetDetection stores a detection result.
func (s *Store) SetDetection(res *model.DetectionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detection = copyDetection(res)
}

// Combined returns a copy of the latest combined summary, or nil.
func (s *Store) Combined() *model.CombinedSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyCombined(s.combined)
}

// SetCombined stores a combined summary.
func (s *Store) SetCombined(sum *model.CombinedSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.combined = copyCombined(sum)
}

// ClearAnalysis removes segmentation, detection and combined results,
// keeping mode and the uploaded image. Called when a new upload
// invalidates prior analysis.
func (s *Store) ClearAnalysis() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segmentation = nil
	s.detection = nil
	s.combined = nil
}

// Snapshot returns a consistent copy of all store contents.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Mode:         s.mode,
		Image:        copyImage(s.image),
		Segmentation: copySegmentation(s.segmentation),
		Detection:    copyDetection(s.detection),
		Combined:     copyCombined(s.combined),
	}
}

func copyImage(img *model.UploadedImage) *model.UploadedImage {
	if img == nil {
		return nil
	}
	cp := *img
	return &cp
}

func copySegmentation(res *model.SegmentationResult) *model.SegmentationResult {
	if res == nil {
		return nil
	}
	cp := *res
	return &cp
}

func copyDetection(res *model.DetectionResult) *model.DetectionResult {
	if res == nil {
		return nil
	}
	cp := *res
	cp.Artifacts = make([]model.Artifact, len(res.Artifacts))
	copy(cp.Artifacts, res.Artifacts)
	return &cp
}

func copyCombined(sum *model.CombinedSummary) *model.CombinedSummary {
	if sum == nil {
		return nil
	}
	cp := *sum
	cp.TopTypes = append([]model.ArtifactTypeCount(nil), sum.TopTypes...)
	cp.Terrain = append([]model.TerrainClass(nil), sum.Terrain...)
	return &cp
}

// Package model defines the domain types shared between the analysis
// pipeline, the remote API client, the synthetic generator and the UI API:
// uploaded images, segmentation and detection results, and the combined
// summary derived from them.
package model

import (
	"sort"
	"time"
)

// Mode indicates whether the remote analysis service is reachable.
type Mode string

const (
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"
)

// Stage identifies one pipeline step.
type Stage string

const (
	StageUpload  Stage = "upload"
	StageSegment Stage = "segment"
	StageDetect  Stage = "detect"
)

// ResultSource records which implementation produced a stage result.
type ResultSource string

const (
	SourceRemote    ResultSource = "remote"
	SourceSynthetic ResultSource = "synthetic"
)

// ArtifactTypes is the fixed category set for detected artifacts.
var ArtifactTypes = []string{
	"pottery_shard",
	"stone_tool",
	"coin",
	"bone_fragment",
	"metal_object",
	"tile_fragment",
	"bead",
	"structural_remain",
}

// UploadedImage describes the site photo the pipeline operates on. It is
// replaced wholesale on every upload; fields are never mutated in place.
type UploadedImage struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"displayName"`
	SizeBytes   int64        `json:"sizeBytes"`
	PreviewURL  string       `json:"previewUrl"`
	UploadedAt  time.Time    `json:"uploadedAt"`
	Source      ResultSource `json:"source"`
}

// SegmentationResult holds terrain class coverage for the analyzed image.
// Percentages are each 0-100 and are not required to sum to 100.
type SegmentationResult struct {
	RuinsPct       float64      `json:"ruinsPct"`
	VegetationPct  float64      `json:"vegetationPct"`
	WaterPct       float64      `json:"waterPct"`
	PixelsAnalyzed int64        `json:"pixelsAnalyzed"`
	Success        bool         `json:"success"`
	Source         ResultSource `json:"source"`
	GeneratedAt    time.Time    `json:"generatedAt"`
}

// Point is an image coordinate in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BoundingBox is an axis-aligned box in image pixel coordinates.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Artifact is a single detected object.
type Artifact struct {
	ID          string      `json:"id"`
	Type        string      `json:"type"`
	Confidence  float64     `json:"confidence"`
	Area        float64     `json:"area"`
	Center      Point       `json:"center"`
	BoundingBox BoundingBox `json:"boundingBox"`
}

// DetectionResult holds the detected artifacts in detection order.
type DetectionResult struct {
	Artifacts     []Artifact   `json:"artifacts"`
	TotalDetected int          `json:"totalDetected"`
	Success       bool         `json:"success"`
	Source        ResultSource `json:"source"`
	GeneratedAt   time.Time    `json:"generatedAt"`
}

// TerrainClass is a named coverage percentage in the combined summary.
type TerrainClass struct {
	Name string  `json:"name"`
	Pct  float64 `json:"pct"`
}

// ArtifactTypeCount aggregates detections per artifact category.
type ArtifactTypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// CombinedSummary is the derived aggregate over the latest segmentation and
// detection results. It is recomputed in full from current results and
// carries no independent state, so recomputing it over an unchanged input
// yields an identical value.
type CombinedSummary struct {
	ImageID         string              `json:"imageId"`
	ImageName       string              `json:"imageName"`
	ArtifactCount   int                 `json:"artifactCount"`
	TopTypes        []ArtifactTypeCount `json:"topTypes"`
	DominantTerrain string              `json:"dominantTerrain"`
	Terrain         []TerrainClass      `json:"terrain"`
	PixelsAnalyzed  int64               `json:"pixelsAnalyzed"`
	SegmentedAt     time.Time           `json:"segmentedAt"`
	DetectedAt      time.Time           `json:"detectedAt"`
}

// Combine derives a CombinedSummary from the given results. Either result
// may be nil; zero values substitute for the missing side. img may be nil
// when summarizing before an upload, which leaves the image identity empty.
func Combine(img *UploadedImage, seg *SegmentationResult, det *DetectionResult) CombinedSummary {
	var s CombinedSummary
	if img != nil {
		s.ImageID = img.ID
		s.ImageName = img.DisplayName
	}
	if seg != nil {
		s.Terrain = []TerrainClass{
			{Name: "ruins", Pct: seg.RuinsPct},
			{Name: "vegetation", Pct: seg.VegetationPct},
			{Name: "water", Pct: seg.WaterPct},
		}
		s.DominantTerrain = dominantTerrain(s.Terrain)
		s.PixelsAnalyzed = seg.PixelsAnalyzed
		s.SegmentedAt = seg.GeneratedAt
	}
	if det != nil {
		s.ArtifactCount = det.TotalDetected
		s.TopTypes = countArtifactTypes(det.Artifacts)
		s.DetectedAt = det.GeneratedAt
	}
	return s
}

func dominantTerrain(classes []TerrainClass) string {
	best := ""
	bestPct := -1.0
	for _, c := range classes {
		if c.Pct > bestPct {
			best = c.Name
			bestPct = c.Pct
		}
	}
	return best
}

// countArtifactTypes returns per-type counts ordered by count descending,
// ties broken alphabetically so the result is deterministic.
func countArtifactTypes(artifacts []Artifact) []ArtifactTypeCount {
	counts := make(map[string]int)
	for i := range artifacts {
		counts[artifacts[i].Type]++
	}
	out := make([]ArtifactTypeCount, 0, len(counts))
	for typ, n := range counts {
		out = append(out, ArtifactTypeCount{Type: typ, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}

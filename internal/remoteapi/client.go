// Package remoteapi implements the typed client for the remote
// archaeological image-analysis service. The service exposes a reachability
// root, a multipart upload endpoint and JSON segmentation/detection
// endpoints; all analysis responses carry a success flag alongside the
// payload.
package remoteapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/ruinscan/ruinscan-go/internal/conf"
	"github.com/ruinscan/ruinscan-go/internal/errors"
	"github.com/ruinscan/ruinscan-go/internal/httpclient"
	"github.com/ruinscan/ruinscan-go/internal/logging"
	"github.com/ruinscan/ruinscan-go/internal/model"
)

const (
	componentName = "remoteapi"

	// uploadFieldName is the multipart form field the service reads.
	uploadFieldName = "image"

	maxBodyPreviewSize = 200
)

// Service is the remote capability set consumed by the stage executor.
// Tests substitute an instrumented double to verify the offline path never
// touches the network.
type Service interface {
	// Ping checks reachability of the service root.
	Ping(ctx context.Context) error
	// Upload sends the image bytes and returns the server-side identity.
	Upload(ctx context.Context, name string, data []byte) (*model.UploadedImage, error)
	// Segment requests terrain segmentation for a previously uploaded file.
	Segment(ctx context.Context, filename string) (*model.SegmentationResult, error)
	// Detect requests artifact detection for a previously uploaded file.
	Detect(ctx context.Context, filename string) (*model.DetectionResult, error)
}

// Client is the HTTP implementation of Service.
type Client struct {
	http     *httpclient.Client
	baseURL  string
	settings *conf.Settings
	log      *slog.Logger
}

// NewClient builds a client from settings.
func NewClient(settings *conf.Settings) *Client {
	return &Client{
		http: httpclient.New(&httpclient.Config{
			DefaultTimeout: settings.Service.Timeout,
		}),
		baseURL:  strings.TrimRight(settings.Service.BaseURL, "/"),
		settings: settings,
		log:      logging.ForService(componentName),
	}
}

// Close releases the underlying connection pool.
func (c *Client) Close() {
	c.http.Close()
}

// Ping implements Service. Any transport error or non-2xx status means the
// service is unreachable.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.Get(ctx, c.baseURL+"/")
	if err != nil {
		return networkError(err, "ping")
	}
	defer closeBody(resp.Body, c.log)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return rejectedError(fmt.Errorf("service root returned status %d", resp.StatusCode), "ping", resp.StatusCode)
	}
	return nil
}

// uploadResponse is the upload endpoint's wire schema.
type uploadResponse struct {
	Success         bool    `json:"success"`
	Error           string  `json:"error"`
	Filename        string  `json:"filename"`
	OriginalName    string  `json:"original_name"`
	FileSizeMB      float64 `json:"file_size_mb"`
	PreviewURL      string  `json:"preview_url"`
	UploadTimestamp string  `json:"upload_timestamp"`
}

// Upload implements Service.
func (c *Client) Upload(ctx context.Context, name string, data []byte) (*model.UploadedImage, error) {
	url := c.baseURL + c.settings.Service.UploadPath
	c.log.Debug("Uploading image", "url", url, "name", name, "size_bytes", len(data))

	resp, err := c.http.PostFile(ctx, url, uploadFieldName, name, bytes.NewReader(data))
	if err != nil {
		return nil, networkError(err, "upload")
	}

	var body uploadResponse
	if err := c.decodeEnvelope(resp, "upload", &body); err != nil {
		return nil, err
	}

	uploadedAt := time.Now()
	if body.UploadTimestamp != "" {
		if ts, err := time.Parse(time.RFC3339, body.UploadTimestamp); err == nil {
			uploadedAt = ts
		}
	}

	return &model.UploadedImage{
		ID:          body.Filename,
		DisplayName: body.OriginalName,
		SizeBytes:   int64(math.Round(body.FileSizeMB * 1024 * 1024)),
		PreviewURL:  c.absoluteURL(body.PreviewURL),
		UploadedAt:  uploadedAt,
		Source:      model.SourceRemote,
	}, nil
}

func (r uploadResponse) ok() (bool, string) { return r.Success, r.Error }

// segmentResponse is the segmentation endpoint's wire schema.
type segmentResponse struct {
	Success              bool    `json:"success"`
	Error                string  `json:"error"`
	RuinsPercentage      float64 `json:"ruins_percentage"`
	VegetationPercentage float64 `json:"vegetation_percentage"`
	WaterPercentage      float64 `json:"water_percentage"`
	PixelsAnalyzed       int64   `json:"pixels_analyzed"`
}

func (r segmentResponse) ok() (bool, string) { return r.Success, r.Error }

// Segment implements Service.
func (c *Client) Segment(ctx context.Context, filename string) (*model.SegmentationResult, error) {
	url := c.baseURL + c.settings.Service.SegmentPath
	c.log.Debug("Requesting segmentation", "url", url, "filename", filename)

	resp, err := c.http.PostJSON(ctx, url, map[string]string{"filename": filename})
	if err != nil {
		return nil, networkError(err, "segment")
	}

	var body segmentResponse
	if err := c.decodeEnvelope(resp, "segment", &body); err != nil {
		return nil, err
	}

	return &model.SegmentationResult{
		RuinsPct:       body.RuinsPercentage,
		VegetationPct:  body.VegetationPercentage,
		WaterPct:       body.WaterPercentage,
		PixelsAnalyzed: body.PixelsAnalyzed,
		Success:        true,
		Source:         model.SourceRemote,
		GeneratedAt:    time.Now(),
	}, nil
}

// wireArtifact is one detection in the service's schema. Geometry comes as
// arrays: center [x, y] and bbox [x, y, w, h].
type wireArtifact struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Confidence float64   `json:"confidence"`
	Area       float64   `json:"area"`
	Center     []float64 `json:"center"`
	BBox       []float64 `json:"bbox"`
}

// detectResponse is the detection endpoint's wire schema.
type detectResponse struct {
	Success       bool           `json:"success"`
	Error         string         `json:"error"`
	Artifacts     []wireArtifact `json:"artifacts"`
	TotalDetected int            `json:"total_detected"`
}

func (r detectResponse) ok() (bool, string) { return r.Success, r.Error }

// Detect implements Service.
func (c *Client) Detect(ctx context.Context, filename string) (*model.DetectionResult, error) {
	url := c.baseURL + c.settings.Service.DetectPath
	c.log.Debug("Requesting artifact detection", "url", url, "filename", filename)

	resp, err := c.http.PostJSON(ctx, url, map[string]string{"filename": filename})
	if err != nil {
		return nil, networkError(err, "detect")
	}

	var body detectResponse
	if err := c.decodeEnvelope(resp, "detect", &body); err != nil {
		return nil, err
	}

	artifacts := make([]model.Artifact, 0, len(body.Artifacts))
	for i := range body.Artifacts {
		artifacts = append(artifacts, mapWireArtifact(&body.Artifacts[i]))
	}

	return &model.DetectionResult{
		Artifacts:     artifacts,
		TotalDetected: body.TotalDetected,
		Success:       true,
		Source:        model.SourceRemote,
		GeneratedAt:   time.Now(),
	}, nil
}

func mapWireArtifact(w *wireArtifact) model.Artifact {
	a := model.Artifact{
		ID:         w.ID,
		Type:       w.Type,
		Confidence: w.Confidence,
		Area:       w.Area,
	}
	if len(w.Center) >= 2 {
		a.Center = model.Point{X: w.Center[0], Y: w.Center[1]}
	}
	if len(w.BBox) >= 4 {
		a.BoundingBox = model.BoundingBox{X: w.BBox[0], Y: w.BBox[1], Width: w.BBox[2], Height: w.BBox[3]}
	}
	return a
}

// decodeEnvelope reads resp, enforces a 2xx status, unmarshals into out and
// checks the success flag reported by ok. resp.Body is always closed.
func (c *Client) decodeEnvelope(resp *http.Response, operation string, out any) error {
	defer closeBody(resp.Body, c.log)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(err, operation)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("Service returned non-OK status",
			"operation", operation,
			"status_code", resp.StatusCode,
			"body", truncateBodyPreview(string(raw)))
		return rejectedError(
			fmt.Errorf("%s returned status %d", operation, resp.StatusCode),
			operation, resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryRemoteRejected).
			Context("operation", operation).
			Context("body", truncateBodyPreview(string(raw))).
			Build()
	}

	if env, okType := out.(successEnvelope); okType {
		if ok, msg := env.ok(); !ok {
			if msg == "" {
				msg = "service reported failure without a message"
			}
			return errors.Newf("%s rejected: %s", operation, msg).
				Component(componentName).
				Category(errors.CategoryRemoteRejected).
				Context("operation", operation).
				Build()
		}
	}
	return nil
}

// successEnvelope is satisfied by all response schemas.
type successEnvelope interface {
	ok() (bool, string)
}

// absoluteURL resolves service-relative preview paths against the base URL.
func (c *Client) absoluteURL(path string) string {
	if path == "" || strings.Contains(path, "://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func networkError(err error, operation string) error {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryNetwork).
		Context("operation", operation).
		Build()
}

func rejectedError(err error, operation string, statusCode int) error {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryRemoteRejected).
		Context("operation", operation).
		Context("status_code", fmt.Sprintf("%d", statusCode)).
		Build()
}

func closeBody(body io.Closer, log *slog.Logger) {
	if err := body.Close(); err != nil && log != nil {
		log.Debug("Failed to close response body", "error", err)
	}
}

func truncateBodyPreview(body string) string {
	if len(body) > maxBodyPreviewSize {
		return body[:maxBodyPreviewSize] + "... (truncated)"
	}
	return body
}

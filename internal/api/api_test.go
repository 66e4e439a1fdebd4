package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruinscan/ruinscan-go/internal/conf"
	"github.com/ruinscan/ruinscan-go/internal/errors"
	"github.com/ruinscan/ruinscan-go/internal/events"
	"github.com/ruinscan/ruinscan-go/internal/model"
	"github.com/ruinscan/ruinscan-go/internal/pipeline"
	"github.com/ruinscan/ruinscan-go/internal/synthetic"
)

// unreachableService fails every remote call so handlers exercise the
// synthetic path deterministically.
type unreachableService struct{}

func (unreachableService) Ping(context.Context) error {
	return errors.Newf("connection refused").Category(errors.CategoryNetwork).Build()
}

func (unreachableService) Upload(context.Context, string, []byte) (*model.UploadedImage, error) {
	return nil, errors.Newf("connection refused").Category(errors.CategoryNetwork).Build()
}

func (unreachableService) Segment(context.Context, string) (*model.SegmentationResult, error) {
	return nil, errors.Newf("connection refused").Category(errors.CategoryNetwork).Build()
}

func (unreachableService) Detect(context.Context, string) (*model.DetectionResult, error) {
	return nil, errors.Newf("connection refused").Category(errors.CategoryNetwork).Build()
}

func newTestController(t *testing.T) *Controller {
	t.Helper()

	settings := &conf.Settings{}
	settings.WebServer.PreviewTTL = 0 // exercise the default

	store := pipeline.NewStore()
	bus := events.NewBus()
	gen := synthetic.NewGenerator(synthetic.Config{Seed: 42})
	exec := pipeline.NewExecutor(unreachableService{}, gen, store, bus, nil)
	coord := pipeline.NewCoordinator(store, exec, bus, nil)
	probe := pipeline.NewProbe(unreachableService{}, store, bus, nil)

	return New(settings, coord, store, probe, nil)
}

func multipartUpload(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func doUpload(t *testing.T, c *Controller, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()

	body, contentType := multipartUpload(t, uploadFormField, filename, data)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/images", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)
	return rec
}

func TestUploadImageSucceedsOffline(t *testing.T) {
	c := newTestController(t)

	rec := doUpload(t, c, "site1.jpg", []byte("fake jpeg bytes"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Image model.UploadedImage `json:"image"`
		State pipeline.State      `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "site1.jpg", resp.Image.ID)
	assert.Equal(t, model.SourceSynthetic, resp.Image.Source)
	assert.Equal(t, "/api/v1/media/preview/site1.jpg", resp.Image.PreviewURL)
	assert.Equal(t, pipeline.StateIdle, resp.State)
}

func TestUploadImageWithoutFileIsBadRequest(t *testing.T) {
	c := newTestController(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/images", nil)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestUploadImageRejectsUnsafeFilename(t *testing.T) {
	c := newTestController(t)

	rec := doUpload(t, c, "../../etc/passwd", []byte("data"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStageWithoutImageIsBadRequest(t *testing.T) {
	c := newTestController(t)

	for _, path := range []string{
		"/api/v1/analysis/segment",
		"/api/v1/analysis/detect",
		"/api/v1/analysis/run",
	} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		c.Echo.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestFullAnalysisFlow(t *testing.T) {
	c := newTestController(t)

	rec := doUpload(t, c, "dig-site.png", []byte("png bytes"))
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analysis/run", nil)
	rec = httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary model.CombinedSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "dig-site.png", summary.ImageID)
	assert.GreaterOrEqual(t, summary.ArtifactCount, 3)
	assert.LessOrEqual(t, summary.ArtifactCount, 14)
	assert.NotEmpty(t, summary.DominantTerrain)

	// Results endpoint reflects the completed run.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/results", nil)
	rec = httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var results map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	assert.JSONEq(t, `"offline"`, string(results["mode"]))
	assert.JSONEq(t, `"done"`, string(results["state"]))
	assert.NotEqual(t, "null", string(results["segmentation"]))
	assert.NotEqual(t, "null", string(results["detection"]))
	assert.NotEqual(t, "null", string(results["combined"]))
}

func TestGetCombinedWithoutResultsIsConflict(t *testing.T) {
	c := newTestController(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/results/combined", nil)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProbeReportsOfflineForUnreachableService(t *testing.T) {
	c := newTestController(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/probe", nil)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"mode":"offline"}`, rec.Body.String())
}

func TestServePreviewRoundTrip(t *testing.T) {
	c := newTestController(t)

	payload := []byte("\x89PNG\r\n\x1a\nfake image payload")
	rec := doUpload(t, c, "ruins.png", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/media/preview/ruins.png", nil)
	rec = httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.Bytes())
}

func TestServePreviewUnknownIDIsNotFound(t *testing.T) {
	c := newTestController(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/media/preview/missing.jpg", nil)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthzReportsMode(t *testing.T) {
	c := newTestController(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","mode":"offline"}`, rec.Body.String())
}

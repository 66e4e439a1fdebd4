package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ruinscan/ruinscan-go/internal/model"
	"github.com/ruinscan/ruinscan-go/internal/pipeline"
)

// uploadFormField is the multipart field the UI posts the photo under.
const uploadFormField = "image"

// uploadResponse pairs the stored image identity with the coordinator
// state so the UI can update its header in one round trip.
type uploadResponse struct {
	Image *model.UploadedImage `json:"image"`
	State pipeline.State       `json:"state"`
}

// UploadImage handles POST /api/v1/images: receives the site photo, caches
// its bytes for local preview and runs the upload stage.
func (c *Controller) UploadImage(ctx echo.Context) error {
	fileHeader, err := ctx.FormFile(uploadFormField)
	if err != nil {
		return c.HandleError(ctx, pipeline.ErrNoImageSelected, "No image file in request")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to open uploaded file")
	}
	defer file.Close() //nolint:errcheck // read-only handle

	data, err := io.ReadAll(file)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read uploaded file")
	}

	if !safeFilenamePattern.MatchString(fileHeader.Filename) {
		return c.HandleError(ctx, pipeline.ErrNoImageSelected, "Invalid filename")
	}

	// Keep the bytes around so the preview works without the remote copy.
	c.previewCache.SetDefault(fileHeader.Filename, data)

	img, err := c.coordinator.Upload(ctx.Request().Context(), pipeline.UploadInput{
		Name:            fileHeader.Filename,
		Data:            data,
		LocalPreviewURL: "/api/v1/media/preview/" + fileHeader.Filename,
	})
	if err != nil {
		return c.HandleError(ctx, err, "Upload failed")
	}

	return ctx.JSON(http.StatusOK, &uploadResponse{
		Image: img,
		State: c.coordinator.State(),
	})
}

// RunSegmentation handles POST /api/v1/analysis/segment.
func (c *Controller) RunSegmentation(ctx echo.Context) error {
	res, err := c.coordinator.RunSegmentation(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Segmentation failed")
	}
	return ctx.JSON(http.StatusOK, res)
}

// RunDetection handles POST /api/v1/analysis/detect.
func (c *Controller) RunDetection(ctx echo.Context) error {
	res, err := c.coordinator.RunDetection(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Artifact detection failed")
	}
	return ctx.JSON(http.StatusOK, res)
}

// RunAll handles POST /api/v1/analysis/run: segmentation, detection and
// the combined summary in one sequential pass.
func (c *Controller) RunAll(ctx echo.Context) error {
	summary, err := c.coordinator.RunAll(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Full analysis failed")
	}
	return ctx.JSON(http.StatusOK, summary)
}

// GetResults handles GET /api/v1/results: the full store snapshot plus
// coordinator state.
func (c *Controller) GetResults(ctx echo.Context) error {
	snap := c.store.Snapshot()
	return ctx.JSON(http.StatusOK, map[string]any{
		"mode":         snap.Mode,
		"state":        c.coordinator.State(),
		"image":        snap.Image,
		"segmentation": snap.Segmentation,
		"detection":    snap.Detection,
		"combined":     snap.Combined,
	})
}

// GetCombined handles GET /api/v1/results/combined, recomputing the
// summary from current results.
func (c *Controller) GetCombined(ctx echo.Context) error {
	summary, err := c.coordinator.Combine()
	if err != nil {
		return c.HandleError(ctx, err, "Nothing to combine yet")
	}
	return ctx.JSON(http.StatusOK, summary)
}

// ProbeConnectivity handles POST /api/v1/probe: the explicit re-probe,
// which is the only way back from Offline to Online.
func (c *Controller) ProbeConnectivity(ctx echo.Context) error {
	mode := c.probe.Probe(ctx.Request().Context())
	return ctx.JSON(http.StatusOK, map[string]any{"mode": mode})
}

package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ruinscan/ruinscan-go/internal/errors"
)

// ServePreview handles GET /api/v1/media/preview/:id, returning the cached
// bytes of the uploaded image. Previews expire with the cache TTL; after
// that the UI falls back to its placeholder thumbnail.
func (c *Controller) ServePreview(ctx echo.Context) error {
	id := ctx.Param("id")
	if !safeFilenamePattern.MatchString(id) {
		err := errors.Newf("invalid preview id: %s", id).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
		return c.HandleError(ctx, err, "Invalid preview ID")
	}

	raw, found := c.previewCache.Get(id)
	if !found {
		return ctx.JSON(http.StatusNotFound, &ErrorResponse{
			Error:   "preview not found",
			Message: "Preview expired or image was never uploaded",
			Code:    http.StatusNotFound,
		})
	}

	data, ok := raw.([]byte)
	if !ok {
		err := errors.Newf("preview cache holds unexpected type").
			Component("api").
			Category(errors.CategoryGeneric).
			Build()
		return c.HandleError(ctx, err, "Preview unavailable")
	}

	contentType := http.DetectContentType(data)
	ctx.Response().Header().Set("Cache-Control", "private, max-age=300")
	return ctx.Blob(http.StatusOK, contentType, data)
}

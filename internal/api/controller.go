// Package api exposes the analysis pipeline to the browser UI over HTTP.
// It is a thin translation layer: handlers accept plain requests, delegate
// to the pipeline coordinator and return the normalized result schemas; all
// rendering decisions stay client-side.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ruinscan/ruinscan-go/internal/conf"
	"github.com/ruinscan/ruinscan-go/internal/errors"
	"github.com/ruinscan/ruinscan-go/internal/logging"
	"github.com/ruinscan/ruinscan-go/internal/pipeline"
)

// safeFilenamePattern defines the acceptable characters for preview IDs.
var safeFilenamePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-.]+$`)

// Controller manages the API routes and handlers.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	Settings *conf.Settings

	coordinator *pipeline.Coordinator
	store       *pipeline.Store
	probe       *pipeline.Probe

	// previewCache holds uploaded image bytes for offline previews, keyed
	// by image ID, expiring after the configured TTL.
	previewCache *cache.Cache

	registry *prometheus.Registry
	log      *slog.Logger
}

// New creates the API controller and registers all routes. registry may be
// nil to disable the /metrics endpoint.
func New(settings *conf.Settings, coordinator *pipeline.Coordinator, store *pipeline.Store, probe *pipeline.Probe, registry *prometheus.Registry) *Controller {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	ttl := settings.WebServer.PreviewTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	c := &Controller{
		Echo:         e,
		Settings:     settings,
		coordinator:  coordinator,
		store:        store,
		probe:        probe,
		previewCache: cache.New(ttl, 2*ttl),
		registry:     registry,
		log:          logging.ForService("api"),
	}

	c.Group = e.Group("/api/v1")
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Group.POST("/images", c.UploadImage)
	c.Group.POST("/analysis/segment", c.RunSegmentation)
	c.Group.POST("/analysis/detect", c.RunDetection)
	c.Group.POST("/analysis/run", c.RunAll)
	c.Group.GET("/results", c.GetResults)
	c.Group.GET("/results/combined", c.GetCombined)
	c.Group.POST("/probe", c.ProbeConnectivity)
	c.Group.GET("/media/preview/:id", c.ServePreview)

	c.Echo.GET("/healthz", c.Healthz)
	if c.registry != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})))
	}
}

// Start runs the HTTP server until it fails or is shut down.
func (c *Controller) Start(address string) error {
	c.log.Info("Starting UI API server", "address", address)
	return c.Echo.Start(address)
}

// Shutdown stops the HTTP server gracefully.
func (c *Controller) Shutdown(ctx context.Context) error {
	return c.Echo.Shutdown(ctx)
}

// ErrorResponse is the JSON error envelope returned by all handlers.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HandleError maps a pipeline error onto an HTTP response. Single-flight
// rejections and missing-image warnings keep their dedicated statuses so
// the UI can show the matching toast.
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	code := statusForError(err)
	c.log.Error("API request failed",
		"path", ctx.Request().URL.Path,
		"method", ctx.Request().Method,
		"code", code,
		"message", message,
		"error", err)
	return ctx.JSON(code, &ErrorResponse{
		Error:   err.Error(),
		Message: message,
		Code:    code,
	})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrStageBusy):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrNoImageSelected):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrNothingToCombine):
		return http.StatusConflict
	case errors.CategoryOf(err) == errors.CategoryValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Healthz reports process liveness.
func (c *Controller) Healthz(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"mode":   c.store.Mode(),
	})
}

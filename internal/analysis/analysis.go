// Package analysis wires the pipeline components together and runs them
// for the CLI entry points: the long-lived UI server and the one-shot
// file analysis.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ruinscan/ruinscan-go/internal/api"
	"github.com/ruinscan/ruinscan-go/internal/conf"
	"github.com/ruinscan/ruinscan-go/internal/errors"
	"github.com/ruinscan/ruinscan-go/internal/events"
	"github.com/ruinscan/ruinscan-go/internal/logging"
	"github.com/ruinscan/ruinscan-go/internal/observability/metrics"
	"github.com/ruinscan/ruinscan-go/internal/pipeline"
	"github.com/ruinscan/ruinscan-go/internal/remoteapi"
	"github.com/ruinscan/ruinscan-go/internal/synthetic"
)

// system bundles the wired pipeline components.
type system struct {
	store       *pipeline.Store
	coordinator *pipeline.Coordinator
	probe       *pipeline.Probe
	bus         *events.Bus
}

// buildSystem assembles the pipeline from settings. registry may be nil,
// in which case no metrics are collected.
func buildSystem(settings *conf.Settings, registry *prometheus.Registry) (*system, error) {
	var m *metrics.PipelineMetrics
	if registry != nil {
		var err error
		m, err = metrics.NewPipelineMetrics(registry)
		if err != nil {
			return nil, errors.New(err).
				Component("analysis").
				Category(errors.CategoryConfiguration).
				Context("operation", "init_metrics").
				Build()
		}
	}

	bus := events.NewBus()
	store := pipeline.NewStore()
	remote := remoteapi.NewClient(settings)
	gen := synthetic.NewGenerator(synthetic.Config{
		Seed:       settings.Synthetic.Seed,
		MinLatency: settings.Synthetic.MinLatency,
		MaxLatency: settings.Synthetic.MaxLatency,
	})

	exec := pipeline.NewExecutor(remote, gen, store, bus, m)
	return &system{
		store:       store,
		coordinator: pipeline.NewCoordinator(store, exec, bus, m),
		probe:       pipeline.NewProbe(remote, store, bus, m),
		bus:         bus,
	}, nil
}

// Serve probes connectivity once, then runs the UI API server until the
// process receives SIGINT or SIGTERM.
func Serve(settings *conf.Settings) error {
	log := logging.ForService("serve")

	registry := prometheus.NewRegistry()
	sys, err := buildSystem(settings, registry)
	if err != nil {
		return err
	}

	// Mirror pipeline events into the server log.
	if err := sys.bus.SubscribeModeChanged(func(ev events.ModeChanged) {
		log.Info("Connectivity mode changed",
			"previous", ev.Previous, "current", ev.Current, "reason", ev.Reason)
	}); err != nil {
		return err
	}
	if err := sys.bus.SubscribeStageCompleted(func(ev events.StageCompleted) {
		log.Info("Stage completed", "stage", ev.Stage, "source", ev.Source)
	}); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probeCtx, cancel := context.WithTimeout(ctx, settings.Service.Timeout)
	mode := sys.probe.Probe(probeCtx)
	cancel()
	log.Info("Startup connectivity probe finished", "mode", mode,
		"service", settings.Service.BaseURL)

	controller := api.New(settings, sys.coordinator, sys.store, sys.probe, registry)

	serverErr := make(chan error, 1)
	go func() {
		if err := controller.Start(settings.WebServer.Address); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return errors.New(err).
			Component("analysis").
			Category(errors.CategoryNetwork).
			Context("operation", "serve").
			Build()
	case <-ctx.Done():
		log.Info("Shutdown signal received, stopping server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return controller.Shutdown(shutdownCtx)
	}
}

// AnalyzeFile runs the full pipeline once for the image at path and writes
// the combined summary as indented JSON to out.
func AnalyzeFile(ctx context.Context, settings *conf.Settings, path string, out io.Writer) error {
	sys, err := buildSystem(settings, nil)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.New(err).
			Component("analysis").
			Category(errors.CategoryImageIO).
			Context("path", path).
			Build()
	}

	mode := sys.probe.Probe(ctx)
	logging.ForService("analyze").Info("Analyzing image",
		"path", path, "mode", mode, "size_bytes", len(data))

	if _, err := sys.coordinator.Upload(ctx, pipeline.UploadInput{
		Name:            filepath.Base(path),
		Data:            data,
		LocalPreviewURL: "file://" + path,
	}); err != nil {
		return err
	}

	summary, err := sys.coordinator.RunAll(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

// ProbeOnce performs a single connectivity probe and prints the resulting
// mode to out.
func ProbeOnce(ctx context.Context, settings *conf.Settings, out io.Writer) error {
	sys, err := buildSystem(settings, nil)
	if err != nil {
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, settings.Service.Timeout)
	defer cancel()

	mode := sys.probe.Probe(probeCtx)
	_, err = fmt.Fprintln(out, mode)
	return err
}

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/ruinscan/ruinscan-go/internal/events"
	"github.com/ruinscan/ruinscan-go/internal/logging"
	"github.com/ruinscan/ruinscan-go/internal/model"
	"github.com/ruinscan/ruinscan-go/internal/observability/metrics"
	"github.com/ruinscan/ruinscan-go/internal/remoteapi"
)

// Probe determines whether the remote analysis service is reachable and
// records the resulting mode. A single attempt per call, no retries; it is
// also the only path that can move the store back Online.
type Probe struct {
	remote  remoteapi.Service
	store   *Store
	bus     *events.Bus
	metrics *metrics.PipelineMetrics
	log     *slog.Logger
}

// NewProbe creates a connectivity probe. metrics may be nil.
func NewProbe(remote remoteapi.Service, store *Store, bus *events.Bus, m *metrics.PipelineMetrics) *Probe {
	return &Probe{
		remote:  remote,
		store:   store,
		bus:     bus,
		metrics: m,
		log:     logging.ForService("connectivity"),
	}
}

// Probe checks the service root once and updates the store's mode. It
// never returns an error: any failure simply means Offline.
func (p *Probe) Probe(ctx context.Context) model.Mode {
	mode := model.ModeOnline
	reason := "service reachable"

	if err := p.remote.Ping(ctx); err != nil {
		mode = model.ModeOffline
		reason = "service unreachable"
		p.log.Warn("Connectivity probe failed, running offline", "error", err)
	} else {
		p.log.Info("Connectivity probe succeeded, running online")
	}

	previous, changed := p.store.SetMode(mode)
	if p.metrics != nil {
		p.metrics.SetMode(mode)
	}
	if changed {
		p.bus.PublishModeChanged(events.ModeChanged{
			Previous: previous,
			Current:  mode,
			Reason:   reason,
			At:       time.Now(),
		})
	}
	return mode
}

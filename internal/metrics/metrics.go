package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors, registered via Register.
var (
	regOK atomic.Bool

	serverStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "polarmanager",
			Subsystem: "server",
			Name:      "starts_total",
			Help:      "Number of server starts, by reason.",
		}, []string{"id", "reason"},
	)
	serverStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "polarmanager",
			Subsystem: "server",
			Name:      "stops_total",
			Help:      "Number of server stops.",
		}, []string{"id"},
	)
	serverCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "polarmanager",
			Subsystem: "server",
			Name:      "crashes_total",
			Help:      "Number of nonzero server exits detected.",
		}, []string{"id"},
	)
	serverRestartsLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "polarmanager",
			Subsystem: "server",
			Name:      "restarts_rate_limited_total",
			Help:      "Auto-restarts skipped because the per-minute budget was exhausted.",
		}, []string{"id"},
	)
	serverStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "polarmanager",
			Subsystem: "server",
			Name:      "status",
			Help:      "Current server status (1 = active status, 0 = inactive).",
		}, []string{"id", "status"},
	)
	serverHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "polarmanager",
			Subsystem: "server",
			Name:      "healthy",
			Help:      "Health probe verdict (1 = ok, 0 = fail).",
		}, []string{"id"},
	)
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "polarmanager",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published to the bus, by type.",
		}, []string{"type"},
	)
)

// Register registers all metrics with the provided registerer. Safe to call
// multiple times; already-registered collectors are tolerated.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serverStarts, serverStops, serverCrashes, serverRestartsLimited,
		serverStatus, serverHealthy, eventsPublished,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves Prometheus metrics for the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(id, reason string) {
	if regOK.Load() {
		serverStarts.WithLabelValues(id, reason).Inc()
	}
}

func IncStop(id string) {
	if regOK.Load() {
		serverStops.WithLabelValues(id).Inc()
	}
}

func IncCrash(id string) {
	if regOK.Load() {
		serverCrashes.WithLabelValues(id).Inc()
	}
}

func IncRateLimited(id string) {
	if regOK.Load() {
		serverRestartsLimited.WithLabelValues(id).Inc()
	}
}

func SetStatus(id, oldStatus, newStatus string) {
	if !regOK.Load() {
		return
	}
	if oldStatus != "" {
		serverStatus.WithLabelValues(id, oldStatus).Set(0)
	}
	serverStatus.WithLabelValues(id, newStatus).Set(1)
}

func SetHealthy(id string, ok bool) {
	if !regOK.Load() {
		return
	}
	v := 0.0
	if ok {
		v = 1
	}
	serverHealthy.WithLabelValues(id).Set(v)
}

func IncEvent(typ string) {
	if regOK.Load() {
		eventsPublished.WithLabelValues(typ).Inc()
	}
}

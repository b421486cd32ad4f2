// Package polarmanager supervises a fleet of independently configured
// external processes: lifecycle control, crash recovery under a rate-limited
// restart policy, periodic health probing, and an ordered event stream
// describing every transition.
package polarmanager

import (
	"log/slog"
	"net/http"

	"github.com/polarsystems/polarmanager/internal/config"
	"github.com/polarsystems/polarmanager/internal/event"
	"github.com/polarsystems/polarmanager/internal/manager"
	"github.com/polarsystems/polarmanager/internal/metrics"
	"github.com/polarsystems/polarmanager/internal/relay"
	"github.com/polarsystems/polarmanager/internal/server"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for embedding consumers. Aliases, so conversions are
// zero-cost.

type Config = config.Config

type ServerConfig = config.ServerConfig

type Event = event.Event

type Bus = event.Bus

type Snapshot = manager.Snapshot

type Action = manager.Action

type Status = manager.Status

type Health = manager.Health

var (
	ErrNotFound      = manager.ErrNotFound
	ErrInvalidAction = manager.ErrInvalidAction
)

// Manager is a thin facade over the internal supervisor.
type Manager struct {
	sup *manager.Supervisor
	bus *event.Bus
}

func New(cfg *Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	bus := event.NewBus()
	return &Manager{sup: manager.NewSupervisor(cfg, bus, log), bus: bus}
}

// Bus returns the shared event bus; the relay collaborator drains it in
// emission order.
func (m *Manager) Bus() *Bus { return m.bus }

func (m *Manager) Snapshot() Snapshot { return m.sup.Snapshot() }

func (m *Manager) StartAll() { m.sup.StartAll() }

// DoAction parses and dispatches a control-surface action.
func (m *Manager) DoAction(serverID, action, reason string) error {
	act, err := manager.ParseAction(action)
	if err != nil {
		return err
	}
	return m.sup.DoAction(serverID, act, reason)
}

// Loop runs the supervision loop in the caller's goroutine until StopLoop.
func (m *Manager) Loop() { m.sup.Loop() }

// StopLoop requests loop exit; in-flight ticks complete.
func (m *Manager) StopLoop() { m.sup.Stop() }

// StopAllServers gracefully stops every managed server.
func (m *Manager) StopAllServers(reason string) { m.sup.StopAllServers(reason) }

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// NewHTTPServer builds the control-surface HTTP server.
func NewHTTPServer(addr string, m *Manager, sharedSecret string) *http.Server {
	return server.NewServer(addr, m.sup, sharedSecret)
}

// NewRelay builds the outbound event relay client.
func NewRelay(url, token, clientID string, log *slog.Logger) *relay.Client {
	return relay.New(url, token, clientID, log)
}

// Metrics helpers.

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

func RegisterMetricsDefault() error { return metrics.Register(prometheus.DefaultRegisterer) }

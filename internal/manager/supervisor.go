package manager

import (
	"log/slog"
	"sync"
	"time"

	"github.com/polarsystems/polarmanager/internal/config"
	"github.com/polarsystems/polarmanager/internal/event"
)

// Supervisor owns the full managed-server set, dispatches external actions,
// and runs the periodic supervision loop. No more servers than the
// configured maximum are ever instantiated.
type Supervisor struct {
	clientID string
	interval time.Duration
	bus      *event.Bus
	log      *slog.Logger

	servers map[string]*ManagedServer
	order   []string

	stopOnce sync.Once
	stop     chan struct{}
}

// ServerSnapshot is the read-only view of one server.
type ServerSnapshot struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Health   string `json:"health"`
	Priority int    `json:"priority"`
}

// Snapshot is the full fleet view returned to the control surface.
type Snapshot struct {
	ClientID string                    `json:"client_id"`
	Servers  map[string]ServerSnapshot `json:"servers"`
}

func NewSupervisor(cfg *config.Config, bus *event.Bus, log *slog.Logger) *Supervisor {
	p := &Supervisor{
		clientID: cfg.ClientID,
		interval: cfg.TickInterval,
		bus:      bus,
		log:      log,
		servers:  make(map[string]*ManagedServer),
		stop:     make(chan struct{}),
	}
	serverCfgs := cfg.Servers
	if len(serverCfgs) > cfg.MaxServers {
		log.Warn("server list truncated", "configured", len(serverCfgs), "max", cfg.MaxServers)
		serverCfgs = serverCfgs[:cfg.MaxServers]
	}
	for _, sc := range serverCfgs {
		p.servers[sc.ID] = newManagedServer(sc, bus, cfg.Capture, log)
		p.order = append(p.order, sc.ID)
	}
	return p
}

// Bus exposes the event bus for external collaborators (relay drain, plugin
// event injection).
func (p *Supervisor) Bus() *event.Bus { return p.bus }

// Snapshot assembles the fleet view. Reads are per-server and not
// linearizable with in-flight transitions; an eventually-consistent view is
// acceptable here.
func (p *Supervisor) Snapshot() Snapshot {
	out := Snapshot{ClientID: p.clientID, Servers: make(map[string]ServerSnapshot, len(p.servers))}
	for id, s := range p.servers {
		out.Servers[id] = ServerSnapshot{
			Name:     s.cfg.Name,
			Status:   s.Status().String(),
			Health:   s.Health().String(),
			Priority: s.cfg.Priority,
		}
	}
	return out
}

// StartAll boots every managed server sequentially. One server's failure
// never prevents the rest from starting.
func (p *Supervisor) StartAll() {
	for _, id := range p.order {
		if err := p.servers[id].Start("boot"); err != nil {
			p.log.Error("boot start failed", "server", id, "error", err)
		}
	}
}

// DoAction dispatches a control-surface action to the target server.
func (p *Supervisor) DoAction(id string, action Action, reason string) error {
	s, ok := p.servers[id]
	if !ok {
		return ErrNotFound
	}
	switch action {
	case ActionStart:
		return s.Start(reason)
	case ActionStop:
		s.Stop(reason)
		return nil
	case ActionRestart:
		return s.Restart(reason)
	default:
		return ErrInvalidAction
	}
}

// Loop runs supervision passes until Stop is called. Each pass visits every
// server in turn; a failure in one server's tick is isolated and never
// aborts the pass. The cadence is best-effort: the loop sleeps the full
// interval regardless of how long the pass took.
func (p *Supervisor) Loop() {
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		for _, id := range p.order {
			p.tick(id, p.servers[id])
		}

		select {
		case <-p.stop:
			return
		case <-time.After(p.interval):
		}
	}
}

func (p *Supervisor) tick(id string, s *ManagedServer) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("tick failed", "server", id, "panic", r)
		}
	}()
	s.TickSupervisor()
	s.TickHealth()
}

// Stop requests loop exit. In-flight ticks run to completion; nothing is
// force-cancelled.
func (p *Supervisor) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// StopAllServers gracefully stops every server, used at daemon shutdown.
func (p *Supervisor) StopAllServers(reason string) {
	for _, id := range p.order {
		p.servers[id].Stop(reason)
	}
}

package manager

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/polarsystems/polarmanager/internal/config"
	"github.com/polarsystems/polarmanager/internal/event"
	"github.com/polarsystems/polarmanager/internal/logger"
	"github.com/polarsystems/polarmanager/internal/metrics"
	"github.com/polarsystems/polarmanager/internal/probe"
	"github.com/polarsystems/polarmanager/internal/process"
)

const (
	// restartWindow is the trailing interval over which auto-restarts are
	// counted against max_restart_per_minute.
	restartWindow = 60 * time.Second

	// settleDelay separates the stop and start phases of Restart.
	settleDelay = 200 * time.Millisecond

	probeHost = "127.0.0.1"
)

// ManagedServer is one supervised external process plus its lifecycle and
// health state. It owns a single process.Handle; a fresh OS process is
// spawned on every start.
//
// opMu serializes Start and Stop against each other. The supervision ticks
// take the same lock opportunistically (TryLock) so a tick never stalls
// behind a slow stop and an external action never races crash detection.
type ManagedServer struct {
	cfg     config.ServerConfig
	bus     *event.Bus
	capture logger.CaptureConfig
	log     *slog.Logger
	proc    *process.Handle

	opMu sync.Mutex

	mu           sync.Mutex
	status       Status
	health       Health
	restartTimes []time.Time

	// test seams, default to the real implementations
	now      func() time.Time
	tcpProbe func(host string, port int, timeout time.Duration) bool
	webProbe func(url string, timeout time.Duration) bool
}

func newManagedServer(cfg config.ServerConfig, bus *event.Bus, capture logger.CaptureConfig, log *slog.Logger) *ManagedServer {
	return &ManagedServer{
		cfg:      cfg,
		bus:      bus,
		capture:  capture,
		log:      log.With("server", cfg.ID),
		proc:     process.NewHandle(),
		status:   StatusStopped,
		health:   HealthOK,
		now:      time.Now,
		tcpProbe: probe.TCP,
		webProbe: probe.HTTP,
	}
}

func (s *ManagedServer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *ManagedServer) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

func (s *ManagedServer) setStatus(st Status) {
	s.mu.Lock()
	old := s.status
	s.status = st
	s.mu.Unlock()
	metrics.SetStatus(s.cfg.ID, old.String(), st.String())
}

func (s *ManagedServer) emit(typ string, data map[string]any) {
	s.bus.Publish(event.New(typ, s.cfg.ID, data))
	metrics.IncEvent(typ)
}

// Start launches the server process. Starting an already-running server is
// a no-op: no duplicate process, no duplicate status event. Spawn failures
// propagate to the caller after the status is settled back to stopped.
func (s *ManagedServer) Start(reason string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.startLocked(reason)
}

func (s *ManagedServer) startLocked(reason string) error {
	if s.proc.IsRunning() {
		return nil
	}

	s.setStatus(StatusStarting)
	s.emit(event.TypeStatus, map[string]any{"status": StatusStarting.String(), "reason": reason})

	s.proc.SetCapture(s.capture.Writer(s.cfg.ID))
	if err := s.proc.Start(s.cfg.Start, s.cfg.WorkDir, s.cfg.Env, s.onLine); err != nil {
		s.setStatus(StatusStopped)
		s.emit(event.TypeStatus, map[string]any{"status": StatusStopped.String(), "reason": reason})
		s.log.Error("start failed", "error", err)
		return err
	}

	s.setStatus(StatusRunning)
	s.emit(event.TypeStatus, map[string]any{"status": StatusRunning.String(), "reason": reason})
	metrics.IncStart(s.cfg.ID, reason)
	s.log.Info("started", "reason", reason)
	return nil
}

// Stop terminates the server process, waiting out the grace period and
// escalating to a kill if needed. Stopping a non-running server is
// idempotent and still settles the status to stopped.
func (s *ManagedServer) Stop(reason string) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stopLocked(reason)
}

func (s *ManagedServer) stopLocked(reason string) {
	if !s.proc.IsRunning() {
		s.setStatus(StatusStopped)
		s.emit(event.TypeStatus, map[string]any{"status": StatusStopped.String(), "reason": reason})
		return
	}

	s.setStatus(StatusStopping)
	s.emit(event.TypeStatus, map[string]any{"status": StatusStopping.String(), "reason": reason})

	if len(s.cfg.Stop) > 0 {
		// Custom stop commands are accepted in configuration but not
		// executed; the event keeps operators aware of the gap.
		s.emit(event.TypeInfo, map[string]any{"msg": "stop_cmd not implemented yet"})
	}

	s.proc.Stop()
	s.setStatus(StatusStopped)
	s.emit(event.TypeStatus, map[string]any{"status": StatusStopped.String(), "reason": reason})
	metrics.IncStop(s.cfg.ID)
	s.log.Info("stopped", "reason", reason)
}

// Restart is stop, a short settle delay, then start. The lock is released
// between the phases: an external action issued during the delay may
// interleave. That preemption window is accepted behavior; the guarantee is
// that the last emitted event always matches the final status.
func (s *ManagedServer) Restart(reason string) error {
	s.Stop(reason)
	time.Sleep(settleDelay)
	return s.Start(reason)
}

// TickSupervisor detects process exits and applies the restart policy. It
// never blocks behind an in-flight start or stop; a skipped tick is
// recovered on the next pass.
func (s *ManagedServer) TickSupervisor() {
	if !s.opMu.TryLock() {
		return
	}
	defer s.opMu.Unlock()

	if s.proc.IsRunning() {
		return
	}
	code, exited := s.proc.ExitCode()
	if !exited {
		return
	}
	// Only a running server has an unhandled exit; crashed/stopped mean
	// this exit was already observed.
	if s.Status() != StatusRunning {
		return
	}

	if code == 0 {
		s.setStatus(StatusStopped)
		return
	}

	s.setStatus(StatusCrashed)
	s.emit(event.TypeCrash, map[string]any{"exit_code": code})
	metrics.IncCrash(s.cfg.ID)
	s.log.Warn("crashed", "exit_code", code)

	if s.cfg.RestartPolicy == "never" {
		return
	}
	if !s.allowRestart() {
		s.emit(event.TypeWarn, map[string]any{"msg": "restart rate limited"})
		metrics.IncRateLimited(s.cfg.ID)
		return
	}

	s.mu.Lock()
	s.restartTimes = append(s.restartTimes, s.now())
	s.mu.Unlock()
	_ = s.startLocked("auto_restart")
}

// allowRestart prunes the sliding window and reports whether another
// auto-restart fits the per-minute budget.
func (s *ManagedServer) allowRestart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-restartWindow)
	kept := s.restartTimes[:0]
	for _, t := range s.restartTimes {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	s.restartTimes = kept
	return len(s.restartTimes) < s.cfg.MaxRestartPerMinute
}

// TickHealth evaluates the configured probes (logical AND; pass when none
// are configured) and emits a health event only when the verdict changed.
func (s *ManagedServer) TickHealth() {
	ok := true
	if s.cfg.HealthPort > 0 {
		ok = ok && s.tcpProbe(probeHost, s.cfg.HealthPort, s.cfg.HealthTimeout)
	}
	if ok && s.cfg.HealthHTTPURL != "" {
		ok = s.webProbe(s.cfg.HealthHTTPURL, s.cfg.HealthTimeout)
	}

	next := HealthOK
	if !ok {
		next = HealthFail
	}

	s.mu.Lock()
	changed := next != s.health
	if changed {
		s.health = next
	}
	s.mu.Unlock()

	if changed {
		s.emit(event.TypeHealth, map[string]any{"health": next.String()})
		metrics.SetHealthy(s.cfg.ID, ok)
	}
}

// onLine handles one line of the server's merged stdout/stderr. Every line
// becomes a log_line event; the first matching keyword additionally raises
// an important_log event, at most one per line.
func (s *ManagedServer) onLine(line string) {
	s.emit(event.TypeLogLine, map[string]any{"line": line})
	for _, kw := range s.cfg.LogKeywords {
		if strings.Contains(line, kw) {
			s.emit(event.TypeImportantLog, map[string]any{"line": line, "keyword": kw})
			break
		}
	}
}

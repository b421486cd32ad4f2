package process

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned by Start when the previous process for the
// same handle has not exited yet. A duplicate start is never silently
// absorbed by replacing the running process.
var ErrAlreadyRunning = errors.New("process already running")

// StopGrace is how long Stop waits for graceful termination before
// escalating to SIGKILL.
const StopGrace = 10 * time.Second

// maxLineSize bounds a single captured output line.
const maxLineSize = 256 * 1024

// Handle owns one OS process: it spawns it, streams its merged stdout/stderr
// line by line to a callback, and tracks the last observed exit code. A new
// process is created on each Start; at most one is alive at a time.
type Handle struct {
	mu       sync.Mutex
	cmd      *exec.Cmd
	running  bool
	exitCode int
	exited   bool
	waitDone chan struct{}
	capture  io.WriteCloser
}

func NewHandle() *Handle { return &Handle{} }

// SetCapture installs an optional writer that receives every raw output
// line. It is closed when the process exits. Must be set before Start.
func (h *Handle) SetCapture(w io.WriteCloser) {
	h.mu.Lock()
	h.capture = w
	h.mu.Unlock()
}

// Start spawns argv[0] with the given working directory and environment
// overlayed onto the ambient environment. Stdout and stderr are merged into
// a single stream consumed asynchronously; onLine is invoked once per
// newline-delimited line, in order, until the stream closes. Decoding is
// byte-transparent, so invalid UTF-8 is passed through rather than failing.
func (h *Handle) Start(argv []string, workdir string, env map[string]string, onLine func(string)) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrAlreadyRunning
	}

	// #nosec G204 -- command comes from validated operator configuration
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workdir
	cmd.Env = mergedEnv(env)
	cmd.SysProcAttr = sysProcAttr()

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		h.mu.Unlock()
		_ = pr.Close()
		_ = pw.Close()
		return err
	}

	h.cmd = cmd
	h.running = true
	h.exited = false
	h.waitDone = make(chan struct{})
	capture := h.capture
	done := h.waitDone
	h.mu.Unlock()

	go h.readLines(pr, capture, onLine)
	go h.reap(cmd, pw, capture, done)
	return nil
}

func (h *Handle) readLines(r io.Reader, capture io.Writer, onLine func(string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		line := sc.Text()
		if capture != nil {
			_, _ = io.WriteString(capture, line+"\n")
		}
		if onLine != nil {
			onLine(line)
		}
	}
	// An oversized line aborts the scan; keep draining so the process's
	// writes never block and reap can observe the exit.
	_, _ = io.Copy(io.Discard, r)
}

func (h *Handle) reap(cmd *exec.Cmd, pw *io.PipeWriter, capture io.Closer, done chan struct{}) {
	err := cmd.Wait()
	_ = pw.Close()
	if capture != nil {
		_ = capture.Close()
	}

	code := 0
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			code = ee.ExitCode()
		} else {
			code = -1
		}
	}

	h.mu.Lock()
	h.running = false
	h.exited = true
	h.exitCode = code
	h.mu.Unlock()
	close(done)
}

// IsRunning reports whether a process was started and has not yet exited.
func (h *Handle) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// ExitCode returns the last observed exit code. ok is false if no process
// was ever started or the current one is still running.
func (h *Handle) ExitCode() (code int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.exited {
		return 0, false
	}
	return h.exitCode, true
}

// Stop requests graceful termination and waits up to StopGrace, escalating
// to a forced kill if exceeded. It is an idempotent no-op when nothing is
// running; the grace-period timeout is recovered here, never surfaced.
func (h *Handle) Stop() {
	h.mu.Lock()
	if !h.running || h.cmd == nil || h.cmd.Process == nil {
		h.mu.Unlock()
		return
	}
	pid := h.cmd.Process.Pid
	done := h.waitDone
	h.mu.Unlock()

	terminate(pid)
	select {
	case <-done:
	case <-time.After(StopGrace):
		kill(pid)
		<-done
	}
}

// Wait blocks until the process exits and returns its exit code, or 0 if no
// process was ever started.
func (h *Handle) Wait() int {
	h.mu.Lock()
	if h.cmd == nil {
		h.mu.Unlock()
		return 0
	}
	if h.exited {
		code := h.exitCode
		h.mu.Unlock()
		return code
	}
	done := h.waitDone
	h.mu.Unlock()

	<-done
	code, _ := h.ExitCode()
	return code
}

// mergedEnv overlays the configured entries onto the ambient environment.
func mergedEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := os.Environ()
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

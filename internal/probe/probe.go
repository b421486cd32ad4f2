// Package probe implements stateless liveness checks against managed
// servers. Every failure mode, including timeouts, folds into a boolean
// false; probes never return errors to the supervision loop.
package probe

import (
	"net"
	"net/http"
	"strconv"
	"time"
)

// slack is added on top of a probe's own timeout so an in-flight check is
// bounded even if the underlying dial misbehaves.
const slack = 200 * time.Millisecond

// TCP reports whether a connection to host:port succeeds within timeout.
func TCP(host string, port int, timeout time.Duration) bool {
	return bounded(timeout, func() bool {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	})
}

// HTTP reports whether a GET of url completes within timeout with a status
// in [200, 400).
func HTTP(url string, timeout time.Duration) bool {
	return bounded(timeout, func() bool {
		client := &http.Client{Timeout: timeout}
		resp, err := client.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode >= 200 && resp.StatusCode < 400
	})
}

// bounded runs check off the caller's path and waits at most timeout+slack
// for its verdict. A check that overruns the bound counts as failed.
func bounded(timeout time.Duration, check func() bool) bool {
	done := make(chan bool, 1)
	go func() {
		defer func() {
			if recover() != nil {
				done <- false
			}
		}()
		done <- check()
	}()
	select {
	case ok := <-done:
		return ok
	case <-time.After(timeout + slack):
		return false
	}
}

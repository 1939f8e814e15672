package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/54b3r/concierge-go/internal/logging"
)

// probeTimeout bounds each dependency probe of a readiness check.
const probeTimeout = 5 * time.Second

// Pinger is a dependency that can report its own reachability.
// Implementations must be safe for concurrent use.
type Pinger interface {
	// Ping returns nil when the dependency is reachable.
	Ping(ctx context.Context) error
	// Name is the label used in readiness responses (e.g. "qdrant").
	Name() string
}

// MultiPinger probes several dependencies as one. The ingest command uses
// it as a preflight before writing anything.
type MultiPinger struct {
	// pingers are probed concurrently.
	pingers []Pinger
}

// NewMultiPinger returns a MultiPinger over pingers.
func NewMultiPinger(pingers ...Pinger) *MultiPinger {
	return &MultiPinger{pingers: pingers}
}

// Ping probes every dependency and joins the failures, each prefixed with
// the dependency name.
func (m *MultiPinger) Ping(ctx context.Context) error {
	var errs []error
	for _, c := range probeAll(ctx, m.pingers) {
		if !c.OK {
			errs = append(errs, fmt.Errorf("%s: %s", c.Name, c.Error))
		}
	}
	return errors.Join(errs...)
}

// Name implements Pinger.
func (m *MultiPinger) Name() string { return "multi" }

// readyCheck is one dependency's probe result.
type readyCheck struct {
	// Name is the dependency label.
	Name string `json:"name"`
	// OK is true when the probe succeeded.
	OK bool `json:"ok"`
	// Error is the failure reason; empty on success.
	Error string `json:"error,omitempty"`
}

// readyResponse is the JSON body of GET /api/ready.
type readyResponse struct {
	// Ready is true only when every probe succeeded.
	Ready bool `json:"ready"`
	// Checks lists the probe results in registration order.
	Checks []readyCheck `json:"checks"`
}

// probeAll runs every probe concurrently, each under its own timeout, and
// returns the results in the order of pingers.
func probeAll(ctx context.Context, pingers []Pinger) []readyCheck {
	checks := make([]readyCheck, len(pingers))
	var wg sync.WaitGroup
	for i, p := range pingers {
		wg.Go(func() {
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			checks[i] = readyCheck{Name: p.Name(), OK: true}
			if err := p.Ping(probeCtx); err != nil {
				checks[i].OK = false
				checks[i].Error = err.Error()
			}
		})
	}
	wg.Wait()
	return checks
}

// handleReady handles GET /api/ready. It answers 200 when every dependency
// is reachable and 503 otherwise. /api/health only reports liveness.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{Ready: true, Checks: probeAll(r.Context(), s.pingers)}
	for _, c := range resp.Checks {
		if c.OK {
			continue
		}
		resp.Ready = false
		logging.FromContext(r.Context()).Warn("readiness probe failed",
			slog.String("dependency", c.Name),
			slog.String("error", c.Error),
		)
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}

package server

import (
	"context"
	"fmt"
)

// probe is any dependency client with a health check: the Qdrant index, the
// feature store and the history store all qualify.
type probe interface {
	Ping(ctx context.Context) error
}

// dependencyPinger adapts a probe to the Pinger interface under a fixed name.
type dependencyPinger struct {
	// name identifies the dependency in readiness responses.
	name string
	// probe is the dependency's own health check.
	probe probe
}

// NewPinger returns a Pinger that reports p's health under name.
func NewPinger(name string, p probe) Pinger {
	return &dependencyPinger{name: name, probe: p}
}

// Name returns the dependency label used in readiness responses.
func (p *dependencyPinger) Name() string { return p.name }

// Ping runs the dependency's health check.
func (p *dependencyPinger) Ping(ctx context.Context) error {
	if err := p.probe.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

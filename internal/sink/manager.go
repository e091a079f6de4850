package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aaeq/aaeq-core/internal/audio"
)

// ErrNoActiveSink is returned for writes with no active selection.
var ErrNoActiveSink = errors.New("sink: no active sink selected")

// Manager owns the registered sinks and at most one active selection.
// It is shared between the pipeline writer and the control API under
// its internal reader-writer lock: selection changes take the write
// lock, everything else reads.
type Manager struct {
	log zerolog.Logger

	mu      sync.RWMutex
	entries []*entry
	active  int // index into entries, -1 when none
}

type entry struct {
	sink   OutputSink
	config *audio.OutputConfig
}

// NewManager creates an empty manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log, active: -1}
}

// Register adds a sink. Registration happens at startup, before any
// selection.
func (m *Manager) Register(s OutputSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, &entry{sink: s})
}

// Names lists registered sinks in registration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.entries))
	for i, e := range m.entries {
		names[i] = e.sink.Name()
	}
	return names
}

func (m *Manager) findLocked(name string) (int, error) {
	for i, e := range m.entries {
		if e.sink.Name() == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("sink: %q not registered", name)
}

// Select switches the active sink: the previous one is drained and
// closed before the new one opens. An open failure leaves no active
// sink rather than silently keeping the old one.
func (m *Manager) Select(ctx context.Context, name string, cfg audio.OutputConfig) error {
	if !cfg.IsValid() {
		return fmt.Errorf("sink: invalid config %+v", cfg)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.findLocked(name)
	if err != nil {
		return err
	}

	if m.active >= 0 && m.active != idx {
		prev := m.entries[m.active]
		if err := prev.sink.Drain(ctx); err != nil {
			m.log.Warn().Err(err).Str("sink", prev.sink.Name()).Msg("sink: drain before switch failed")
		}
		if err := prev.sink.Close(ctx); err != nil {
			m.log.Warn().Err(err).Str("sink", prev.sink.Name()).Msg("sink: close before switch failed")
		}
		prev.config = nil
		m.active = -1
	}

	target := m.entries[idx]
	if target.sink.IsOpen() {
		if err := target.sink.Close(ctx); err != nil {
			return err
		}
	}
	if err := target.sink.Open(ctx, cfg); err != nil {
		target.config = nil
		return err
	}
	target.config = &cfg
	m.active = idx

	m.log.Info().Str("sink", name).Int("rate", cfg.SampleRate).
		Str("format", cfg.Format.String()).Msg("sink: selected")
	return nil
}

// Write forwards a block to the active sink.
func (m *Manager) Write(ctx context.Context, block audio.AudioBlock) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active < 0 {
		return ErrNoActiveSink
	}
	return m.entries[m.active].sink.Write(ctx, block)
}

// Drain waits for the active sink's buffered audio.
func (m *Manager) Drain(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active < 0 {
		return ErrNoActiveSink
	}
	return m.entries[m.active].sink.Drain(ctx)
}

// CloseActive closes the active sink and clears the selection.
func (m *Manager) CloseActive(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active < 0 {
		return nil
	}
	e := m.entries[m.active]
	err := e.sink.Close(ctx)
	e.config = nil
	m.active = -1
	return err
}

// ActiveName returns the active sink's name, if any.
func (m *Manager) ActiveName() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active < 0 {
		return "", false
	}
	return m.entries[m.active].sink.Name(), true
}

// ActiveConfig returns the active sink's open configuration.
func (m *Manager) ActiveConfig() (audio.OutputConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active < 0 || m.entries[m.active].config == nil {
		return audio.OutputConfig{}, false
	}
	return *m.entries[m.active].config, true
}

// ActiveStats returns the active sink's counters.
func (m *Manager) ActiveStats() (Stats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active < 0 {
		return Stats{}, false
	}
	return m.entries[m.active].sink.Stats(), true
}

// ActiveLatencyMs returns the active sink's reported latency.
func (m *Manager) ActiveLatencyMs() (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active < 0 {
		return 0, false
	}
	return m.entries[m.active].sink.LatencyMs(), true
}

// Info is one sink's row in the control API's outputs listing.
type Info struct {
	Name      string              `json:"name"`
	IsOpen    bool                `json:"is_open"`
	IsActive  bool                `json:"is_active"`
	Config    *audio.OutputConfig `json:"config,omitempty"`
	LatencyMs int                 `json:"latency_ms"`
}

// List describes every registered sink.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, len(m.entries))
	for i, e := range m.entries {
		out[i] = Info{
			Name:      e.sink.Name(),
			IsOpen:    e.sink.IsOpen(),
			IsActive:  i == m.active,
			Config:    e.config,
			LatencyMs: e.sink.LatencyMs(),
		}
	}
	return out
}

// Capabilities collects self-descriptions from sinks that provide one.
func (m *Manager) Capabilities() []Capability {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var caps []Capability
	for _, e := range m.entries {
		if p, ok := e.sink.(CapabilityProvider); ok {
			caps = append(caps, p.Capability())
		}
	}
	return caps
}

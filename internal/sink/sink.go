// Package sink defines the output sink capability and the manager that
// routes the DSP pipeline's blocks to the active sink.
package sink

import (
	"context"

	"github.com/aaeq/aaeq-core/internal/audio"
)

// OutputSink is the capability every audio output implements: local
// DAC, DLNA renderer, or ANP node. Open/close/drain may suspend at I/O
// boundaries; Write on a ring-buffered sink never blocks and returns
// ring.ErrBufferFull on overflow instead.
type OutputSink interface {
	// Name identifies the sink implementation ("local_dac", "dlna", "anp").
	Name() string

	// Open prepares the sink for writing with the given configuration.
	Open(ctx context.Context, cfg audio.OutputConfig) error

	// Write delivers one audio block.
	Write(ctx context.Context, block audio.AudioBlock) error

	// Drain waits for buffered audio to play out.
	Drain(ctx context.Context) error

	// Close releases the sink's resources.
	Close(ctx context.Context) error

	// LatencyMs reports end-to-end latency: buffering plus
	// device/protocol latency.
	LatencyMs() int

	// IsOpen reports whether the sink is ready for writes.
	IsOpen() bool

	// Stats returns a snapshot of the sink's counters.
	Stats() Stats
}

// Stats is the per-sink performance snapshot.
type Stats struct {
	FramesWritten uint64
	Underruns     uint64
	Overruns      uint64
	BufferFill    float32
}

// Capability describes what a sink supports, for the control API's
// /v1/capabilities endpoint.
type Capability struct {
	Name                    string               `json:"name"`
	SupportedRates          []int                `json:"supported_rates"`
	SupportedFormats        []audio.SampleFormat `json:"-"`
	FormatNames             []string             `json:"supported_formats"`
	MinChannels             int                  `json:"min_channels"`
	MaxChannels             int                  `json:"max_channels"`
	SupportsExclusive       bool                 `json:"supports_exclusive"`
	RequiresDeviceDiscovery bool                 `json:"requires_device_discovery"`
}

// CapabilityProvider is implemented by sinks that can describe
// themselves to the control API.
type CapabilityProvider interface {
	Capability() Capability
}

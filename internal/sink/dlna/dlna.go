package dlna

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aaeq/aaeq-core/internal/audio"
	"github.com/aaeq/aaeq-core/internal/sink"
)

// Mode selects how the sink reaches the renderer.
type Mode int

const (
	// ModePull serves the stream and waits for a renderer to fetch it.
	ModePull Mode = iota
	// ModePush additionally discovers the target and drives it via
	// AVTransport: SetAVTransportURI then Play, Stop on close.
	ModePush
)

// Options configure the sink at construction.
type Options struct {
	Mode Mode
	// BindAddr is the pull server's listen address; port 0 picks one.
	BindAddr string
	// Target is the renderer for push mode. When empty, the first
	// discovered MediaRenderer is used.
	Target *Device
	// Metadata shown on the renderer.
	Metadata MediaMetadata
}

// Sink is the DLNA output sink.
type Sink struct {
	log  zerolog.Logger
	opts Options

	server     *StreamServer
	discoverer *Discoverer

	mu        sync.Mutex
	transport *AVTransport
	profile   Profile
	cfg       audio.OutputConfig

	open     atomic.Bool
	frames   atomic.Uint64
	ditherer *audio.Ditherer
	convBuf  []byte
}

// New creates a DLNA sink.
func New(opts Options, log zerolog.Logger) *Sink {
	if opts.BindAddr == "" {
		opts.BindAddr = ":0"
	}
	if opts.Metadata.Title == "" {
		opts.Metadata = DefaultMetadata()
	}
	return &Sink{
		log:        log,
		opts:       opts,
		server:     NewStreamServer(log),
		discoverer: NewDiscoverer(log),
		ditherer:   audio.NewDitherer(),
	}
}

// Name implements sink.OutputSink.
func (s *Sink) Name() string { return "dlna" }

// Open starts the pull server and, in push mode, discovers the target
// and issues SetAVTransportURI + Play so the renderer starts pulling.
func (s *Sink) Open(ctx context.Context, cfg audio.OutputConfig) error {
	if s.open.Load() {
		return fmt.Errorf("dlna: already open")
	}

	profile := Profile{OptimalRate: cfg.SampleRate, OptimalFormat: cfg.Format, OptimalBufferMs: cfg.BufferMs}
	var target *Device

	if s.opts.Mode == ModePush {
		dev, err := s.resolveTarget(ctx)
		if err != nil {
			return err
		}
		target = &dev
		profile = ProfileFor(dev)
		cfg = profile.AdjustConfig(cfg)
		s.log.Info().Str("renderer", dev.Name).Str("format", cfg.Format.String()).
			Msg("dlna: applying device profile")
	}

	if err := s.server.Start(s.opts.BindAddr, cfg, profile.Quirks); err != nil {
		return err
	}

	if target != nil {
		transport := NewAVTransport(target.ControlURL, target.ServiceType, s.log)
		didl := GenerateDIDLLite(s.server.URL(), s.opts.Metadata, cfg)
		if err := transport.SetAVTransportURI(ctx, s.server.URL(), didl); err != nil {
			s.server.Stop()
			return err
		}
		if err := transport.Play(ctx); err != nil {
			s.server.Stop()
			return err
		}
		s.mu.Lock()
		s.transport = transport
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.profile = profile
	s.cfg = cfg
	s.mu.Unlock()
	s.open.Store(true)
	return nil
}

func (s *Sink) resolveTarget(ctx context.Context) (Device, error) {
	if s.opts.Target != nil {
		return *s.opts.Target, nil
	}
	devices, err := s.discoverer.Discover(ctx)
	if err != nil {
		return Device{}, err
	}
	if len(devices) == 0 {
		return Device{}, fmt.Errorf("dlna: no MediaRenderer found")
	}
	return devices[0], nil
}

// Write encodes a block into the negotiated wire format and appends it
// to the stream buffer.
func (s *Sink) Write(ctx context.Context, block audio.AudioBlock) error {
	if !s.open.Load() {
		return fmt.Errorf("dlna: not open")
	}
	s.mu.Lock()
	format := s.cfg.Format
	s.mu.Unlock()

	s.convBuf = audio.ConvertFormat(block, format, s.ditherer, s.convBuf[:0])
	chunk := make([]byte, len(s.convBuf))
	copy(chunk, s.convBuf)
	s.server.Append(chunk)
	s.frames.Add(uint64(block.NumFrames()))
	return nil
}

// Drain is a no-op beyond the renderer's own buffering; the pull model
// has no server-side queue to wait for.
func (s *Sink) Drain(context.Context) error { return nil }

// Close stops the renderer (push mode) and shuts the stream server.
func (s *Sink) Close(ctx context.Context) error {
	if !s.open.Load() {
		return nil
	}
	s.open.Store(false)

	s.mu.Lock()
	transport := s.transport
	s.transport = nil
	s.mu.Unlock()

	if transport != nil {
		if err := transport.Stop(ctx); err != nil {
			s.log.Warn().Err(err).Msg("dlna: renderer Stop failed")
		}
	}
	return s.server.Stop()
}

// LatencyMs reports the renderer-side buffering estimate: the
// configured buffer plus typical network delay.
func (s *Sink) LatencyMs() int {
	if !s.open.Load() {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.BufferMs + 50
}

// IsOpen implements sink.OutputSink.
func (s *Sink) IsOpen() bool { return s.open.Load() }

// Stats implements sink.OutputSink.
func (s *Sink) Stats() sink.Stats {
	return sink.Stats{FramesWritten: s.frames.Load()}
}

// Capability implements sink.CapabilityProvider.
func (s *Sink) Capability() sink.Capability {
	return sink.Capability{
		Name:                    "dlna",
		SupportedRates:          []int{44100, 48000, 96000},
		SupportedFormats:        []audio.SampleFormat{audio.FormatS16LE, audio.FormatS24LE},
		FormatNames:             []string{"S16LE", "S24LE"},
		MinChannels:             2,
		MaxChannels:             2,
		RequiresDeviceDiscovery: true,
	}
}

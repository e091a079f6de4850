// Package anp implements the ANP output sink: the server-side sender
// that converts pipeline blocks to network-byte-order PCM, packetizes
// them as RTP with the negotiated extensions, and streams them over UDP
// to a rendering node, with stream control riding the WebSocket channel.
package anp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aaeq/aaeq-core/internal/anp/control"
	anprtp "github.com/aaeq/aaeq-core/internal/anp/rtp"
	"github.com/aaeq/aaeq-core/internal/anp/session"
	"github.com/aaeq/aaeq-core/internal/audio"
	"github.com/aaeq/aaeq-core/internal/sink"
)

// packetMs is the audio duration per RTP packet: 10 ms keeps 480
// stereo frames per packet at 48 kHz.
const packetMs = 10

// Options bind the sink to one negotiated node session.
type Options struct {
	// NodeAddr is the node's RTP UDP endpoint, e.g. "10.0.0.20:46000".
	NodeAddr string
	// Accept is the negotiated session the stream follows.
	Accept session.Accept
	// Control optionally carries stream_pause/resume/stop to the node.
	Control *control.Channel
}

// Sink is the ANP sender sink.
type Sink struct {
	log  zerolog.Logger
	opts Options

	mu         sync.Mutex
	conn       *net.UDPConn
	packetizer *anprtp.Packetizer
	cfg        audio.OutputConfig

	wireFormat        audio.SampleFormat
	framesPerPkt      int
	bytesPerFrame     int
	pending           []byte
	pendingTrackStart bool

	ditherer *audio.Ditherer
	convBuf  []byte

	open    atomic.Bool
	frames  atomic.Uint64
	packets atomic.Uint64
	dropped atomic.Uint64
}

// New creates a sender for a negotiated session.
func New(opts Options, log zerolog.Logger) *Sink {
	return &Sink{log: log, opts: opts, ditherer: audio.NewDitherer()}
}

// Name implements sink.OutputSink.
func (s *Sink) Name() string { return "anp" }

func wireFormatFor(payloadType uint8) (audio.SampleFormat, error) {
	switch payloadType {
	case anprtp.PayloadTypeL24:
		return audio.FormatS24LE, nil
	case anprtp.PayloadTypeL16:
		return audio.FormatS16LE, nil
	default:
		return 0, fmt.Errorf("anp: unsupported payload type %d", payloadType)
	}
}

// Open dials the node's RTP port and seeds the packetizer from the
// session_accept.
func (s *Sink) Open(ctx context.Context, cfg audio.OutputConfig) error {
	if s.open.Load() {
		return fmt.Errorf("anp: already open")
	}

	rtpCfg := s.opts.Accept.RtpConfig
	wire, err := wireFormatFor(rtpCfg.PayloadType)
	if err != nil {
		return err
	}
	if cfg.SampleRate != rtpCfg.TimestampRate {
		return fmt.Errorf("anp: config rate %d != negotiated timestamp rate %d",
			cfg.SampleRate, rtpCfg.TimestampRate)
	}

	addr, err := net.ResolveUDPAddr("udp", s.opts.NodeAddr)
	if err != nil {
		return fmt.Errorf("anp: resolve %s: %w", s.opts.NodeAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("anp: dial %s: %w", s.opts.NodeAddr, err)
	}

	ext := s.opts.Accept.RtpExtensions
	s.mu.Lock()
	s.conn = conn
	s.cfg = cfg
	s.wireFormat = wire
	s.framesPerPkt = cfg.SampleRate * packetMs / 1000
	s.bytesPerFrame = cfg.Channels * wire.BytesPerSample()
	s.pending = s.pending[:0]
	s.packetizer = anprtp.NewPacketizer(anprtp.PacketizerConfig{
		SSRC:            rtpCfg.Ssrc,
		PayloadType:     rtpCfg.PayloadType,
		InitialSequence: rtpCfg.InitialSequence,
		InitialTS:       rtpCfg.InitialTimestamp,
		GaplessEnabled:  ext.Gapless.Enabled,
		GaplessID:       ext.Gapless.ExtensionID,
		CrcEnabled:      ext.Crc32.Enabled,
		CrcID:           ext.Crc32.ExtensionID,
		CrcWindow:       ext.Crc32.Window,
	})
	s.mu.Unlock()
	s.open.Store(true)

	s.log.Info().Str("node", s.opts.NodeAddr).Uint32("ssrc", rtpCfg.Ssrc).
		Int("frames_per_packet", s.framesPerPkt).Msg("anp: sender opened")
	return nil
}

// Write converts a block to the wire format (explicit byte swap to
// network order for the integer PCM payloads) and emits full packets.
// UDP sends never block; a kernel-buffer rejection counts as a dropped
// packet rather than backpressure.
func (s *Sink) Write(ctx context.Context, block audio.AudioBlock) error {
	if !s.open.Load() {
		return fmt.Errorf("anp: not open")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.convBuf = audio.ConvertFormat(block, s.wireFormat, s.ditherer, s.convBuf[:0])

	var wireBytes []byte
	switch s.wireFormat {
	case audio.FormatS24LE:
		wireBytes = anprtp.SwapS24LEToBE(s.convBuf)
	case audio.FormatS16LE:
		wireBytes = anprtp.SwapS16LEToBE(s.convBuf)
	}

	s.pending = append(s.pending, wireBytes...)
	s.frames.Add(uint64(block.NumFrames()))

	return s.flushPacketsLocked()
}

func (s *Sink) flushPacketsLocked() error {
	pktBytes := s.framesPerPkt * s.bytesPerFrame
	for len(s.pending) >= pktBytes {
		payload := make([]byte, pktBytes)
		copy(payload, s.pending[:pktBytes])
		s.pending = append(s.pending[:0], s.pending[pktBytes:]...)

		if s.pendingTrackStart {
			s.packetizer.MarkTrackStart()
			s.pendingTrackStart = false
		}

		pkt, err := s.packetizer.Packetize(payload, s.framesPerPkt)
		if err != nil {
			return err
		}
		data, err := pkt.Marshal()
		if err != nil {
			return err
		}
		if _, err := s.conn.Write(data); err != nil {
			s.dropped.Add(1)
			s.log.Warn().Err(err).Msg("anp: packet send failed")
			continue
		}
		s.packets.Add(1)
	}
	return nil
}

// EndTrack flushes the partial packet as the track's last (padded with
// silence to a full packet) carrying the T marker; the next packet will
// carry S. No gap packet is inserted between tracks.
func (s *Sink) EndTrack() error {
	if !s.open.Load() {
		return fmt.Errorf("anp: not open")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pktBytes := s.framesPerPkt * s.bytesPerFrame
	if rem := len(s.pending) % pktBytes; rem != 0 {
		s.pending = append(s.pending, make([]byte, pktBytes-rem)...)
	} else if len(s.pending) == 0 {
		s.pending = make([]byte, pktBytes)
	}
	s.packetizer.MarkTrackEnd()
	if err := s.flushPacketsLocked(); err != nil {
		return err
	}
	s.pendingTrackStart = true
	return nil
}

// Drain flushes any buffered partial packet padded with silence.
func (s *Sink) Drain(context.Context) error {
	if !s.open.Load() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	pktBytes := s.framesPerPkt * s.bytesPerFrame
	if rem := len(s.pending) % pktBytes; rem != 0 {
		s.pending = append(s.pending, make([]byte, pktBytes-rem)...)
	}
	return s.flushPacketsLocked()
}

// Pause asks the node to pause; audio writes stop at the caller.
func (s *Sink) Pause() error {
	if s.opts.Control == nil {
		return nil
	}
	return s.opts.Control.Send(control.Message{Type: control.TypeStreamPause})
}

// Resume asks the node to resume playback.
func (s *Sink) Resume() error {
	if s.opts.Control == nil {
		return nil
	}
	return s.opts.Control.Send(control.Message{Type: control.TypeStreamResume})
}

// Close stops the stream cleanly: stream_stop over control where
// available, then the UDP socket.
func (s *Sink) Close(ctx context.Context) error {
	if !s.open.Load() {
		return nil
	}
	s.open.Store(false)

	if s.opts.Control != nil {
		if err := s.opts.Control.Send(control.Message{Type: control.TypeStreamStop}); err != nil {
			s.log.Warn().Err(err).Msg("anp: stream_stop send failed")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// LatencyMs reports the node's buffer target plus nominal LAN delay.
func (s *Sink) LatencyMs() int {
	if !s.open.Load() {
		return 0
	}
	return s.opts.Accept.Buffer.TargetMs + 5
}

// IsOpen implements sink.OutputSink.
func (s *Sink) IsOpen() bool { return s.open.Load() }

// Stats implements sink.OutputSink.
func (s *Sink) Stats() sink.Stats {
	return sink.Stats{
		FramesWritten: s.frames.Load(),
		Overruns:      s.dropped.Load(),
	}
}

// PacketsSent returns the lifetime RTP packet count.
func (s *Sink) PacketsSent() uint64 { return s.packets.Load() }

// Capability implements sink.CapabilityProvider.
func (s *Sink) Capability() sink.Capability {
	return sink.Capability{
		Name:                    "anp",
		SupportedRates:          []int{44100, 48000, 96000, 192000},
		SupportedFormats:        []audio.SampleFormat{audio.FormatS24LE, audio.FormatS16LE},
		FormatNames:             []string{"S24LE", "S16LE"},
		MinChannels:             2,
		MaxChannels:             2,
		RequiresDeviceDiscovery: true,
	}
}

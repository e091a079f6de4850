package dlna

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/aaeq/aaeq-core/internal/audio"
)

// maxBufferedSeconds bounds the pull buffer to one second of audio; oldest
// bytes are dropped on overflow.
const maxBufferedSeconds = 1

// seekBuffer is an in-memory io.WriteSeeker for the WAV encoder, which
// needs to seek back and patch chunk sizes.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		b.data = append(b.data, make([]byte, need-len(b.data))...)
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = b.pos + int(offset)
	case io.SeekEnd:
		next = len(b.data) + int(offset)
	default:
		return 0, errors.New("seekBuffer: bad whence")
	}
	if next < 0 {
		return 0, errors.New("seekBuffer: negative position")
	}
	b.pos = next
	return int64(next), nil
}

// streamWavHeader produces the 44-byte RIFF/WAVE header for an endless
// chunked stream: the encoder writes a zero-length file, then the RIFF
// and data sizes are patched to the streaming sentinel.
func streamWavHeader(cfg audio.OutputConfig) ([]byte, error) {
	bits := cfg.Format.BitDepth()
	if bits == 0 {
		bits = 16
	}

	var buf seekBuffer
	enc := wav.NewEncoder(&buf, cfg.SampleRate, bits, cfg.Channels, 1)
	if err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: cfg.Channels, SampleRate: cfg.SampleRate},
		SourceBitDepth: bits,
	}); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}

	hdr := buf.data
	if len(hdr) < 44 {
		return nil, fmt.Errorf("dlna: short wav header (%d bytes)", len(hdr))
	}
	// Endless stream: both size fields carry the streaming sentinel.
	binary.LittleEndian.PutUint32(hdr[4:8], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(hdr[len(hdr)-4:], 0xFFFFFFFF)
	return hdr, nil
}

// client is one connected renderer pulling the stream tail.
type client struct {
	ch   chan []byte
	done chan struct{}
}

// StreamServer is the pull-mode HTTP surface: GET /stream.wav serves
// the chunked WAV stream, GET /status reports config and stats. The
// writer appends encoded frames; each client reads the tail, and slow
// clients drop frames rather than stall the writer.
type StreamServer struct {
	log zerolog.Logger

	mu          sync.Mutex
	cfg         audio.OutputConfig
	quirks      Quirks
	active      bool
	clients     map[*client]struct{}
	tail        []byte
	buffered    int
	maxBuffered int

	listener net.Listener
	server   *http.Server
}

// NewStreamServer creates an idle server.
func NewStreamServer(log zerolog.Logger) *StreamServer {
	return &StreamServer{log: log, clients: make(map[*client]struct{})}
}

// Start binds the listener and begins serving. addr may carry port 0 to
// let the OS choose; URL reports the bound address.
func (s *StreamServer) Start(addr string, cfg audio.OutputConfig, quirks Quirks) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("dlna: bind %s: %w", addr, err)
	}

	s.mu.Lock()
	s.cfg = cfg
	s.quirks = quirks
	s.active = true
	s.tail = nil
	s.buffered = 0
	s.maxBuffered = cfg.SampleRate * cfg.Channels * cfg.Format.BytesPerSample() * maxBufferedSeconds
	s.listener = ln
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/stream.wav", s.handleStream)
	mux.HandleFunc("/status", s.handleStatus)
	srv := &http.Server{Handler: mux}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("dlna: stream server failed")
		}
	}()

	s.log.Info().Str("url", s.URL()).Msg("dlna: pull stream serving")
	return nil
}

// URL returns the stream URL clients should pull.
func (s *StreamServer) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return fmt.Sprintf("http://%s/stream.wav", s.listener.Addr())
}

func (s *StreamServer) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	cfg := s.cfg
	quirks := s.quirks
	s.mu.Unlock()

	hdr, err := streamWavHeader(cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	for k, v := range quirks.CustomHeaders {
		w.Header().Set(k, v)
	}
	if quirks.NoChunkedTransfer {
		// Sonos rejects chunked encoding; an unbounded identity body
		// (connection-close delimited) keeps it happy.
		w.Header().Set("Connection", "close")
	}

	if _, err := w.Write(hdr); err != nil {
		return
	}
	flusher.Flush()

	c := &client{ch: make(chan []byte, 64), done: make(chan struct{})}
	s.mu.Lock()
	preroll := append([]byte(nil), s.tail...)
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()

	// Late joiners start from the buffered tail.
	if len(preroll) > 0 {
		if _, err := w.Write(preroll); err != nil {
			return
		}
		flusher.Flush()
	}
	s.log.Info().Int("clients", count).Msg("dlna: renderer connected")

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		s.log.Info().Msg("dlna: renderer disconnected")
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.done:
			return
		case chunk := <-c.ch:
			if _, err := w.Write(chunk); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *StreamServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	status := map[string]interface{}{
		"active": s.active,
		"config": map[string]interface{}{
			"sample_rate": s.cfg.SampleRate,
			"channels":    s.cfg.Channels,
			"format":      s.cfg.Format.String(),
			"buffer_ms":   s.cfg.BufferMs,
		},
		"clients":      len(s.clients),
		"buffer_bytes": s.buffered,
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// Append adds encoded PCM to the bounded tail buffer and fans it out
// to every connected client. The tail holds at most one second of
// audio; oldest bytes drop on overflow. Slow clients lose chunks
// rather than stall the writer.
func (s *StreamServer) Append(chunk []byte) {
	s.mu.Lock()
	s.tail = append(s.tail, chunk...)
	if s.maxBuffered > 0 && len(s.tail) > s.maxBuffered {
		drop := len(s.tail) - s.maxBuffered
		s.tail = append(s.tail[:0], s.tail[drop:]...)
	}
	s.buffered = len(s.tail)
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		select {
		case c.ch <- chunk:
		default:
			// Client fell behind: drop its oldest chunk, enqueue the new one.
			select {
			case <-c.ch:
			default:
			}
			select {
			case c.ch <- chunk:
			default:
			}
		}
	}
}

// ClientCount returns the number of connected renderers.
func (s *StreamServer) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Stop disconnects clients and closes the listener.
func (s *StreamServer) Stop() error {
	s.mu.Lock()
	s.active = false
	for c := range s.clients {
		close(c.done)
	}
	s.clients = make(map[*client]struct{})
	srv := s.server
	s.listener = nil
	s.server = nil
	s.mu.Unlock()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
	return nil
}

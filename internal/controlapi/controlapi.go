// Package controlapi exposes the local HTTP REST surface for output
// selection and routing. The server binds to loopback only by default;
// handlers take the sink manager's lock briefly and release it before
// responding, and long-running discovery runs asynchronously behind a
// correlation id.
package controlapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aaeq/aaeq-core/internal/audio"
	"github.com/aaeq/aaeq-core/internal/sink"
)

// Discoverer is the asynchronous device-discovery hook (DLNA SSDP, ANP
// mDNS). Implementations block until the context deadline.
type Discoverer interface {
	Discover(ctx context.Context) ([]string, error)
}

// Server is the control API HTTP server.
type Server struct {
	log     zerolog.Logger
	manager *sink.Manager

	mu         sync.Mutex
	route      routeState
	discovery  map[string]*discoveryJob
	discoverer Discoverer

	listener net.Listener
	httpSrv  *http.Server
}

type routeState struct {
	Input  string `json:"input"`
	Output string `json:"output"`
	Device string `json:"device,omitempty"`
}

type discoveryJob struct {
	Done    bool     `json:"done"`
	Devices []string `json:"devices,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// New creates a server over the sink manager. discoverer may be nil.
func New(manager *sink.Manager, discoverer Discoverer, log zerolog.Logger) *Server {
	return &Server{
		log:        log,
		manager:    manager,
		discoverer: discoverer,
		discovery:  make(map[string]*discoveryJob),
	}
}

// Start binds the listener. addr defaults to loopback; a port of 0
// picks a free one (Addr reports the binding).
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("controlapi: bind %s: %w", addr, err)
	}
	s.listener = ln
	s.httpSrv = &http.Server{Handler: s.routes(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("controlapi: server failed")
		}
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("controlapi: listening")
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", s.handleHealth)
	mux.HandleFunc("/v1/outputs", s.handleOutputs)
	mux.HandleFunc("/v1/outputs/select", s.handleSelect)
	mux.HandleFunc("/v1/outputs/start", s.handleStart)
	mux.HandleFunc("/v1/outputs/stop", s.handleStop)
	mux.HandleFunc("/v1/outputs/metrics", s.handleMetrics)
	mux.HandleFunc("/v1/outputs/discover", s.handleDiscover)
	mux.HandleFunc("/v1/route", s.handleRoute)
	mux.HandleFunc("/v1/capabilities", s.handleCapabilities)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	body := errorBody{Error: msg}
	if err != nil {
		body.Details = err.Error()
	}
	writeJSON(w, status, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleOutputs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only", nil)
		return
	}
	active, _ := s.manager.ActiveName()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"outputs": s.manager.List(),
		"active":  active,
	})
}

// ConfigRequest is the wire form of an output configuration.
type ConfigRequest struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Format     string `json:"format"`
	BufferMs   int    `json:"buffer_ms"`
	Exclusive  bool   `json:"exclusive"`
}

func (c ConfigRequest) toConfig() (audio.OutputConfig, error) {
	cfg := audio.DefaultOutputConfig()
	if c.SampleRate > 0 {
		cfg.SampleRate = c.SampleRate
	}
	if c.Channels > 0 {
		cfg.Channels = c.Channels
	}
	if c.BufferMs > 0 {
		cfg.BufferMs = c.BufferMs
	}
	cfg.Exclusive = c.Exclusive
	switch c.Format {
	case "", "F32":
		cfg.Format = audio.FormatF32
	case "F64":
		cfg.Format = audio.FormatF64
	case "S24LE":
		cfg.Format = audio.FormatS24LE
	case "S16LE":
		cfg.Format = audio.FormatS16LE
	default:
		return cfg, fmt.Errorf("unknown format %q", c.Format)
	}
	return cfg, nil
}

type selectRequest struct {
	Name   string         `json:"name"`
	Config *ConfigRequest `json:"config,omitempty"`
	Device string         `json:"device,omitempty"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only", nil)
		return
	}
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", err)
		return
	}

	cfg := audio.DefaultOutputConfig()
	if req.Config != nil {
		var err error
		if cfg, err = req.Config.toConfig(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid config", err)
			return
		}
	}

	if err := s.manager.Select(r.Context(), req.Name, cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "output selection failed", err)
		return
	}

	s.mu.Lock()
	s.route.Output = req.Name
	if req.Device != "" {
		s.route.Device = req.Device
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"active_output": req.Name,
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only", nil)
		return
	}
	// Selection opens the sink; start is an idempotent confirmation.
	if _, ok := s.manager.ActiveName(); !ok {
		writeError(w, http.StatusConflict, "no output selected", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only", nil)
		return
	}
	if err := s.manager.CloseActive(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "stop failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only", nil)
		return
	}
	name, _ := s.manager.ActiveName()
	stats, _ := s.manager.ActiveStats()
	latency, _ := s.manager.ActiveLatencyMs()

	body := map[string]interface{}{
		"output_name":    name,
		"frames_written": stats.FramesWritten,
		"underruns":      stats.Underruns,
		"overruns":       stats.Overruns,
		"buffer_fill":    stats.BufferFill,
		"latency_ms":     latency,
	}
	if cfg, ok := s.manager.ActiveConfig(); ok {
		body["sample_rate"] = cfg.SampleRate
		body["channels"] = cfg.Channels
		body["format"] = cfg.Format.String()
	}
	writeJSON(w, http.StatusOK, body)
}

// handleDiscover starts an asynchronous discovery run and returns a
// correlation id; polling with ?id= fetches the result.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if s.discoverer == nil {
			writeError(w, http.StatusNotImplemented, "no discoverer configured", nil)
			return
		}
		id := uuid.NewString()
		job := &discoveryJob{}
		s.mu.Lock()
		s.discovery[id] = job
		s.mu.Unlock()

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			devices, err := s.discoverer.Discover(ctx)
			s.mu.Lock()
			job.Done = true
			job.Devices = devices
			if err != nil {
				job.Error = err.Error()
			}
			s.mu.Unlock()
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
	case http.MethodGet:
		id := r.URL.Query().Get("id")
		s.mu.Lock()
		job, ok := s.discovery[id]
		var snapshot discoveryJob
		if ok {
			snapshot = *job
		}
		s.mu.Unlock()
		if !ok {
			writeError(w, http.StatusNotFound, "unknown discovery id", nil)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	default:
		writeError(w, http.StatusMethodNotAllowed, "GET or POST", nil)
	}
}

type routeRequest struct {
	Input  string         `json:"input"`
	Output string         `json:"output"`
	Device string         `json:"device,omitempty"`
	Config *ConfigRequest `json:"config,omitempty"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		route := s.route
		s.mu.Unlock()
		_, active := s.manager.ActiveName()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"input":     route.Input,
			"output":    route.Output,
			"device":    route.Device,
			"is_active": active,
		})
	case http.MethodPost:
		var req routeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body", err)
			return
		}
		s.mu.Lock()
		s.route = routeState{Input: req.Input, Output: req.Output, Device: req.Device}
		s.mu.Unlock()

		if req.Config != nil {
			cfg, err := req.Config.toConfig()
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid config", err)
				return
			}
			if err := s.manager.Select(r.Context(), req.Output, cfg); err != nil {
				writeError(w, http.StatusInternalServerError, "route activation failed", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "GET or POST", nil)
	}
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"outputs": s.manager.Capabilities(),
	})
}

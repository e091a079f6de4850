package localdac

import (
	"fmt"
	"sync"

	"github.com/aaeq/aaeq-core/internal/audio"
)

// MemoryDevice is an in-process Device: the test harness (or a headless
// deployment) pulls the callback manually instead of a hardware clock.
type MemoryDevice struct {
	name       string
	formats    map[audio.SampleFormat]bool
	rates      map[int]bool
	nativeRate int
	latencyMs  int
}

// NewMemoryDevice creates a device accepting the given formats/rates.
func NewMemoryDevice(name string, formats []audio.SampleFormat, rates []int, nativeRate int) *MemoryDevice {
	fm := make(map[audio.SampleFormat]bool, len(formats))
	for _, f := range formats {
		fm[f] = true
	}
	rm := make(map[int]bool, len(rates))
	for _, r := range rates {
		rm[r] = true
	}
	return &MemoryDevice{
		name:       name,
		formats:    fm,
		rates:      rm,
		nativeRate: nativeRate,
		latencyMs:  20,
	}
}

func (d *MemoryDevice) Name() string { return d.name }

func (d *MemoryDevice) SupportsFormat(f audio.SampleFormat) bool { return d.formats[f] }

func (d *MemoryDevice) SupportsRate(rate int) bool { return d.rates[rate] }

func (d *MemoryDevice) NativeRate() int { return d.nativeRate }

func (d *MemoryDevice) LatencyMs() int { return d.latencyMs }

// BuildStream returns a MemoryStream; Pull drives the callback.
func (d *MemoryDevice) BuildStream(cfg audio.OutputConfig, callback func(out []byte)) (DeviceStream, error) {
	if !d.formats[cfg.Format] {
		return nil, fmt.Errorf("memdevice: format %s unsupported", cfg.Format)
	}
	return &MemoryStream{callback: callback}, nil
}

// MemoryStream implements DeviceStream for MemoryDevice.
type MemoryStream struct {
	mu       sync.Mutex
	callback func(out []byte)
	running  bool
	pulled   [][]byte
}

func (s *MemoryStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	return nil
}

func (s *MemoryStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

// Running reports whether Start has been called.
func (s *MemoryStream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Pull emulates one device callback asking for n bytes.
func (s *MemoryStream) Pull(n int) []byte {
	out := make([]byte, n)
	s.callback(out)
	s.mu.Lock()
	s.pulled = append(s.pulled, out)
	s.mu.Unlock()
	return out
}

// Pulled returns every buffer the device consumed.
func (s *MemoryStream) Pulled() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.pulled...)
}

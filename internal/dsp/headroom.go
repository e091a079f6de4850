// Package dsp implements the real-time signal chain: headroom, parametric
// EQ, resampling, dither/noise-shaping, and the pipeline that composes
// them in a fixed order.
package dsp

import (
	"math"
	"sync/atomic"
)

func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20.0)
}

// Headroom applies a pre-EQ gain reduction to prevent clipping in
// downstream stages, with optional clip detection and a lifetime counter.
type Headroom struct {
	headroomDB     float64
	clipDetection  bool
	gain           float64
	clipCount      atomic.Uint64
}

// NewHeadroom creates a headroom stage with the usual default: -3 dB,
// clip detection enabled.
func NewHeadroom() *Headroom {
	h := &Headroom{headroomDB: -3.0, clipDetection: true}
	h.gain = dbToLinear(h.headroomDB)
	return h
}

// SetHeadroomDB sets the headroom, clamped to [-6, 0] dB.
func (h *Headroom) SetHeadroomDB(db float64) {
	if db > 0 {
		db = 0
	}
	if db < -6 {
		db = -6
	}
	h.headroomDB = db
	h.gain = dbToLinear(db)
}

// HeadroomDB returns the current headroom setting in dB.
func (h *Headroom) HeadroomDB() float64 { return h.headroomDB }

// SetClipDetection enables or disables clip counting and hard limiting.
func (h *Headroom) SetClipDetection(enabled bool) { h.clipDetection = enabled }

// ClipCount returns the lifetime count of detected clips.
func (h *Headroom) ClipCount() uint64 { return h.clipCount.Load() }

// ResetClipCount zeroes the lifetime clip counter.
func (h *Headroom) ResetClipCount() { h.clipCount.Store(0) }

// Process applies headroom gain in place and, if clip detection is
// enabled, counts and hard-limits samples whose magnitude reaches 1.0.
func (h *Headroom) Process(samples []float64) {
	for i, s := range samples {
		s *= h.gain
		if h.clipDetection && math.Abs(s) >= 1.0 {
			h.clipCount.Add(1)
			if s > 1.0 {
				s = 1.0
			} else if s < -1.0 {
				s = -1.0
			}
		}
		samples[i] = s
	}
}

// Reset clears no persistent state beyond the clip counter, which the
// caller resets explicitly via ResetClipCount; headroom has no z-buffer.
func (h *Headroom) Reset() {}

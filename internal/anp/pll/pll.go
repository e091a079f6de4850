// Package pll implements the Micro-PLL software clock drift corrector.
// The node measures jitter-buffer fill drift against the expected fill,
// smooths it with an EMA, and translates the clamped, slew-limited
// adjustment into a resampling ratio for an adaptive resampler.
package pll

import (
	"math"
	"time"
)

// State of the lock acquisition machine.
type State int

const (
	StateSeeking State = iota
	StateLocked
	StateUnlocked
)

func (s State) String() string {
	switch s {
	case StateSeeking:
		return "seeking"
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// Lock transition thresholds: LOCKED once |drift| stays under 5 ppm for
// 5 s, UNLOCKED once it exceeds 20 ppm for 2 s, then back to SEEKING.
const (
	lockThresholdPPM   = 5.0
	unlockThresholdPPM = 20.0
	lockHold           = 5 * time.Second
	unlockHold         = 2 * time.Second

	// No adjustment inside the dead zone.
	deadZonePPM = 1.0
)

// Config carries the micro_pll parameters from session_accept.
type Config struct {
	Enabled              bool
	PpmLimit             float64
	AdjustmentIntervalMs int
	SlewRatePpmPerSec    float64
	EmaWindow            int
}

// DefaultConfig returns the negotiated defaults: ±150 ppm, 100 ms
// interval, 10 ppm/s slew, EMA window 8.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		PpmLimit:             150,
		AdjustmentIntervalMs: 100,
		SlewRatePpmPerSec:    10,
		EmaWindow:            8,
	}
}

// Controller is the drift corrector. Not safe for concurrent use; the
// node's clock task is the only caller.
type Controller struct {
	cfg   Config
	alpha float64

	smoothed   float64
	adjustment float64
	haveSample bool

	state        State
	stableSince  time.Time
	driftedSince time.Time
	hasStable    bool
	hasDrifted   bool

	lastPhaseUs float64
}

// New creates a controller from the negotiated config.
func New(cfg Config) *Controller {
	if cfg.EmaWindow <= 0 {
		cfg.EmaWindow = DefaultConfig().EmaWindow
	}
	if cfg.AdjustmentIntervalMs <= 0 {
		cfg.AdjustmentIntervalMs = DefaultConfig().AdjustmentIntervalMs
	}
	return &Controller{
		cfg:   cfg,
		alpha: 2.0 / (float64(cfg.EmaWindow) + 1),
		state: StateSeeking,
	}
}

// MeasureDriftPPM derives the raw drift from buffer fill: the relative
// difference between actual and expected buffered samples, in parts per
// million.
func MeasureDriftPPM(actualSamples, expectedSamples float64) float64 {
	if expectedSamples <= 0 {
		return 0
	}
	return (actualSamples - expectedSamples) / expectedSamples * 1e6
}

// Update feeds one drift measurement taken at now and returns the new
// adjustment in ppm. Interval pacing is the caller's job; Update assumes
// it is called once per adjustment interval.
func (c *Controller) Update(measuredPPM float64, now time.Time) float64 {
	if !c.cfg.Enabled {
		return 0
	}

	if !c.haveSample {
		c.smoothed = measuredPPM
		c.haveSample = true
	} else {
		c.smoothed = c.alpha*measuredPPM + (1-c.alpha)*c.smoothed
	}

	c.updateState(now)

	target := c.smoothed
	if math.Abs(target) < deadZonePPM {
		target = 0
	}
	if target > c.cfg.PpmLimit {
		target = c.cfg.PpmLimit
	}
	if target < -c.cfg.PpmLimit {
		target = -c.cfg.PpmLimit
	}

	// Slew-rate limit the change per interval.
	maxStep := c.cfg.SlewRatePpmPerSec * float64(c.cfg.AdjustmentIntervalMs) / 1000.0
	delta := target - c.adjustment
	if delta > maxStep {
		delta = maxStep
	}
	if delta < -maxStep {
		delta = -maxStep
	}
	c.adjustment += delta

	return c.adjustment
}

func (c *Controller) updateState(now time.Time) {
	abs := math.Abs(c.smoothed)

	if abs < lockThresholdPPM {
		if !c.hasStable {
			c.stableSince = now
			c.hasStable = true
		}
		c.hasDrifted = false
	} else {
		c.hasStable = false
	}

	if abs > unlockThresholdPPM {
		if !c.hasDrifted {
			c.driftedSince = now
			c.hasDrifted = true
		}
	} else {
		c.hasDrifted = false
	}

	switch c.state {
	case StateSeeking:
		if c.hasStable && now.Sub(c.stableSince) >= lockHold {
			c.state = StateLocked
		}
	case StateLocked:
		if c.hasDrifted && now.Sub(c.driftedSince) >= unlockHold {
			c.state = StateUnlocked
		}
	case StateUnlocked:
		// UNLOCKED immediately re-enters acquisition.
		c.state = StateSeeking
	}
}

// State returns the current lock state.
func (c *Controller) State() State { return c.state }

// DriftPPM returns the EMA-smoothed drift estimate.
func (c *Controller) DriftPPM() float64 { return c.smoothed }

// AdjustmentPPM returns the current slew-limited adjustment.
func (c *Controller) AdjustmentPPM() float64 { return c.adjustment }

// Ratio converts the adjustment into the resampling ratio fed to the
// node's adaptive resampler: 1 + adjustment/1e6.
func (c *Controller) Ratio() float64 { return 1 + c.adjustment/1e6 }

// SetPhaseUs records the latest measured phase offset for telemetry.
func (c *Controller) SetPhaseUs(us float64) { c.lastPhaseUs = us }

// PhaseUs returns the last recorded phase offset.
func (c *Controller) PhaseUs() float64 { return c.lastPhaseUs }

// Reset returns the controller to SEEKING with no accumulated state.
func (c *Controller) Reset() {
	c.smoothed = 0
	c.adjustment = 0
	c.haveSample = false
	c.state = StateSeeking
	c.hasStable = false
	c.hasDrifted = false
}

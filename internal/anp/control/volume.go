package control

import (
	"math"

	"github.com/aaeq/aaeq-core/internal/anp/anperr"
)

// Curve maps a normalized [0, 1] level to gain in dB.
type Curve int

const (
	// CurveLinear: gain_dB = 20·log10(level).
	CurveLinear Curve = iota
	// CurveLogarithmic: gain_dB = 40·log10(level). The recommended
	// curve. Note the 40 multiplier is the ANP convention: level 0.5
	// is ≈ −12 dB, not the −6 dB a plain 20·log10 would give.
	CurveLogarithmic
	// CurveExponential: gain_dB = 60·(level − 1).
	CurveExponential
)

func (c Curve) String() string {
	switch c {
	case CurveLinear:
		return "linear"
	case CurveLogarithmic:
		return "logarithmic"
	case CurveExponential:
		return "exponential"
	default:
		return "unknown"
	}
}

// ParseCurve maps a wire curve_type string.
func ParseCurve(s string) (Curve, error) {
	switch s {
	case "linear":
		return CurveLinear, nil
	case "logarithmic", "":
		return CurveLogarithmic, nil
	case "exponential":
		return CurveExponential, nil
	default:
		return 0, anperr.Newf(anperr.CodeInvalidMessageFormat, "unknown volume curve %q", s)
	}
}

// GainDB converts a level through the curve. Level 0 is mute (−∞ dB)
// for the log-family curves.
func (c Curve) GainDB(level float64) float64 {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	switch c {
	case CurveLinear:
		if level == 0 {
			return math.Inf(-1)
		}
		return 20 * math.Log10(level)
	case CurveLogarithmic:
		if level == 0 {
			return math.Inf(-1)
		}
		return 40 * math.Log10(level)
	case CurveExponential:
		return 60 * (level - 1)
	default:
		return 0
	}
}

// LinearGain converts a level to the float-domain multiplier used for
// software volume.
func (c Curve) LinearGain(level float64) float64 {
	db := c.GainDB(level)
	if math.IsInf(db, -1) {
		return 0
	}
	return math.Pow(10, db/20)
}

// RampShape selects how a volume ramp progresses.
type RampShape int

const (
	RampLinear RampShape = iota
	RampSCurve
	RampExponential
)

func (r RampShape) String() string {
	switch r {
	case RampLinear:
		return "linear"
	case RampSCurve:
		return "s_curve"
	case RampExponential:
		return "exponential"
	default:
		return "unknown"
	}
}

// ParseRampShape maps a wire ramp_shape string. Linear is mandatory and
// the default.
func ParseRampShape(s string) (RampShape, error) {
	switch s {
	case "linear", "":
		return RampLinear, nil
	case "s_curve":
		return RampSCurve, nil
	case "exponential":
		return RampExponential, nil
	default:
		return 0, anperr.Newf(anperr.CodeInvalidMessageFormat, "unknown ramp shape %q", s)
	}
}

// Progress maps elapsed fraction p ∈ [0, 1] to ramp progress ∈ [0, 1].
// The s-curve is the smoothstep 3p² − 2p³; the exponential uses time
// constant τ = ramp_ms/5 (so t/τ = 5p), normalized to land exactly on 1.
func (r RampShape) Progress(p float64) float64 {
	if p <= 0 {
		return 0
	}
	if p >= 1 {
		return 1
	}
	switch r {
	case RampSCurve:
		return p * p * (3 - 2*p)
	case RampExponential:
		return (1 - math.Exp(-5*p)) / (1 - math.Exp(-5))
	default:
		return p
	}
}

// Volume tracks a node's volume state: the normalized level, mute, and
// whether the DAC's hardware mixer carries the gain or software
// multiplication in the float domain does.
type Volume struct {
	curve       Curve
	level       float64
	mute        bool
	hasHardware bool

	// DAC real dB range, for translating normalized level when a
	// hardware mixer is present.
	dacMinDb float64
	dacMaxDb float64
}

// NewVolume creates the volume state. hasHardware reports whether the
// DAC exposes a mixer; hardware control is preferred when it does.
func NewVolume(curve Curve, hasHardware bool, dacMinDb, dacMaxDb float64) *Volume {
	return &Volume{
		curve:       curve,
		level:       1.0,
		hasHardware: hasHardware,
		dacMinDb:    dacMinDb,
		dacMaxDb:    dacMaxDb,
	}
}

// Set applies a volume_set command and returns the result message.
func (v *Volume) Set(cmd VolumeSet) (VolumeResult, error) {
	if cmd.Level < 0 || cmd.Level > 1 {
		return VolumeResult{}, anperr.Newf(anperr.CodeVolumeOutOfRange, "level %v", cmd.Level)
	}
	v.level = cmd.Level
	v.mute = cmd.Mute
	return v.Result("success"), nil
}

// Level returns the current normalized level.
func (v *Volume) Level() float64 { return v.level }

// Mute returns the current mute state.
func (v *Volume) Mute() bool { return v.mute }

// GainDB returns the current computed gain.
func (v *Volume) GainDB() float64 {
	if v.mute {
		return math.Inf(-1)
	}
	return v.curve.GainDB(v.level)
}

// SoftwareGain returns the float-domain multiplier to apply when no
// hardware mixer carries the volume. 1.0 when hardware control is
// active (the samples pass through untouched).
func (v *Volume) SoftwareGain() float64 {
	if v.hasHardware {
		return 1.0
	}
	if v.mute {
		return 0
	}
	return v.curve.LinearGain(v.level)
}

// DacVolumeDB translates the normalized level into the DAC's real dB
// domain for hardware mixers. Mute pins to the DAC floor.
func (v *Volume) DacVolumeDB() float64 {
	if !v.hasHardware {
		return 0
	}
	if v.mute || v.level == 0 {
		return v.dacMinDb
	}
	db := v.curve.GainDB(v.level)
	dac := v.dacMaxDb + db
	if dac < v.dacMinDb {
		dac = v.dacMinDb
	}
	return dac
}

// Result builds the volume_result message for the current state.
func (v *Volume) Result(status string) VolumeResult {
	gain := v.GainDB()
	if math.IsInf(gain, -1) {
		// JSON has no −∞; report the display floor.
		gain = -120
	}
	return VolumeResult{
		Status:          status,
		Level:           v.level,
		Mute:            v.mute,
		HardwareControl: v.hasHardware,
		DacVolumeDb:     v.DacVolumeDB(),
		GainDb:          gain,
		CurveType:       v.curve.String(),
	}
}

// Ramp is an in-flight volume transition. The audio thread samples it
// per block; the terminal value lands exactly on the target.
type Ramp struct {
	From   float64
	To     float64
	Shape  RampShape
	RampMs int
}

// LevelAt returns the ramped level after elapsedMs.
func (r Ramp) LevelAt(elapsedMs float64) float64 {
	if r.RampMs <= 0 {
		return r.To
	}
	p := elapsedMs / float64(r.RampMs)
	return r.From + (r.To-r.From)*r.Shape.Progress(p)
}

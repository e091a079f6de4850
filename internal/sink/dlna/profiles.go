package dlna

import (
	"strings"

	"github.com/aaeq/aaeq-core/internal/audio"
)

// Quirks captures the behavioral differences between renderer families.
type Quirks struct {
	NoChunkedTransfer bool
	CustomHeaders     map[string]string
	PrefersWav        bool
	IsSonos           bool
	IsWiim            bool
}

// Profile is the per-device tuning table entry: quirks plus the
// renderer's preferred stream parameters.
type Profile struct {
	Name            string
	Quirks          Quirks
	OptimalRate     int
	OptimalFormat   audio.SampleFormat
	OptimalBufferMs int
}

// ProfileFor matches a device's friendly name / manufacturer / model
// against the known renderer families, falling back to a generic
// profile.
func ProfileFor(dev Device) Profile {
	name := strings.ToLower(dev.Name)
	mfr := strings.ToLower(dev.Manufacturer)
	model := strings.ToLower(dev.Model)

	contains := func(needle string) bool {
		return strings.Contains(name, needle) || strings.Contains(mfr, needle) || strings.Contains(model, needle)
	}

	switch {
	case contains("wiim"):
		return Profile{
			Name:            dev.Name,
			Quirks:          Quirks{IsWiim: true, PrefersWav: true},
			OptimalRate:     48000,
			OptimalFormat:   audio.FormatS24LE,
			OptimalBufferMs: 150,
		}
	case contains("sonos"):
		return Profile{
			Name: dev.Name,
			Quirks: Quirks{
				IsSonos:           true,
				NoChunkedTransfer: true,
				CustomHeaders:     map[string]string{"X-Sonos-Codec": "wav"},
			},
			OptimalRate:     48000,
			OptimalFormat:   audio.FormatS16LE,
			OptimalBufferMs: 250,
		}
	case contains("bluesound"):
		// High-resolution renderer family.
		return Profile{
			Name:            dev.Name,
			Quirks:          Quirks{PrefersWav: true},
			OptimalRate:     96000,
			OptimalFormat:   audio.FormatS24LE,
			OptimalBufferMs: 200,
		}
	case contains("denon"), contains("heos"):
		return Profile{
			Name:            dev.Name,
			Quirks:          Quirks{PrefersWav: true},
			OptimalRate:     48000,
			OptimalFormat:   audio.FormatS24LE,
			OptimalBufferMs: 200,
		}
	default:
		return Profile{
			Name:            dev.Name,
			OptimalRate:     48000,
			OptimalFormat:   audio.FormatS24LE,
			OptimalBufferMs: 200,
		}
	}
}

// AdjustConfig applies the profile's quirks to a requested config:
// Sonos is forced to S16LE, and the buffer never shrinks below the
// renderer's comfortable minimum.
func (p Profile) AdjustConfig(cfg audio.OutputConfig) audio.OutputConfig {
	if p.Quirks.IsSonos && cfg.Format != audio.FormatS16LE {
		cfg.Format = audio.FormatS16LE
	}
	if cfg.BufferMs < p.OptimalBufferMs {
		cfg.BufferMs = p.OptimalBufferMs
	}
	return cfg
}

// RecommendedConfig is the renderer's preferred full configuration.
func (p Profile) RecommendedConfig() audio.OutputConfig {
	return audio.OutputConfig{
		SampleRate: p.OptimalRate,
		Channels:   2,
		Format:     p.OptimalFormat,
		BufferMs:   p.OptimalBufferMs,
	}
}

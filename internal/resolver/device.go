package resolver

import "context"

// DeviceController is the surface of an external EQ-capable device
// (the WiiM controller collaborator): when it is the selected EQ
// target, the worker routes preset commands to it instead of the DSP
// pipeline, bypassing local processing entirely.
type DeviceController interface {
	PresetApplier

	// NowPlaying returns the device's own view of the current track.
	NowPlaying(ctx context.Context) (TrackMeta, error)

	// ListPresets names the EQ presets the device offers.
	ListPresets(ctx context.Context) ([]string, error)

	// SetEqEnabled toggles the device's EQ processing.
	SetEqEnabled(ctx context.Context, enabled bool) error
}

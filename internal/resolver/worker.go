package resolver

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultPollInterval is how often the worker samples the media session.
const DefaultPollInterval = time.Second

// MediaSource is the slice of the media-session collaborator the worker
// consumes: the currently playing track and playback state.
type MediaSource interface {
	CurrentTrack(ctx context.Context) (TrackMeta, bool, error)
	IsPlaying(ctx context.Context) (bool, error)
}

// PresetApplier receives resolution outcomes: the DSP pipeline's EQ
// stage, or the WiiM device controller when EQ runs on the device.
type PresetApplier interface {
	ApplyPreset(ctx context.Context, name string) error
}

// OverrideSource supplies manual genre overrides. It is consulted every
// poll, not only on track change, so edits take effect immediately.
type OverrideSource interface {
	GenreOverride(genre string) (string, bool)
}

// WorkerConfig parameterizes the polling worker.
type WorkerConfig struct {
	PollInterval  time.Duration
	ProfileID     int64
	DeviceKey     string
	DefaultPreset string
}

// Worker polls the media session, detects track changes by composite
// key, resolves the preset through the active profile's rules, and
// instructs the applier, debounced so re-applying the active preset is
// a no-op.
type Worker struct {
	log      zerolog.Logger
	cfg      WorkerConfig
	source   MediaSource
	applier  PresetApplier
	override OverrideSource

	mu           sync.RWMutex
	rules        *RulesIndex
	profileID    int64
	lastTrackKey string
	lastApplied  map[string]string // profile|device → preset
	warnedNoRule bool
}

// NewWorker creates a worker. override may be nil.
func NewWorker(cfg WorkerConfig, source MediaSource, applier PresetApplier, override OverrideSource, log zerolog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Worker{
		log:         log,
		cfg:         cfg,
		source:      source,
		applier:     applier,
		override:    override,
		rules:       NewRulesIndex(nil),
		profileID:   cfg.ProfileID,
		lastApplied: make(map[string]string),
	}
}

// SetRules atomically swaps the active profile's rules index and
// re-executes resolution for the current track under the new profile.
func (w *Worker) SetRules(ctx context.Context, profileID int64, rules *RulesIndex) {
	w.mu.Lock()
	w.rules = rules
	w.profileID = profileID
	w.lastTrackKey = "" // force re-resolution on next tick
	w.warnedNoRule = false
	w.mu.Unlock()

	w.log.Info().Int64("profile", profileID).Int("rules", rules.Len()).Msg("resolver: profile switched")
	w.Tick(ctx)
}

// Run polls until the context is cancelled, honoring shutdown between
// ticks.
func (w *Worker) Run(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Every(w.cfg.PollInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
		w.Tick(ctx)
	}
}

// Tick performs one poll cycle.
func (w *Worker) Tick(ctx context.Context) {
	meta, ok, err := w.source.CurrentTrack(ctx)
	if err != nil {
		w.log.Debug().Err(err).Msg("resolver: media session unavailable")
		return
	}
	if !ok || meta.IsEmpty() {
		return
	}

	// Genre overrides apply on every poll so a fresh edit retargets the
	// current track without waiting for a change.
	if w.override != nil {
		if overridden, has := w.override.GenreOverride(meta.Genre); has {
			meta.Genre = overridden
		}
	}

	w.mu.Lock()
	changed := meta.TrackKey() != w.lastTrackKey
	w.lastTrackKey = meta.TrackKey()
	rules := w.rules
	profileID := w.profileID
	w.mu.Unlock()

	if !changed {
		return
	}

	preset := Resolve(meta, rules, w.cfg.DefaultPreset)
	if preset == "" {
		w.mu.Lock()
		warned := w.warnedNoRule
		w.warnedNoRule = true
		w.mu.Unlock()
		if !warned {
			w.log.Warn().Str("track", meta.TrackKey()).Msg("resolver: no matching rule and no default preset, EQ left unchanged")
		}
		return
	}

	w.apply(ctx, profileID, meta, preset)
}

func (w *Worker) apply(ctx context.Context, profileID int64, meta TrackMeta, preset string) {
	key := debounceKey(profileID, w.cfg.DeviceKey)

	w.mu.Lock()
	last := w.lastApplied[key]
	w.mu.Unlock()

	if last == preset {
		w.log.Debug().Str("preset", preset).Msg("resolver: preset already applied")
		return
	}

	if err := w.applier.ApplyPreset(ctx, preset); err != nil {
		w.log.Error().Err(err).Str("preset", preset).Msg("resolver: preset apply failed")
		return
	}

	w.mu.Lock()
	w.lastApplied[key] = preset
	w.mu.Unlock()

	w.log.Info().Str("artist", meta.Artist).Str("title", meta.Title).
		Str("preset", preset).Msg("resolver: preset applied")
}

// LastApplied returns the debounce record for a profile/device pair.
func (w *Worker) LastApplied(profileID int64, deviceKey string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.lastApplied[debounceKey(profileID, deviceKey)]
	return p, ok
}

func debounceKey(profileID int64, deviceKey string) string {
	return strconv.FormatInt(profileID, 10) + "|" + deviceKey
}

// Command aaeqd runs the AAEQ streaming core headless: DSP pipeline,
// output sinks, local control API, and the adaptive EQ polling worker,
// configured from environment variables.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aaeq/aaeq-core/internal/audio"
	"github.com/aaeq/aaeq-core/internal/config"
	"github.com/aaeq/aaeq-core/internal/controlapi"
	"github.com/aaeq/aaeq-core/internal/dsp"
	"github.com/aaeq/aaeq-core/internal/mediasession"
	"github.com/aaeq/aaeq-core/internal/resolver"
	"github.com/aaeq/aaeq-core/internal/sink"
	"github.com/aaeq/aaeq-core/internal/sink/dlna"
	"github.com/aaeq/aaeq-core/internal/sink/localdac"
)

// blockMs is the pipeline tick size: 10 ms blocks at the configured rate.
const blockMs = 10

func main() {
	cfg := config.Load()

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info().Msg("aaeqd starting up")

	// DSP pipeline.
	pipeline := dsp.NewPipeline(cfg.SampleRate, cfg.Channels, log)
	pipeline.SetHeadroomDB(cfg.HeadroomDB)

	// Sinks. The local DAC runs on the in-memory device unless a
	// platform binding is linked in.
	device := localdac.NewMemoryDevice("default",
		[]audio.SampleFormat{audio.FormatF32, audio.FormatS16LE},
		[]int{44100, 48000, 96000, 192000}, 48000)

	manager := sink.NewManager(log)
	manager.Register(localdac.New(device, log))
	manager.Register(dlna.New(dlna.Options{BindAddr: cfg.DlnaBindAddr}, log))

	outputCfg := audio.OutputConfig{
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		Format:     audio.FormatF32,
		BufferMs:   cfg.BufferMs,
	}
	if err := manager.Select(ctx, cfg.Output, outputCfg); err != nil {
		log.Fatal().Err(err).Str("output", cfg.Output).Msg("output selection failed")
	}

	// Control API on loopback.
	api := controlapi.New(manager, nil, log)
	if err := api.Start(cfg.APIAddr); err != nil {
		log.Fatal().Err(err).Msg("control API failed to start")
	}
	defer api.Stop(context.Background())

	// Adaptive EQ worker over the platform media session. The headless
	// build wires the static stub; platform backends replace it.
	session := &mediasession.Static{}
	applier := &pipelineApplier{pipeline: pipeline, sampleRate: cfg.SampleRate, channels: cfg.Channels}
	worker := resolver.NewWorker(resolver.WorkerConfig{
		PollInterval:  cfg.PollInterval,
		ProfileID:     cfg.ActiveProfile,
		DeviceKey:     cfg.Output,
		DefaultPreset: cfg.DefaultPreset,
	}, sessionAdapter{session}, applier, nil, log)
	go worker.Run(ctx)

	// Real-time tick loop: silence generator feeding the pipeline at
	// block pace until a capture input is routed in.
	go runInput(ctx, pipeline, manager, cfg, log)

	log.Info().Str("api", api.Addr()).Str("output", cfg.Output).Msg("aaeqd live")
	<-ctx.Done()
	log.Info().Msg("shutting down")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer drainCancel()
	manager.Drain(drainCtx)
	manager.CloseActive(drainCtx)
}

func runInput(ctx context.Context, pipeline *dsp.Pipeline, manager *sink.Manager, cfg config.Config, log zerolog.Logger) {
	frames := cfg.SampleRate * blockMs / 1000
	samples := make([]float64, frames*cfg.Channels)
	ticker := time.NewTicker(blockMs * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			block := audio.NewAudioBlock(samples, cfg.SampleRate, cfg.Channels)
			pipeline.Process(block)
			if err := manager.Write(ctx, block); err != nil && err != sink.ErrNoActiveSink {
				log.Debug().Err(err).Msg("sink write backpressure")
			}
		}
	}
}

// sessionAdapter narrows mediasession.Session to the worker's source
// interface.
type sessionAdapter struct {
	s mediasession.Session
}

func (a sessionAdapter) CurrentTrack(ctx context.Context) (resolver.TrackMeta, bool, error) {
	return a.s.CurrentTrack(ctx)
}

func (a sessionAdapter) IsPlaying(ctx context.Context) (bool, error) {
	return a.s.IsPlaying(ctx)
}

// pipelineApplier applies resolved presets to the DSP pipeline's EQ
// stage. Preset band definitions come from persisted state in the full
// deployment; the headless build applies the flat cascade.
type pipelineApplier struct {
	pipeline   *dsp.Pipeline
	sampleRate int
	channels   int
}

func (p *pipelineApplier) ApplyPreset(_ context.Context, name string) error {
	preset := dsp.DefaultEqPreset()
	preset.Name = name
	p.pipeline.SetEqPreset(float64(p.sampleRate), p.channels, preset)
	return nil
}

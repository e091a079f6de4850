// Package mediasession declares the platform-neutral "currently
// playing" capability the core consumes. Concrete backends (MPRIS over
// D-Bus, Windows SMTC, macOS now-playing) live outside the core and
// plug in through this interface.
package mediasession

import (
	"context"

	"github.com/aaeq/aaeq-core/internal/resolver"
)

// Session is the media-session collaborator surface.
type Session interface {
	// CurrentTrack returns the playing track's metadata; ok is false
	// when nothing is playing or no player is active.
	CurrentTrack(ctx context.Context) (meta resolver.TrackMeta, ok bool, err error)

	// IsPlaying reports whether any player is actively playing.
	IsPlaying(ctx context.Context) (bool, error)

	// ListActivePlayers names the media players currently registered.
	ListActivePlayers(ctx context.Context) ([]string, error)
}

// Static is a fixed-output Session for tests and headless wiring.
type Static struct {
	Track   resolver.TrackMeta
	Playing bool
	Players []string
}

// CurrentTrack implements Session.
func (s *Static) CurrentTrack(context.Context) (resolver.TrackMeta, bool, error) {
	return s.Track, !s.Track.IsEmpty(), nil
}

// IsPlaying implements Session.
func (s *Static) IsPlaying(context.Context) (bool, error) { return s.Playing, nil }

// ListActivePlayers implements Session.
func (s *Static) ListActivePlayers(context.Context) ([]string, error) {
	return append([]string(nil), s.Players...), nil
}

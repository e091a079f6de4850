package resolver

import (
	"fmt"
)

// Scope is the priority tier of a mapping: song > album > genre > default.
type Scope int

const (
	ScopeSong Scope = iota
	ScopeAlbum
	ScopeGenre
	ScopeDefault
)

func (s Scope) String() string {
	switch s {
	case ScopeSong:
		return "song"
	case ScopeAlbum:
		return "album"
	case ScopeGenre:
		return "genre"
	case ScopeDefault:
		return "default"
	default:
		return "unknown"
	}
}

// ParseScope maps a stored scope string.
func ParseScope(s string) (Scope, error) {
	switch s {
	case "song":
		return ScopeSong, nil
	case "album":
		return ScopeAlbum, nil
	case "genre":
		return ScopeGenre, nil
	case "default":
		return ScopeDefault, nil
	default:
		return 0, fmt.Errorf("resolver: unknown scope %q", s)
	}
}

// TrackMeta is the currently-playing track's metadata; any field may be
// empty.
type TrackMeta struct {
	Artist string
	Title  string
	Album  string
	Genre  string
}

// SongKey is the normalized "artist - title" lookup key.
func (m TrackMeta) SongKey() string {
	return NormalizeKey(m.Artist) + " - " + NormalizeKey(m.Title)
}

// AlbumKey is the normalized "artist - album" lookup key.
func (m TrackMeta) AlbumKey() string {
	return NormalizeKey(m.Artist) + " - " + NormalizeKey(m.Album)
}

// GenreKey is the normalized genre lookup key.
func (m TrackMeta) GenreKey() string {
	return NormalizeKey(m.Genre)
}

// TrackKey is the composite change-detection key.
func (m TrackMeta) TrackKey() string {
	return m.Artist + "|" + m.Title + "|" + m.Album + "|" + m.Genre
}

// IsEmpty reports whether no identifying metadata is present.
func (m TrackMeta) IsEmpty() bool {
	return m.Artist == "" && m.Title == "" && m.Album == "" && m.Genre == ""
}

// Mapping associates a normalized key with a preset, scoped to a
// profile. KeyNormalized is empty exactly when Scope is ScopeDefault.
type Mapping struct {
	ProfileID     int64
	Scope         Scope
	KeyNormalized string
	PresetName    string
}

// RulesIndex is the in-memory lookup for one profile's mappings: three
// hash maps plus the default slot. Build a fresh index and swap it
// atomically rather than mutating a live one.
type RulesIndex struct {
	songRules  map[string]string
	albumRules map[string]string
	genreRules map[string]string
	defaultOne string
}

// NewRulesIndex builds an index from a profile's mappings.
func NewRulesIndex(mappings []Mapping) *RulesIndex {
	idx := &RulesIndex{
		songRules:  make(map[string]string),
		albumRules: make(map[string]string),
		genreRules: make(map[string]string),
	}
	for _, m := range mappings {
		switch m.Scope {
		case ScopeSong:
			if m.KeyNormalized != "" {
				idx.songRules[m.KeyNormalized] = m.PresetName
			}
		case ScopeAlbum:
			if m.KeyNormalized != "" {
				idx.albumRules[m.KeyNormalized] = m.PresetName
			}
		case ScopeGenre:
			if m.KeyNormalized != "" {
				idx.genreRules[m.KeyNormalized] = m.PresetName
			}
		case ScopeDefault:
			idx.defaultOne = m.PresetName
		}
	}
	return idx
}

// Len returns the total number of rules, default included.
func (idx *RulesIndex) Len() int {
	n := len(idx.songRules) + len(idx.albumRules) + len(idx.genreRules)
	if idx.defaultOne != "" {
		n++
	}
	return n
}

// Resolve returns the preset for a track, strictly in song → album →
// genre → default order, with fallback as the last resort. Pure: the
// result depends only on the arguments.
func Resolve(meta TrackMeta, rules *RulesIndex, fallback string) string {
	if rules != nil {
		if preset, ok := rules.songRules[meta.SongKey()]; ok {
			return preset
		}
		if preset, ok := rules.albumRules[meta.AlbumKey()]; ok {
			return preset
		}
		if preset, ok := rules.genreRules[meta.GenreKey()]; ok {
			return preset
		}
		if rules.defaultOne != "" {
			return rules.defaultOne
		}
	}
	return fallback
}

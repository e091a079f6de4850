package dlna

import (
	"fmt"
	"strings"

	"github.com/aaeq/aaeq-core/internal/audio"
)

// MediaMetadata describes the stream for the renderer's display.
type MediaMetadata struct {
	Title       string
	Artist      string
	Album       string
	Genre       string
	Duration    string // H:MM:SS
	AlbumArtURI string
}

// DefaultMetadata is the fallback when no track info is known.
func DefaultMetadata() MediaMetadata {
	return MediaMetadata{Title: "AAEQ Stream"}
}

// protocolInfoFor maps the stream format onto the DLNA protocolInfo
// mime field: raw L16/L24 for the integer formats, WAV for floats.
func protocolInfoFor(cfg audio.OutputConfig) string {
	var mime string
	switch cfg.Format {
	case audio.FormatS16LE:
		mime = fmt.Sprintf("audio/L16;rate=%d;channels=%d", cfg.SampleRate, cfg.Channels)
	case audio.FormatS24LE:
		mime = fmt.Sprintf("audio/L24;rate=%d;channels=%d", cfg.SampleRate, cfg.Channels)
	default:
		mime = "audio/wav"
	}
	return "http-get:*:" + mime + ":DLNA.ORG_PN=WAV;DLNA.ORG_OP=01;DLNA.ORG_FLAGS=01700000000000000000000000000000"
}

// GenerateDIDLLite builds the metadata document for SetAVTransportURI.
func GenerateDIDLLite(uri string, meta MediaMetadata, cfg audio.OutputConfig) string {
	var b strings.Builder

	b.WriteString(`<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/" `)
	b.WriteString(`xmlns:dc="http://purl.org/dc/elements/1.1/" `)
	b.WriteString(`xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/">`)
	b.WriteString(`<item id="1" parentID="0" restricted="1">`)

	fmt.Fprintf(&b, "<dc:title>%s</dc:title>", escapeXML(meta.Title))
	if meta.Artist != "" {
		fmt.Fprintf(&b, "<upnp:artist>%s</upnp:artist>", escapeXML(meta.Artist))
		fmt.Fprintf(&b, "<dc:creator>%s</dc:creator>", escapeXML(meta.Artist))
	}
	if meta.Album != "" {
		fmt.Fprintf(&b, "<upnp:album>%s</upnp:album>", escapeXML(meta.Album))
	}
	if meta.Genre != "" {
		fmt.Fprintf(&b, "<upnp:genre>%s</upnp:genre>", escapeXML(meta.Genre))
	}
	if meta.AlbumArtURI != "" {
		fmt.Fprintf(&b, "<upnp:albumArtURI>%s</upnp:albumArtURI>", escapeXML(meta.AlbumArtURI))
	}
	b.WriteString("<upnp:class>object.item.audioItem.musicTrack</upnp:class>")

	fmt.Fprintf(&b, `<res protocolInfo="%s" `, escapeXML(protocolInfoFor(cfg)))
	if meta.Duration != "" {
		fmt.Fprintf(&b, `duration="%s" `, escapeXML(meta.Duration))
	}
	fmt.Fprintf(&b, `sampleFrequency="%d" `, cfg.SampleRate)
	fmt.Fprintf(&b, `nrAudioChannels="%d" `, cfg.Channels)
	bits := cfg.Format.BitDepth()
	if bits == 0 {
		bits = 32
	}
	fmt.Fprintf(&b, `bitsPerSample="%d">`, bits)
	b.WriteString(escapeXML(uri))
	b.WriteString("</res>")

	b.WriteString("</item></DIDL-Lite>")
	return b.String()
}

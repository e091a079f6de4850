package rtp

import "encoding/binary"

// GaplessMarker is the 1-byte gapless playback extension. T flags the
// last packet of a track, S the first packet of the next; the remaining
// bits are reserved zero.
type GaplessMarker struct {
	TrackEnd   bool
	TrackStart bool
}

// Gapless data byte layout: T at bit 3, S at bit 2.
const (
	gaplessTrackEndBit   = 1 << 3
	gaplessTrackStartBit = 1 << 2
)

// Encode packs the marker into its single data byte.
func (m GaplessMarker) Encode() []byte {
	var b byte
	if m.TrackEnd {
		b |= gaplessTrackEndBit
	}
	if m.TrackStart {
		b |= gaplessTrackStartBit
	}
	return []byte{b}
}

// DecodeGaplessMarker parses the 1-byte gapless extension data.
func DecodeGaplessMarker(data []byte) GaplessMarker {
	if len(data) == 0 {
		return GaplessMarker{}
	}
	return GaplessMarker{
		TrackEnd:   data[0]&gaplessTrackEndBit != 0,
		TrackStart: data[0]&gaplessTrackStartBit != 0,
	}
}

// EncodeCRC32Extension packs the checksum into the 4 big-endian data
// bytes of the CRC32 extension. The RFC 5285 header byte (ID<<4 | 3)
// is produced by the header marshaller from this length.
func EncodeCRC32Extension(sum uint32) []byte {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, sum)
	return data
}

// DecodeCRC32Extension unpacks the 4-byte CRC32 extension data.
func DecodeCRC32Extension(data []byte) (uint32, bool) {
	if len(data) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(data), true
}

package rtp

import (
	"fmt"

	pionrtp "github.com/pion/rtp"
)

// PacketizerConfig fixes the per-session RTP parameters taken from the
// negotiated session_accept.
type PacketizerConfig struct {
	SSRC            uint32
	PayloadType     uint8
	InitialSequence uint16
	InitialTS       uint32

	GaplessEnabled bool
	GaplessID      uint8
	CrcEnabled     bool
	CrcID          uint8
	CrcWindow      uint32
}

// DefaultPacketizerConfig returns the protocol defaults for an L24
// session with both extensions active.
func DefaultPacketizerConfig(ssrc uint32) PacketizerConfig {
	return PacketizerConfig{
		SSRC:           ssrc,
		PayloadType:    PayloadTypeL24,
		GaplessEnabled: true,
		GaplessID:      DefaultGaplessExtensionID,
		CrcEnabled:     true,
		CrcID:          DefaultCrc32ExtensionID,
		CrcWindow:      DefaultCrcWindow,
	}
}

// Packetizer produces the session's outgoing RTP stream. Sequence
// numbers advance by exactly one per packet; timestamps advance by the
// frame count of each packet. It keeps an extended 32-bit sequence so
// lifetime packet counts survive 16-bit wire wraparound.
//
// Not safe for concurrent use; the sender task is the only caller.
type Packetizer struct {
	cfg PacketizerConfig

	sequence    uint16
	extSequence uint32
	timestamp   uint32
	sinceCrc    uint32

	pendingTrackEnd   bool
	pendingTrackStart bool

	packets uint64
	bytes   uint64
}

// NewPacketizer creates a packetizer seeded from the negotiated config.
func NewPacketizer(cfg PacketizerConfig) *Packetizer {
	if cfg.CrcEnabled && cfg.CrcWindow == 0 {
		cfg.CrcWindow = DefaultCrcWindow
	}
	return &Packetizer{
		cfg:       cfg,
		sequence:  cfg.InitialSequence,
		timestamp: cfg.InitialTS,
	}
}

// MarkTrackEnd flags the next packet as the last of the current track.
func (p *Packetizer) MarkTrackEnd() { p.pendingTrackEnd = true }

// MarkTrackStart flags the next packet as the first of a new track.
func (p *Packetizer) MarkTrackStart() { p.pendingTrackStart = true }

// PacketsSent returns the lifetime packet count.
func (p *Packetizer) PacketsSent() uint64 { return p.packets }

// BytesSent returns the lifetime payload byte count.
func (p *Packetizer) BytesSent() uint64 { return p.bytes }

// ExtendedSequence returns the 32-bit count of packets sent so far, which
// is the next packet's offset from InitialSequence; unlike the 16-bit
// wire sequence it does not wrap at 65536.
func (p *Packetizer) ExtendedSequence() uint32 { return p.extSequence }

// Packetize wraps one network-byte-order payload into an RTP packet and
// advances the stream state. frames is the frame count the payload holds;
// the timestamp increments by this amount, not by sample count.
func (p *Packetizer) Packetize(payload []byte, frames int) (*pionrtp.Packet, error) {
	if frames <= 0 {
		return nil, fmt.Errorf("rtp: packet must carry at least one frame")
	}

	pkt := &pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			PayloadType:    p.cfg.PayloadType,
			SequenceNumber: p.sequence,
			Timestamp:      p.timestamp,
			SSRC:           p.cfg.SSRC,
		},
		Payload: payload,
	}

	if p.cfg.GaplessEnabled && (p.pendingTrackEnd || p.pendingTrackStart) {
		marker := GaplessMarker{TrackEnd: p.pendingTrackEnd, TrackStart: p.pendingTrackStart}
		pkt.Header.ExtensionProfile = ExtensionProfileOneByte
		if err := pkt.Header.SetExtension(p.cfg.GaplessID, marker.Encode()); err != nil {
			return nil, fmt.Errorf("rtp: gapless extension: %w", err)
		}
		p.pendingTrackEnd = false
		p.pendingTrackStart = false
	}

	if p.cfg.CrcEnabled {
		if p.sinceCrc == 0 {
			pkt.Header.ExtensionProfile = ExtensionProfileOneByte
			sum := PayloadCRC32(payload)
			if err := pkt.Header.SetExtension(p.cfg.CrcID, EncodeCRC32Extension(sum)); err != nil {
				return nil, fmt.Errorf("rtp: crc32 extension: %w", err)
			}
		}
		p.sinceCrc++
		if p.sinceCrc >= p.cfg.CrcWindow {
			p.sinceCrc = 0
		}
	}

	p.sequence++
	p.extSequence++
	p.timestamp += uint32(frames)
	p.packets++
	p.bytes += uint64(len(payload))

	return pkt, nil
}

// Depacketize parses a received datagram and extracts the ANP
// extensions. The gapless and CRC extension IDs come from the session
// config so a renegotiated session decodes with the right IDs.
func Depacketize(data []byte, gaplessID, crcID uint8) (*Packet, error) {
	var raw pionrtp.Packet
	if err := raw.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("rtp: unmarshal: %w", err)
	}

	pkt := &Packet{Header: raw.Header, Payload: raw.Payload}

	if raw.Header.Extension {
		if ext := raw.Header.GetExtension(gaplessID); ext != nil {
			m := DecodeGaplessMarker(ext)
			pkt.Gapless = &m
		}
		if ext := raw.Header.GetExtension(crcID); ext != nil {
			if sum, ok := DecodeCRC32Extension(ext); ok {
				pkt.CRC32 = &sum
			}
		}
	}

	return pkt, nil
}

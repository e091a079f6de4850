package anp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	anprtp "github.com/aaeq/aaeq-core/internal/anp/rtp"
	"github.com/aaeq/aaeq-core/internal/anp/session"
	"github.com/aaeq/aaeq-core/internal/audio"
)

func testAccept() session.Accept {
	return session.Accept{
		SessionID: "srv-test",
		RtpConfig: session.RtpConfig{
			Ssrc:             0x0BADCAFE,
			PayloadType:      96,
			TimestampRate:    48000,
			InitialSequence:  1000,
			InitialTimestamp: 50_000,
		},
		RtpExtensions: session.RtpExtensions{
			Gapless: session.GaplessExtension{Enabled: true, ExtensionID: 1},
			Crc32:   session.Crc32Extension{Enabled: true, ExtensionID: 2, Window: 4},
		},
		Buffer: session.BufferConfig{TargetMs: 150, MinMs: 50, MaxMs: 500, StartThresholdMs: 100},
	}
}

// nodeListener collects datagrams the sender emits.
type nodeListener struct {
	conn *net.UDPConn
	pkts chan []byte
}

func listen(t *testing.T) *nodeListener {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	l := &nodeListener{conn: conn, pkts: make(chan []byte, 256)}
	go func() {
		buf := make([]byte, 9000)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				close(l.pkts)
				return
			}
			pkt := make([]byte, n)
			copy(pkt, buf[:n])
			l.pkts <- pkt
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return l
}

func (l *nodeListener) next(t *testing.T) []byte {
	t.Helper()
	select {
	case pkt := <-l.pkts:
		return pkt
	case <-time.After(3 * time.Second):
		t.Fatal("no packet received")
		return nil
	}
}

func cfg48k() audio.OutputConfig {
	return audio.OutputConfig{SampleRate: 48000, Channels: 2, Format: audio.FormatS24LE, BufferMs: 150}
}

// levelBlock returns n stereo frames at the given constant level.
func levelBlock(n int, level float64) audio.AudioBlock {
	samples := make([]float64, n*2)
	for i := range samples {
		samples[i] = level
	}
	return audio.NewAudioBlock(samples, 48000, 2)
}

func openSink(t *testing.T, l *nodeListener) *Sink {
	t.Helper()
	s := New(Options{NodeAddr: l.conn.LocalAddr().String(), Accept: testAccept()}, zerolog.Nop())
	require.NoError(t, s.Open(context.Background(), cfg48k()))
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestPacketSequenceProgression(t *testing.T) {
	l := listen(t)
	s := openSink(t, l)

	// 960 frames = exactly two 10 ms packets.
	require.NoError(t, s.Write(context.Background(), levelBlock(960, 0.1)))

	first, err := anprtp.Depacketize(l.next(t), 1, 2)
	require.NoError(t, err)
	second, err := anprtp.Depacketize(l.next(t), 1, 2)
	require.NoError(t, err)

	assert.Equal(t, uint16(1000), first.Header.SequenceNumber)
	assert.Equal(t, uint16(1001), second.Header.SequenceNumber)
	assert.Equal(t, uint32(50_000), first.Header.Timestamp)
	assert.Equal(t, uint32(50_480), second.Header.Timestamp)
	assert.Equal(t, uint32(0x0BADCAFE), first.Header.SSRC)
	assert.Equal(t, anprtp.PayloadTypeL24, first.Header.PayloadType)
	assert.Len(t, first.Payload, 480*2*3)
}

func TestPartialBlockBuffersUntilFullPacket(t *testing.T) {
	l := listen(t)
	s := openSink(t, l)

	// 240 frames is half a packet: nothing on the wire yet.
	require.NoError(t, s.Write(context.Background(), levelBlock(240, 0.1)))
	select {
	case <-l.pkts:
		t.Fatal("partial packet must not be sent")
	case <-time.After(100 * time.Millisecond):
	}

	// The second half completes the packet.
	require.NoError(t, s.Write(context.Background(), levelBlock(240, 0.1)))
	pkt, err := anprtp.Depacketize(l.next(t), 1, 2)
	require.NoError(t, err)
	assert.Len(t, pkt.Payload, 480*2*3)
}

func TestPayloadIsBigEndianS24(t *testing.T) {
	l := listen(t)
	s := openSink(t, l)

	// A constant +0.5 sample quantizes near 0x400000; the wire bytes
	// must lead with the high byte.
	require.NoError(t, s.Write(context.Background(), levelBlock(480, 0.5)))
	pkt, err := anprtp.Depacketize(l.next(t), 1, 2)
	require.NoError(t, err)

	sample := anprtp.UnpackS24([3]byte{pkt.Payload[0], pkt.Payload[1], pkt.Payload[2]})
	assert.InDelta(t, 4194304, sample, 1<<9) // 0.5 · 2²³, dither noise margin
	// Big-endian: the high-order byte leads. Little-endian packing
	// would put ~0x40 in byte 2 and noise in byte 0.
	assert.Contains(t, []byte{0x3F, 0x40}, pkt.Payload[0])
}

func TestCrcWindowHonored(t *testing.T) {
	l := listen(t)
	s := openSink(t, l)

	// 8 packets with window 4: packets 0 and 4 carry CRC.
	require.NoError(t, s.Write(context.Background(), levelBlock(480*8, 0.2)))

	withCrc := 0
	for i := 0; i < 8; i++ {
		pkt, err := anprtp.Depacketize(l.next(t), 1, 2)
		require.NoError(t, err)
		if pkt.CRC32 != nil {
			assert.True(t, pkt.VerifyCRC())
			withCrc++
		}
	}
	assert.Equal(t, 2, withCrc)
}

func TestGaplessTrackTransition(t *testing.T) {
	l := listen(t)
	s := openSink(t, l)

	require.NoError(t, s.Write(context.Background(), levelBlock(480, 0.1)))
	l.next(t)

	// End of track N: marker T on the flushed packet.
	require.NoError(t, s.Write(context.Background(), levelBlock(240, 0.1)))
	require.NoError(t, s.EndTrack())
	endPkt, err := anprtp.Depacketize(l.next(t), 1, 2)
	require.NoError(t, err)
	require.NotNil(t, endPkt.Gapless)
	assert.True(t, endPkt.Gapless.TrackEnd)
	assert.False(t, endPkt.Gapless.TrackStart)

	// First packet of track N+1 carries S, contiguous sequence.
	require.NoError(t, s.Write(context.Background(), levelBlock(480, 0.1)))
	startPkt, err := anprtp.Depacketize(l.next(t), 1, 2)
	require.NoError(t, err)
	require.NotNil(t, startPkt.Gapless)
	assert.True(t, startPkt.Gapless.TrackStart)
	assert.False(t, startPkt.Gapless.TrackEnd)
	assert.Equal(t, endPkt.Header.SequenceNumber+1, startPkt.Header.SequenceNumber)
}

func TestRateMismatchRejectedAtOpen(t *testing.T) {
	l := listen(t)
	s := New(Options{NodeAddr: l.conn.LocalAddr().String(), Accept: testAccept()}, zerolog.Nop())

	cfg := cfg48k()
	cfg.SampleRate = 44100
	assert.Error(t, s.Open(context.Background(), cfg))
}

func TestDrainFlushesPartialPacket(t *testing.T) {
	l := listen(t)
	s := openSink(t, l)

	require.NoError(t, s.Write(context.Background(), levelBlock(120, 0.1)))
	require.NoError(t, s.Drain(context.Background()))

	pkt, err := anprtp.Depacketize(l.next(t), 1, 2)
	require.NoError(t, err)
	assert.Len(t, pkt.Payload, 480*2*3)
}

func TestStatsCountFramesAndPackets(t *testing.T) {
	l := listen(t)
	s := openSink(t, l)

	require.NoError(t, s.Write(context.Background(), levelBlock(960, 0.1)))
	l.next(t)
	l.next(t)

	assert.Equal(t, uint64(960), s.Stats().FramesWritten)
	assert.Equal(t, uint64(2), s.PacketsSent())
}

// Package jitter implements the node-side bounded jitter buffer that
// absorbs network delay variance between RTP arrival and DAC playback.
//
// Packets are ordered by RTP sequence number with wraparound-aware
// comparison; playback does not start until the buffered duration
// reaches the negotiated start threshold.
package jitter

import (
	"container/heap"
	"time"
)

// State of the buffer lifecycle: EMPTY → FILLING → BUFFERED → PLAYING →
// DRAINING → EMPTY.
type State int

const (
	StateEmpty State = iota
	StateFilling
	StateBuffered
	StatePlaying
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateFilling:
		return "filling"
	case StateBuffered:
		return "buffered"
	case StatePlaying:
		return "playing"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Health classification of the current fill level relative to target.
type Health int

const (
	HealthCritical Health = iota // < 30%
	HealthLow                    // 30–60%
	HealthGood                   // 60–90%
	HealthHigh                   // 90–100%
)

func (h Health) String() string {
	switch h {
	case HealthCritical:
		return "critical"
	case HealthLow:
		return "low"
	case HealthGood:
		return "good"
	case HealthHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Entry is one buffered RTP payload awaiting playback.
type Entry struct {
	Sequence    uint32
	Timestamp   uint32
	Payload     []byte
	ArrivalTime time.Time
}

// seqLess compares RTP sequence numbers with mod-2³² wraparound: a is
// "before" b when the signed distance from a to b is positive.
func seqLess(a, b uint32) bool {
	return int32(b-a) > 0
}

type entryHeap []Entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return seqLess(h[i].Sequence, h[j].Sequence) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(Entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Config bounds the buffer and sets its playback contract.
type Config struct {
	TargetMs         int
	MinMs            int
	MaxMs            int
	StartThresholdMs int
	SampleRate       int
	Channels         int
	BytesPerSample   int
}

// DefaultConfig mirrors the negotiated buffer contract defaults:
// target 150 ms, start threshold ≈ 0.66·target.
func DefaultConfig() Config {
	return Config{
		TargetMs:         150,
		MinMs:            50,
		MaxMs:            500,
		StartThresholdMs: 100,
		SampleRate:       48000,
		Channels:         2,
		BytesPerSample:   3,
	}
}

// Buffer is a bounded priority queue of RTP payloads keyed by sequence
// number. Not safe for concurrent use; the node's receive loop is the
// sole writer and playback consumer, synchronised externally.
type Buffer struct {
	cfg     Config
	entries entryHeap
	state   State

	bufferedBytes int
	nextSeq       uint32
	haveNext      bool

	drops     uint64
	lateDrops uint64
}

// New creates a jitter buffer with the given contract.
func New(cfg Config) *Buffer {
	if cfg.TargetMs <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.StartThresholdMs <= 0 {
		cfg.StartThresholdMs = cfg.TargetMs * 2 / 3
	}
	return &Buffer{cfg: cfg, state: StateEmpty}
}

// Config returns the active buffer contract.
func (b *Buffer) Config() Config { return b.cfg }

// SetTargetMs retunes the buffer target (server-driven adaptation).
// The new target is clamped to [MinMs, MaxMs].
func (b *Buffer) SetTargetMs(ms int) {
	if ms < b.cfg.MinMs {
		ms = b.cfg.MinMs
	}
	if ms > b.cfg.MaxMs {
		ms = b.cfg.MaxMs
	}
	b.cfg.TargetMs = ms
}

func (b *Buffer) bytesPerMs() int {
	return b.cfg.SampleRate * b.cfg.Channels * b.cfg.BytesPerSample / 1000
}

// FillMs returns the buffered audio duration in milliseconds.
func (b *Buffer) FillMs() float64 {
	per := b.bytesPerMs()
	if per == 0 {
		return 0
	}
	return float64(b.bufferedBytes) / float64(per)
}

// FillPercent returns fill relative to the target, clamped to [0, 100].
func (b *Buffer) FillPercent() int {
	if b.cfg.TargetMs == 0 {
		return 0
	}
	pct := int(b.FillMs() * 100 / float64(b.cfg.TargetMs))
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Health classifies the current fill: critical <30%, low 30–60%,
// good 60–90%, high 90–100%.
func (b *Buffer) Health() Health {
	pct := b.FillPercent()
	switch {
	case pct < 30:
		return HealthCritical
	case pct < 60:
		return HealthLow
	case pct < 90:
		return HealthGood
	default:
		return HealthHigh
	}
}

// State returns the current lifecycle state.
func (b *Buffer) State() State { return b.state }

// Len returns the number of buffered packets.
func (b *Buffer) Len() int { return len(b.entries) }

// Drops returns how many packets were discarded on overflow.
func (b *Buffer) Drops() uint64 { return b.drops }

// LateDrops returns how many packets arrived after their slot was consumed.
func (b *Buffer) LateDrops() uint64 { return b.lateDrops }

// Push inserts a packet. Late packets (sequence already consumed) are
// dropped. When the buffer exceeds MaxMs the oldest entry is discarded
// to make room, counting a drop.
func (b *Buffer) Push(e Entry) {
	if b.haveNext && !seqLess(b.nextSeq, e.Sequence) && e.Sequence != b.nextSeq {
		b.lateDrops++
		return
	}

	heap.Push(&b.entries, e)
	b.bufferedBytes += len(e.Payload)

	maxBytes := b.cfg.MaxMs * b.bytesPerMs()
	for b.bufferedBytes > maxBytes && len(b.entries) > 1 {
		oldest := heap.Pop(&b.entries).(Entry)
		b.bufferedBytes -= len(oldest.Payload)
		b.drops++
		b.nextSeq = oldest.Sequence + 1
		b.haveNext = true
	}

	switch b.state {
	case StateEmpty:
		b.state = StateFilling
	case StateFilling:
		if b.FillMs() >= float64(b.cfg.StartThresholdMs) {
			b.state = StateBuffered
		}
	}
}

// Ready reports whether playback may start: fill has reached the start
// threshold at least once since the buffer last emptied.
func (b *Buffer) Ready() bool {
	return b.state == StateBuffered || b.state == StatePlaying || b.state == StateDraining
}

// Pop removes and returns the next in-order packet. It returns false
// when the buffer is not yet ready (still filling toward the start
// threshold) or has no packets; the caller plays silence and counts an
// underrun in the latter case.
func (b *Buffer) Pop() (Entry, bool) {
	if !b.Ready() {
		return Entry{}, false
	}
	if len(b.entries) == 0 {
		b.state = StateEmpty
		b.haveNext = false
		return Entry{}, false
	}

	b.state = StatePlaying
	e := heap.Pop(&b.entries).(Entry)
	b.bufferedBytes -= len(e.Payload)
	b.nextSeq = e.Sequence + 1
	b.haveNext = true

	if len(b.entries) == 0 {
		b.state = StateDraining
	}
	return e, true
}

// Reset drops all entries and returns to EMPTY.
func (b *Buffer) Reset() {
	b.entries = b.entries[:0]
	b.bufferedBytes = 0
	b.state = StateEmpty
	b.haveNext = false
}

// Tuner implements the server-side adaptive target policy: if the node
// reports more than 5 xruns per minute the target grows by 50 ms; a full
// clean window with target above min shrinks it by 25 ms.
type Tuner struct {
	cfg Config
}

// NewTuner creates a tuner for the given buffer contract.
func NewTuner(cfg Config) *Tuner { return &Tuner{cfg: cfg} }

// Recommend returns the new target_ms given the xrun rate observed over
// the last window, or the current target when no change is needed.
func (t *Tuner) Recommend(currentTargetMs int, xrunsPerMinute float64) int {
	switch {
	case xrunsPerMinute > 5:
		next := currentTargetMs + 50
		if next > t.cfg.MaxMs {
			next = t.cfg.MaxMs
		}
		return next
	case xrunsPerMinute == 0 && currentTargetMs > t.cfg.MinMs:
		next := currentTargetMs - 25
		if next < t.cfg.MinMs {
			next = t.cfg.MinMs
		}
		return next
	default:
		return currentTargetMs
	}
}

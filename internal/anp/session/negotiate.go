package session

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/aaeq/aaeq-core/internal/anp/anperr"
)

// State of a node session. A single IDLE state covers both the
// post-disconnect and post-recovery quiescent conditions; DISCONNECTED
// transitions directly to IDLE on reconnect.
type State int

const (
	StateDisconnected State = iota
	StateIdle
	StateNegotiating
	StateBuffering
	StatePlaying
	StatePaused
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

var serverFeatures = map[string]bool{
	FeatureMicroPll:      true,
	FeatureCrcVerify:     true,
	FeatureVolumeControl: true,
	FeatureGapless:       true,
	FeatureCapabilities:  true,
}

var serverOptionalFeatures = map[string]bool{
	FeatureDspTransfer: true,
	FeatureConvolution: false, // room correction is out of scope
	FeatureRtcpSr:      true,
}

// parseVersion splits "MAJOR.MINOR" into its components.
func parseVersion(v string) (major, minor int, err error) {
	parts := strings.SplitN(strings.TrimSpace(v), ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("session: malformed version %q", v)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("session: malformed version %q", v)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("session: malformed version %q", v)
	}
	return major, minor, nil
}

// CheckVersion applies the compatibility rule: a major mismatch is fatal
// (E201); minor differences degrade gracefully.
func CheckVersion(nodeVersion string) error {
	nodeMajor, _, err := parseVersion(nodeVersion)
	if err != nil {
		return anperr.Wrap(anperr.CodeInvalidSessionInit, err)
	}
	ourMajor, _, _ := parseVersion(ProtocolVersion)
	if nodeMajor != ourMajor {
		return anperr.Newf(anperr.CodeVersionMismatch, "node %s, server %s", nodeVersion, ProtocolVersion)
	}
	return nil
}

// Session is one negotiated server↔node association.
type Session struct {
	ID             string
	NodeUUID       string
	Accept         Accept
	ActiveFeatures map[string]bool

	mu    sync.Mutex
	state State
}

// HasFeature reports whether a feature was negotiated active.
func (s *Session) HasFeature(name string) bool { return s.ActiveFeatures[name] }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session to a new state. Recovery paths converge
// on the single IDLE state; there is no separate post-recovery idle.
func (s *Session) Transition(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = next
}

// Negotiator builds session_accept responses and tracks live sessions so
// SSRCs stay unique across them.
type Negotiator struct {
	mu       sync.Mutex
	sessions map[string]*Session // by session ID
	usedSsrc map[uint32]string   // ssrc → session ID
	counter  uint64
}

// NewNegotiator creates an empty session registry.
func NewNegotiator() *Negotiator {
	return &Negotiator{
		sessions: make(map[string]*Session),
		usedSsrc: make(map[uint32]string),
	}
}

func randomUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failure is unrecoverable environment breakage.
		panic("session: entropy source unavailable: " + err.Error())
	}
	return binary.BigEndian.Uint32(b[:])
}

// allocateSsrc returns an SSRC not used by any live session.
func (n *Negotiator) allocateSsrc() uint32 {
	for {
		ssrc := randomUint32()
		if _, taken := n.usedSsrc[ssrc]; !taken && ssrc != 0 {
			return ssrc
		}
	}
}

// Negotiate validates a session_init and produces the session_accept.
// Active features are the intersection of the node's offer and the
// server's support; unknown offered features are silently dropped per
// the graceful-degradation rule.
func (n *Negotiator) Negotiate(init Init) (*Session, error) {
	if err := CheckVersion(init.ProtocolVersion); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(init.NodeUUID); err != nil {
		return nil, anperr.Newf(anperr.CodeInvalidSessionInit, "node_uuid %q", init.NodeUUID)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	// One session per node: a re-init replaces the existing session.
	for id, s := range n.sessions {
		if s.NodeUUID == init.NodeUUID {
			delete(n.usedSsrc, s.Accept.RtpConfig.Ssrc)
			delete(n.sessions, id)
		}
	}

	active := make([]string, 0, len(init.Features))
	activeSet := make(map[string]bool, len(init.Features))
	for _, f := range init.Features {
		if serverFeatures[f] {
			active = append(active, f)
			activeSet[f] = true
		}
	}
	optional := make([]string, 0, len(init.OptionalFeatures))
	for _, f := range init.OptionalFeatures {
		if serverOptionalFeatures[f] {
			optional = append(optional, f)
			activeSet[f] = true
		}
	}

	n.counter++
	sessionID := fmt.Sprintf("srv-%08x-%d", randomUint32(), n.counter)
	ssrc := n.allocateSsrc()

	sampleRate := 48000
	if init.NodeCapabilities.MaxSampleRate > 0 && init.NodeCapabilities.MaxSampleRate < sampleRate {
		sampleRate = init.NodeCapabilities.MaxSampleRate
	}

	targetMs := 150
	accept := Accept{
		ProtocolVersion:  ProtocolVersion,
		SessionID:        sessionID,
		ActiveFeatures:   active,
		OptionalFeatures: optional,
		RtpConfig: RtpConfig{
			Ssrc:             ssrc,
			PayloadType:      96,
			TimestampRate:    sampleRate,
			InitialSequence:  uint16(randomUint32()),
			InitialTimestamp: randomUint32(),
		},
		RtpExtensions: RtpExtensions{
			Gapless: GaplessExtension{
				Enabled:     activeSet[FeatureGapless],
				ExtensionID: 1,
			},
			Crc32: Crc32Extension{
				Enabled:     activeSet[FeatureCrcVerify],
				ExtensionID: 2,
				Window:      64,
			},
		},
		RecommendedCfg: RecommendedConfig{
			SampleRate: sampleRate,
			Format:     "S24LE",
			BufferMs:   targetMs,
			Reason:     "optimal for negotiated hardware",
		},
		Latency: LatencyInfo{
			DacMs:      1.34,
			PipelineMs: 0.62,
			CompMode:   "exact",
		},
		MicroPll: MicroPllConfig{
			Enabled:              activeSet[FeatureMicroPll],
			PpmLimit:             150,
			AdjustmentIntervalMs: 100,
			SlewRatePpmPerSec:    10,
			EmaWindow:            8,
		},
		Volume: VolumeConfig{
			InitialLevel: 0.75,
			Mute:         false,
			ControlMode:  "software",
			CurveType:    "logarithmic",
		},
		Buffer: BufferConfig{
			TargetMs:         targetMs,
			MinMs:            50,
			MaxMs:            500,
			StartThresholdMs: targetMs * 2 / 3,
		},
	}

	s := &Session{
		ID:             sessionID,
		NodeUUID:       init.NodeUUID,
		Accept:         accept,
		ActiveFeatures: activeSet,
		state:          StateNegotiating,
	}
	n.sessions[sessionID] = s
	n.usedSsrc[ssrc] = sessionID

	return s, nil
}

// Lookup returns a live session by ID.
func (n *Negotiator) Lookup(id string) (*Session, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.sessions[id]
	return s, ok
}

// Close tears a session down and releases its SSRC.
func (n *Negotiator) Close(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if s, ok := n.sessions[id]; ok {
		delete(n.usedSsrc, s.Accept.RtpConfig.Ssrc)
		delete(n.sessions, id)
	}
}

// CheckSsrcConflict reports E205 when a node observes a second stream
// with its session's SSRC.
func (n *Negotiator) CheckSsrcConflict(sessionID string, observedSsrc uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	owner, taken := n.usedSsrc[observedSsrc]
	if taken && owner != sessionID {
		return anperr.Newf(anperr.CodeSsrcConflict, "ssrc %08x owned by %s", observedSsrc, owner)
	}
	return nil
}

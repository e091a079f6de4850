// Package discovery implements ANP node discovery over mDNS: nodes
// advertise under _aaeq-anp._tcp.local. with a TXT record whose keys
// are ordered to place uuid first, so truncated records still identify
// the node.
package discovery

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ServiceName is the mDNS service type ANP nodes advertise under.
const ServiceName = "_aaeq-anp._tcp.local."

// Fixed feature abbreviations used in the ft/opt TXT keys.
const (
	FeatPll  = "pll"
	FeatCrc  = "crc"
	FeatVol  = "vol"
	FeatGap  = "gap"
	FeatCap  = "cap"
	FeatDsp  = "dsp"
	FeatConv = "conv"
	FeatRtcp = "rtcp"
)

// Fixed state abbreviations used in the st TXT key.
const (
	StateIdle    = "idle"
	StatePlaying = "play"
	StateBuffer  = "buf"
	StateError   = "err"
)

// NodeRecord is the advertised identity and capability summary of a
// rendering node.
type NodeRecord struct {
	UUID        string
	Version     string
	SampleRates []int
	BitDepths   []string
	Channels    int
	Features    []string
	Optional    []string
	ControlURL  string
	State       string
	Volume      int
	DacName     string
	Hardware    string
}

// NewNodeRecord returns a record with the protocol defaults filled in.
func NewNodeRecord(id string) NodeRecord {
	return NodeRecord{
		UUID:        id,
		Version:     "0.4.0",
		SampleRates: []int{44100, 48000, 96000, 192000},
		BitDepths:   []string{"S16", "S24", "F32"},
		Channels:    2,
		Features:    []string{FeatPll, FeatCrc, FeatVol, FeatGap, FeatCap},
		Optional:    []string{FeatDsp, FeatRtcp},
		State:       StateIdle,
		Volume:      75,
	}
}

func joinInts(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// TxtStrings encodes the record as ordered key=value TXT strings. uuid
// leads so a truncated record still names the node.
func (r NodeRecord) TxtStrings() []string {
	txt := []string{
		"uuid=" + r.UUID,
		"v=" + r.Version,
		"sr=" + joinInts(r.SampleRates),
		"bd=" + strings.Join(r.BitDepths, ","),
		"ch=" + strconv.Itoa(r.Channels),
		"ft=" + strings.Join(r.Features, ","),
		"opt=" + strings.Join(r.Optional, ","),
	}
	if r.ControlURL != "" {
		txt = append(txt, "ctrl="+r.ControlURL)
	}
	txt = append(txt, "st="+r.State, "vol="+strconv.Itoa(r.Volume))
	if r.DacName != "" {
		txt = append(txt, "dac="+r.DacName)
	}
	if r.Hardware != "" {
		txt = append(txt, "hw="+r.Hardware)
	}
	return txt
}

// ParseTxtStrings decodes TXT strings back into a record. Only uuid is
// mandatory; everything else falls back to protocol defaults so a
// truncated record still parses.
func ParseTxtStrings(txt []string) (NodeRecord, error) {
	kv := make(map[string]string, len(txt))
	for _, s := range txt {
		if i := strings.IndexByte(s, '='); i > 0 {
			kv[s[:i]] = s[i+1:]
		}
	}

	id, ok := kv["uuid"]
	if !ok {
		return NodeRecord{}, fmt.Errorf("discovery: TXT record missing uuid")
	}
	if _, err := uuid.Parse(id); err != nil {
		return NodeRecord{}, fmt.Errorf("discovery: invalid uuid %q", id)
	}

	r := NewNodeRecord(id)
	if v, ok := kv["v"]; ok {
		r.Version = v
	}
	if v, ok := kv["sr"]; ok {
		var rates []int
		for _, p := range strings.Split(v, ",") {
			if n, err := strconv.Atoi(p); err == nil {
				rates = append(rates, n)
			}
		}
		if len(rates) > 0 {
			r.SampleRates = rates
		}
	}
	if v, ok := kv["bd"]; ok {
		r.BitDepths = strings.Split(v, ",")
	}
	if v, ok := kv["ch"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			r.Channels = n
		}
	}
	if v, ok := kv["ft"]; ok {
		r.Features = strings.Split(v, ",")
	}
	if v, ok := kv["opt"]; ok {
		r.Optional = strings.Split(v, ",")
	}
	if v, ok := kv["ctrl"]; ok {
		r.ControlURL = v
	}
	if v, ok := kv["st"]; ok {
		r.State = v
	}
	if v, ok := kv["vol"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			r.Volume = n
		}
	}
	r.DacName = kv["dac"]
	r.Hardware = kv["hw"]

	return r, nil
}

// HasFeature reports whether an abbreviation appears in the core or
// optional feature lists.
func (r NodeRecord) HasFeature(abbrev string) bool {
	for _, f := range r.Features {
		if f == abbrev {
			return true
		}
	}
	for _, f := range r.Optional {
		if f == abbrev {
			return true
		}
	}
	return false
}

// InstanceName returns the node's mDNS service instance name.
func (r NodeRecord) InstanceName() string {
	return r.UUID + "." + ServiceName
}

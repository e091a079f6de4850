package discovery

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/pion/mdns/v2"
	"github.com/rs/zerolog"
	"golang.org/x/net/dns/dnsmessage"
	"golang.org/x/net/ipv4"
)

// mDNS multicast group and the advertised record TTL.
const (
	mdnsAddr     = "224.0.0.251:5353"
	mdnsPort     = 5353
	recordTTL    = 120
	announcePace = 30 * time.Second
)

// Advertiser publishes a node's service instance: PTR, SRV, and TXT
// records multicast periodically, plus a pion/mdns responder answering
// A queries for the node's host name.
type Advertiser struct {
	log      zerolog.Logger
	record   NodeRecord
	hostName string
	port     uint16

	mu   sync.Mutex
	conn *net.UDPConn
	resp *mdns.Conn
	done chan struct{}
}

// NewAdvertiser prepares an advertiser for the given record and control
// port. hostName is the A-record name the SRV target points at, e.g.
// "aaeq-node-7f2a.local.".
func NewAdvertiser(record NodeRecord, hostName string, port uint16, log zerolog.Logger) *Advertiser {
	if !strings.HasSuffix(hostName, ".") {
		hostName += "."
	}
	return &Advertiser{
		log:      log,
		record:   record,
		hostName: hostName,
		port:     port,
	}
}

// Start begins advertising: an immediate announcement, then one every
// announcePace until Stop.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done != nil {
		return fmt.Errorf("discovery: advertiser already started")
	}

	group, err := net.ResolveUDPAddr("udp4", mdnsAddr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return err
	}

	// pion/mdns answers A queries for the host name the SRV points at.
	respSock, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: mdnsPort})
	if err == nil {
		pktConn := ipv4.NewPacketConn(respSock)
		resp, rerr := mdns.Server(pktConn, nil, &mdns.Config{
			LocalNames: []string{strings.TrimSuffix(a.hostName, ".")},
		})
		if rerr != nil {
			a.log.Warn().Err(rerr).Msg("discovery: mdns responder unavailable, SRV target may not resolve")
			respSock.Close()
		} else {
			a.resp = resp
		}
	} else {
		a.log.Warn().Err(err).Msg("discovery: mdns port busy, relying on system responder")
	}

	a.conn = conn
	a.done = make(chan struct{})

	go a.announceLoop(group)
	return nil
}

func (a *Advertiser) announceLoop(group *net.UDPAddr) {
	ticker := time.NewTicker(announcePace)
	defer ticker.Stop()

	a.announce(group)
	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			a.announce(group)
		}
	}
}

// SetState updates the advertised st key; the next announcement carries
// it. Abbreviations are fixed: idle, play, buf, err.
func (a *Advertiser) SetState(state string) {
	a.mu.Lock()
	a.record.State = state
	a.mu.Unlock()
}

// SetVolume updates the advertised vol key.
func (a *Advertiser) SetVolume(vol int) {
	a.mu.Lock()
	a.record.Volume = vol
	a.mu.Unlock()
}

func (a *Advertiser) announce(group *net.UDPAddr) {
	a.mu.Lock()
	record := a.record
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return
	}

	pkt, err := buildAnnouncement(record, a.hostName, a.port)
	if err != nil {
		a.log.Error().Err(err).Msg("discovery: building announcement failed")
		return
	}
	if _, err := conn.WriteToUDP(pkt, group); err != nil {
		a.log.Warn().Err(err).Msg("discovery: announcement send failed")
	}
}

// Stop withdraws the advertisement and releases sockets.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done == nil {
		return
	}
	close(a.done)
	a.done = nil
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	if a.resp != nil {
		a.resp.Close()
		a.resp = nil
	}
}

func mustName(s string) dnsmessage.Name {
	n, err := dnsmessage.NewName(s)
	if err != nil {
		panic("discovery: bad DNS name " + s)
	}
	return n
}

// buildAnnouncement packs the unsolicited mDNS response carrying the
// service PTR, the SRV, and the ordered TXT record.
func buildAnnouncement(record NodeRecord, hostName string, port uint16) ([]byte, error) {
	instance := mustName(record.InstanceName())
	service := mustName(ServiceName)
	host := mustName(hostName)

	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{
		Response:      true,
		Authoritative: true,
	})
	b.EnableCompression()
	if err := b.StartAnswers(); err != nil {
		return nil, err
	}

	hdr := func(name dnsmessage.Name, t dnsmessage.Type) dnsmessage.ResourceHeader {
		return dnsmessage.ResourceHeader{
			Name:  name,
			Type:  t,
			Class: dnsmessage.ClassINET,
			TTL:   recordTTL,
		}
	}

	if err := b.PTRResource(hdr(service, dnsmessage.TypePTR), dnsmessage.PTRResource{PTR: instance}); err != nil {
		return nil, err
	}
	if err := b.SRVResource(hdr(instance, dnsmessage.TypeSRV), dnsmessage.SRVResource{
		Priority: 0,
		Weight:   0,
		Port:     port,
		Target:   host,
	}); err != nil {
		return nil, err
	}
	if err := b.TXTResource(hdr(instance, dnsmessage.TypeTXT), dnsmessage.TXTResource{TXT: record.TxtStrings()}); err != nil {
		return nil, err
	}

	return b.Finish()
}

// Browser listens for ANP node announcements and answers Browse calls
// from its cache. Cache reads take a snapshot under the mutex; the
// returned slice is the caller's to keep.
type Browser struct {
	log zerolog.Logger

	mu    sync.Mutex
	nodes map[string]NodeRecord // by uuid
	conn  *net.UDPConn
	done  chan struct{}
}

// NewBrowser creates an idle browser.
func NewBrowser(log zerolog.Logger) *Browser {
	return &Browser{log: log, nodes: make(map[string]NodeRecord)}
}

// Start joins the mDNS group, issues a PTR query for the service, and
// collects TXT answers until Stop.
func (b *Browser) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done != nil {
		return fmt.Errorf("discovery: browser already started")
	}

	group, err := net.ResolveUDPAddr("udp4", mdnsAddr)
	if err != nil {
		return err
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return err
	}

	b.conn = conn
	b.done = make(chan struct{})

	go b.readLoop(conn, b.done)
	go b.query(group)
	return nil
}

func (b *Browser) query(group *net.UDPAddr) {
	builder := dnsmessage.NewBuilder(nil, dnsmessage.Header{})
	builder.EnableCompression()
	if err := builder.StartQuestions(); err != nil {
		return
	}
	if err := builder.Question(dnsmessage.Question{
		Name:  mustName(ServiceName),
		Type:  dnsmessage.TypePTR,
		Class: dnsmessage.ClassINET,
	}); err != nil {
		return
	}
	pkt, err := builder.Finish()
	if err != nil {
		return
	}

	out, err := net.DialUDP("udp4", nil, group)
	if err != nil {
		return
	}
	defer out.Close()
	out.Write(pkt)
}

func (b *Browser) readLoop(conn *net.UDPConn, done chan struct{}) {
	buf := make([]byte, 9000)
	for {
		select {
		case <-done:
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		b.handlePacket(buf[:n])
	}
}

func (b *Browser) handlePacket(pkt []byte) {
	var p dnsmessage.Parser
	if _, err := p.Start(pkt); err != nil {
		return
	}
	if err := p.SkipAllQuestions(); err != nil {
		return
	}
	for {
		h, err := p.AnswerHeader()
		if err != nil {
			return
		}
		if h.Type != dnsmessage.TypeTXT || !strings.HasSuffix(h.Name.String(), ServiceName) {
			if err := p.SkipAnswer(); err != nil {
				return
			}
			continue
		}
		txt, err := p.TXTResource()
		if err != nil {
			return
		}
		record, perr := ParseTxtStrings(txt.TXT)
		if perr != nil {
			b.log.Debug().Err(perr).Msg("discovery: skipping unparsable TXT record")
			continue
		}
		b.mu.Lock()
		b.nodes[record.UUID] = record
		b.mu.Unlock()
		b.log.Debug().Str("uuid", record.UUID).Str("state", record.State).Msg("discovery: node seen")
	}
}

// Browse waits up to the context deadline for at least one node and
// returns the cache snapshot.
func (b *Browser) Browse(ctx context.Context) []NodeRecord {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if nodes := b.Nodes(); len(nodes) > 0 {
			return nodes
		}
		select {
		case <-ctx.Done():
			return b.Nodes()
		case <-ticker.C:
		}
	}
}

// Nodes returns the current cache contents.
func (b *Browser) Nodes() []NodeRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]NodeRecord, 0, len(b.nodes))
	for _, r := range b.nodes {
		out = append(out, r)
	}
	return out
}

// Stop leaves the group and clears the cache.
func (b *Browser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done == nil {
		return
	}
	close(b.done)
	b.done = nil
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	b.nodes = make(map[string]NodeRecord)
}

// ResolveHost resolves a node's .local host name to an address using a
// one-shot pion/mdns query connection.
func ResolveHost(ctx context.Context, hostName string) (netip.Addr, error) {
	sock, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: mdnsPort})
	if err != nil {
		return netip.Addr{}, err
	}
	conn, err := mdns.Server(ipv4.NewPacketConn(sock), nil, &mdns.Config{})
	if err != nil {
		sock.Close()
		return netip.Addr{}, err
	}
	defer conn.Close()

	_, addr, err := conn.QueryAddr(ctx, strings.TrimSuffix(hostName, "."))
	if err != nil {
		return netip.Addr{}, err
	}
	return addr, nil
}

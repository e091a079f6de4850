package dlna

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// SSDP constants: multicast group, search target, and deadlines.
const (
	ssdpAddr        = "239.255.255.250:1900"
	searchTarget    = "urn:schemas-upnp-org:device:MediaRenderer:1"
	ssdpWait        = 10 * time.Second
	descriptionWait = 3 * time.Second
)

// Discoverer finds DLNA MediaRenderers via SSDP M-SEARCH. Description
// fetches are rate limited so a burst of responses does not hammer the
// LAN; the device cache serves repeat lookups without re-searching.
type Discoverer struct {
	log     zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter

	mu    sync.Mutex
	cache map[string]Device // by location URL
}

// NewDiscoverer creates a discoverer with the protocol deadlines.
func NewDiscoverer(log zerolog.Logger) *Discoverer {
	return &Discoverer{
		log:     log,
		client:  &http.Client{Timeout: descriptionWait},
		limiter: rate.NewLimiter(rate.Limit(8), 4),
		cache:   make(map[string]Device),
	}
}

// Discover multicasts an M-SEARCH and collects renderer descriptions
// until the context deadline (callers pass a 10–15 s budget).
func (d *Discoverer) Discover(ctx context.Context) ([]Device, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ssdpWait)
		defer cancel()
	}

	group, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("dlna: ssdp socket: %w", err)
	}
	defer conn.Close()

	search := strings.Join([]string{
		"M-SEARCH * HTTP/1.1",
		"HOST: " + ssdpAddr,
		"MAN: \"ssdp:discover\"",
		"MX: 3",
		"ST: " + searchTarget,
		"", "",
	}, "\r\n")

	if _, err := conn.WriteToUDP([]byte(search), group); err != nil {
		return nil, fmt.Errorf("dlna: ssdp send: %w", err)
	}

	seen := make(map[string]bool)
	var devices []Device
	buf := make([]byte, 4096)

	for {
		deadline, _ := ctx.Deadline()
		conn.SetReadDeadline(deadline)

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			break // deadline reached
		}
		location := parseSsdpLocation(string(buf[:n]))
		if location == "" || seen[location] {
			continue
		}
		seen[location] = true

		dev, err := d.describe(ctx, location)
		if err != nil {
			d.log.Debug().Err(err).Str("location", location).Msg("dlna: skipping device")
			continue
		}
		devices = append(devices, dev)
		d.log.Info().Str("name", dev.Name).Str("control", dev.ControlURL).Msg("dlna: renderer found")
	}

	d.mu.Lock()
	for _, dev := range devices {
		d.cache[dev.Location] = dev
	}
	d.mu.Unlock()

	return devices, nil
}

// describe fetches and parses a device description document.
func (d *Discoverer) describe(ctx context.Context, location string) (Device, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return Device{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return Device{}, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return Device{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Device{}, fmt.Errorf("dlna: description fetch %s: %s", location, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Device{}, err
	}
	return ParseDeviceDescription(data, location)
}

// Cached returns the device cache snapshot.
func (d *Discoverer) Cached() []Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Device, 0, len(d.cache))
	for _, dev := range d.cache {
		out = append(out, dev)
	}
	return out
}

// parseSsdpLocation extracts the LOCATION header from an SSDP response.
func parseSsdpLocation(response string) string {
	scanner := bufio.NewScanner(strings.NewReader(response))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, ':'); i > 0 {
			if strings.EqualFold(strings.TrimSpace(line[:i]), "location") {
				return strings.TrimSpace(line[i+1:])
			}
		}
	}
	return ""
}

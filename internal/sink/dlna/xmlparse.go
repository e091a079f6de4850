// Package dlna implements the DLNA/UPnP output sink: a pull-mode
// chunked WAV HTTP server, SSDP renderer discovery, AVTransport SOAP
// control with DIDL-Lite metadata, and per-device behavioral profiles.
package dlna

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
)

// avTransportService is the UPnP service type carrying playback control.
const avTransportService = "urn:schemas-upnp-org:service:AVTransport:1"

// Device is a discovered DLNA MediaRenderer.
type Device struct {
	Name         string
	Manufacturer string
	Model        string
	UDN          string
	Location     string
	ControlURL   string
	ServiceType  string
}

type deviceDescription struct {
	XMLName xml.Name `xml:"root"`
	Device  struct {
		FriendlyName string `xml:"friendlyName"`
		Manufacturer string `xml:"manufacturer"`
		ModelName    string `xml:"modelName"`
		UDN          string `xml:"UDN"`
		ServiceList  struct {
			Services []struct {
				ServiceType string `xml:"serviceType"`
				ControlURL  string `xml:"controlURL"`
			} `xml:"service"`
		} `xml:"serviceList"`
		DeviceList struct {
			Devices []struct {
				ServiceList struct {
					Services []struct {
						ServiceType string `xml:"serviceType"`
						ControlURL  string `xml:"controlURL"`
					} `xml:"service"`
				} `xml:"serviceList"`
			} `xml:"device"`
		} `xml:"deviceList"`
	} `xml:"device"`
}

// ParseDeviceDescription extracts renderer identity and the AVTransport
// control URL from a device description document. The XML parser is
// authoritative; the string-scanning fallback only runs when the
// document fails to decode at all.
func ParseDeviceDescription(data []byte, location string) (Device, error) {
	base, err := url.Parse(location)
	if err != nil {
		return Device{}, fmt.Errorf("dlna: bad location %q: %w", location, err)
	}

	var desc deviceDescription
	if err := xml.Unmarshal(data, &desc); err != nil {
		return parseDescriptionFallback(string(data), base, location, err)
	}

	dev := Device{
		Name:         desc.Device.FriendlyName,
		Manufacturer: desc.Device.Manufacturer,
		Model:        desc.Device.ModelName,
		UDN:          desc.Device.UDN,
		Location:     location,
	}

	for _, svc := range desc.Device.ServiceList.Services {
		if strings.Contains(svc.ServiceType, "AVTransport") {
			dev.ControlURL = resolveURL(base, svc.ControlURL)
			dev.ServiceType = svc.ServiceType
			return dev, nil
		}
	}
	// Some renderers nest AVTransport inside an embedded device.
	for _, sub := range desc.Device.DeviceList.Devices {
		for _, svc := range sub.ServiceList.Services {
			if strings.Contains(svc.ServiceType, "AVTransport") {
				dev.ControlURL = resolveURL(base, svc.ControlURL)
				dev.ServiceType = svc.ServiceType
				return dev, nil
			}
		}
	}

	return Device{}, fmt.Errorf("dlna: %q exposes no AVTransport service", dev.Name)
}

// parseDescriptionFallback is the last-resort string scan for documents
// the XML decoder rejects (truncated or malformed descriptions some
// renderers serve).
func parseDescriptionFallback(doc string, base *url.URL, location string, xmlErr error) (Device, error) {
	control := findTagFallback(doc, "controlURL")
	if control == "" || !strings.Contains(doc, "AVTransport") {
		return Device{}, fmt.Errorf("dlna: unparsable description: %w", xmlErr)
	}
	return Device{
		Name:         findTagFallback(doc, "friendlyName"),
		Manufacturer: findTagFallback(doc, "manufacturer"),
		Model:        findTagFallback(doc, "modelName"),
		UDN:          findTagFallback(doc, "UDN"),
		Location:     location,
		ControlURL:   resolveURL(base, control),
		ServiceType:  avTransportService,
	}, nil
}

func findTagFallback(doc, tag string) string {
	start := strings.Index(doc, "<"+tag+">")
	if start < 0 {
		return ""
	}
	start += len(tag) + 2
	end := strings.Index(doc[start:], "</"+tag+">")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(doc[start : start+end])
}

func resolveURL(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

package dlna

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// soapTimeout bounds every AVTransport action.
const soapTimeout = 5 * time.Second

// AVTransport drives a renderer's playback over SOAP.
type AVTransport struct {
	log         zerolog.Logger
	client      *http.Client
	controlURL  string
	serviceType string
}

// NewAVTransport creates a controller for a renderer's control URL.
func NewAVTransport(controlURL, serviceType string, log zerolog.Logger) *AVTransport {
	if serviceType == "" {
		serviceType = avTransportService
	}
	return &AVTransport{
		log:         log,
		client:      &http.Client{Timeout: soapTimeout},
		controlURL:  controlURL,
		serviceType: serviceType,
	}
}

const soapEnvelope = `<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"
            s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
  <s:Body>
%s
  </s:Body>
</s:Envelope>`

// SetAVTransportURI points the renderer at our stream URL with
// DIDL-Lite metadata describing it.
func (t *AVTransport) SetAVTransportURI(ctx context.Context, uri, didlMetadata string) error {
	body := fmt.Sprintf(`    <u:SetAVTransportURI xmlns:u="%s">
      <InstanceID>0</InstanceID>
      <CurrentURI>%s</CurrentURI>
      <CurrentURIMetaData>%s</CurrentURIMetaData>
    </u:SetAVTransportURI>`,
		t.serviceType, escapeXML(uri), escapeXML(didlMetadata))

	_, err := t.invoke(ctx, "SetAVTransportURI", body)
	return err
}

// Play starts playback at normal speed.
func (t *AVTransport) Play(ctx context.Context) error {
	body := fmt.Sprintf(`    <u:Play xmlns:u="%s">
      <InstanceID>0</InstanceID>
      <Speed>1</Speed>
    </u:Play>`, t.serviceType)
	_, err := t.invoke(ctx, "Play", body)
	return err
}

// Stop halts playback.
func (t *AVTransport) Stop(ctx context.Context) error {
	body := fmt.Sprintf(`    <u:Stop xmlns:u="%s">
      <InstanceID>0</InstanceID>
    </u:Stop>`, t.serviceType)
	_, err := t.invoke(ctx, "Stop", body)
	return err
}

// Pause suspends playback where the renderer supports it.
func (t *AVTransport) Pause(ctx context.Context) error {
	body := fmt.Sprintf(`    <u:Pause xmlns:u="%s">
      <InstanceID>0</InstanceID>
    </u:Pause>`, t.serviceType)
	_, err := t.invoke(ctx, "Pause", body)
	return err
}

// TransportInfo is the renderer's reported playback state.
type TransportInfo struct {
	State  string
	Status string
}

// GetTransportInfo queries the renderer's transport state.
func (t *AVTransport) GetTransportInfo(ctx context.Context) (TransportInfo, error) {
	body := fmt.Sprintf(`    <u:GetTransportInfo xmlns:u="%s">
      <InstanceID>0</InstanceID>
    </u:GetTransportInfo>`, t.serviceType)

	resp, err := t.invoke(ctx, "GetTransportInfo", body)
	if err != nil {
		return TransportInfo{}, err
	}
	var env struct {
		State  string `xml:"Body>GetTransportInfoResponse>CurrentTransportState"`
		Status string `xml:"Body>GetTransportInfoResponse>CurrentTransportStatus"`
	}
	var info TransportInfo
	if err := xml.Unmarshal([]byte(resp), &env); err == nil {
		info = TransportInfo{State: strings.TrimSpace(env.State), Status: strings.TrimSpace(env.Status)}
	} else {
		info = TransportInfo{
			State:  findTagFallback(resp, "CurrentTransportState"),
			Status: findTagFallback(resp, "CurrentTransportStatus"),
		}
	}
	if info.State == "" {
		info.State = "UNKNOWN"
	}
	if info.Status == "" {
		info.Status = "OK"
	}
	return info, nil
}

func (t *AVTransport) invoke(ctx context.Context, action, innerBody string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, soapTimeout)
	defer cancel()

	envelope := fmt.Sprintf(soapEnvelope, innerBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.controlURL, strings.NewReader(envelope))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPAction", fmt.Sprintf("%q", t.serviceType+"#"+action))

	t.log.Debug().Str("action", action).Str("url", t.controlURL).Msg("dlna: soap action")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("dlna: %s: %w", action, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("dlna: %s returned %s: %s", action, resp.Status, truncate(string(data), 200))
	}
	return string(data), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func escapeXML(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}

package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sweeney/cloudconnect/internal/backend"
	"github.com/sweeney/cloudconnect/internal/callstate"
	"github.com/sweeney/cloudconnect/internal/config"
)

// SIPConfigSource serves the logged-in agent's line.
type SIPConfigSource interface {
	SIPConfig(ctx context.Context) (*backend.SIPConfig, error)
}

// resolveLine returns the line to register. A configured extension wins;
// otherwise src is asked when present. An empty extension means no line.
func resolveLine(ctx context.Context, cfg *config.Config, src SIPConfigSource) (callstate.Registration, string, string, error) {
	if cfg.SIP.Extension != "" {
		return callstate.Registration{
			Server:   cfg.SIP.Server,
			Port:     cfg.SIP.Port,
			Protocol: cfg.SIP.Protocol,
			Domain:   cfg.SIP.Domain,
		}, cfg.SIP.Extension, cfg.SIP.Secret, nil
	}
	if src == nil {
		return callstate.Registration{}, "", "", nil
	}

	sc, err := src.SIPConfig(ctx)
	if err != nil {
		return callstate.Registration{}, "", "", err
	}
	reg, err := registrationFromBackend(sc)
	if err != nil {
		return callstate.Registration{}, "", "", err
	}
	return reg, sc.Extension, sc.Password, nil
}

// registrationFromBackend turns a server such as "wss://sip.example.com"
// into a registration. A bare host is taken as WSS on port 443.
func registrationFromBackend(sc *backend.SIPConfig) (callstate.Registration, error) {
	if sc.Server == "" {
		return callstate.Registration{}, fmt.Errorf("backend sip-config has no server")
	}

	raw := sc.Server
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return callstate.Registration{}, fmt.Errorf("parsing sip server %q: %w", sc.Server, err)
	}

	reg := callstate.Registration{
		Server: u.Hostname(),
		Port:   u.Port(),
		Domain: sc.Domain,
	}
	switch strings.ToLower(u.Scheme) {
	case "wss", "https":
		reg.Protocol = "WSS"
		if reg.Port == "" {
			reg.Port = "443"
		}
	case "udp", "sip":
		reg.Protocol = "UDP"
	case "tcp":
		reg.Protocol = "TCP"
	case "tls", "sips":
		reg.Protocol = "TLS"
	default:
		return callstate.Registration{}, fmt.Errorf("unsupported sip server scheme %q", u.Scheme)
	}
	if reg.Port == "" {
		reg.Port = "5060"
		if reg.Protocol == "TLS" {
			reg.Port = "5061"
		}
	}
	return reg, nil
}

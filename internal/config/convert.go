package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/groupcomm/internal/protocol/session"
)

// SessionConfig converts the file representation into a session.Config,
// filling unset values from session.DefaultConfig.
func (c GroupConfig) SessionConfig() (session.Config, error) {
	return c.Session.toSession(c.TLS)
}

func (s SessionConfig) toSession(tls TLSConfig) (session.Config, error) {
	out := session.DefaultConfig()
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"connect_timeout", s.ConnectTimeout, &out.ConnectTimeout},
		{"handshake_timeout", s.HandshakeTimeout, &out.HandshakeTimeout},
		{"wireup_timeout", s.WireupTimeout, &out.WireupTimeout},
		{"write_timeout", s.WriteTimeout, &out.WriteTimeout},
		{"backoff_initial", s.BackoffInitial, &out.Backoff.InitialDelay},
		{"backoff_max", s.BackoffMax, &out.Backoff.MaxDelay},
	}
	for _, d := range durations {
		raw := strings.TrimSpace(d.raw)
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return session.Config{}, fmt.Errorf("session.%s: %w", d.name, err)
		}
		if v <= 0 {
			return session.Config{}, fmt.Errorf("session.%s must be positive: %s", d.name, raw)
		}
		*d.dst = v
	}
	if s.BackoffFactor != 0 {
		if s.BackoffFactor < 1 {
			return session.Config{}, fmt.Errorf("session.backoff_factor must be >= 1: %v", s.BackoffFactor)
		}
		out.Backoff.Multiplier = s.BackoffFactor
	}
	if s.BackoffJitter != nil {
		out.Backoff.Jitter = *s.BackoffJitter
	}
	if strings.TrimSpace(s.SecurityMode) != "" {
		out.SecurityMode = session.SecurityMode(s.SecurityMode)
	}
	out.SecurityMode = session.NormalizeSecurityMode(out.SecurityMode)
	out.TLS = session.TLSConfig{
		Enabled:            tls.Enabled,
		Mutual:             tls.Mutual,
		CertFile:           tls.CertFile,
		KeyFile:            tls.KeyFile,
		CAFile:             tls.CAFile,
		ServerName:         tls.ServerName,
		InsecureSkipVerify: tls.InsecureSkipVerify,
	}
	if err := out.ValidatePeerTransport(); err != nil {
		return session.Config{}, err
	}
	return out, nil
}

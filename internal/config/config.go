package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// GroupConfig is the shared TOML description of one process group. Peer
// order defines rank order.
type GroupConfig struct {
	GroupID string        `toml:"group_id"`
	Token   string        `toml:"token"`
	Rank    *int          `toml:"rank"`
	Peers   []PeerConfig  `toml:"peers"`
	Session SessionConfig `toml:"session"`
	TLS     TLSConfig     `toml:"tls"`
}

type PeerConfig struct {
	Addr        string `toml:"addr"`
	MetricsAddr string `toml:"metrics_addr"`
}

// SessionConfig holds durations as Go duration strings ("250ms", "5s").
type SessionConfig struct {
	ConnectTimeout   string  `toml:"connect_timeout"`
	HandshakeTimeout string  `toml:"handshake_timeout"`
	WireupTimeout    string  `toml:"wireup_timeout"`
	WriteTimeout     string  `toml:"write_timeout"`
	BackoffInitial   string  `toml:"backoff_initial"`
	BackoffMax       string  `toml:"backoff_max"`
	BackoffFactor    float64 `toml:"backoff_factor"`
	BackoffJitter    *bool   `toml:"backoff_jitter"`
	SecurityMode     string  `toml:"security_mode"`
}

type TLSConfig struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

func LoadGroupConfig(path string) (GroupConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return GroupConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := ParseGroupConfig(data)
	if err != nil {
		return GroupConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cfg, nil
}

func ParseGroupConfig(data []byte) (GroupConfig, error) {
	var cfg GroupConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return GroupConfig{}, err
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		cfg.GroupID = "default"
	}
	if err := ValidateGroupConfig(cfg); err != nil {
		return GroupConfig{}, err
	}
	return cfg, nil
}

func ValidateGroupConfig(cfg GroupConfig) error {
	if strings.TrimSpace(cfg.GroupID) == "" {
		return fmt.Errorf("group config missing group_id")
	}
	if len(cfg.Peers) == 0 {
		return fmt.Errorf("group config needs at least one peer")
	}
	seen := make(map[string]int, len(cfg.Peers))
	for i, p := range cfg.Peers {
		addr := strings.TrimSpace(p.Addr)
		if addr == "" {
			return fmt.Errorf("peer[%d] missing addr", i)
		}
		if prev, ok := seen[addr]; ok {
			return fmt.Errorf("peer[%d] duplicates addr of peer[%d]: %s", i, prev, addr)
		}
		seen[addr] = i
	}
	if cfg.Rank != nil && (*cfg.Rank < 0 || *cfg.Rank >= len(cfg.Peers)) {
		return fmt.Errorf("rank %d outside group of %d", *cfg.Rank, len(cfg.Peers))
	}
	if _, err := cfg.Session.toSession(cfg.TLS); err != nil {
		return err
	}
	return nil
}

// Size is the number of ranks in the group.
func (c GroupConfig) Size() int {
	return len(c.Peers)
}

// Addresses returns peer addresses indexed by rank.
func (c GroupConfig) Addresses() []string {
	out := make([]string, len(c.Peers))
	for i, p := range c.Peers {
		out[i] = strings.TrimSpace(p.Addr)
	}
	return out
}

// MetricsAddr returns the status server address for rank, or "".
func (c GroupConfig) MetricsAddr(rank int) string {
	if rank < 0 || rank >= len(c.Peers) {
		return ""
	}
	return strings.TrimSpace(c.Peers[rank].MetricsAddr)
}

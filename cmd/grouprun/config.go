package main

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/groupcomm/internal/config"
	"github.com/danmuck/groupcomm/mpi/runtime/tcp"
)

// launchConfig is everything grouprun needs to start one group.
type launchConfig struct {
	Size            int
	Host            string
	BasePort        int
	MetricsBasePort int
	GroupID         string
	Token           string
	GroupConfig     string
	Program         string
	Args            []string
	Dir             string
	KillDelay       time.Duration
}

func defaultLaunchConfig() launchConfig {
	return launchConfig{
		Size:      2,
		Host:      "127.0.0.1",
		BasePort:  tcp.DefaultBasePort,
		GroupID:   tcp.DefaultGroupID,
		KillDelay: 5 * time.Second,
	}
}

// launch.toml key mapping to launcher settings.
type fileConfig struct {
	Size            int      `toml:"size"`
	Host            string   `toml:"host"`
	BasePort        int      `toml:"base_port"`
	MetricsBasePort int      `toml:"metrics_base_port"`
	GroupID         string   `toml:"group_id"`
	Token           string   `toml:"token"`
	GroupConfig     string   `toml:"group_config"`
	Program         string   `toml:"program"`
	Args            []string `toml:"args"`
	Dir             string   `toml:"dir"`
	KillDelay       string   `toml:"kill_delay"`
}

// loadLaunchConfig overlays the keys present in path onto the defaults.
// A relative group_config resolves against the launch file's directory.
func loadLaunchConfig(path string) (launchConfig, error) {
	cfg := defaultLaunchConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return launchConfig{}, fmt.Errorf("load launch config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return launchConfig{}, fmt.Errorf("load launch config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("size") {
		cfg.Size = raw.Size
	}
	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("base_port") {
		cfg.BasePort = raw.BasePort
	}
	if meta.IsDefined("metrics_base_port") {
		cfg.MetricsBasePort = raw.MetricsBasePort
	}
	if meta.IsDefined("group_id") {
		cfg.GroupID = strings.TrimSpace(raw.GroupID)
	}
	if meta.IsDefined("token") {
		cfg.Token = raw.Token
	}
	if meta.IsDefined("group_config") {
		cfg.GroupConfig = strings.TrimSpace(raw.GroupConfig)
		if cfg.GroupConfig != "" && !filepath.IsAbs(cfg.GroupConfig) {
			cfg.GroupConfig = filepath.Join(filepath.Dir(path), cfg.GroupConfig)
		}
	}
	if meta.IsDefined("program") {
		cfg.Program = strings.TrimSpace(raw.Program)
	}
	if meta.IsDefined("args") {
		cfg.Args = raw.Args
	}
	if meta.IsDefined("dir") {
		cfg.Dir = strings.TrimSpace(raw.Dir)
	}
	if meta.IsDefined("kill_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.KillDelay))
		if err != nil {
			return launchConfig{}, fmt.Errorf("load launch config: kill_delay: %w", err)
		}
		cfg.KillDelay = d
	}
	return cfg, nil
}

// resolve fills the group size from group_config when one is set and checks
// the result can be launched.
func (c launchConfig) resolve() (launchConfig, error) {
	if c.GroupConfig != "" {
		gc, err := config.LoadGroupConfig(c.GroupConfig)
		if err != nil {
			return launchConfig{}, err
		}
		c.Size = gc.Size()
	}
	switch {
	case c.Program == "":
		return launchConfig{}, fmt.Errorf("no program to launch")
	case c.Size <= 0:
		return launchConfig{}, fmt.Errorf("size must be positive, got %d", c.Size)
	case c.GroupConfig == "" && (c.BasePort <= 0 || c.BasePort+c.Size > 65536):
		return launchConfig{}, fmt.Errorf("base_port %d cannot hold %d ranks", c.BasePort, c.Size)
	case c.MetricsBasePort < 0 || c.MetricsBasePort+c.Size > 65536:
		return launchConfig{}, fmt.Errorf("metrics_base_port %d cannot hold %d ranks", c.MetricsBasePort, c.Size)
	case c.Host == "":
		return launchConfig{}, fmt.Errorf("host is required")
	}
	return c, nil
}

func (c launchConfig) peers() []string {
	out := make([]string, c.Size)
	for r := range out {
		out[r] = net.JoinHostPort(c.Host, strconv.Itoa(c.BasePort+r))
	}
	return out
}

// rankEnv is the environment rank r starts with. A group file owns the
// membership, so only the rank is passed next to it.
func (c launchConfig) rankEnv(r int) []string {
	env := []string{tcp.EnvRank + "=" + strconv.Itoa(r)}
	if c.GroupConfig != "" {
		env = append(env, tcp.EnvConfig+"="+c.GroupConfig)
	} else {
		env = append(env,
			tcp.EnvSize+"="+strconv.Itoa(c.Size),
			tcp.EnvPeers+"="+strings.Join(c.peers(), ","),
			tcp.EnvGroupID+"="+c.GroupID,
		)
	}
	if c.Token != "" {
		env = append(env, tcp.EnvToken+"="+c.Token)
	}
	if c.MetricsBasePort > 0 {
		env = append(env, tcp.EnvMetricsAddr+"="+net.JoinHostPort(c.Host, strconv.Itoa(c.MetricsBasePort+r)))
	}
	return env
}

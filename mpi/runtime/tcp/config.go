package tcp

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/danmuck/groupcomm/internal/config"
	"github.com/danmuck/groupcomm/internal/protocol/frame"
	"github.com/danmuck/groupcomm/internal/protocol/session"
)

// Environment variables read by ConfigFromArgs. Flags of the same name
// (-group-rank, -group-size, ...) take precedence.
const (
	EnvConfig      = "GROUPCOMM_CONFIG"
	EnvRank        = "GROUPCOMM_RANK"
	EnvSize        = "GROUPCOMM_SIZE"
	EnvPeers       = "GROUPCOMM_PEERS"
	EnvGroupID     = "GROUPCOMM_GROUP_ID"
	EnvToken       = "GROUPCOMM_TOKEN"
	EnvMetricsAddr = "GROUPCOMM_METRICS_ADDR"
	EnvBasePort    = "GROUPCOMM_BASE_PORT"
)

const (
	DefaultGroupID  = "default"
	DefaultBasePort = 7400
	flagPrefix      = "group-"
)

var ErrInvalidConfig = errors.New("tcp: invalid group config")

// Config describes one rank's membership in a tcp group.
type Config struct {
	GroupID     string
	Rank        int
	Size        int
	Peers       []string // listen address per rank
	Token       string
	MetricsAddr string
	Session     session.Config
	Limits      frame.Limits

	// Listener, when set, is used instead of listening on Peers[Rank].
	Listener net.Listener
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.GroupID) == "" {
		return fmt.Errorf("%w: missing group id", ErrInvalidConfig)
	}
	if c.Size <= 0 {
		return fmt.Errorf("%w: size %d", ErrInvalidConfig, c.Size)
	}
	if c.Rank < 0 || c.Rank >= c.Size {
		return fmt.Errorf("%w: rank %d outside group of %d", ErrInvalidConfig, c.Rank, c.Size)
	}
	if len(c.Peers) != c.Size {
		return fmt.Errorf("%w: %d peer addresses for size %d", ErrInvalidConfig, len(c.Peers), c.Size)
	}
	for i, p := range c.Peers {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: empty address for rank %d", ErrInvalidConfig, i)
		}
	}
	if err := c.Session.ValidatePeerTransport(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

type rawSettings struct {
	config   string
	rank     string
	size     string
	peers    string
	groupID  string
	token    string
	metrics  string
	basePort string
}

// ConfigFromArgs assembles a Config from a group file, the environment and
// -group-* flags in args, in increasing precedence. Arguments that are not
// -group-* flags are ignored. ok is false when nothing describes a group
// larger than one rank.
func ConfigFromArgs(args []string, getenv func(string) string) (Config, bool, error) {
	raw := rawSettings{
		config:   getenv(EnvConfig),
		rank:     getenv(EnvRank),
		size:     getenv(EnvSize),
		peers:    getenv(EnvPeers),
		groupID:  getenv(EnvGroupID),
		token:    getenv(EnvToken),
		metrics:  getenv(EnvMetricsAddr),
		basePort: getenv(EnvBasePort),
	}
	fs := flag.NewFlagSet("groupcomm", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&raw.config, flagPrefix+"config", raw.config, "group TOML file")
	fs.StringVar(&raw.rank, flagPrefix+"rank", raw.rank, "rank of this process")
	fs.StringVar(&raw.size, flagPrefix+"size", raw.size, "number of ranks")
	fs.StringVar(&raw.peers, flagPrefix+"peers", raw.peers, "comma separated listen addresses by rank")
	fs.StringVar(&raw.groupID, flagPrefix+"id", raw.groupID, "group id")
	fs.StringVar(&raw.token, flagPrefix+"token", raw.token, "shared group token")
	fs.StringVar(&raw.metrics, flagPrefix+"metrics", raw.metrics, "status server address")
	fs.StringVar(&raw.basePort, flagPrefix+"base-port", raw.basePort, "first port when peers are derived")
	if err := fs.Parse(groupArgs(args)); err != nil {
		return Config{}, false, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	raw = raw.trimmed()
	if raw.config == "" && raw.size == "" && raw.peers == "" {
		return Config{}, false, nil
	}

	cfg := Config{
		GroupID: DefaultGroupID,
		Rank:    -1,
		Session: session.DefaultConfig(),
		Limits:  frame.DefaultLimits(),
	}
	var file *config.GroupConfig
	if raw.config != "" {
		gc, err := config.LoadGroupConfig(raw.config)
		if err != nil {
			return Config{}, false, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		sess, err := gc.SessionConfig()
		if err != nil {
			return Config{}, false, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		file = &gc
		cfg.GroupID = gc.GroupID
		cfg.Token = gc.Token
		cfg.Peers = gc.Addresses()
		cfg.Size = gc.Size()
		cfg.Session = sess
		if gc.Rank != nil {
			cfg.Rank = *gc.Rank
		}
	}

	if raw.peers != "" {
		cfg.Peers = splitPeers(raw.peers)
		cfg.Size = len(cfg.Peers)
	}
	if raw.size != "" {
		n, err := strconv.Atoi(raw.size)
		if err != nil {
			return Config{}, false, fmt.Errorf("%w: size %q", ErrInvalidConfig, raw.size)
		}
		cfg.Size = n
	}
	if len(cfg.Peers) == 0 && cfg.Size > 0 {
		base := DefaultBasePort
		if raw.basePort != "" {
			p, err := strconv.Atoi(raw.basePort)
			if err != nil || p <= 0 || p+cfg.Size > 65536 {
				return Config{}, false, fmt.Errorf("%w: base port %q", ErrInvalidConfig, raw.basePort)
			}
			base = p
		}
		cfg.Peers = derivePeers(base, cfg.Size)
	}
	if raw.rank != "" {
		r, err := strconv.Atoi(raw.rank)
		if err != nil {
			return Config{}, false, fmt.Errorf("%w: rank %q", ErrInvalidConfig, raw.rank)
		}
		cfg.Rank = r
	}
	if raw.groupID != "" {
		cfg.GroupID = raw.groupID
	}
	if raw.token != "" {
		cfg.Token = raw.token
	}
	cfg.MetricsAddr = raw.metrics
	if cfg.MetricsAddr == "" && file != nil {
		cfg.MetricsAddr = file.MetricsAddr(cfg.Rank)
	}

	if cfg.Size <= 1 && file == nil {
		return Config{}, false, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, false, err
	}
	return cfg, true, nil
}

func (r rawSettings) trimmed() rawSettings {
	return rawSettings{
		config:   strings.TrimSpace(r.config),
		rank:     strings.TrimSpace(r.rank),
		size:     strings.TrimSpace(r.size),
		peers:    strings.TrimSpace(r.peers),
		groupID:  strings.TrimSpace(r.groupID),
		token:    strings.TrimSpace(r.token),
		metrics:  strings.TrimSpace(r.metrics),
		basePort: strings.TrimSpace(r.basePort),
	}
}

// groupArgs picks -group-* flags (and their separate values) out of args.
func groupArgs(args []string) []string {
	out := make([]string, 0, 4)
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			break
		}
		name := strings.TrimLeft(a, "-")
		if !strings.HasPrefix(a, "-") || !strings.HasPrefix(name, flagPrefix) {
			continue
		}
		out = append(out, "-"+name)
		if !strings.Contains(name, "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, args[i+1])
			i++
		}
	}
	return out
}

func splitPeers(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func derivePeers(basePort, size int) []string {
	out := make([]string, size)
	for i := range out {
		out[i] = net.JoinHostPort("127.0.0.1", strconv.Itoa(basePort+i))
	}
	return out
}

package lancom

import (
	"fmt"
	"net/netip"
	"runtime"
	"strconv"
	"time"

	"github.com/containerd/errdefs"
	"gopkg.in/yaml.v3"
)

// LocalNamespace is the topic prefix for node-local topics. A publisher
// created with the local-namespace option and a subscriber on the prefixed
// name meet under this prefix.
const LocalNamespace = "lc.local."

// Defaults for Config fields left at their zero value.
const (
	DefaultGroup     = "224.0.0.1"
	DefaultGroupPort = 7720
	DefaultGroupName = "zlc_default_group_name"

	DefaultMulticastTTL      = 1
	DefaultHeartbeatInterval = 1000 * time.Millisecond
	DefaultReceiveInterval   = 100 * time.Millisecond
	DefaultSubscribePoll     = 100 * time.Millisecond
	DefaultPeerTimeout       = 2 * time.Second
	DefaultDialTimeout       = 1 * time.Second
	DefaultRequestTimeout    = 1 * time.Second
	DefaultWaitForService    = 5 * time.Second
	DefaultCheckInterval     = 100 * time.Millisecond

	// minWorkers covers the four resident duties (heartbeat send, multicast
	// receive, service poll, subscriber poll) so none of them starves.
	minWorkers = 4
)

// Config describes one node. The zero value is not usable; NormalizeConfig
// validates the required fields and fills every optional one.
type Config struct {
	// NodeName is a human label for the node. Not required to be unique.
	NodeName string `yaml:"node_name"`

	// IP is the local IPv4 address used for binding publishers and the
	// service port, and as the heartbeat source interface.
	IP string `yaml:"ip"`

	// Group and GroupPort form the multicast endpoint heartbeats go to.
	Group     string `yaml:"group"`
	GroupPort int    `yaml:"group_port"`

	// GroupName partitions the LAN logically; nodes ignore heartbeats
	// carrying a different group name.
	GroupName string `yaml:"group_name"`

	// MulticastTTL bounds heartbeat propagation. 1 keeps it on the LAN.
	MulticastTTL int `yaml:"multicast_ttl"`

	// Workers sizes the shared pool. 0 means max(NumCPU, 6); explicit
	// values below the resident duty count are raised to it.
	Workers int `yaml:"workers"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReceiveInterval   time.Duration `yaml:"receive_interval"`
	SubscribePoll     time.Duration `yaml:"subscribe_poll"`

	// PeerTimeout removes a peer whose last heartbeat is older than this.
	PeerTimeout time.Duration `yaml:"peer_timeout"`

	DialTimeout    time.Duration `yaml:"dial_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// WaitForService bounds how long a request polls discovery for an
	// unknown service before giving up; CheckInterval is the poll step.
	WaitForService time.Duration `yaml:"wait_for_service"`
	CheckInterval  time.Duration `yaml:"check_interval"`
}

// NormalizeConfig validates cfg and returns a copy with defaults applied.
// Normalizing an already normalized config is the identity.
func NormalizeConfig(cfg Config) (Config, error) {
	if cfg.NodeName == "" {
		return Config{}, fmt.Errorf("node name is required: %w", errdefs.ErrInvalidArgument)
	}

	ip, err := netip.ParseAddr(cfg.IP)
	if err != nil {
		return Config{}, fmt.Errorf("local ip %q: %w", cfg.IP, errdefs.ErrInvalidArgument)
	}
	if !ip.Unmap().Is4() {
		return Config{}, fmt.Errorf("local ip %q is not IPv4: %w", cfg.IP, errdefs.ErrInvalidArgument)
	}

	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	group, err := netip.ParseAddr(cfg.Group)
	if err != nil || !group.Unmap().Is4() || !group.IsMulticast() {
		return Config{}, fmt.Errorf("multicast group %q is not an IPv4 multicast address: %w", cfg.Group, errdefs.ErrInvalidArgument)
	}

	if cfg.GroupPort == 0 {
		cfg.GroupPort = DefaultGroupPort
	}
	if cfg.GroupPort < 1 || cfg.GroupPort > 65535 {
		return Config{}, fmt.Errorf("group port %d out of range: %w", cfg.GroupPort, errdefs.ErrInvalidArgument)
	}

	if cfg.GroupName == "" {
		cfg.GroupName = DefaultGroupName
	}

	if cfg.MulticastTTL == 0 {
		cfg.MulticastTTL = DefaultMulticastTTL
	}
	if cfg.MulticastTTL < 0 || cfg.MulticastTTL > 255 {
		return Config{}, fmt.Errorf("multicast ttl %d out of range: %w", cfg.MulticastTTL, errdefs.ErrInvalidArgument)
	}

	if cfg.Workers < 0 {
		return Config{}, fmt.Errorf("workers %d is negative: %w", cfg.Workers, errdefs.ErrInvalidArgument)
	}
	if cfg.Workers == 0 {
		cfg.Workers = max(runtime.NumCPU(), minWorkers+2)
	}
	if cfg.Workers < minWorkers {
		cfg.Workers = minWorkers
	}

	for _, d := range []*time.Duration{
		&cfg.HeartbeatInterval, &cfg.ReceiveInterval, &cfg.SubscribePoll,
		&cfg.PeerTimeout, &cfg.DialTimeout, &cfg.RequestTimeout,
		&cfg.WaitForService, &cfg.CheckInterval,
	} {
		if *d < 0 {
			return Config{}, fmt.Errorf("negative duration in config: %w", errdefs.ErrInvalidArgument)
		}
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.ReceiveInterval == 0 {
		cfg.ReceiveInterval = DefaultReceiveInterval
	}
	if cfg.SubscribePoll == 0 {
		cfg.SubscribePoll = DefaultSubscribePoll
	}
	if cfg.PeerTimeout == 0 {
		cfg.PeerTimeout = DefaultPeerTimeout
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.WaitForService == 0 {
		cfg.WaitForService = DefaultWaitForService
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}

	return cfg, nil
}

// duration lets config files spell durations the way Go prints them:
// "1s", "500ms". A bare integer is taken as nanoseconds.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	if n, err := strconv.ParseInt(node.Value, 10, 64); err == nil {
		*d = duration(n)
		return nil
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, errdefs.ErrInvalidArgument)
	}
	*d = duration(parsed)
	return nil
}

// UnmarshalYAML decodes a config file, accepting duration strings on the
// interval and timeout fields.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		NodeName          string   `yaml:"node_name"`
		IP                string   `yaml:"ip"`
		Group             string   `yaml:"group"`
		GroupPort         int      `yaml:"group_port"`
		GroupName         string   `yaml:"group_name"`
		MulticastTTL      int      `yaml:"multicast_ttl"`
		Workers           int      `yaml:"workers"`
		HeartbeatInterval duration `yaml:"heartbeat_interval"`
		ReceiveInterval   duration `yaml:"receive_interval"`
		SubscribePoll     duration `yaml:"subscribe_poll"`
		PeerTimeout       duration `yaml:"peer_timeout"`
		DialTimeout       duration `yaml:"dial_timeout"`
		RequestTimeout    duration `yaml:"request_timeout"`
		WaitForService    duration `yaml:"wait_for_service"`
		CheckInterval     duration `yaml:"check_interval"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	*c = Config{
		NodeName:          raw.NodeName,
		IP:                raw.IP,
		Group:             raw.Group,
		GroupPort:         raw.GroupPort,
		GroupName:         raw.GroupName,
		MulticastTTL:      raw.MulticastTTL,
		Workers:           raw.Workers,
		HeartbeatInterval: time.Duration(raw.HeartbeatInterval),
		ReceiveInterval:   time.Duration(raw.ReceiveInterval),
		SubscribePoll:     time.Duration(raw.SubscribePoll),
		PeerTimeout:       time.Duration(raw.PeerTimeout),
		DialTimeout:       time.Duration(raw.DialTimeout),
		RequestTimeout:    time.Duration(raw.RequestTimeout),
		WaitForService:    time.Duration(raw.WaitForService),
		CheckInterval:     time.Duration(raw.CheckInterval),
	}
	return nil
}

// LocalAddr returns the parsed local IP. Valid after NormalizeConfig.
func (c Config) LocalAddr() netip.Addr {
	a, _ := netip.ParseAddr(c.IP)
	return a.Unmap()
}

// GroupAddr returns the parsed multicast endpoint. Valid after NormalizeConfig.
func (c Config) GroupAddr() netip.AddrPort {
	a, _ := netip.ParseAddr(c.Group)
	return netip.AddrPortFrom(a.Unmap(), uint16(c.GroupPort))
}

package lancom

import (
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"gopkg.in/yaml.v3"
)

func validConfig() Config {
	return Config{NodeName: "test-node", IP: "127.0.0.1"}
}

func TestNormalizeConfigDefaults(t *testing.T) {
	cfg, err := NormalizeConfig(validConfig())
	if err != nil {
		t.Fatalf("NormalizeConfig: %v", err)
	}

	if cfg.Group != DefaultGroup {
		t.Errorf("Group = %q, want %q", cfg.Group, DefaultGroup)
	}
	if cfg.GroupPort != DefaultGroupPort {
		t.Errorf("GroupPort = %d, want %d", cfg.GroupPort, DefaultGroupPort)
	}
	if cfg.GroupName != DefaultGroupName {
		t.Errorf("GroupName = %q, want %q", cfg.GroupName, DefaultGroupName)
	}
	if cfg.MulticastTTL != DefaultMulticastTTL {
		t.Errorf("MulticastTTL = %d, want %d", cfg.MulticastTTL, DefaultMulticastTTL)
	}
	if cfg.Workers < minWorkers {
		t.Errorf("Workers = %d, want at least %d", cfg.Workers, minWorkers)
	}
	if cfg.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("HeartbeatInterval = %v, want %v", cfg.HeartbeatInterval, DefaultHeartbeatInterval)
	}
	if cfg.PeerTimeout != DefaultPeerTimeout {
		t.Errorf("PeerTimeout = %v, want %v", cfg.PeerTimeout, DefaultPeerTimeout)
	}
	if cfg.WaitForService != DefaultWaitForService {
		t.Errorf("WaitForService = %v, want %v", cfg.WaitForService, DefaultWaitForService)
	}
}

func TestNormalizeConfigIdempotent(t *testing.T) {
	once, err := NormalizeConfig(validConfig())
	if err != nil {
		t.Fatalf("first normalize: %v", err)
	}
	twice, err := NormalizeConfig(once)
	if err != nil {
		t.Fatalf("second normalize: %v", err)
	}
	if once != twice {
		t.Errorf("normalize is not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestNormalizeConfigRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing node name", func(c *Config) { c.NodeName = "" }},
		{"missing ip", func(c *Config) { c.IP = "" }},
		{"garbage ip", func(c *Config) { c.IP = "not-an-ip" }},
		{"ipv6 local ip", func(c *Config) { c.IP = "::1" }},
		{"non-multicast group", func(c *Config) { c.Group = "192.168.1.1" }},
		{"ipv6 group", func(c *Config) { c.Group = "ff02::1" }},
		{"garbage group", func(c *Config) { c.Group = "nope" }},
		{"negative group port", func(c *Config) { c.GroupPort = -1 }},
		{"group port too large", func(c *Config) { c.GroupPort = 70000 }},
		{"ttl out of range", func(c *Config) { c.MulticastTTL = 300 }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
		{"negative heartbeat interval", func(c *Config) { c.HeartbeatInterval = -time.Second }},
		{"negative peer timeout", func(c *Config) { c.PeerTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			_, err := NormalizeConfig(cfg)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !errdefs.IsInvalidArgument(err) {
				t.Errorf("error %v is not an invalid-argument error", err)
			}
		})
	}
}

func TestNormalizeConfigRaisesTinyWorkerCount(t *testing.T) {
	cfg := validConfig()
	cfg.Workers = 1
	got, err := NormalizeConfig(cfg)
	if err != nil {
		t.Fatalf("NormalizeConfig: %v", err)
	}
	if got.Workers != minWorkers {
		t.Errorf("Workers = %d, want %d", got.Workers, minWorkers)
	}
}

func TestConfigAddrs(t *testing.T) {
	cfg, err := NormalizeConfig(validConfig())
	if err != nil {
		t.Fatalf("NormalizeConfig: %v", err)
	}
	if got := cfg.LocalAddr().String(); got != "127.0.0.1" {
		t.Errorf("LocalAddr = %s", got)
	}
	if got := cfg.GroupAddr().String(); got != "224.0.0.1:7720" {
		t.Errorf("GroupAddr = %s", got)
	}
}

func FuzzNormalizeConfig(f *testing.F) {
	f.Add("node", "127.0.0.1", "224.0.0.1", 7720, 1, 0)
	f.Add("", "10.0.0.5", "239.255.0.1", 1, 255, 8)
	f.Add("n", "not-an-ip", "not-a-group", -5, 999, -1)

	f.Fuzz(func(t *testing.T, name, ip, group string, port, ttl, workers int) {
		cfg, err := NormalizeConfig(Config{
			NodeName:     name,
			IP:           ip,
			Group:        group,
			GroupPort:    port,
			MulticastTTL: ttl,
			Workers:      workers,
		})
		if err != nil {
			return
		}
		// Whatever normalize accepts, it must fully normalize: a second
		// pass accepts the output unchanged.
		again, err := NormalizeConfig(cfg)
		if err != nil {
			t.Fatalf("renormalize rejected accepted config: %v", err)
		}
		if cfg != again {
			t.Fatalf("renormalize changed accepted config:\nfirst:  %+v\nsecond: %+v", cfg, again)
		}
		if cfg.Workers < minWorkers {
			t.Fatalf("accepted config with %d workers", cfg.Workers)
		}
	})
}

func TestConfigYAMLDurations(t *testing.T) {
	doc := []byte(`
node_name: yaml-node
ip: 127.0.0.1
group_port: 7821
heartbeat_interval: 1s
receive_interval: 250ms
peer_timeout: 2500000000
`)
	var cfg Config
	if err := yaml.Unmarshal(doc, &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if cfg.NodeName != "yaml-node" || cfg.IP != "127.0.0.1" || cfg.GroupPort != 7821 {
		t.Errorf("scalar fields lost: %+v", cfg)
	}
	if cfg.HeartbeatInterval != time.Second {
		t.Errorf("HeartbeatInterval = %v, want 1s", cfg.HeartbeatInterval)
	}
	if cfg.ReceiveInterval != 250*time.Millisecond {
		t.Errorf("ReceiveInterval = %v, want 250ms", cfg.ReceiveInterval)
	}
	if cfg.PeerTimeout != 2500*time.Millisecond {
		t.Errorf("PeerTimeout = %v, want integer nanoseconds to parse as 2.5s", cfg.PeerTimeout)
	}
	if cfg.SubscribePoll != 0 {
		t.Errorf("SubscribePoll = %v, want zero for an absent key", cfg.SubscribePoll)
	}

	if _, err := NormalizeConfig(cfg); err != nil {
		t.Errorf("normalize parsed config: %v", err)
	}
}

func TestConfigYAMLRejectsBadDuration(t *testing.T) {
	doc := []byte("node_name: n\nip: 127.0.0.1\nheartbeat_interval: soon\n")
	var cfg Config
	err := yaml.Unmarshal(doc, &cfg)
	if err == nil {
		t.Fatal("expected an error")
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"lancom"
	"lancom/node"
)

// nodeFlags carries the shared node configuration flags. A --config YAML
// file provides the base; any flag explicitly set wins over it.
type nodeFlags struct {
	configPath string
	name       string
	ip         string
	group      string
	groupPort  int
	groupName  string
	ttl        int
}

func registerNodeFlags(root *cobra.Command) *nodeFlags {
	f := &nodeFlags{}
	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "Path to a YAML node config")
	pf.StringVar(&f.name, "name", "", "Node name (default: hostname)")
	pf.StringVar(&f.ip, "ip", "127.0.0.1", "Local IPv4 address to bind")
	pf.StringVar(&f.group, "group", lancom.DefaultGroup, "Multicast group address")
	pf.IntVar(&f.groupPort, "group-port", lancom.DefaultGroupPort, "Multicast group port")
	pf.StringVar(&f.groupName, "group-name", lancom.DefaultGroupName, "Logical group partition")
	pf.IntVar(&f.ttl, "ttl", lancom.DefaultMulticastTTL, "Multicast TTL")
	return f
}

// config assembles the effective node config: file first, then flags.
func (f *nodeFlags) config(cmd *cobra.Command) (lancom.Config, error) {
	var cfg lancom.Config
	if f.configPath != "" {
		data, err := os.ReadFile(f.configPath)
		if err != nil {
			return lancom.Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return lancom.Config{}, fmt.Errorf("parse config %s: %w", f.configPath, err)
		}
	}

	set := func(flag string) bool { return cmd.Flags().Changed(flag) }
	if cfg.NodeName == "" || set("name") {
		cfg.NodeName = f.name
	}
	if cfg.NodeName == "" {
		host, err := os.Hostname()
		if err != nil {
			return lancom.Config{}, fmt.Errorf("resolve hostname for node name: %w", err)
		}
		cfg.NodeName = host
	}
	if cfg.IP == "" || set("ip") {
		cfg.IP = f.ip
	}
	if cfg.Group == "" || set("group") {
		cfg.Group = f.group
	}
	if cfg.GroupPort == 0 || set("group-port") {
		cfg.GroupPort = f.groupPort
	}
	if cfg.GroupName == "" || set("group-name") {
		cfg.GroupName = f.groupName
	}
	if cfg.MulticastTTL == 0 || set("ttl") {
		cfg.MulticastTTL = f.ttl
	}
	return cfg, nil
}

// startNode builds and starts a node from the effective config.
func (f *nodeFlags) startNode(cmd *cobra.Command) (*node.Node, error) {
	cfg, err := f.config(cmd)
	if err != nil {
		return nil, err
	}
	n, err := node.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := n.Start(); err != nil {
		_ = n.Stop()
		return nil, err
	}
	return n, nil
}

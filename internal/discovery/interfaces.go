package discovery

import (
	"fmt"
	"net"
	"net/netip"
)

// interfaceForIP finds the network interface carrying addr. Multicast
// joins and the outbound heartbeat interface are pinned to it so traffic
// stays on the subnet the node was configured for.
func interfaceForIP(addr netip.Addr) (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip, ok := netip.AddrFromSlice(ipNet.IP)
			if !ok {
				continue
			}
			if ip.Unmap() == addr {
				return &ifaces[i], nil
			}
		}
	}
	return nil, fmt.Errorf("no interface carries %s", addr)
}

package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"golang.org/x/net/ipv4"

	"lancom/internal/wire"
)

// Sender announces the local node: one UDP socket pinned to the local
// interface, one heartbeat per Send call. The heartbeat duty runs Send at
// the configured interval.
type Sender struct {
	conn  net.PacketConn
	pc    *ipv4.PacketConn
	dst   *net.UDPAddr
	hb    func() wire.Heartbeat
}

// NewSender opens the outbound multicast socket on local with the given
// TTL and multicast loopback enabled, so nodes sharing a host hear each
// other. hb snapshots the current heartbeat at each send.
func NewSender(local netip.Addr, group netip.AddrPort, ttl int, hb func() wire.Heartbeat) (*Sender, error) {
	ifi, err := interfaceForIP(local)
	if err != nil {
		return nil, fmt.Errorf("multicast sender: %w", err)
	}

	conn, err := net.ListenPacket("udp4", net.JoinHostPort(local.String(), "0"))
	if err != nil {
		return nil, fmt.Errorf("open multicast send socket: %w", err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastInterface(ifi); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pin multicast interface %s: %w", ifi.Name, err)
	}
	if err := pc.SetMulticastTTL(ttl); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set multicast ttl %d: %w", ttl, err)
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable multicast loopback: %w", err)
	}

	return &Sender{
		conn: conn,
		pc:   pc,
		dst:  net.UDPAddrFromAddrPort(group),
		hb:   hb,
	}, nil
}

// Send encodes and transmits one heartbeat. Errors are logged and
// swallowed; a missed beat is repaired by the next one.
func (s *Sender) Send() {
	hb := s.hb()
	data, err := hb.MarshalBinary()
	if err != nil {
		slog.Error("heartbeat encode failed", "err", err)
		return
	}
	if _, err := s.pc.WriteTo(data, nil, s.dst); err != nil {
		slog.Warn("heartbeat send failed", "group", s.dst, "err", err)
	}
}

// Close releases the socket. Safe after the heartbeat duty has stopped.
func (s *Sender) Close() error {
	return s.conn.Close()
}

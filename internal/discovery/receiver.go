package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"time"

	"golang.org/x/net/ipv4"

	"lancom/internal/wire"
)

// maxDatagram bounds one heartbeat read: the fixed prefix plus a group
// name far longer than anyone configures.
const maxDatagram = 1024

// Receiver drains the group's heartbeat traffic and feeds the store. One
// datagram is handled per Poll call; the receive duty runs Poll at the
// configured interval.
type Receiver struct {
	conn        net.PacketConn
	pc          *ipv4.PacketConn
	store       *Store
	localIP     string
	groupName   string
	readTimeout time.Duration
	buf         []byte
}

// NewReceiver binds ANY on the group port with address reuse, so several
// nodes on one host share the port, and joins the group on the interface
// carrying local.
func NewReceiver(store *Store, local netip.Addr, group netip.AddrPort, readTimeout time.Duration, groupName string) (*Receiver, error) {
	ifi, err := interfaceForIP(local)
	if err != nil {
		return nil, fmt.Errorf("multicast receiver: %w", err)
	}

	lc := net.ListenConfig{Control: reusePort}
	conn, err := lc.ListenPacket(context.Background(), "udp4", ":"+strconv.Itoa(int(group.Port())))
	if err != nil {
		return nil, fmt.Errorf("bind multicast receive socket on port %d: %w", group.Port(), err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: group.Addr().AsSlice()}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("join group %s on %s: %w", group.Addr(), ifi.Name, err)
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable multicast loopback: %w", err)
	}

	return &Receiver{
		conn:        conn,
		pc:          pc,
		store:       store,
		localIP:     local.String(),
		groupName:   groupName,
		readTimeout: readTimeout,
		buf:         make([]byte, maxDatagram),
	}, nil
}

// Poll runs one iteration of the receive duty: a deadline-bounded read,
// heartbeat processing, and a liveness sweep. The sweep runs even when
// the read times out or the datagram is discarded; peers must keep
// expiring when the wire goes quiet.
func (r *Receiver) Poll(ctx context.Context) {
	defer r.store.CheckHeartbeats()

	_ = r.conn.SetReadDeadline(time.Now().Add(r.readTimeout))
	n, src, err := r.conn.ReadFrom(r.buf)
	if err != nil {
		if !wire.IsTimeout(err) {
			slog.Debug("multicast read", "err", err)
		}
		return
	}

	srcIP := ""
	if ua, ok := src.(*net.UDPAddr); ok {
		srcIP = ua.IP.String()
	}

	var hb wire.Heartbeat
	if err := hb.UnmarshalBinary(r.buf[:n]); err != nil {
		slog.Warn("malformed heartbeat dropped", "src", src, "len", n, "err", err)
		return
	}

	switch {
	case hb.GroupName != r.groupName:
		return // another logical partition on the same wire
	case !hb.VersionCompatible():
		slog.Debug("heartbeat with incompatible version dropped",
			"src", src, "version", hb.Version)
		return
	case srcIP == r.localIP && hb.NodeID == r.store.NodeID():
		return // our own beat, looped back
	}

	r.store.ProcessHeartbeat(ctx, hb, srcIP)
}

// Close leaves the group and releases the socket. Safe after the receive
// duty has stopped.
func (r *Receiver) Close() error {
	return r.conn.Close()
}

package lancom

// SocketInfo describes one named endpoint (a topic publisher or a service)
// hosted by a node. Immutable once inserted into a NodeInfo.
type SocketInfo struct {
	Name string `codec:"name"`
	IP   string `codec:"ip"`
	Port uint16 `codec:"port"`
}

// NodeInfo is the full self-description a node announces to the group.
// Peers obtain it through the built-in get_node_info service whenever a
// heartbeat carries an unknown node id or a bumped InfoID.
//
// InfoID is a generation counter: it increases by one on every local topic
// or service registration (and removal), so peers can tell a stale copy
// from a current one without comparing the lists themselves.
type NodeInfo struct {
	NodeID   string       `codec:"node_id"` // 36-char UUID, fixed for the node's lifetime
	InfoID   uint32       `codec:"info_id"`
	Name     string       `codec:"name"` // human label, not required to be unique
	IP       string       `codec:"ip"`
	Topics   []SocketInfo `codec:"topics"`
	Services []SocketInfo `codec:"services"`
}

// Clone returns a deep copy. Stores hand out clones so callers can hold
// snapshots without racing registration.
func (n NodeInfo) Clone() NodeInfo {
	out := n
	if n.Topics != nil {
		out.Topics = make([]SocketInfo, len(n.Topics))
		copy(out.Topics, n.Topics)
	}
	if n.Services != nil {
		out.Services = make([]SocketInfo, len(n.Services))
		copy(out.Services, n.Services)
	}
	return out
}

// Topic returns the socket info for a named topic, if declared.
func (n NodeInfo) Topic(name string) (SocketInfo, bool) {
	for _, t := range n.Topics {
		if t.Name == name {
			return t, true
		}
	}
	return SocketInfo{}, false
}

// Service returns the socket info for a named service, if declared.
func (n NodeInfo) Service(name string) (SocketInfo, bool) {
	for _, s := range n.Services {
		if s.Name == name {
			return s, true
		}
	}
	return SocketInfo{}, false
}

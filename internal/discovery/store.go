// Package discovery is the fabric's discovery plane: the node-info store
// holding the peer table with liveness timestamps, the multicast heartbeat
// sender, and the receiver that turns inbound heartbeats into store
// transitions and change events.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"

	"lancom"
	"lancom/internal/check"
	"lancom/internal/wire"
)

// FetchFunc retrieves a node's full NodeInfo from its service endpoint.
// The rpc client provides it; injecting the function keeps the store free
// of a transport dependency.
type FetchFunc func(ctx context.Context, addr string) (lancom.NodeInfo, error)

// Store is the node-info table: the local NodeInfo plus everything known
// about peers, keyed by node id. Peer data lives under one RWMutex; the
// local NodeInfo has its own mutex so topic and service registration never
// contends with peer-table reads. Neither lock is ever held across
// network I/O or event delivery.
//
// The three peer maps always hold exactly the same key set, and
// generations[id] always equals infos[id].InfoID.
type Store struct {
	peerTimeout time.Duration
	fetch       FetchFunc
	now         func() time.Time

	mu            sync.RWMutex
	infos         map[string]lancom.NodeInfo
	generations   map[string]uint32
	lastHeartbeat map[string]time.Time

	localMu     sync.Mutex
	local       lancom.NodeInfo
	servicePort uint16

	onUpdate []func(lancom.NodeInfo)
	onRemove []func(lancom.NodeInfo)
}

// NewStore creates the table for a fresh node. The node id is a new UUID:
// a restarted process is a new participant, never a resumed one.
func NewStore(nodeName, ip string, peerTimeout time.Duration) *Store {
	return &Store{
		peerTimeout:   peerTimeout,
		now:           time.Now,
		infos:         make(map[string]lancom.NodeInfo),
		generations:   make(map[string]uint32),
		lastHeartbeat: make(map[string]time.Time),
		local: lancom.NodeInfo{
			NodeID: uuid.NewString(),
			Name:   nodeName,
			IP:     ip,
		},
	}
}

// SetFetcher injects the node-info fetch used on new or bumped heartbeats.
// Wiring time only, before any heartbeat is processed.
func (s *Store) SetFetcher(fetch FetchFunc) { s.fetch = fetch }

// SetServicePort records the reply listener's bound port for heartbeats.
// Wiring time only.
func (s *Store) SetServicePort(port uint16) {
	s.localMu.Lock()
	s.servicePort = port
	s.localMu.Unlock()
}

// OnUpdate registers a listener for node-update events: a peer appeared or
// changed, or the local node registered a topic or service. Wiring time
// only; listeners run synchronously on the emitting goroutine and must not
// block or re-enter the store's mutating surface.
func (s *Store) OnUpdate(fn func(lancom.NodeInfo)) { s.onUpdate = append(s.onUpdate, fn) }

// OnRemove registers a listener for node-remove events. Same rules as
// OnUpdate.
func (s *Store) OnRemove(fn func(lancom.NodeInfo)) { s.onRemove = append(s.onRemove, fn) }

// NodeID returns the local node id.
func (s *Store) NodeID() string { return s.local.NodeID }

// LocalInfo returns a snapshot of the local NodeInfo.
func (s *Store) LocalInfo() lancom.NodeInfo {
	s.localMu.Lock()
	defer s.localMu.Unlock()
	return s.local.Clone()
}

// Heartbeat returns the announcement for the local node's current state.
func (s *Store) Heartbeat(groupName string) wire.Heartbeat {
	s.localMu.Lock()
	defer s.localMu.Unlock()
	return wire.NewHeartbeat(s.local.NodeID, s.local.InfoID, s.servicePort, groupName)
}

// Peers returns a snapshot of every known peer, ordered by node id.
func (s *Store) Peers() []lancom.NodeInfo {
	s.mu.RLock()
	out := make([]lancom.NodeInfo, 0, len(s.infos))
	for _, info := range s.infos {
		out = append(out, info.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// ProcessHeartbeat handles one received heartbeat. A known, unchanged
// announcer just gets its liveness refreshed. An unknown node id or a
// generation mismatch triggers a blocking fetch of the announcer's full
// NodeInfo from sourceIP at the announced service port; the fetched info
// is stored with every IP overridden to sourceIP and a node-update event
// is emitted. A failed fetch is logged and dropped: the next heartbeat
// retries.
func (s *Store) ProcessHeartbeat(ctx context.Context, hb wire.Heartbeat, sourceIP string) {
	if hb.NodeID == s.local.NodeID {
		return
	}

	s.mu.Lock()
	_, known := s.infos[hb.NodeID]
	if known {
		s.lastHeartbeat[hb.NodeID] = s.now()
	}
	changed := known && s.generations[hb.NodeID] != hb.InfoID
	s.mu.Unlock()

	if known && !changed {
		return
	}

	if s.fetch == nil {
		slog.Warn("heartbeat from unknown node but no fetcher wired", "node_id", hb.NodeID)
		return
	}

	addr := net.JoinHostPort(sourceIP, strconv.Itoa(int(hb.ServicePort)))
	info, err := s.fetch(ctx, addr)
	if err != nil {
		slog.Warn("node info fetch failed", "node_id", hb.NodeID, "addr", addr, "err", err)
		return
	}

	// The heartbeat's source address is the ground truth for reachability;
	// whatever the peer put in its own record is overridden.
	info.IP = sourceIP
	for i := range info.Topics {
		info.Topics[i].IP = sourceIP
	}
	for i := range info.Services {
		info.Services[i].IP = sourceIP
	}

	s.mu.Lock()
	s.infos[info.NodeID] = info
	s.generations[info.NodeID] = info.InfoID
	s.lastHeartbeat[info.NodeID] = s.now()
	check.Assertf(len(s.infos) == len(s.generations) && len(s.infos) == len(s.lastHeartbeat),
		"peer maps out of sync: %d/%d/%d", len(s.infos), len(s.generations), len(s.lastHeartbeat))
	s.mu.Unlock()

	s.emitUpdate(info)
}

// CheckHeartbeats removes every peer whose last heartbeat is older than
// the peer timeout and emits one node-remove event per removed peer.
func (s *Store) CheckHeartbeats() {
	cutoff := s.now().Add(-s.peerTimeout)

	s.mu.Lock()
	var removed []lancom.NodeInfo
	for id, seen := range s.lastHeartbeat {
		if seen.Before(cutoff) {
			removed = append(removed, s.infos[id])
			delete(s.infos, id)
			delete(s.generations, id)
			delete(s.lastHeartbeat, id)
		}
	}
	s.mu.Unlock()

	for _, info := range removed {
		slog.Info("peer timed out", "node_id", info.NodeID, "name", info.Name)
		s.emitRemove(info)
	}
}

// PublisherInfo returns every known endpoint publishing topic, across all
// peers and the local node.
func (s *Store) PublisherInfo(topic string) []lancom.SocketInfo {
	var out []lancom.SocketInfo

	s.mu.RLock()
	for _, info := range s.infos {
		for _, t := range info.Topics {
			if t.Name == topic {
				out = append(out, t)
			}
		}
	}
	s.mu.RUnlock()

	s.localMu.Lock()
	for _, t := range s.local.Topics {
		if t.Name == topic {
			out = append(out, t)
		}
	}
	s.localMu.Unlock()

	return out
}

// ServiceInfo returns an endpoint hosting service, local first. With
// several hosts the pick is arbitrary.
func (s *Store) ServiceInfo(service string) (lancom.SocketInfo, bool) {
	s.localMu.Lock()
	for _, sv := range s.local.Services {
		if sv.Name == service {
			s.localMu.Unlock()
			return sv, true
		}
	}
	s.localMu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, info := range s.infos {
		for _, sv := range info.Services {
			if sv.Name == service {
				return sv, true
			}
		}
	}
	return lancom.SocketInfo{}, false
}

// RegisterLocalTopic records a local publisher endpoint and bumps the
// generation. The update event lets same-process subscribers rewire
// without waiting for a loopback heartbeat (own heartbeats are filtered).
func (s *Store) RegisterLocalTopic(name string, port uint16) {
	s.localMu.Lock()
	s.local.Topics = append(s.local.Topics, lancom.SocketInfo{Name: name, IP: s.local.IP, Port: port})
	s.local.InfoID++
	info := s.local.Clone()
	s.localMu.Unlock()

	slog.Debug("local topic registered", "topic", name, "port", port, "info_id", info.InfoID)
	s.emitUpdate(info)
}

// RegisterLocalService records a local service endpoint and bumps the
// generation. A duplicate name is rejected.
func (s *Store) RegisterLocalService(name string, port uint16) error {
	s.localMu.Lock()
	for _, sv := range s.local.Services {
		if sv.Name == name {
			s.localMu.Unlock()
			return fmt.Errorf("service %q already registered: %w", name, errdefs.ErrAlreadyExists)
		}
	}
	s.local.Services = append(s.local.Services, lancom.SocketInfo{Name: name, IP: s.local.IP, Port: port})
	s.local.InfoID++
	info := s.local.Clone()
	s.localMu.Unlock()

	slog.Debug("local service registered", "service", name, "port", port, "info_id", info.InfoID)
	s.emitUpdate(info)
	return nil
}

// RemoveLocalService deletes a local service entry and bumps the
// generation. Removing an absent name is a no-op.
func (s *Store) RemoveLocalService(name string) bool {
	s.localMu.Lock()
	idx := -1
	for i, sv := range s.local.Services {
		if sv.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.localMu.Unlock()
		return false
	}
	s.local.Services = append(s.local.Services[:idx], s.local.Services[idx+1:]...)
	s.local.InfoID++
	info := s.local.Clone()
	s.localMu.Unlock()

	s.emitUpdate(info)
	return true
}

func (s *Store) emitUpdate(info lancom.NodeInfo) {
	for _, fn := range s.onUpdate {
		fn(info)
	}
}

func (s *Store) emitRemove(info lancom.NodeInfo) {
	for _, fn := range s.onRemove {
		fn(info)
	}
}

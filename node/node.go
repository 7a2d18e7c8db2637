// Package node assembles the lancom fabric into a single per-process
// value: the Node owns the worker pool, the discovery plane, the service
// manager, the subscriber multiplexer, and every publisher, and tears
// them down in reverse order on Stop.
//
// The typed API lives alongside: RegisterService, Subscribe, NewPublisher
// and Request wrap the opaque codec boundary around plain Go functions.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/containerd/errdefs"

	"lancom"
	"lancom/internal/discovery"
	"lancom/internal/pubsub"
	"lancom/internal/rpc"
	"lancom/internal/wire"
	"lancom/internal/work"
)

// Node is one running instance of the fabric. Construct with New, bring
// the duties up with Start, and Stop exactly once when done; a stopped
// node is terminal, and a fresh New issues a fresh node id.
type Node struct {
	cfg lancom.Config

	pool     *work.Pool
	store    *discovery.Store
	client   *rpc.Client
	server   *rpc.Server
	receiver *discovery.Receiver
	sender   *discovery.Sender
	subs     *pubsub.Manager

	duties []*work.Periodic

	mu         sync.Mutex
	phase      Phase
	publishers []*pubsub.Publisher
}

// New constructs a node from cfg: validates the config, binds the service
// listener and the multicast sockets, and wires the components together.
// Nothing runs until Start. Construction failures release everything
// already bound.
func New(cfg lancom.Config) (*Node, error) {
	cfg, err := lancom.NormalizeConfig(cfg)
	if err != nil {
		return nil, err
	}

	n := &Node{cfg: cfg, phase: PhaseInitialized}
	n.pool = work.NewPool(cfg.Workers)
	n.store = discovery.NewStore(cfg.NodeName, cfg.IP, cfg.PeerTimeout)
	n.client = rpc.NewClient(n.store, rpc.Timeouts{
		Dial:           cfg.DialTimeout,
		Request:        cfg.RequestTimeout,
		WaitForService: cfg.WaitForService,
		CheckInterval:  cfg.CheckInterval,
	})
	n.store.SetFetcher(n.client.FetchNodeInfo)

	n.server, err = rpc.NewServer(cfg.IP, n.store.LocalInfo)
	if err != nil {
		return nil, err
	}
	n.store.SetServicePort(n.server.Port())

	n.receiver, err = discovery.NewReceiver(n.store, cfg.LocalAddr(), cfg.GroupAddr(), cfg.ReceiveInterval, cfg.GroupName)
	if err != nil {
		_ = n.server.Close()
		return nil, err
	}

	n.sender, err = discovery.NewSender(cfg.LocalAddr(), cfg.GroupAddr(), cfg.MulticastTTL,
		func() wire.Heartbeat { return n.store.Heartbeat(cfg.GroupName) })
	if err != nil {
		_ = n.receiver.Close()
		_ = n.server.Close()
		return nil, err
	}

	n.subs = pubsub.NewManager(n.store)
	n.store.OnUpdate(n.subs.HandleUpdate)
	n.store.OnRemove(n.subs.HandleRemove)

	// The four resident duties. The service poll has no inter-iteration
	// sleep: an idle iteration parks in its deadline-bounded accept.
	n.duties = []*work.Periodic{
		work.NewPeriodic(n.pool, "heartbeat send", cfg.HeartbeatInterval, n.sender.Send),
		work.NewPeriodic(n.pool, "multicast receive", cfg.ReceiveInterval, func() {
			n.receiver.Poll(context.Background())
		}),
		work.NewPeriodic(n.pool, "service poll", 0, n.server.Poll),
		work.NewPeriodic(n.pool, "subscriber poll", cfg.SubscribePoll, n.subs.Poll),
	}

	slog.Info("node initialized",
		"node_id", n.store.NodeID(), "name", cfg.NodeName,
		"ip", cfg.IP, "group", cfg.GroupAddr(), "group_name", cfg.GroupName,
		"service_port", n.server.Port())
	return n, nil
}

// Start brings the worker pool up and schedules the duties. Starting a
// node that is not freshly initialized fails.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.phase != PhaseInitialized {
		return fmt.Errorf("start node in phase %s: %w", n.phase, errdefs.ErrFailedPrecondition)
	}

	n.pool.Start()
	for _, d := range n.duties {
		d.Start()
	}
	n.phase = PhaseRunning

	slog.Info("node started", "node_id", n.store.NodeID())
	return nil
}

// Stop tears the node down in reverse dependency order: subscriber
// manager, heartbeat sender, multicast receiver, service manager, then
// publishers, then the pool. Each duty's stop blocks until its current
// iteration returns. Idempotent; the node is terminal afterwards.
func (n *Node) Stop() error {
	n.mu.Lock()
	if n.phase == PhaseStopped {
		n.mu.Unlock()
		return nil
	}
	running := n.phase == PhaseRunning
	n.phase = PhaseStopped
	publishers := n.publishers
	n.publishers = nil
	n.mu.Unlock()

	if running {
		// Duty order in n.duties is start order; stop runs it backwards,
		// closing each duty's component once its loop has confirmed exit.
		n.duties[3].Stop()
		n.subs.Close()
		n.duties[0].Stop()
		errSender := n.sender.Close()
		n.duties[1].Stop()
		errReceiver := n.receiver.Close()
		n.duties[2].Stop()
		errServer := n.server.Close()

		var errPubs []error
		for _, p := range publishers {
			errPubs = append(errPubs, p.Close())
		}
		n.pool.Stop()

		slog.Info("node stopped", "node_id", n.store.NodeID())
		return errors.Join(append([]error{errSender, errReceiver, errServer}, errPubs...)...)
	}

	// Never started: just release the bound sockets.
	n.subs.Close()
	err := errors.Join(n.sender.Close(), n.receiver.Close(), n.server.Close())
	for _, p := range publishers {
		err = errors.Join(err, p.Close())
	}
	return err
}

// Phase returns the current lifecycle phase.
func (n *Node) Phase() Phase {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.phase
}

// ID returns the node's UUID.
func (n *Node) ID() string { return n.store.NodeID() }

// Info returns a snapshot of the local NodeInfo.
func (n *Node) Info() lancom.NodeInfo { return n.store.LocalInfo() }

// Peers returns a snapshot of every currently known peer.
func (n *Node) Peers() []lancom.NodeInfo { return n.store.Peers() }

// PublisherEndpoints returns every known publisher of topic, local
// included.
func (n *Node) PublisherEndpoints(topic string) []lancom.SocketInfo {
	return n.store.PublisherInfo(topic)
}

// ServiceEndpoint returns an endpoint hosting service, if any is known.
func (n *Node) ServiceEndpoint(service string) (lancom.SocketInfo, bool) {
	return n.store.ServiceInfo(service)
}

// WaitForService blocks until service is announced or maxWait expires.
// A maxWait of zero uses the configured default.
func (n *Node) WaitForService(ctx context.Context, service string, maxWait time.Duration) (lancom.SocketInfo, error) {
	return n.client.WaitForService(ctx, service, maxWait)
}

// RemoveService unregisters a service handler and withdraws its
// announcement. Removing an absent service is a no-op.
func (n *Node) RemoveService(name string) {
	n.server.Remove(name)
	n.store.RemoveLocalService(name)
}

// registerService installs the erased handler and announces the service.
// If the announcement is rejected the handler is rolled back.
func (n *Node) registerService(name string, h rpc.Handler) error {
	n.mu.Lock()
	if n.phase == PhaseStopped {
		n.mu.Unlock()
		return fmt.Errorf("register service %q on stopped node: %w", name, errdefs.ErrFailedPrecondition)
	}
	n.mu.Unlock()

	if err := n.server.Register(name, h); err != nil {
		return err
	}
	if err := n.store.RegisterLocalService(name, n.server.Port()); err != nil {
		n.server.Remove(name)
		return err
	}
	return nil
}

// newPublisher binds a topic publisher and announces it.
func (n *Node) newPublisher(topic string, localNamespace bool) (*pubsub.Publisher, error) {
	full := topic
	if localNamespace {
		full = lancom.LocalNamespace + topic
	}

	n.mu.Lock()
	if n.phase == PhaseStopped {
		n.mu.Unlock()
		return nil, fmt.Errorf("create publisher %q on stopped node: %w", full, errdefs.ErrFailedPrecondition)
	}
	n.mu.Unlock()

	p, err := pubsub.NewPublisher(n.cfg.IP, full)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.publishers = append(n.publishers, p)
	n.mu.Unlock()

	n.store.RegisterLocalTopic(full, p.Port())
	return p, nil
}

// subscribe registers an erased callback on topic.
func (n *Node) subscribe(topic string, cb func([]byte)) {
	n.subs.Register(topic, cb)
}

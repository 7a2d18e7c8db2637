package pubsub

import (
	"errors"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"lancom"
	"lancom/internal/wire"
)

const (
	// inboxDepth bounds buffered messages per subscription; a full inbox
	// drops the newest message, matching fire-and-forget topic semantics.
	inboxDepth = 256

	// drainBatch caps callbacks per subscription per poll iteration so one
	// busy topic cannot monopolize the poll duty.
	drainBatch = 64

	dialTimeout    = time.Second
	redialInterval = 500 * time.Millisecond
)

// PublisherLookup answers which endpoints currently publish a topic. The
// discovery store implements it.
type PublisherLookup interface {
	PublisherInfo(topic string) []lancom.SocketInfo
}

// subscription is one registered topic callback with its connection set.
// Each connected URL runs a reader goroutine feeding the shared inbox;
// per-publisher FIFO holds because each publisher has exactly one reader.
type subscription struct {
	topic    string
	callback func([]byte)
	inbox    chan []byte
	readers  map[string]*reader
}

// Manager is the subscriber multiplexer. It owns every subscription,
// rewires connections on discovery events, and drains inboxes from the
// subscriber poll duty. Its mutex guards the subscription table only and
// is never held across dials, reads, or callbacks.
type Manager struct {
	lookup PublisherLookup

	mu     sync.Mutex
	subs   []*subscription
	closed bool
}

// NewManager returns a manager resolving publishers through lookup.
func NewManager(lookup PublisherLookup) *Manager {
	return &Manager{lookup: lookup}
}

// Register adds a subscription on topic and connects it to every
// publisher currently known for the topic. The callback runs inline on
// the poll duty: it must not block and must not call back into the
// manager.
func (m *Manager) Register(topic string, callback func([]byte)) {
	sub := &subscription{
		topic:    topic,
		callback: callback,
		inbox:    make(chan []byte, inboxDepth),
		readers:  make(map[string]*reader),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		slog.Warn("subscription on closed manager dropped", "topic", topic)
		return
	}
	m.subs = append(m.subs, sub)
	for _, info := range m.lookup.PublisherInfo(topic) {
		m.connectLocked(sub, endpointURL(info))
	}
}

// HandleUpdate wires a node-update event: every subscription matching one
// of the node's topics connects to any endpoint it does not hold yet.
func (m *Manager) HandleUpdate(info lancom.NodeInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	for _, t := range info.Topics {
		for _, sub := range m.subs {
			if sub.topic == t.Name {
				m.connectLocked(sub, endpointURL(t))
			}
		}
	}
}

// HandleRemove wires a node-remove event: every endpoint belonging to the
// removed node's topics is disconnected and dropped.
func (m *Manager) HandleRemove(info lancom.NodeInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range info.Topics {
		url := endpointURL(t)
		for _, sub := range m.subs {
			if sub.topic != t.Name {
				continue
			}
			if r, ok := sub.readers[url]; ok {
				r.stop()
				delete(sub.readers, url)
				slog.Debug("subscriber disconnected", "topic", sub.topic, "url", url)
			}
		}
	}
}

// connectLocked starts a reader for url unless one is already running.
func (m *Manager) connectLocked(sub *subscription, url string) {
	if _, ok := sub.readers[url]; ok {
		return
	}
	r := newReader(url, sub.inbox)
	sub.readers[url] = r
	go r.run()
	slog.Debug("subscriber connected", "topic", sub.topic, "url", url)
}

// Poll runs one iteration of the subscriber duty: snapshot the
// subscriptions, then drain each inbox up to a bounded batch, invoking
// callbacks without holding the lock.
func (m *Manager) Poll() {
	m.mu.Lock()
	subs := make([]*subscription, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, sub := range subs {
		drainInbox(sub)
	}
}

func drainInbox(sub *subscription) {
	for i := 0; i < drainBatch; i++ {
		select {
		case msg := <-sub.inbox:
			sub.callback(msg)
		default:
			return
		}
	}
}

// ConnectedURLs returns the endpoints a topic's subscriptions currently
// hold, sorted. Introspection for tests and tooling.
func (m *Manager) ConnectedURLs(topic string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := map[string]struct{}{}
	for _, sub := range m.subs {
		if sub.topic != topic {
			continue
		}
		for url := range sub.readers {
			seen[url] = struct{}{}
		}
	}
	urls := make([]string, 0, len(seen))
	for url := range seen {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// Close stops every reader. Registered callbacks are not invoked again
// once the poll duty has also stopped.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()

	for _, sub := range subs {
		for _, r := range sub.readers {
			r.stop()
		}
	}
}

func endpointURL(info lancom.SocketInfo) string {
	return net.JoinHostPort(info.IP, strconv.Itoa(int(info.Port)))
}

// reader owns one upstream connection: dial, read frames into the inbox,
// redial on transport error, until stopped.
type reader struct {
	url   string
	inbox chan<- []byte

	mu   sync.Mutex
	conn net.Conn
	done chan struct{}
}

func newReader(url string, inbox chan<- []byte) *reader {
	return &reader{url: url, inbox: inbox, done: make(chan struct{})}
}

func (r *reader) run() {
	for {
		conn, err := net.DialTimeout("tcp", r.url, dialTimeout)
		if err != nil {
			if !r.pause() {
				return
			}
			continue
		}
		if !r.setConn(conn) {
			conn.Close()
			return
		}

		r.drain(conn)
		r.setConn(nil)
		conn.Close()

		if !r.pause() {
			return
		}
	}
}

// drain reads messages until the connection fails. The first frame of
// each message is the payload; anything extra is ignored.
func (r *reader) drain(conn net.Conn) {
	for {
		frames, err := wire.ReadMessage(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !r.stopped() {
				slog.Debug("subscriber read ended", "url", r.url, "err", err)
			}
			return
		}
		select {
		case r.inbox <- frames[0]:
		default:
			slog.Debug("subscriber inbox full, dropping message", "url", r.url)
		}
	}
}

// pause sleeps the redial interval; false means the reader was stopped.
func (r *reader) pause() bool {
	select {
	case <-r.done:
		return false
	case <-time.After(redialInterval):
		return true
	}
}

func (r *reader) setConn(conn net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.done:
		return false
	default:
	}
	r.conn = conn
	return true
}

func (r *reader) stopped() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// stop ends the reader, interrupting a blocked read by closing the
// current connection. Idempotent.
func (r *reader) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.done:
		return
	default:
	}
	close(r.done)
	if r.conn != nil {
		r.conn.Close()
	}
}

// Package pubsub is the fabric's topic plane: per-topic publisher sockets
// fanning single-frame messages out to connected subscribers, and the
// subscriber manager that keeps one receive pipeline per subscription
// wired to every known publisher of its topic.
package pubsub

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"lancom/internal/wire"
)

// pubWriteTimeout bounds one fan-out write. A subscriber that cannot keep
// up within it is dropped rather than allowed to stall the publisher.
const pubWriteTimeout = 100 * time.Millisecond

// Publisher owns one topic's sending socket: a TCP listener on an
// ephemeral port that subscribers dial into. Publishing with no
// connections silently loses the message; late subscribers see only what
// is sent after they connect.
type Publisher struct {
	topic string
	ln    net.Listener
	port  uint16

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

// NewPublisher binds the topic listener on ip and starts accepting
// subscriber connections.
func NewPublisher(ip, topic string) (*Publisher, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(ip, "0"))
	if err != nil {
		return nil, fmt.Errorf("bind publisher for topic %q: %w", topic, err)
	}

	p := &Publisher{
		topic: topic,
		ln:    ln,
		port:  uint16(ln.Addr().(*net.TCPAddr).Port),
		conns: make(map[net.Conn]struct{}),
	}
	go p.acceptLoop()

	slog.Debug("publisher bound", "topic", topic, "addr", ln.Addr())
	return p, nil
}

// Topic returns the full topic name this publisher was registered under.
func (p *Publisher) Topic() string { return p.topic }

// Port returns the ephemeral port subscribers connect to.
func (p *Publisher) Port() uint16 { return p.port }

func (p *Publisher) acceptLoop() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Debug("publisher accept", "topic", p.topic, "err", err)
			}
			return
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			conn.Close()
			return
		}
		p.conns[conn] = struct{}{}
		p.mu.Unlock()
	}
}

// Publish fans payload out to every connected subscriber as one frame.
// Write failures and deadline overruns drop the connection; the caller is
// never blocked past the per-connection write timeout and never sees an
// error for missing subscribers.
func (p *Publisher) Publish(payload []byte) {
	p.mu.Lock()
	conns := make([]net.Conn, 0, len(p.conns))
	for c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	var dead []net.Conn
	for _, c := range conns {
		_ = c.SetWriteDeadline(time.Now().Add(pubWriteTimeout))
		if err := wire.WriteMessage(c, payload); err != nil {
			slog.Debug("dropping slow subscriber", "topic", p.topic, "addr", c.RemoteAddr(), "err", err)
			dead = append(dead, c)
		}
	}
	if len(dead) == 0 {
		return
	}

	p.mu.Lock()
	for _, c := range dead {
		delete(p.conns, c)
	}
	p.mu.Unlock()
	for _, c := range dead {
		c.Close()
	}
}

// Close stops accepting and closes every subscriber connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := make([]net.Conn, 0, len(p.conns))
	for c := range p.conns {
		conns = append(conns, c)
	}
	p.conns = nil
	p.mu.Unlock()

	err := p.ln.Close()
	for _, c := range conns {
		c.Close()
	}
	return err
}

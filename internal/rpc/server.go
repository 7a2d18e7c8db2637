// Package rpc carries the request/reply plane of the fabric: a Server that
// owns the node's single reply listener and dispatches two-frame requests
// to named handlers, and a stateless Client that locates a service through
// discovery and performs one framed call per request.
package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"lancom"
	"lancom/codec"
	"lancom/internal/wire"
)

// NodeInfoService is the built-in service every node exposes. It returns
// the announcer's current NodeInfo and is addressed through the heartbeat's
// service port, never through discovery lookup.
const NodeInfoService = "get_node_info"

const (
	// acceptTimeout bounds one idle poll iteration; the poll duty parks
	// here instead of sleeping between iterations.
	acceptTimeout = 100 * time.Millisecond

	// connTimeout bounds reading a request and writing its reply once a
	// connection is accepted.
	connTimeout = 1 * time.Second
)

var tracer = otel.Tracer("lancom/rpc")

// Handler serves one request. It receives the raw payload frame and
// returns the reply payload with its status; typed registration wraps the
// codec around this boundary, so decode and encode failures surface here
// as INVALID_REQUEST / INVALID_RESPONSE rather than as errors.
type Handler func(payload []byte) ([]byte, lancom.Status)

// Server owns the node's reply listener. One request is served per
// connection, strictly serially: the poll duty accepts, reads the
// two-frame request, dispatches, replies, and closes.
type Server struct {
	ln   *net.TCPListener
	port uint16

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewServer binds the reply listener to an ephemeral port on ip and
// registers the built-in node-info service backed by localInfo.
func NewServer(ip string, localInfo func() lancom.NodeInfo) (*Server, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(ip, "0"))
	if err != nil {
		return nil, fmt.Errorf("bind service listener on %s: %w", ip, err)
	}

	s := &Server{
		ln:       ln.(*net.TCPListener),
		port:     uint16(ln.Addr().(*net.TCPAddr).Port),
		handlers: make(map[string]Handler),
	}
	s.handlers[NodeInfoService] = func([]byte) ([]byte, lancom.Status) {
		body, err := codec.Encode(localInfo())
		if err != nil {
			return nil, lancom.StatusInvalidResponse
		}
		return body, lancom.StatusSuccess
	}

	slog.Debug("service listener bound", "addr", ln.Addr())
	return s, nil
}

// Port returns the ephemeral port the listener bound to. It is what the
// node advertises in heartbeats.
func (s *Server) Port() uint16 { return s.port }

// Register installs a handler under name. A name already registered is
// rejected so two services cannot silently shadow each other.
func (s *Server) Register(name string, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[name]; ok {
		return fmt.Errorf("service %q already registered: %w", name, errdefs.ErrAlreadyExists)
	}
	s.handlers[name] = h
	return nil
}

// Remove uninstalls the handler under name. Removing an absent name is a
// no-op. The built-in node-info service cannot be removed.
func (s *Server) Remove(name string) {
	if name == NodeInfoService {
		return
	}
	s.mu.Lock()
	delete(s.handlers, name)
	s.mu.Unlock()
}

// Poll runs one iteration of the serve duty: a deadline-bounded accept,
// then at most one request served. An idle iteration returns on the
// accept timeout.
func (s *Server) Poll() {
	_ = s.ln.SetDeadline(time.Now().Add(acceptTimeout))
	conn, err := s.ln.Accept()
	if err != nil {
		if !wire.IsTimeout(err) {
			slog.Debug("service accept", "err", err)
		}
		return
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	frames, err := wire.ReadMessage(conn)
	if err != nil {
		slog.Warn("service request read failed", "err", err)
		return
	}
	if len(frames) < 2 {
		slog.Warn("service request missing payload frame", "service", string(frames[0]))
		return
	}
	if len(frames) > 2 {
		slog.Warn("service request carries extra frames", "frames", len(frames))
	}

	name := string(frames[0])
	payload, status := s.dispatch(name, frames[1])

	if err := wire.WriteMessage(conn, []byte(status), payload); err != nil {
		slog.Warn("service reply write failed", "service", name, "err", err)
	}
}

// dispatch looks up and invokes the handler, containing panics so a
// failing handler answers SERVICE_FAIL instead of killing the serve duty.
func (s *Server) dispatch(name string, payload []byte) (reply []byte, status lancom.Status) {
	_, span := tracer.Start(context.Background(), "rpc.dispatch",
		trace.WithAttributes(attribute.String("service", name)))
	defer func() {
		span.SetAttributes(attribute.String("status", string(status)))
		span.End()
	}()

	s.mu.RLock()
	h, ok := s.handlers[name]
	s.mu.RUnlock()
	if !ok {
		return nil, lancom.StatusNoService
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("service handler panicked", "service", name, "panic", r)
			reply, status = nil, lancom.StatusServiceFail
		}
	}()
	return h(payload)
}

// Close shuts the listener down. Safe after Poll has stopped running.
func (s *Server) Close() error {
	return s.ln.Close()
}

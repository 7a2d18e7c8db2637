package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/containerd/errdefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lancom"
	"lancom/codec"
	"lancom/internal/wire"
)

// Locator resolves a service name to an endpoint. The discovery store
// implements it; tests substitute fixed tables.
type Locator interface {
	ServiceInfo(name string) (lancom.SocketInfo, bool)
}

// Timeouts bounds every blocking step of a client call. The zero value is
// not usable; the node fills it from its normalized config.
type Timeouts struct {
	Dial           time.Duration
	Request        time.Duration
	WaitForService time.Duration
	CheckInterval  time.Duration
}

// Client performs framed request/reply calls. It is stateless: every call
// opens its own short-lived connection and owns nothing between calls.
type Client struct {
	locator  Locator
	timeouts Timeouts
}

// NewClient returns a client resolving endpoints through locator.
func NewClient(locator Locator, timeouts Timeouts) *Client {
	return &Client{locator: locator, timeouts: timeouts}
}

// WaitForService polls discovery for name every check interval until it
// resolves, maxWait expires, or ctx is cancelled. A maxWait of zero uses
// the client default.
func (c *Client) WaitForService(ctx context.Context, name string, maxWait time.Duration) (lancom.SocketInfo, error) {
	if maxWait == 0 {
		maxWait = c.timeouts.WaitForService
	}
	deadline := time.Now().Add(maxWait)

	for {
		if info, ok := c.locator.ServiceInfo(name); ok {
			return info, nil
		}
		if time.Now().After(deadline) {
			return lancom.SocketInfo{}, fmt.Errorf("service %q not announced within %v: %w",
				name, maxWait, errdefs.ErrNotFound)
		}
		select {
		case <-ctx.Done():
			return lancom.SocketInfo{}, ctx.Err()
		case <-time.After(c.timeouts.CheckInterval):
		}
	}
}

// Call resolves name through discovery and performs one request. The
// returned status is the service's reply code; err covers transport and
// lookup failures only.
func (c *Client) Call(ctx context.Context, name string, payload []byte) (lancom.Status, []byte, error) {
	info, err := c.WaitForService(ctx, name, 0)
	if err != nil {
		return "", nil, err
	}
	addr := net.JoinHostPort(info.IP, strconv.Itoa(int(info.Port)))
	return c.CallAddr(ctx, addr, name, payload)
}

// CallAddr performs one request against a known endpoint, bypassing
// discovery. Used for the built-in node-info fetch, where the endpoint
// comes straight from a heartbeat.
func (c *Client) CallAddr(ctx context.Context, addr, name string, payload []byte) (lancom.Status, []byte, error) {
	ctx, span := tracer.Start(ctx, "rpc.call", trace.WithAttributes(
		attribute.String("service", name), attribute.String("addr", addr)))
	defer span.End()

	d := net.Dialer{Timeout: c.timeouts.Dial}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial")
		return "", nil, fmt.Errorf("dial service %q at %s: %w", name, addr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.timeouts.Request))

	if err := wire.WriteMessage(conn, []byte(name), payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send")
		return "", nil, fmt.Errorf("send request to %q: %w", name, err)
	}

	frames, err := wire.ReadMessage(conn)
	if err != nil {
		if wire.IsTimeout(err) {
			return lancom.StatusServiceTimeout, nil,
				fmt.Errorf("service %q reply: %w", name, context.DeadlineExceeded)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "recv")
		return "", nil, fmt.Errorf("read reply from %q: %w", name, err)
	}
	if len(frames) < 2 {
		return "", nil, fmt.Errorf("reply from %q has %d frames, want 2", name, len(frames))
	}
	if len(frames) > 2 {
		slog.Warn("service reply carries extra frames", "service", name, "frames", len(frames))
	}

	status := lancom.Status(frames[0])
	span.SetAttributes(attribute.String("status", string(status)))
	return status, frames[1], nil
}

// FetchNodeInfo asks the node listening at addr for its full NodeInfo via
// the built-in service. This is the discovery plane's follow-up to an
// unknown or bumped heartbeat.
func (c *Client) FetchNodeInfo(ctx context.Context, addr string) (lancom.NodeInfo, error) {
	req, err := codec.Encode(codec.Empty{})
	if err != nil {
		return lancom.NodeInfo{}, err
	}

	status, body, err := c.CallAddr(ctx, addr, NodeInfoService, req)
	if err != nil {
		return lancom.NodeInfo{}, err
	}
	if status != lancom.StatusSuccess {
		return lancom.NodeInfo{}, &lancom.ReplyError{Service: NodeInfoService, Status: status}
	}

	var info lancom.NodeInfo
	if err := codec.Decode(body, &info); err != nil {
		return lancom.NodeInfo{}, fmt.Errorf("decode node info from %s: %w", addr, err)
	}
	return info, nil
}

package node

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"

	"lancom"
	"lancom/codec"
	"lancom/internal/pubsub"
)

// RegisterService installs fn as the handler for name. The codec is
// wrapped around it here: the request payload is decoded into Req, the
// returned Resp is encoded back. Endpoints taking no request or returning
// no response use codec.Empty for the corresponding type parameter.
//
// Decode failures answer INVALID_REQUEST, encode failures
// INVALID_RESPONSE, and an error from fn answers SERVICE_FAIL; none of
// them disturb the serve loop.
func RegisterService[Req, Resp any](n *Node, name string, fn func(Req) (Resp, error)) error {
	return n.registerService(name, func(payload []byte) ([]byte, lancom.Status) {
		var req Req
		if err := codec.Decode(payload, &req); err != nil {
			slog.Warn("service request decode failed", "service", name, "err", err)
			return nil, lancom.StatusInvalidRequest
		}

		resp, err := fn(req)
		if err != nil {
			slog.Warn("service handler failed", "service", name, "err", err)
			return nil, lancom.StatusServiceFail
		}

		body, err := codec.Encode(resp)
		if err != nil {
			slog.Warn("service response encode failed", "service", name, "err", err)
			return nil, lancom.StatusInvalidResponse
		}
		return body, lancom.StatusSuccess
	})
}

// Subscribe registers fn as a callback on topic. Messages that do not
// decode into T are logged and dropped. The callback runs inline on the
// subscriber poll duty: keep it fast and do not call back into the node.
func Subscribe[T any](n *Node, topic string, fn func(T)) {
	n.subscribe(topic, func(payload []byte) {
		var msg T
		if err := codec.Decode(payload, &msg); err != nil {
			slog.Warn("topic message decode failed", "topic", topic, "err", err)
			return
		}
		fn(msg)
	})
}

// PublisherOption configures NewPublisher.
type PublisherOption func(*publisherOptions)

type publisherOptions struct {
	localNamespace bool
}

// WithLocalNamespace prefixes the topic with the node-local namespace, so
// the topic is conventionally addressed only by subscribers on the same
// node.
func WithLocalNamespace() PublisherOption {
	return func(o *publisherOptions) { o.localNamespace = true }
}

// Publisher is a typed sending handle on one topic.
type Publisher[T any] struct {
	p *pubsub.Publisher
}

// NewPublisher declares a topic publisher on n. The endpoint is announced
// immediately; the node closes the socket at shutdown if the caller has
// not already.
func NewPublisher[T any](n *Node, topic string, opts ...PublisherOption) (*Publisher[T], error) {
	var o publisherOptions
	for _, opt := range opts {
		opt(&o)
	}

	p, err := n.newPublisher(topic, o.localNamespace)
	if err != nil {
		return nil, err
	}
	return &Publisher[T]{p: p}, nil
}

// Topic returns the full announced topic name.
func (p *Publisher[T]) Topic() string { return p.p.Topic() }

// Publish encodes msg and fans it out to every connected subscriber.
// With no subscribers connected the message is silently lost.
func (p *Publisher[T]) Publish(msg T) error {
	payload, err := codec.Encode(msg)
	if err != nil {
		return err
	}
	p.p.Publish(payload)
	return nil
}

// Close releases the topic socket. The announcement stays in the local
// NodeInfo; a topic name is not reusable within one node lifetime.
func (p *Publisher[T]) Close() error { return p.p.Close() }

// RequestOption configures Request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	maxWait time.Duration
}

// WithMaxWait bounds how long Request polls discovery for a service that
// has not been announced yet, overriding the configured default.
func WithMaxWait(d time.Duration) RequestOption {
	return func(o *requestOptions) { o.maxWait = d }
}

// Request performs one synchronous call against service name: resolve the
// endpoint through discovery, send the encoded req, decode the reply into
// resp. An empty (codec nil) reply payload leaves resp untouched; that is
// the Empty-response path. On any failure resp is left unchanged and a
// classified error is returned.
func Request[Req, Resp any](ctx context.Context, n *Node, name string, req Req, resp *Resp, opts ...RequestOption) error {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}

	payload, err := codec.Encode(req)
	if err != nil {
		return err
	}

	info, err := n.client.WaitForService(ctx, name, o.maxWait)
	if err != nil {
		slog.Warn("service lookup failed", "service", name, "err", err)
		return err
	}

	addr := net.JoinHostPort(info.IP, strconv.Itoa(int(info.Port)))
	status, body, err := n.client.CallAddr(ctx, addr, name, payload)
	if err != nil {
		return err
	}
	if status != lancom.StatusSuccess {
		return &lancom.ReplyError{Service: name, Status: status}
	}

	if len(body) == 0 || codec.IsNil(body) {
		return nil
	}
	return codec.Decode(body, resp)
}

// Package lancom holds the shared types of the lancom fabric: node and
// socket descriptors exchanged during discovery, RPC status codes, and the
// node configuration.
//
// The fabric itself lives in lancom/node: a decentralized, LAN-local
// publish/subscribe and request/reply layer where peers find each other
// through periodic UDP multicast heartbeats. No broker, no registry.
package lancom

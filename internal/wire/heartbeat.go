package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/containerd/errdefs"
)

// Protocol version announced in every heartbeat. Receivers accept only an
// exact major.minor match.
const (
	VersionMajor = 0
	VersionMinor = 1
	VersionPatch = 0
)

const (
	// NodeIDLen is the fixed width of the node id field: a canonical
	// textual UUID.
	NodeIDLen = 36

	// HeartbeatFixedLen is the byte length of the fixed prefix: three
	// version int32s, the node id, info id, and service port. Anything
	// past it is the group name.
	HeartbeatFixedLen = 3*4 + NodeIDLen + 4 + 4
)

// Heartbeat is the multicast announcement of one node: enough for a
// receiver to decide whether it already holds the announcer's current
// NodeInfo, and where to fetch it if not.
//
// Layout, big-endian: version major, minor, patch (int32 each), 36 raw
// ASCII bytes of node id, info id (int32), service port (int32), then the
// group name as the remaining bytes.
type Heartbeat struct {
	Version     [3]int32
	NodeID      string
	InfoID      uint32
	ServicePort uint16
	GroupName   string
}

// NewHeartbeat fills in the current protocol version.
func NewHeartbeat(nodeID string, infoID uint32, servicePort uint16, groupName string) Heartbeat {
	return Heartbeat{
		Version:     [3]int32{VersionMajor, VersionMinor, VersionPatch},
		NodeID:      nodeID,
		InfoID:      infoID,
		ServicePort: servicePort,
		GroupName:   groupName,
	}
}

// VersionCompatible reports whether the announcer speaks our protocol:
// major and minor must match exactly, patch is ignored.
func (h Heartbeat) VersionCompatible() bool {
	return h.Version[0] == VersionMajor && h.Version[1] == VersionMinor
}

// MarshalBinary implements encoding.BinaryMarshaler with the fixed layout
// above. It fails if the node id is not exactly 36 bytes.
func (h Heartbeat) MarshalBinary() ([]byte, error) {
	if len(h.NodeID) != NodeIDLen {
		return nil, fmt.Errorf("node id %q is %d bytes, want %d: %w",
			h.NodeID, len(h.NodeID), NodeIDLen, errdefs.ErrInvalidArgument)
	}

	buf := make([]byte, 0, HeartbeatFixedLen+len(h.GroupName))
	for _, v := range h.Version {
		buf = binary.BigEndian.AppendUint32(buf, uint32(v))
	}
	buf = append(buf, h.NodeID...)
	buf = binary.BigEndian.AppendUint32(buf, h.InfoID)
	buf = binary.BigEndian.AppendUint32(buf, uint32(h.ServicePort))
	buf = append(buf, h.GroupName...)
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Input shorter
// than the fixed prefix is malformed.
func (h *Heartbeat) UnmarshalBinary(data []byte) error {
	if len(data) < HeartbeatFixedLen {
		return fmt.Errorf("malformed heartbeat: %d bytes, want at least %d: %w",
			len(data), HeartbeatFixedLen, errdefs.ErrInvalidArgument)
	}

	off := 0
	for i := range h.Version {
		h.Version[i] = int32(binary.BigEndian.Uint32(data[off:]))
		off += 4
	}
	h.NodeID = string(data[off : off+NodeIDLen])
	off += NodeIDLen
	h.InfoID = binary.BigEndian.Uint32(data[off:])
	off += 4
	h.ServicePort = uint16(binary.BigEndian.Uint32(data[off:]))
	off += 4
	h.GroupName = string(data[off:])
	return nil
}

// Package wire defines the two on-the-wire encodings of the fabric: the
// fixed-layout multicast heartbeat and the framed stream transport used for
// request/reply and topic traffic over TCP.
//
// A frame is a 1-byte flags field (bit 0: more frames follow), a 4-byte
// big-endian length, and the payload. A message is one or more frames
// ending at a frame with the more bit clear. All frames of a message are
// written in a single Write so a request or reply hits the stream atomically.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

const (
	frameHeaderLen = 5
	flagMore       = 0x01

	// MaxFrameLen caps a single frame payload; MaxFrames caps frames per
	// message. Inbound data beyond either is malformed, not a resource
	// request.
	MaxFrameLen = 16 << 20
	MaxFrames   = 16
)

// WriteMessage sends frames as one message: every frame except the last
// carries the more flag, and the whole message goes out in a single Write.
func WriteMessage(w io.Writer, frames ...[]byte) error {
	if len(frames) == 0 {
		return errors.New("message needs at least one frame")
	}
	if len(frames) > MaxFrames {
		return fmt.Errorf("message of %d frames exceeds the %d-frame cap", len(frames), MaxFrames)
	}

	total := 0
	for _, f := range frames {
		if len(f) > MaxFrameLen {
			return fmt.Errorf("frame of %d bytes exceeds the %d-byte cap", len(f), MaxFrameLen)
		}
		total += frameHeaderLen + len(f)
	}

	buf := make([]byte, 0, total)
	for i, f := range frames {
		var flags byte
		if i < len(frames)-1 {
			flags = flagMore
		}
		buf = append(buf, flags)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(f)))
		buf = append(buf, f...)
	}

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadMessage reads frames until one arrives without the more flag and
// returns them in order. Oversized frames and runaway frame counts fail
// instead of allocating.
func ReadMessage(r io.Reader) ([][]byte, error) {
	var frames [][]byte
	for {
		var hdr [frameHeaderLen]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if len(frames) > 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
				return nil, fmt.Errorf("stream ended mid-message after %d frames: %w", len(frames), err)
			}
			return nil, err
		}

		n := binary.BigEndian.Uint32(hdr[1:])
		if n > MaxFrameLen {
			return nil, fmt.Errorf("frame of %d bytes exceeds the %d-byte cap", n, MaxFrameLen)
		}
		if len(frames) >= MaxFrames {
			return nil, fmt.Errorf("message exceeds the %d-frame cap", MaxFrames)
		}

		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("read frame payload: %w", err)
		}
		frames = append(frames, payload)

		if hdr[0]&flagMore == 0 {
			return frames, nil
		}
	}
}

// IsTimeout reports whether err is a network timeout, which the poll loops
// treat as "nothing to do" rather than a failure.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

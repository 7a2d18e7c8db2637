package wire

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func TestMessageRoundTrip(t *testing.T) {
	cases := [][][]byte{
		{[]byte("only")},
		{[]byte("Echo"), []byte("payload")},
		{[]byte("name"), nil}, // empty payload frame
		{[]byte("a"), []byte("b"), []byte("c")},
	}

	for _, frames := range cases {
		var buf bytes.Buffer
		if err := WriteMessage(&buf, frames...); err != nil {
			t.Fatalf("write %d frames: %v", len(frames), err)
		}
		got, err := ReadMessage(&buf)
		if err != nil {
			t.Fatalf("read %d frames: %v", len(frames), err)
		}
		if len(got) != len(frames) {
			t.Fatalf("got %d frames, want %d", len(got), len(frames))
		}
		for i := range frames {
			if !bytes.Equal(got[i], frames[i]) {
				t.Errorf("frame %d: got %q, want %q", i, got[i], frames[i])
			}
		}
	}
}

func TestWriteMessageIsOneWrite(t *testing.T) {
	var w countingWriter
	if err := WriteMessage(&w, []byte("status"), []byte("payload")); err != nil {
		t.Fatal(err)
	}
	if w.calls != 1 {
		t.Errorf("message written in %d calls, want 1", w.calls)
	}
}

type countingWriter struct{ calls int }

func (w *countingWriter) Write(p []byte) (int, error) {
	w.calls++
	return len(p), nil
}

func TestWriteMessageRejectsNoFrames(t *testing.T) {
	if err := WriteMessage(io.Discard); err == nil {
		t.Error("zero-frame message accepted")
	}
}

func TestReadMessageCleanEOF(t *testing.T) {
	_, err := ReadMessage(bytes.NewReader(nil))
	if !errors.Is(err, io.EOF) {
		t.Errorf("got %v, want io.EOF", err)
	}
}

func TestReadMessageTruncatedMidMessage(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, []byte("name"), []byte("payload")); err != nil {
		t.Fatal(err)
	}
	// Cut the stream after the first frame's header.
	if _, err := ReadMessage(bytes.NewReader(buf.Bytes()[:7])); err == nil {
		t.Error("truncated message read succeeded")
	}
}

func TestReadMessageRejectsOversizedFrame(t *testing.T) {
	data := []byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF} // 4 GiB frame claim
	if _, err := ReadMessage(bytes.NewReader(data)); err == nil {
		t.Error("oversized frame accepted")
	}
}

func TestReadMessageRejectsRunawayFrameCount(t *testing.T) {
	var buf bytes.Buffer
	frame := []byte{flagMore, 0, 0, 0, 0}
	for i := 0; i < MaxFrames+1; i++ {
		buf.Write(frame)
	}
	if _, err := ReadMessage(&buf); err == nil {
		t.Error("runaway frame count accepted")
	}
}

func TestRoundTripOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		frames, err := ReadMessage(conn)
		if err != nil {
			return
		}
		_ = WriteMessage(conn, frames...)
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if err := WriteMessage(conn, []byte("svc"), []byte("body")); err != nil {
		t.Fatal(err)
	}
	frames, err := ReadMessage(conn)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 || string(frames[0]) != "svc" || string(frames[1]) != "body" {
		t.Errorf("echoed frames: %q", frames)
	}
}

func TestIsTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))

	_, err = ReadMessage(conn)
	if !IsTimeout(err) {
		t.Errorf("deadline read returned %v, IsTimeout = false", err)
	}
	if IsTimeout(io.EOF) {
		t.Error("IsTimeout(io.EOF) = true")
	}
}

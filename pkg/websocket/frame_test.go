package websocket

import (
	"bytes"
	"testing"
)

func TestNewFrameIsMaskedAndRoundTrips(t *testing.T) {
	frame := NewFrame(TextFrame, []byte("Hello"), true)

	if !frame.Masked() {
		t.Fatal("NewFrame with masked=true produced an unmasked frame")
	}
	if frame.Opcode() != TextFrame {
		t.Fatalf("Opcode() = %v, want %v", frame.Opcode(), TextFrame)
	}
	if !frame.Fin() {
		t.Fatal("NewFrame should set FIN by default")
	}

	r := &FrameReader{Reader: bytes.NewReader(frame)}
	decoded, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(decoded.Payload()) != "Hello" {
		t.Fatalf("decoded payload = %q, want %q", decoded.Payload(), "Hello")
	}
}

func TestNewFrameUnmaskedHasNoMaskBit(t *testing.T) {
	frame := NewFrame(BinaryFrame, []byte("data"), false)
	if frame.Masked() {
		t.Fatal("NewFrame with masked=false set the mask bit")
	}
	if !bytes.Equal(frame.Payload(), []byte("data")) {
		t.Fatalf("Payload() = %q, want %q", frame.Payload(), "data")
	}
}

func TestLengthFieldEncoding(t *testing.T) {
	cases := []struct {
		size int
		want byte
	}{
		{0, 0},
		{125, 125},
		{126, 126},
		{65535, 126},
		{65536, 127},
	}
	for _, tc := range cases {
		payload := make([]byte, tc.size)
		frame := NewFrame(BinaryFrame, payload, false)
		if got := frame[1] & 0x7f; got != tc.want {
			t.Errorf("size %d: length field byte = %d, want %d", tc.size, got, tc.want)
		}
		if frame.PayloadSize() != tc.size {
			t.Errorf("size %d: PayloadSize() = %d, want %d", tc.size, frame.PayloadSize(), tc.size)
		}
	}
}

func TestAcceptKeyKnownVector(t *testing.T) {
	// The RFC 6455 section 1.3 worked example.
	got := acceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("acceptKey() = %q, want %q", got, want)
	}
}

func TestFrameWriterWritesVerbatim(t *testing.T) {
	frame := NewFrame(TextFrame, []byte("ping"), true)
	var buf bytes.Buffer
	w := &FrameWriter{Writer: &buf}
	if err := w.WriteFrame(frame); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), frame) {
		t.Fatal("WriteFrame did not write the frame verbatim")
	}
}

func FuzzFrameReaderRoundTrip(f *testing.F) {
	f.Add([]byte("Hello"), true)
	f.Add([]byte("Hello, world, this is a longer payload than 125 bytes........................................."), true)
	f.Add([]byte{}, false)

	f.Fuzz(func(t *testing.T, payload []byte, masked bool) {
		frame := NewFrame(TextFrame, payload, masked)
		r := &FrameReader{Reader: bytes.NewReader(frame)}
		decoded, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if !bytes.Equal(decoded.Payload(), payload) {
			t.Fatalf("round-tripped payload = %q, want %q", decoded.Payload(), payload)
		}
	})
}

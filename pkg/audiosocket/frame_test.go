package audiosocket

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/uuid"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	id := uuid.MustParse("123e4567-e89b-12d3-a456-426614174000")

	frames := []struct {
		kind    Kind
		payload []byte
	}{
		{KindUUID, id[:]},
		{KindAudio, bytes.Repeat([]byte{0x01, 0x02}, 320)},
		{KindAudio, make([]byte, 640)},
		{KindError, []byte("backend_unreachable")},
		{KindHangup, nil},
	}

	var wire []byte
	for _, f := range frames {
		wire = AppendFrame(wire, f.kind, f.payload)
	}

	dec := NewDecoder(bytes.NewReader(wire))
	var reencoded []byte
	for i, want := range frames {
		got, err := dec.Next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if got.Kind != want.kind {
			t.Errorf("frame %d: kind %s, want %s", i, got.Kind, want.kind)
		}
		if !bytes.Equal(got.Payload, want.payload) {
			t.Errorf("frame %d: payload mismatch (%d bytes, want %d)", i, len(got.Payload), len(want.payload))
		}
		reencoded = AppendFrame(reencoded, got.Kind, got.Payload)
	}

	if _, err := dec.Next(); err != io.EOF {
		t.Errorf("expected io.EOF after last frame, got %v", err)
	}

	// Idempotent re-framing: decode then encode yields the same bytes.
	if !bytes.Equal(reencoded, wire) {
		t.Error("decode->encode did not round trip")
	}
}

func TestDecoderPartialInput(t *testing.T) {
	wire := AppendFrame(nil, KindAudio, bytes.Repeat([]byte{0xaa}, 640))
	wire = AppendFrame(wire, KindHangup, nil)

	// Deliver the stream one byte at a time. The decoder must hold back
	// partial input rather than discard it.
	dec := NewDecoder(iotest(wire, 1))

	audio, err := dec.Next()
	if err != nil {
		t.Fatalf("audio frame: %v", err)
	}
	if audio.Kind != KindAudio || len(audio.Payload) != 640 {
		t.Errorf("got kind %s payload %d, want audio/640", audio.Kind, len(audio.Payload))
	}

	hangup, err := dec.Next()
	if err != nil {
		t.Fatalf("hangup frame: %v", err)
	}
	if hangup.Kind != KindHangup || len(hangup.Payload) != 0 {
		t.Errorf("got kind %s payload %d, want hangup/0", hangup.Kind, len(hangup.Payload))
	}
}

func TestDecoderSkipsUnknownKind(t *testing.T) {
	var wire []byte
	wire = AppendFrame(wire, Kind(0x42), []byte{1, 2, 3})
	wire = AppendFrame(wire, KindHangup, nil)

	dec := NewDecoder(bytes.NewReader(wire))
	frame, err := dec.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Kind != KindHangup {
		t.Errorf("expected unknown frame to be skipped, got %s", frame.Kind)
	}
}

func TestDecoderOversizeFrameFatal(t *testing.T) {
	// Header declares a payload beyond the connection's max frame size.
	wire := []byte{byte(KindAudio), 0xff, 0xff}
	dec := NewDecoder(bytes.NewReader(wire), WithMaxPayload(1024))

	_, err := dec.Next()
	if err != ErrFrameTooLarge {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecoderTruncatedStream(t *testing.T) {
	wire := AppendFrame(nil, KindAudio, make([]byte, 640))
	dec := NewDecoder(bytes.NewReader(wire[:10]))

	_, err := dec.Next()
	if err != io.ErrUnexpectedEOF {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestFrameUUID(t *testing.T) {
	id := uuid.MustParse("123e4567-e89b-12d3-a456-426614174000")

	frame := Frame{Kind: KindUUID, Payload: id[:]}
	got, err := frame.UUID()
	if err != nil {
		t.Fatalf("UUID() error: %v", err)
	}
	if got != id {
		t.Errorf("UUID mismatch: got %s, want %s", got, id)
	}

	short := Frame{Kind: KindUUID, Payload: id[:8]}
	if _, err := short.UUID(); err != ErrShortPayload {
		t.Errorf("expected ErrShortPayload for truncated uuid, got %v", err)
	}

	audio := Frame{Kind: KindAudio, Payload: make([]byte, 16)}
	if _, err := audio.UUID(); err == nil {
		t.Error("expected error calling UUID() on audio frame")
	}
}

func TestAudioDuration(t *testing.T) {
	// 640 bytes = 320 samples. At 16kHz that is 20ms.
	frame := Frame{Kind: KindAudio, Payload: make([]byte, 640)}
	if d := frame.AudioDuration(16000); d.Milliseconds() != 20 {
		t.Errorf("expected 20ms, got %v", d)
	}
}

func TestParseIncomplete(t *testing.T) {
	wire := AppendFrame(nil, KindError, []byte("reason"))

	for i := 0; i < len(wire); i++ {
		_, rest, err := Parse(wire[:i], MaxPayload)
		if err != ErrIncomplete {
			t.Fatalf("prefix %d: expected ErrIncomplete, got %v", i, err)
		}
		if len(rest) != i {
			t.Fatalf("prefix %d: partial input discarded", i)
		}
	}

	frame, rest, err := Parse(wire, MaxPayload)
	if err != nil {
		t.Fatalf("full frame: %v", err)
	}
	if frame.Kind != KindError || string(frame.Payload) != "reason" {
		t.Errorf("unexpected frame: %s %q", frame.Kind, frame.Payload)
	}
	if len(rest) != 0 {
		t.Errorf("expected no remainder, got %d bytes", len(rest))
	}
}

// iotest returns a reader that yields at most n bytes per Read call.
func iotest(data []byte, n int) io.Reader {
	return &chunkReader{data: data, chunk: n}
}

type chunkReader struct {
	data  []byte
	chunk int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := c.chunk
	if n > len(c.data) {
		n = len(c.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

// Package audiosocket implements the binary TCP framing that telephony
// gateways use to deliver raw call audio to the bridge.
//
// Each frame on the wire is a 3-byte header followed by the payload:
//
//	[1 byte kind][2 bytes big-endian payload length][payload]
//
// A call leg sends exactly one UUID frame (the 16-byte call UUID) before
// any audio, then raw PCM16 audio frames, and ends with a hangup frame or
// a TCP close. The type codes follow the Asterisk AudioSocket convention.
package audiosocket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the frame type on the wire.
type Kind byte

const (
	// KindHangup ends the call leg. Zero-length payload.
	KindHangup Kind = 0x00

	// KindUUID carries the 16-byte call UUID. Sent exactly once,
	// before any audio.
	KindUUID Kind = 0x01

	// KindAudio carries raw PCM16 samples at the negotiated rate.
	KindAudio Kind = 0x10

	// KindError carries a UTF-8 reason string.
	KindError Kind = 0xff
)

const (
	// HeaderSize is the fixed frame header length in bytes.
	HeaderSize = 3

	// MaxPayload is the largest payload length accepted on a connection.
	// A declared length beyond this is a protocol violation and fatal.
	MaxPayload = 64 * 1024

	// UUIDPayloadSize is the required payload length of a UUID frame.
	UUIDPayloadSize = 16
)

// Sentinel errors for the audiosocket package.
var (
	// ErrFrameTooLarge indicates a declared payload length beyond MaxPayload.
	ErrFrameTooLarge = errors.New("audiosocket: frame exceeds max payload size")

	// ErrShortPayload indicates a frame whose payload is shorter than its kind requires.
	ErrShortPayload = errors.New("audiosocket: payload too short for frame kind")

	// ErrIncomplete indicates the buffer does not yet hold a complete frame.
	ErrIncomplete = errors.New("audiosocket: incomplete frame")
)

// Frame is one decoded wire frame. The payload is owned by the receiver
// once returned; frames are never shared between goroutines.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// Known reports whether the frame kind is part of the protocol.
// Unknown kinds are skipped by the decoder, not treated as fatal.
func (k Kind) Known() bool {
	switch k {
	case KindHangup, KindUUID, KindAudio, KindError:
		return true
	}
	return false
}

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindHangup:
		return "hangup"
	case KindUUID:
		return "uuid"
	case KindAudio:
		return "audio"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(k))
	}
}

// UUID parses the call UUID from a KindUUID frame.
func (f Frame) UUID() (uuid.UUID, error) {
	if f.Kind != KindUUID {
		return uuid.Nil, fmt.Errorf("audiosocket: not a uuid frame: %s", f.Kind)
	}
	if len(f.Payload) != UUIDPayloadSize {
		return uuid.Nil, ErrShortPayload
	}
	return uuid.FromBytes(f.Payload)
}

// AudioDuration returns the playback duration of a KindAudio payload,
// assuming mono PCM16 at the given sample rate.
func (f Frame) AudioDuration(sampleRate int) time.Duration {
	if f.Kind != KindAudio || sampleRate <= 0 {
		return 0
	}
	samples := len(f.Payload) / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// Parse extracts one frame from the front of buf. It returns the frame and
// the remaining bytes. Partial input is never discarded: if buf does not
// hold a complete frame, Parse returns ErrIncomplete and the caller retries
// with more data. A declared length beyond maxPayload returns
// ErrFrameTooLarge, which is fatal for the connection.
func Parse(buf []byte, maxPayload int) (Frame, []byte, error) {
	if len(buf) < HeaderSize {
		return Frame{}, buf, ErrIncomplete
	}
	kind := Kind(buf[0])
	length := int(binary.BigEndian.Uint16(buf[1:3]))
	if length > maxPayload {
		return Frame{}, buf, ErrFrameTooLarge
	}
	if len(buf) < HeaderSize+length {
		return Frame{}, buf, ErrIncomplete
	}
	payload := make([]byte, length)
	copy(payload, buf[HeaderSize:HeaderSize+length])
	return Frame{Kind: kind, Payload: payload}, buf[HeaderSize+length:], nil
}

// AppendFrame appends the wire encoding of one frame to dst.
func AppendFrame(dst []byte, kind Kind, payload []byte) []byte {
	dst = append(dst, byte(kind))
	var length [2]byte
	binary.BigEndian.PutUint16(length[:], uint16(len(payload)))
	dst = append(dst, length[:]...)
	return append(dst, payload...)
}

// EncodeFrame returns the wire encoding of one frame.
func EncodeFrame(kind Kind, payload []byte) []byte {
	return AppendFrame(make([]byte, 0, HeaderSize+len(payload)), kind, payload)
}

// AudioFrame encodes a PCM16 audio frame.
func AudioFrame(pcm []byte) []byte {
	return EncodeFrame(KindAudio, pcm)
}

// UUIDFrame encodes the handshake frame for a call UUID.
func UUIDFrame(id uuid.UUID) []byte {
	return EncodeFrame(KindUUID, id[:])
}

// HangupFrame encodes a hangup frame.
func HangupFrame() []byte {
	return EncodeFrame(KindHangup, nil)
}

// ErrorFrame encodes an error frame with a UTF-8 reason.
func ErrorFrame(reason string) []byte {
	return EncodeFrame(KindError, []byte(reason))
}

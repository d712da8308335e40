package audiosocket

import (
	"fmt"
	"io"
	"log/slog"
)

// Decoder turns a byte stream into a sequence of frames. It buffers
// partial input internally and holds it back until a full frame is
// available, so short reads never lose data. Frames with an unrecognized
// kind are skipped and logged, not surfaced to the caller.
type Decoder struct {
	r          io.Reader
	buf        []byte
	read       [4096]byte
	maxPayload int
	logger     *slog.Logger
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithMaxPayload overrides the maximum accepted payload size.
func WithMaxPayload(n int) DecoderOption {
	return func(d *Decoder) {
		d.maxPayload = n
	}
}

// WithLogger sets the logger used for skipped frames.
func WithLogger(logger *slog.Logger) DecoderOption {
	return func(d *Decoder) {
		d.logger = logger.With("component", "audiosocket.decoder")
	}
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		r:          r,
		maxPayload: MaxPayload,
		logger:     slog.Default().With("component", "audiosocket.decoder"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Next returns the next recognized frame from the stream. It returns
// io.EOF when the stream ends cleanly between frames, and
// io.ErrUnexpectedEOF when it ends mid-frame. ErrFrameTooLarge is fatal:
// the caller must terminate the connection.
func (d *Decoder) Next() (Frame, error) {
	for {
		frame, rest, err := Parse(d.buf, d.maxPayload)
		switch err {
		case nil:
			d.buf = rest
			if !frame.Kind.Known() {
				d.logger.Warn("skipping unrecognized frame",
					"kind", fmt.Sprintf("0x%02x", byte(frame.Kind)),
					"payload_bytes", len(frame.Payload),
				)
				continue
			}
			return frame, nil
		case ErrIncomplete:
			if err := d.fill(); err != nil {
				if err == io.EOF && len(d.buf) > 0 {
					return Frame{}, io.ErrUnexpectedEOF
				}
				return Frame{}, err
			}
		default:
			return Frame{}, err
		}
	}
}

// fill reads more bytes from the underlying reader into the buffer.
func (d *Decoder) fill() error {
	n, err := d.r.Read(d.read[:])
	if n > 0 {
		d.buf = append(d.buf, d.read[:n]...)
		return nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return err
}

// Buffered returns the number of bytes held back waiting for a full frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

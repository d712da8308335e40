package audioio

import "time"

// Frame is one chunk of audio handed between bridge components.
// A frame is immutable once produced and passed by ownership transfer;
// it is never shared between goroutines.
type Frame struct {
	// PCM is raw little-endian PCM16 sample data.
	PCM []byte

	// Rate is the sample rate in Hz.
	Rate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	if f.Rate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.PCM) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.Rate)
}

// Framer re-aligns a PCM byte stream to fixed-size chunks. Input pushed in
// arbitrary sizes comes out as chunks of exactly chunkSize bytes; any
// remainder is carried into the next push rather than dropped or padded,
// so no drift accumulates over a long call.
type Framer struct {
	chunkSize int
	rem       []byte
}

// NewFramer creates a Framer producing chunks of chunkSize bytes.
// A chunkSize of zero or less disables re-framing: every push comes
// back as a single chunk.
func NewFramer(chunkSize int) *Framer {
	return &Framer{chunkSize: chunkSize}
}

// Push adds bytes to the framer and returns all complete chunks.
// Each returned chunk is freshly allocated and safe to retain.
func (f *Framer) Push(p []byte) [][]byte {
	if f.chunkSize <= 0 {
		if len(p) == 0 {
			return nil
		}
		chunk := make([]byte, len(p))
		copy(chunk, p)
		return [][]byte{chunk}
	}

	f.rem = append(f.rem, p...)

	var chunks [][]byte
	for len(f.rem) >= f.chunkSize {
		chunk := make([]byte, f.chunkSize)
		copy(chunk, f.rem[:f.chunkSize])
		chunks = append(chunks, chunk)
		f.rem = f.rem[f.chunkSize:]
	}

	// Compact so the backing array does not grow without bound.
	if len(f.rem) > 0 && cap(f.rem) > 4*f.chunkSize {
		rem := make([]byte, len(f.rem), f.chunkSize)
		copy(rem, f.rem)
		f.rem = rem
	}

	return chunks
}

// Flush returns any carried remainder as a final short chunk, or nil.
// Used when draining a stream so the tail of the audio is not lost.
func (f *Framer) Flush() []byte {
	if len(f.rem) == 0 {
		return nil
	}
	tail := f.rem
	f.rem = nil
	return tail
}

// Pending returns the number of bytes carried for the next chunk.
func (f *Framer) Pending() int {
	return len(f.rem)
}

// Converter resamples a PCM16 stream between two rates and re-frames the
// output to a fixed chunk size. Resampling a 20ms frame rarely lands on an
// exact chunk boundary; the internal framer carries the remainder forward.
type Converter struct {
	fromRate int
	toRate   int
	framer   *Framer
}

// NewConverter creates a Converter from fromRate to toRate producing
// chunks of chunkSize bytes.
func NewConverter(fromRate, toRate, chunkSize int) *Converter {
	return &Converter{
		fromRate: fromRate,
		toRate:   toRate,
		framer:   NewFramer(chunkSize),
	}
}

// Convert resamples pcm and returns all complete output chunks.
func (c *Converter) Convert(pcm []byte) [][]byte {
	return c.framer.Push(ResampleBytes(pcm, c.fromRate, c.toRate))
}

// Flush returns the carried tail of the converted stream, or nil.
func (c *Converter) Flush() []byte {
	return c.framer.Flush()
}

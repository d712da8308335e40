// Package vad implements energy-based voice activity detection with a
// configurable silence hold-off. The detector segments a live PCM16 stream
// into speech segments: a segment opens when window energy crosses the
// threshold and closes once silence has persisted for the hold-off period.
// The closed segment covers the speech (plus a short prefix), never the
// trailing silence.
package vad

import (
	"time"

	"github.com/teslashibe/go-voicebridge/pkg/audioio"
)

// Default detector parameters.
const (
	DefaultThreshold      = 0.01
	DefaultSilenceHoldoff = 700 * time.Millisecond
	DefaultPrefixPadding  = 300 * time.Millisecond
	DefaultMaxSegment     = 30 * time.Second
)

// Event is the outcome of processing one audio window.
type Event int

const (
	// EventNone means no boundary was crossed.
	EventNone Event = iota

	// EventSpeechStart means speech was detected after silence.
	EventSpeechStart

	// EventSegmentReady means a speech segment closed: silence persisted
	// for the hold-off period (or the segment hit its length cap).
	// Retrieve the audio with Segment().
	EventSegmentReady
)

// Config holds detector tuning parameters.
type Config struct {
	// SampleRate of the input audio in Hz. Required.
	SampleRate int

	// Threshold is the normalized energy level (0.0-1.0) above which a
	// window counts as speech.
	Threshold float64

	// SilenceHoldoff is how long silence must persist after speech before
	// the segment closes.
	SilenceHoldoff time.Duration

	// PrefixPadding is how much audio before speech onset is kept at the
	// front of the segment, so soft first syllables are not clipped.
	PrefixPadding time.Duration

	// MaxSegment caps segment length; a segment reaching the cap closes
	// immediately even while speech continues.
	MaxSegment time.Duration
}

// DefaultConfig returns detector defaults for the given sample rate.
func DefaultConfig(sampleRate int) Config {
	return Config{
		SampleRate:     sampleRate,
		Threshold:      DefaultThreshold,
		SilenceHoldoff: DefaultSilenceHoldoff,
		PrefixPadding:  DefaultPrefixPadding,
		MaxSegment:     DefaultMaxSegment,
	}
}

// Detector segments a PCM16 stream into speech segments. It is used from
// a single goroutine; time is tracked by sample count, not wall clock, so
// behavior is deterministic and testable.
type Detector struct {
	cfg Config

	holdoffBytes int
	prefixBytes  int
	maxBytes     int

	inSpeech     bool
	preroll      []byte
	segment      []byte
	speechLen    int // segment length at the last speech window
	silenceBytes int

	ready []byte
}

// New creates a Detector. Zero config fields fall back to defaults.
func New(cfg Config) *Detector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.SilenceHoldoff <= 0 {
		cfg.SilenceHoldoff = DefaultSilenceHoldoff
	}
	if cfg.PrefixPadding < 0 {
		cfg.PrefixPadding = DefaultPrefixPadding
	}
	if cfg.MaxSegment <= 0 {
		cfg.MaxSegment = DefaultMaxSegment
	}
	return &Detector{
		cfg:          cfg,
		holdoffBytes: audioio.BytesForDuration(cfg.SilenceHoldoff, cfg.SampleRate),
		prefixBytes:  audioio.BytesForDuration(cfg.PrefixPadding, cfg.SampleRate),
		maxBytes:     audioio.BytesForDuration(cfg.MaxSegment, cfg.SampleRate),
	}
}

// Process consumes one window of PCM16 audio and reports whether a
// boundary was crossed.
func (d *Detector) Process(pcm []byte) Event {
	if len(pcm) == 0 {
		return EventNone
	}

	speech := audioio.CalculateRMS(audioio.BytesToSamples(pcm)) >= d.cfg.Threshold

	if !d.inSpeech {
		if !speech {
			d.preroll = append(d.preroll, pcm...)
			if over := len(d.preroll) - d.prefixBytes; over > 0 {
				d.preroll = append(d.preroll[:0], d.preroll[over:]...)
			}
			return EventNone
		}

		d.inSpeech = true
		d.segment = append(append([]byte(nil), d.preroll...), pcm...)
		d.speechLen = len(d.segment)
		d.silenceBytes = 0
		d.preroll = d.preroll[:0]
		return EventSpeechStart
	}

	d.segment = append(d.segment, pcm...)
	if speech {
		d.silenceBytes = 0
		d.speechLen = len(d.segment)
	} else {
		d.silenceBytes += len(pcm)
	}

	if d.silenceBytes >= d.holdoffBytes || len(d.segment) >= d.maxBytes {
		d.close()
		return EventSegmentReady
	}

	return EventNone
}

// close finalizes the open segment, trimming trailing silence.
func (d *Detector) close() {
	d.ready = d.segment[:d.speechLen]
	d.segment = nil
	d.speechLen = 0
	d.silenceBytes = 0
	d.inSpeech = false
}

// Segment returns the most recently closed speech segment and clears it.
// Valid after Process returned EventSegmentReady.
func (d *Detector) Segment() []byte {
	seg := d.ready
	d.ready = nil
	return seg
}

// Speaking reports whether a speech segment is currently open.
func (d *Detector) Speaking() bool {
	return d.inSpeech
}

// Flush closes any open segment and returns it, or nil. Used on hangup so
// a final utterance cut off by the caller is still transcribed.
func (d *Detector) Flush() []byte {
	if !d.inSpeech {
		return nil
	}
	d.close()
	return d.Segment()
}

// Reset discards all buffered audio and returns to the silence state.
func (d *Detector) Reset() {
	d.inSpeech = false
	d.preroll = d.preroll[:0]
	d.segment = nil
	d.speechLen = 0
	d.silenceBytes = 0
	d.ready = nil
}

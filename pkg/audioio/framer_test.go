package audioio

import (
	"bytes"
	"testing"
	"time"
)

func TestFramer_ExactChunks(t *testing.T) {
	f := NewFramer(640)

	chunks := f.Push(make([]byte, 1280))
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) != 640 {
			t.Errorf("Chunk %d: expected 640 bytes, got %d", i, len(c))
		}
	}
	if f.Pending() != 0 {
		t.Errorf("Expected no remainder, got %d", f.Pending())
	}
}

func TestFramer_RemainderCarry(t *testing.T) {
	f := NewFramer(640)

	// 700 bytes: one chunk plus 60 carried.
	chunks := f.Push(make([]byte, 700))
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	if f.Pending() != 60 {
		t.Errorf("Expected 60 carried bytes, got %d", f.Pending())
	}

	// 580 more completes the second chunk exactly.
	chunks = f.Push(make([]byte, 580))
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk from carry, got %d", len(chunks))
	}
	if f.Pending() != 0 {
		t.Errorf("Expected no remainder, got %d", f.Pending())
	}
}

func TestFramer_NoDrift(t *testing.T) {
	// Push many odd-sized writes; total bytes out must equal total bytes
	// in once flushed. Nothing dropped, nothing padded.
	f := NewFramer(640)

	var total int
	var out int
	sizes := []int{123, 701, 7, 640, 333, 999, 1}
	for round := 0; round < 100; round++ {
		for _, n := range sizes {
			total += n
			for _, c := range f.Push(make([]byte, n)) {
				out += len(c)
			}
		}
	}
	out += len(f.Flush())

	if out != total {
		t.Errorf("Expected %d bytes out, got %d (drift %d)", total, out, total-out)
	}
}

func TestFramer_ContentPreserved(t *testing.T) {
	f := NewFramer(4)

	input := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	var out []byte
	for _, c := range f.Push(input[:3]) {
		out = append(out, c...)
	}
	for _, c := range f.Push(input[3:]) {
		out = append(out, c...)
	}
	out = append(out, f.Flush()...)

	if !bytes.Equal(out, input) {
		t.Errorf("Content not preserved: got %v, want %v", out, input)
	}
}

func TestFramer_PassThrough(t *testing.T) {
	f := NewFramer(0)

	chunks := f.Push(make([]byte, 123))
	if len(chunks) != 1 || len(chunks[0]) != 123 {
		t.Fatalf("Expected one 123-byte chunk, got %d chunks", len(chunks))
	}
	if chunks = f.Push(nil); chunks != nil {
		t.Errorf("Expected no chunks for empty push, got %d", len(chunks))
	}
	if f.Pending() != 0 {
		t.Errorf("Pass-through framer must not carry bytes, has %d", f.Pending())
	}
}

func TestFramer_Flush(t *testing.T) {
	f := NewFramer(640)

	if tail := f.Flush(); tail != nil {
		t.Errorf("Expected nil flush on empty framer, got %d bytes", len(tail))
	}

	f.Push(make([]byte, 100))
	tail := f.Flush()
	if len(tail) != 100 {
		t.Errorf("Expected 100-byte tail, got %d", len(tail))
	}
	if f.Pending() != 0 {
		t.Errorf("Expected empty framer after flush, got %d", f.Pending())
	}
}

func TestConverter_DurationPreserved(t *testing.T) {
	// Stream 3 seconds of 24kHz audio through a 24k->16k converter framed
	// at 20ms (640 bytes at 16kHz). Total output duration must match input
	// duration within one frame.
	conv := NewConverter(24000, 16000, 640)

	in := make([]byte, 960) // 20ms at 24kHz
	var outBytes int
	for i := 0; i < 150; i++ {
		for _, c := range conv.Convert(in) {
			if len(c) != 640 {
				t.Fatalf("Chunk size %d, want 640", len(c))
			}
			outBytes += len(c)
		}
	}
	outBytes += len(conv.Flush())

	inDur := 150 * 20 * time.Millisecond
	outDur := Duration(make([]byte, outBytes), 16000)

	diff := inDur - outDur
	if diff < 0 {
		diff = -diff
	}
	if diff > 20*time.Millisecond {
		t.Errorf("Duration drift %v exceeds one frame (in %v, out %v)", diff, inDur, outDur)
	}
}

func TestFrameDuration(t *testing.T) {
	f := Frame{PCM: make([]byte, 640), Rate: 16000, Channels: 1}
	if d := f.Duration(); d != 20*time.Millisecond {
		t.Errorf("Expected 20ms, got %v", d)
	}

	zero := Frame{PCM: make([]byte, 640)}
	if d := zero.Duration(); d != 0 {
		t.Errorf("Expected 0 for missing rate, got %v", d)
	}
}

func TestWAVBytes(t *testing.T) {
	pcm := make([]byte, 320)
	wav := WAVBytes(pcm, 16000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("Expected %d bytes, got %d", 44+len(pcm), len(wav))
	}
	if string(wav[:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("Missing RIFF/WAVE markers")
	}
	if string(wav[36:40]) != "data" {
		t.Error("Missing data chunk marker")
	}
}

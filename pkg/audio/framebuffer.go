// Package audio provides the fixed-format PCM plumbing for the wake word
// pipeline: a FIFO frame buffer that reassembles arbitrarily-sized network
// chunks into the fixed-length frames the detection models consume, and
// format conversion from whatever the client declares to the 16 kHz mono
// 16-bit format the pipeline runs at.
package audio

import (
	"encoding/binary"
	"errors"
)

// Pipeline-wide audio format. Every model input frame is 16-bit little-endian
// mono PCM at this rate; clients sending other formats are converted on entry.
const (
	SampleRate  = 16000
	SampleWidth = 2
	Channels    = 1
)

// ErrFraming is returned by [FrameBuffer.Push] when a chunk's byte length is
// not a multiple of the sample width. The offending chunk is dropped; the
// buffer and the session remain usable.
var ErrFraming = errors.New("audio: chunk length is not a multiple of the sample width")

// FrameBuffer accumulates raw PCM chunks and yields fixed-length frames in
// FIFO order. Samples are never dropped, duplicated, or reordered: every byte
// pushed is either part of an emitted frame or still held as the partial
// trailing frame.
//
// A FrameBuffer belongs to a single session and is not safe for concurrent
// use.
type FrameBuffer struct {
	frameSamples   int
	prefillSamples int

	samples []float32
	head    int
}

// NewFrameBuffer creates a buffer emitting frames of frameSamples samples.
// prefillMs is the amount of synthetic silence (in milliseconds of audio at
// [SampleRate]) seeded by [FrameBuffer.Reset], so that a client which sends
// real audio immediately after audio-start still satisfies the model's
// minimum context window.
func NewFrameBuffer(frameSamples, prefillMs int) *FrameBuffer {
	b := &FrameBuffer{
		frameSamples:   frameSamples,
		prefillSamples: prefillMs * SampleRate / 1000,
	}
	b.Reset()
	return b
}

// Push appends a chunk of 16-bit little-endian mono PCM to the buffer.
// Chunks whose length is not a multiple of [SampleWidth] are rejected with
// [ErrFraming] and leave the buffer unchanged.
func (b *FrameBuffer) Push(chunk []byte) error {
	if len(chunk)%SampleWidth != 0 {
		return ErrFraming
	}
	for i := 0; i+1 < len(chunk); i += SampleWidth {
		s := int16(binary.LittleEndian.Uint16(chunk[i:]))
		b.samples = append(b.samples, float32(s)/32768.0)
	}
	return nil
}

// PopFrame returns the next complete frame in FIFO order, or nil when fewer
// than a frame's worth of samples are buffered. Frames are normalised float32
// samples in [-1, 1) and are never mutated by the buffer after return.
func (b *FrameBuffer) PopFrame() []float32 {
	if len(b.samples)-b.head < b.frameSamples {
		return nil
	}
	frame := make([]float32, b.frameSamples)
	copy(frame, b.samples[b.head:])
	b.head += b.frameSamples

	// Compact once the dead prefix dominates, so a long stream does not pin
	// every sample it ever buffered.
	if b.head >= len(b.samples) || b.head > 8*b.frameSamples {
		b.samples = append(b.samples[:0], b.samples[b.head:]...)
		b.head = 0
	}
	return frame
}

// Buffered returns the number of samples currently held, including the
// partial trailing frame.
func (b *FrameBuffer) Buffered() int {
	return len(b.samples) - b.head
}

// Reset discards all buffered samples and re-seeds the configured silence
// prefill. Called at every audio-start.
func (b *FrameBuffer) Reset() {
	b.samples = b.samples[:0]
	b.head = 0
	if cap(b.samples) < b.prefillSamples {
		b.samples = make([]float32, b.prefillSamples)
	} else {
		b.samples = b.samples[:b.prefillSamples]
		for i := range b.samples {
			b.samples[i] = 0
		}
	}
}

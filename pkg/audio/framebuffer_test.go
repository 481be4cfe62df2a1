package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/hearken-audio/hearken/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte form.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// popAll drains every complete frame from the buffer.
func popAll(b *audio.FrameBuffer) [][]float32 {
	var frames [][]float32
	for {
		f := b.PopFrame()
		if f == nil {
			return frames
		}
		frames = append(frames, f)
	}
}

func TestPush_FramingError(t *testing.T) {
	t.Parallel()

	b := audio.NewFrameBuffer(4, 0)
	if err := b.Push([]byte{1, 2, 3}); err != audio.ErrFraming {
		t.Fatalf("Push odd chunk: want ErrFraming, got %v", err)
	}
	if got := b.Buffered(); got != 0 {
		t.Errorf("buffer changed by rejected chunk: %d samples buffered", got)
	}

	// The buffer must remain usable after a framing error.
	if err := b.Push(samplesToBytes([]int16{1, 2, 3, 4})); err != nil {
		t.Fatalf("Push after framing error: %v", err)
	}
	if b.PopFrame() == nil {
		t.Error("expected a complete frame after valid push")
	}
}

func TestPopFrame_FIFO(t *testing.T) {
	t.Parallel()

	b := audio.NewFrameBuffer(2, 0)
	if err := b.Push(samplesToBytes([]int16{100, 200, 300, 400, 500})); err != nil {
		t.Fatalf("Push: %v", err)
	}

	frames := popAll(b)
	if len(frames) != 2 {
		t.Fatalf("frames: want 2, got %d", len(frames))
	}
	want := [][]float32{
		{100.0 / 32768, 200.0 / 32768},
		{300.0 / 32768, 400.0 / 32768},
	}
	for i := range want {
		for j := range want[i] {
			if frames[i][j] != want[i][j] {
				t.Errorf("frame %d sample %d: got %v, want %v", i, j, frames[i][j], want[i][j])
			}
		}
	}

	// One sample remains as the partial trailing frame.
	if got := b.Buffered(); got != 1 {
		t.Errorf("Buffered: want 1, got %d", got)
	}
}

// TestPopFrame_ChunkingTransparency verifies that the emitted frame sequence
// depends only on the total sample stream, not on how the client sliced it
// into chunks.
func TestPopFrame_ChunkingTransparency(t *testing.T) {
	t.Parallel()

	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = int16(i * 31)
	}
	raw := samplesToBytes(samples)

	chunkings := [][]int{
		{200},
		{2, 198},
		{10, 10, 10, 170},
		{34, 66, 100},
	}

	var reference [][]float32
	for ci, sizes := range chunkings {
		b := audio.NewFrameBuffer(16, 0)
		off := 0
		for _, n := range sizes {
			if err := b.Push(raw[off : off+n]); err != nil {
				t.Fatalf("chunking %d: Push: %v", ci, err)
			}
			off += n
		}
		frames := popAll(b)

		if ci == 0 {
			reference = frames
			continue
		}
		if len(frames) != len(reference) {
			t.Fatalf("chunking %d: frame count %d != reference %d", ci, len(frames), len(reference))
		}
		for i := range reference {
			for j := range reference[i] {
				if frames[i][j] != reference[i][j] {
					t.Errorf("chunking %d frame %d sample %d differs from reference", ci, i, j)
				}
			}
		}
	}
}

func TestReset_SilencePrefill(t *testing.T) {
	t.Parallel()

	// 10ms at 16kHz = 160 samples of silence.
	b := audio.NewFrameBuffer(160, 10)
	frame := b.PopFrame()
	if frame == nil {
		t.Fatal("expected a full silence frame after construction")
	}
	for i, s := range frame {
		if s != 0 {
			t.Fatalf("prefill sample %d: want 0, got %v", i, s)
		}
	}

	// Real audio pushed after the prefill comes out after it, untruncated.
	if err := b.Push(samplesToBytes(make([]int16, 160))); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if b.PopFrame() == nil {
		t.Error("expected real audio frame after prefill drained")
	}

	// Reset re-seeds the prefill.
	b.Reset()
	if got := b.Buffered(); got != 160 {
		t.Errorf("Buffered after Reset: want 160, got %d", got)
	}
}

func TestPopFrame_LongStreamCompaction(t *testing.T) {
	t.Parallel()

	b := audio.NewFrameBuffer(8, 0)
	chunk := samplesToBytes(make([]int16, 8))
	for i := 0; i < 1000; i++ {
		if err := b.Push(chunk); err != nil {
			t.Fatalf("Push: %v", err)
		}
		if b.PopFrame() == nil {
			t.Fatalf("iteration %d: expected a frame", i)
		}
	}
	if got := b.Buffered(); got != 0 {
		t.Errorf("Buffered: want 0, got %d", got)
	}
}

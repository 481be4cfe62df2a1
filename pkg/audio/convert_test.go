package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/hearken-audio/hearken/pkg/audio"
)

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16_HalvesRate(t *testing.T) {
	t.Parallel()

	src := samplesToBytes(make([]int16, 320)) // 10ms at 32kHz
	out := audio.ResampleMono16(src, 32000, 16000)
	if got := len(out) / 2; got != 160 {
		t.Errorf("resampled samples: want 160, got %d", got)
	}
}

func TestResampleMono16_SameRateUnchanged(t *testing.T) {
	t.Parallel()

	src := samplesToBytes([]int16{1, 2, 3})
	out := audio.ResampleMono16(src, 16000, 16000)
	if &out[0] != &src[0] {
		t.Error("same-rate resample should return input unchanged")
	}
}

func TestFormatConverter_FastPath(t *testing.T) {
	t.Parallel()

	c := audio.NewFormatConverter(audio.SampleRate, audio.Channels)
	pcm := samplesToBytes([]int16{5, 6, 7})
	out := c.Convert(pcm)
	if &out[0] != &pcm[0] {
		t.Error("matching format should pass through without allocation")
	}
}

func TestFormatConverter_StereoHighRate(t *testing.T) {
	t.Parallel()

	// 48kHz stereo input: 48 stereo frames = 1ms.
	src := make([]int16, 96)
	for i := range src {
		src[i] = int16(i)
	}
	c := audio.NewFormatConverter(48000, 2)
	out := c.Convert(samplesToBytes(src))

	// 1ms at 16kHz mono = 16 samples.
	if got := len(out) / 2; got != 16 {
		t.Errorf("converted samples: want 16, got %d", got)
	}
}

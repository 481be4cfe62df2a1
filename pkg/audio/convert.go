package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// FormatConverter converts client PCM to the pipeline format (16 kHz mono,
// 16-bit little-endian). The source format is declared once per utterance by
// the audio-start message; the converter logs a single warning the first time
// it actually has to convert. Create one per stream; not designed for shared
// use across goroutines.
type FormatConverter struct {
	srcRate     int
	srcChannels int

	warnedMismatch sync.Once
}

// NewFormatConverter creates a converter from the declared source format.
// Only 16-bit samples are supported; the caller validates the sample width
// before constructing a converter.
func NewFormatConverter(srcRate, srcChannels int) *FormatConverter {
	return &FormatConverter{srcRate: srcRate, srcChannels: srcChannels}
}

// Convert returns pcm converted to the pipeline format. When the source
// already matches, pcm is returned unchanged with zero allocation.
// Conversion order: downmix first, then resample, so stereo input is never
// resampled twice.
func (c *FormatConverter) Convert(pcm []byte) []byte {
	if c.srcRate == SampleRate && c.srcChannels == Channels {
		return pcm
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(c.srcRate, c.srcChannels),
			"to", formatString(SampleRate, Channels),
		)
	})

	if c.srcChannels == 2 {
		pcm = StereoToMono(pcm)
	}
	if c.srcRate != SampleRate {
		pcm = ResampleMono16(pcm, c.srcRate, SampleRate)
	}
	return pcm
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		lSample := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		rSample := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (lSample + rSample) / 2

		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples. If
// srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel
// count, e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}

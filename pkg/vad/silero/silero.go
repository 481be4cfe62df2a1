// Package silero implements the vad.Engine interface using the Silero VAD
// ONNX model via silero-vad-go.
//
// The Silero model consumes fixed 512-sample windows at 16 kHz, which is not
// the pipeline's frame size, so each session carries a small carry-over
// buffer and classifies whole windows as they fill. The session reports the
// stream's current in-speech state, which the detector toggles on
// speech-start/speech-end events.
package silero

import (
	"fmt"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/hearken-audio/hearken/pkg/vad"
)

// sileroWindow is the window size the Silero model requires at 16 kHz.
const sileroWindow = 512

// Engine creates Silero-backed VAD sessions. Each session owns its own
// detector instance, so sessions never contend with each other.
type Engine struct {
	// ModelPath is the path to silero_vad.onnx.
	ModelPath string
}

// NewSession creates a detector for one audio stream.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if e.ModelPath == "" {
		return nil, fmt.Errorf("silero: model path is empty")
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("silero: threshold %v out of range (0, 1]", cfg.Threshold)
	}

	det, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:  e.ModelPath,
		SampleRate: cfg.SampleRate,
		Threshold:  float32(cfg.Threshold),
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}

	return &session{det: det}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

type session struct {
	det      *speech.Detector
	carry    []float32
	inSpeech bool
	closed   bool
}

// ProcessFrame feeds the frame into the detector window by window and
// reports whether the stream is currently inside a speech segment. Frames
// smaller than a Silero window only update the carry-over buffer; the
// previous classification holds until a full window has been observed.
func (s *session) ProcessFrame(frame []float32) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, fmt.Errorf("silero: session is closed")
	}

	s.carry = append(s.carry, frame...)
	for len(s.carry) >= sileroWindow {
		window := s.carry[:sileroWindow]
		s.carry = s.carry[sileroWindow:]

		ev, err := s.det.DetectStreamFrame(window)
		if err != nil {
			// The detector wedges on out-of-order segment state; reset and
			// report the frame so the caller can fail open.
			s.det.Reset()
			s.carry = s.carry[:0]
			return vad.Event{}, fmt.Errorf("silero: detect frame: %w", err)
		}
		if ev != nil {
			if ev.IsStart {
				s.inSpeech = true
			}
			if ev.IsEnd {
				s.inSpeech = false
			}
		}
	}

	return vad.Event{Speech: s.inSpeech}, nil
}

// Reset clears the detector state and carry-over buffer.
func (s *session) Reset() {
	if s.closed {
		return
	}
	s.det.Reset()
	s.carry = s.carry[:0]
	s.inSpeech = false
}

// Close destroys the underlying detector. Safe to call twice.
func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.det.Destroy()
	return nil
}

// Ensure session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*session)(nil)

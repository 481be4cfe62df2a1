// Package vad defines the Engine interface for voice activity detection
// backends.
//
// A VAD engine wraps a frame-level speech classifier (e.g. Silero VAD) and
// surfaces it as a stateful, per-stream session. Each session keeps its own
// internal state so that concurrent audio streams are classified
// independently. The session controller uses the result to skip wake word
// inference on silent frames.
//
// ProcessFrame is synchronous and returns immediately, so it can sit
// directly in the frame evaluation loop without adding latency.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle is owned by one session goroutine and is not shared.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// ProcessFrame.
	SampleRate int

	// Threshold is the speech probability above which a frame is classified
	// as speech. Range: (0.0, 1.0]. Typical: 0.5.
	Threshold float64
}

// Event is the classification result for a single audio frame.
type Event struct {
	// Speech reports whether the stream is currently inside a speech segment.
	Speech bool
}

// SessionHandle is an active VAD session for a single audio stream. Reset
// clears accumulated state without closing the session; use it when the
// stream restarts so a previous segment cannot bleed into the next one.
type SessionHandle interface {
	// ProcessFrame classifies one frame of normalised mono PCM samples.
	// Returns an error on internal engine failure; the caller treats an
	// errored frame as speech so a broken VAD never suppresses detections.
	ProcessFrame(frame []float32) (Event, error)

	// Reset clears all accumulated detection state.
	Reset()

	// Close releases session resources. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions. Multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	NewSession(cfg Config) (SessionHandle, error)
}

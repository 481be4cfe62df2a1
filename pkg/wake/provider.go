// Package wake defines the interface for wake word inference backends.
//
// A backend wraps a pre-trained detection model (e.g. a sherpa-onnx keyword
// spotter) and surfaces it as a pure per-frame scoring function: fixed-length
// audio frame in, wake phrase probability out. Gating logic such as
// confidence thresholds and debounce lives outside the backend, in the
// detection engine.
//
// A Model holds the loaded weights and is shared by every session that
// selected it. Decoder state lives in a Stream: each session opens its own
// stream per model, so audio from one session never advances another
// session's decode. A Stream is owned by one session goroutine and is not
// shared.
package wake

// Model is a loaded wake word model. It carries no per-utterance state;
// scoring happens through session-local [Stream] values opened from it.
type Model interface {
	// NewStream opens a fresh decode stream against the model. Multiple
	// goroutines may call NewStream concurrently.
	NewStream() (Stream, error)

	// Close releases model resources. NewStream must not be called after
	// Close; streams already open return errors from Infer.
	Close() error
}

// Stream is one session's decode state for a model.
type Stream interface {
	// Infer scores one frame of normalised mono PCM samples ([-1, 1) at
	// 16 kHz) and returns the wake phrase probability in [0, 1]. Frame
	// length is fixed per deployment. An error skips this model for this
	// frame only; it never invalidates the stream.
	Infer(frame []float32) (float32, error)

	// Reset discards accumulated decoder context so a new utterance starts
	// clean.
	Reset()

	// Close releases the stream. Safe to call more than once.
	Close() error
}

// Loader parses a model file or directory into a ready-to-invoke [Model].
// Loading is expensive; the registry guarantees each path is loaded at most
// once. Implementations must be safe for concurrent Load calls on distinct
// paths.
type Loader interface {
	Load(path string) (Model, error)
}

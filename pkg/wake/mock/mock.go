// Package mock provides test doubles for the wake package interfaces.
//
// Use Model to script per-frame probabilities and inspect the frames that
// were submitted for inference. Streams opened from a Model share its script
// and call records, so a test asserts against the Model regardless of how
// many streams consumed it. Use Loader to verify which model paths were
// loaded.
//
// Example:
//
//	m := &mock.Model{Probabilities: []float32{0.1, 0.9, 0.9}}
//	ld := &mock.Loader{Models: map[string]wake.Model{"okay_nabu": m}}
package mock

import (
	"sync"
	"time"

	"github.com/hearken-audio/hearken/pkg/wake"
)

// InferCall records a single invocation of Stream.Infer.
type InferCall struct {
	// Frame is a copy of the samples passed to Infer.
	Frame []float32
}

// Model is a mock implementation of wake.Model. Its zero value is usable.
type Model struct {
	mu sync.Mutex

	// Probabilities is returned by successive Infer calls in order, across
	// all streams of this model. When the script is exhausted, Infer keeps
	// returning the last value (or 0 when the script is empty).
	Probabilities []float32

	// InferErr, if non-nil, is returned by every Infer call.
	InferErr error

	// InferDelay, when non-zero, makes every Infer call sleep before
	// returning. Used to simulate a slow model in drain-ordering tests.
	InferDelay time.Duration

	// NewStreamErr, if non-nil, is returned by every NewStream call.
	NewStreamErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// InferCalls records every call to Infer in order, across all streams.
	InferCalls []InferCall

	// StreamCount is the number of streams opened with NewStream.
	StreamCount int

	// StreamResets is the number of Reset calls across all streams.
	StreamResets int

	// StreamCloses is the number of Close calls across all streams.
	StreamCloses int

	// CloseCallCount is the number of times Close was called on the model.
	CloseCallCount int
}

// NewStream records the call and returns a stream bound to this model's
// script.
func (m *Model) NewStream() (wake.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.NewStreamErr != nil {
		return nil, m.NewStreamErr
	}
	m.StreamCount++
	return &Stream{model: m}, nil
}

// Close records the call and returns CloseErr.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCallCount++
	return m.CloseErr
}

// Infers returns the number of recorded Infer calls across all streams.
// Thread-safe.
func (m *Model) Infers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.InferCalls)
}

// Streams returns the number of streams opened from this model. Thread-safe.
func (m *Model) Streams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StreamCount
}

// ResetCalls clears all recorded call history. Thread-safe.
func (m *Model) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InferCalls = nil
	m.StreamCount = 0
	m.StreamResets = 0
	m.StreamCloses = 0
	m.CloseCallCount = 0
}

// Ensure Model implements wake.Model at compile time.
var _ wake.Model = (*Model)(nil)

// Stream is the wake.Stream returned by [Model.NewStream]. All scripting and
// recording lives on the parent Model.
type Stream struct {
	model *Model
}

// Infer records the call on the parent model and returns the next scripted
// probability.
func (s *Stream) Infer(frame []float32) (float32, error) {
	m := s.model
	if m.InferDelay > 0 {
		time.Sleep(m.InferDelay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]float32, len(frame))
	copy(cp, frame)
	idx := len(m.InferCalls)
	m.InferCalls = append(m.InferCalls, InferCall{Frame: cp})

	if m.InferErr != nil {
		return 0, m.InferErr
	}
	if len(m.Probabilities) == 0 {
		return 0, nil
	}
	if idx >= len(m.Probabilities) {
		idx = len(m.Probabilities) - 1
	}
	return m.Probabilities[idx], nil
}

// Reset records the call on the parent model.
func (s *Stream) Reset() {
	s.model.mu.Lock()
	defer s.model.mu.Unlock()
	s.model.StreamResets++
}

// Close records the call on the parent model.
func (s *Stream) Close() error {
	s.model.mu.Lock()
	defer s.model.mu.Unlock()
	s.model.StreamCloses++
	return nil
}

// Ensure Stream implements wake.Stream at compile time.
var _ wake.Stream = (*Stream)(nil)

// LoadCall records a single invocation of Loader.Load.
type LoadCall struct {
	// Path is the model path passed to Load.
	Path string
}

// Loader is a mock implementation of wake.Loader.
type Loader struct {
	mu sync.Mutex

	// Models maps a path to the Model returned for it. Paths not present
	// return a new default Model.
	Models map[string]wake.Model

	// LoadErr, if non-nil, is returned as the error from every Load.
	LoadErr error

	// LoadCalls records every call to Load in order.
	LoadCalls []LoadCall
}

// Load records the call and returns the scripted model for path.
func (l *Loader) Load(path string) (wake.Model, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.LoadCalls = append(l.LoadCalls, LoadCall{Path: path})
	if l.LoadErr != nil {
		return nil, l.LoadErr
	}
	if m, ok := l.Models[path]; ok {
		return m, nil
	}
	return &Model{}, nil
}

// Loads returns the number of recorded Load calls. Thread-safe.
func (l *Loader) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.LoadCalls)
}

// Ensure Loader implements wake.Loader at compile time.
var _ wake.Loader = (*Loader)(nil)

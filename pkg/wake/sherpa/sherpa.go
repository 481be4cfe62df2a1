// Package sherpa implements the wake.Loader and wake.Model interfaces on top
// of the sherpa-onnx keyword spotter.
//
// A model is a directory containing the transducer graphs and vocabulary the
// spotter expects:
//
//	encoder.onnx
//	decoder.onnx
//	joiner.onnx
//	tokens.txt
//	keywords.txt
//
// The spotter itself is stateless and shared; per-session decode state lives
// in an online stream opened per wake.Stream. Stream calls into a shared
// spotter are serialized with a per-model mutex held only for the duration
// of a single inference call. Distinct models never contend.
package sherpa

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/hearken-audio/hearken/pkg/audio"
	"github.com/hearken-audio/hearken/pkg/wake"
)

// Loader creates sherpa-onnx keyword spotter models.
type Loader struct {
	// Threshold is the spotter's internal keyword threshold. Lower values
	// make the spotter more sensitive; the pipeline applies its own
	// confidence gating on top. Zero means the sherpa default.
	Threshold float32

	// NumThreads is the ONNX runtime thread count per model. Zero means 2.
	NumThreads int
}

// Load initialises a spotter from the model directory at path.
func (l *Loader) Load(path string) (wake.Model, error) {
	for _, name := range []string{"encoder.onnx", "decoder.onnx", "joiner.onnx", "tokens.txt", "keywords.txt"} {
		if _, err := os.Stat(filepath.Join(path, name)); err != nil {
			return nil, fmt.Errorf("sherpa: model %q: missing %s: %w", path, name, err)
		}
	}

	threads := l.NumThreads
	if threads == 0 {
		threads = 2
	}

	config := sherpa.KeywordSpotterConfig{}
	config.FeatConfig.SampleRate = audio.SampleRate
	config.FeatConfig.FeatureDim = 80
	config.ModelConfig.Transducer.Encoder = filepath.Join(path, "encoder.onnx")
	config.ModelConfig.Transducer.Decoder = filepath.Join(path, "decoder.onnx")
	config.ModelConfig.Transducer.Joiner = filepath.Join(path, "joiner.onnx")
	config.ModelConfig.Tokens = filepath.Join(path, "tokens.txt")
	config.ModelConfig.NumThreads = threads
	config.ModelConfig.Provider = "cpu"
	config.KeywordsFile = filepath.Join(path, "keywords.txt")
	if l.Threshold > 0 {
		config.KeywordsThreshold = l.Threshold
	}

	spotter := sherpa.NewKeywordSpotter(&config)
	if spotter == nil {
		return nil, fmt.Errorf("sherpa: failed to create keyword spotter from %q", path)
	}

	return &model{path: path, spotter: spotter}, nil
}

// Ensure Loader implements wake.Loader at compile time.
var _ wake.Loader = (*Loader)(nil)

type model struct {
	path string

	mu      sync.Mutex
	spotter *sherpa.KeywordSpotter
}

// NewStream opens a fresh online stream against the shared spotter.
func (m *model) NewStream() (wake.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.spotter == nil {
		return nil, fmt.Errorf("sherpa: model %q is closed", m.path)
	}
	st := sherpa.NewKeywordStream(m.spotter)
	if st == nil {
		return nil, fmt.Errorf("sherpa: failed to create keyword stream for %q", m.path)
	}
	return &stream{model: m, stream: st}, nil
}

// Close releases the underlying sherpa-onnx spotter. Safe to call twice.
// Streams still open keep their native handle until their own Close; their
// Infer calls fail once the spotter is gone.
func (m *model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.spotter != nil {
		sherpa.DeleteKeywordSpotter(m.spotter)
		m.spotter = nil
	}
	return nil
}

// Ensure model implements wake.Model at compile time.
var _ wake.Model = (*model)(nil)

// stream is one session's decode state. The native online stream is owned by
// the stream value; decode calls share the model's spotter under its mutex.
type stream struct {
	model  *model
	stream *sherpa.OnlineStream
}

// Infer feeds one frame into the spotter and drains its decoder. The spotter
// reports discrete keyword hits rather than a continuous score, so a hit maps
// to probability 1 and anything else to 0; the detection engine's threshold
// comparison works unchanged on those values.
func (s *stream) Infer(frame []float32) (float32, error) {
	s.model.mu.Lock()
	defer s.model.mu.Unlock()

	if s.model.spotter == nil || s.stream == nil {
		return 0, fmt.Errorf("sherpa: model %q is closed", s.model.path)
	}

	s.stream.AcceptWaveform(audio.SampleRate, frame)

	hit := false
	for s.model.spotter.IsReady(s.stream) {
		s.model.spotter.Decode(s.stream)
		result := s.model.spotter.GetResult(s.stream)
		if result.Keyword != "" {
			hit = true
			s.model.spotter.Reset(s.stream)
		}
	}
	if hit {
		return 1, nil
	}
	return 0, nil
}

// Reset discards the decoder context accumulated by previous utterances.
func (s *stream) Reset() {
	s.model.mu.Lock()
	defer s.model.mu.Unlock()

	if s.model.spotter != nil && s.stream != nil {
		s.model.spotter.Reset(s.stream)
	}
}

// Close releases the native stream. Safe to call twice.
func (s *stream) Close() error {
	s.model.mu.Lock()
	defer s.model.mu.Unlock()

	if s.stream != nil {
		sherpa.DeleteOnlineStream(s.stream)
		s.stream = nil
	}
	return nil
}

// Ensure stream implements wake.Stream at compile time.
var _ wake.Stream = (*stream)(nil)

// Package detect implements the wake word detection engine: per-frame
// inference across the session's selected model set, with confidence
// thresholding, consecutive-frame debounce, trigger hysteresis, and a
// refractory window after each detection.
//
// The engine owns no locks across model calls. Any serialization a backend
// needs lives inside its wake.Stream implementation and is scoped to a single
// inference call, so one slow model never blocks unrelated sessions.
package detect

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hearken-audio/hearken/internal/observe"
	"github.com/hearken-audio/hearken/pkg/wake"
)

// Config holds the gating parameters shared by all detectors of a session.
type Config struct {
	// Threshold is the probability at or above which a frame counts toward a
	// detection. Comparison is inclusive.
	Threshold float32

	// TriggerLevel is the number of consecutive qualifying frames required
	// before a detection fires. Minimum 1.
	TriggerLevel int

	// Refractory is the window after a detection during which the same model
	// cannot fire again.
	Refractory time.Duration

	// DebugProbability emits a diagnostic event (and a debug log line) for
	// every evaluated frame, not just triggers.
	DebugProbability bool
}

// Event is the result of evaluating one frame against one model.
// Non-triggered events are only produced in debug mode.
type Event struct {
	// Model is the model key.
	Model string

	// Probability is the raw model output for this frame.
	Probability float32

	// Timestamp is the frame's offset from the start of the utterance.
	Timestamp time.Duration

	// Triggered reports whether this frame completed a detection.
	Triggered bool
}

// Detector tracks the debounce state of one model within one session.
// Detectors are session-local: two sessions watching the same model hold
// independent Detector values, each around its own wake.Stream, so one
// session's audio never advances another session's decode.
type Detector struct {
	// Key is the model key this detector reports as.
	Key string

	stream        wake.Stream
	triggersLeft  int
	above         bool // hysteresis: last frame met the threshold
	fired         bool // any detection in the current utterance
	lastTriggered time.Time
}

// Fired reports whether this detector triggered at least once in the current
// utterance.
func (d *Detector) Fired() bool { return d.fired }

// Close releases the detector's decode stream.
func (d *Detector) Close() error { return d.stream.Close() }

// Engine evaluates frames for one session. It is owned by the session
// goroutine and is not safe for concurrent use.
type Engine struct {
	cfg     Config
	metrics *observe.Metrics
	now     func() time.Time
}

// NewEngine creates a detection engine. metrics may be nil in tests.
func NewEngine(cfg Config, metrics *observe.Metrics) *Engine {
	if cfg.TriggerLevel < 1 {
		cfg.TriggerLevel = 1
	}
	return &Engine{cfg: cfg, metrics: metrics, now: time.Now}
}

// NewDetector binds a decode stream to fresh session-local debounce state.
func (e *Engine) NewDetector(key string, stream wake.Stream) *Detector {
	return &Detector{
		Key:          key,
		stream:       stream,
		triggersLeft: e.cfg.TriggerLevel,
	}
}

// ResetUtterance clears per-utterance state on every detector, including the
// backend decode stream. Called at audio-start so nothing from the previous
// utterance leaks into the next.
func (e *Engine) ResetUtterance(detectors []*Detector) {
	for _, d := range detectors {
		d.stream.Reset()
		d.triggersLeft = e.cfg.TriggerLevel
		d.above = false
		d.fired = false
		d.lastTriggered = time.Time{}
	}
}

// Evaluate runs one frame through every detector and returns the resulting
// events. speech=false marks a silence frame: inference is skipped and the
// consecutive-hit counters decay, so a long pause restarts the debounce.
//
// A failing model is skipped for this frame only; remaining detectors are
// unaffected.
func (e *Engine) Evaluate(ctx context.Context, frame []float32, ts time.Duration, detectors []*Detector, speech bool) []Event {
	if !speech {
		for _, d := range detectors {
			d.triggersLeft = e.cfg.TriggerLevel
			d.above = false
		}
		return nil
	}

	var events []Event
	for _, d := range detectors {
		start := e.now()
		prob, err := d.stream.Infer(frame)
		if e.metrics != nil {
			e.metrics.InferenceDuration.Record(ctx, e.now().Sub(start).Seconds(),
				metric.WithAttributes(attribute.String("model", d.Key)))
		}
		if err != nil {
			slog.Warn("model inference failed", "model", d.Key, "err", err)
			if e.metrics != nil {
				e.metrics.InferenceErrors.Add(ctx, 1,
					metric.WithAttributes(attribute.String("model", d.Key)))
			}
			continue
		}

		if e.cfg.DebugProbability {
			slog.Debug("frame probability", "model", d.Key, "probability", prob, "timestamp", ts)
		}

		triggered := e.advance(d, prob)
		if triggered {
			slog.Debug("wake word detected", "model", d.Key, "timestamp", ts)
			if e.metrics != nil {
				e.metrics.Detections.Add(ctx, 1,
					metric.WithAttributes(attribute.String("model", d.Key)))
			}
		}

		if triggered || e.cfg.DebugProbability {
			events = append(events, Event{
				Model:       d.Key,
				Probability: prob,
				Timestamp:   ts,
				Triggered:   triggered,
			})
		}
	}
	return events
}

// advance applies one probability to a detector's debounce state and reports
// whether it triggered.
func (e *Engine) advance(d *Detector, prob float32) bool {
	if prob < e.cfg.Threshold {
		// Below threshold: restart the consecutive count and release the
		// hysteresis latch so the model may trigger again.
		d.triggersLeft = e.cfg.TriggerLevel
		d.above = false
		return false
	}

	// Hysteresis: after a trigger the probability must dip below the
	// threshold before the same model can start a new count.
	if d.above {
		return false
	}

	// Refractory window after a detection.
	if !d.lastTriggered.IsZero() && e.now().Sub(d.lastTriggered) < e.cfg.Refractory {
		return false
	}

	d.triggersLeft--
	if d.triggersLeft > 0 {
		return false
	}

	d.triggersLeft = e.cfg.TriggerLevel
	d.above = true
	d.fired = true
	d.lastTriggered = e.now()
	return true
}

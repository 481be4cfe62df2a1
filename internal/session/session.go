// Package session implements the per-connection controller that drives the
// wake word pipeline: it owns the frame buffer, the active detector set and
// the utterance state machine, and it turns inbound control messages plus
// audio chunks into outbound detection events.
//
// A Controller is single-goroutine: the server feeds it messages in arrival
// order and never calls it concurrently. All inference for a session happens
// synchronously inside HandleAudioChunk / HandleAudioStop, which is what
// guarantees that every buffered frame is evaluated before a not-detected
// verdict goes out.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hearken-audio/hearken/internal/detect"
	"github.com/hearken-audio/hearken/internal/info"
	"github.com/hearken-audio/hearken/internal/observe"
	"github.com/hearken-audio/hearken/internal/protocol"
	"github.com/hearken-audio/hearken/internal/registry"
	"github.com/hearken-audio/hearken/pkg/audio"
	"github.com/hearken-audio/hearken/pkg/vad"
)

// Emitter delivers outbound messages to the client. Implementations belong
// to the transport; an Emit error is a connection fault and ends the session.
type Emitter interface {
	Emit(ctx context.Context, typ string, data any) error
}

// Config carries the per-session pipeline settings.
type Config struct {
	Detect           detect.Config
	FrameSamples     int
	SilencePrefillMs int

	// VADThreshold enables speech gating when > 0 and a VAD engine is
	// provided.
	VADThreshold float64
}

type state int

const (
	stateIdle state = iota
	stateStreaming
)

// Controller runs one session.
type Controller struct {
	id      string
	cfg     Config
	log     *slog.Logger
	reg     *registry.Registry
	pub     *info.Publisher
	emit    Emitter
	metrics *observe.Metrics

	engine   *detect.Engine
	buf      *audio.FrameBuffer
	frameDur time.Duration

	vadSess vad.SessionHandle // nil when gating is disabled

	st        state
	conv      *audio.FormatConverter
	names     []string // from the last detect message; nil means all loaded
	detectors []*detect.Detector
	ts        time.Duration // utterance clock; starts negative to skip prefill
	utterSpan trace.Span    // open between audio-start and audio-stop
}

// New creates a controller. vadEngine may be nil; metrics may be nil in
// tests.
func New(id string, cfg Config, log *slog.Logger, reg *registry.Registry, pub *info.Publisher, vadEngine vad.Engine, emit Emitter, metrics *observe.Metrics) (*Controller, error) {
	c := &Controller{
		id:       id,
		cfg:      cfg,
		log:      log.With("session", id),
		reg:      reg,
		pub:      pub,
		emit:     emit,
		metrics:  metrics,
		engine:   detect.NewEngine(cfg.Detect, metrics),
		buf:      audio.NewFrameBuffer(cfg.FrameSamples, cfg.SilencePrefillMs),
		frameDur: time.Duration(cfg.FrameSamples) * time.Second / audio.SampleRate,
	}
	if vadEngine != nil && cfg.VADThreshold > 0 {
		sess, err := vadEngine.NewSession(vad.Config{
			SampleRate: audio.SampleRate,
			Threshold:  cfg.VADThreshold,
		})
		if err != nil {
			return nil, fmt.Errorf("session %s: create vad session: %w", id, err)
		}
		c.vadSess = sess
	}
	return c, nil
}

// Close releases session-local resources: the per-session decode streams
// and the VAD session. It does not touch model handles, which are shared and
// owned by the registry.
func (c *Controller) Close() error {
	c.endUtterance()
	c.closeDetectors()
	if c.vadSess != nil {
		return c.vadSess.Close()
	}
	return nil
}

// endUtterance closes the utterance span, recording whether anything fired.
func (c *Controller) endUtterance() {
	if c.utterSpan == nil {
		return
	}
	fired := false
	for _, d := range c.detectors {
		fired = fired || d.Fired()
	}
	c.utterSpan.SetAttributes(attribute.Bool("detected", fired))
	c.utterSpan.End()
	c.utterSpan = nil
}

// EmitError sends a structured diagnostic without ending the session.
func (c *Controller) EmitError(ctx context.Context, kind, message string) error {
	c.log.Warn("session error", "kind", kind, "message", message)
	return c.emit.Emit(ctx, protocol.TypeError, protocol.ServerError{Kind: kind, Message: message})
}

// HandleDescribe answers with the current capability snapshot.
func (c *Controller) HandleDescribe(ctx context.Context) error {
	return c.emit.Emit(ctx, protocol.TypeInfo, c.pub.Describe())
}

// HandleDetect records the requested model set. Names are resolved at the
// next audio-start, so a reload between now and then is picked up.
func (c *Controller) HandleDetect(ctx context.Context, names []string) error {
	c.names = names
	c.log.Debug("model set requested", "names", names)
	return nil
}

// HandleAudioStart begins a new utterance: it resets all per-utterance
// state, seeds the silence prefill and resolves the active detector set.
func (c *Controller) HandleAudioStart(ctx context.Context, start protocol.AudioStart) error {
	c.endUtterance()
	if start.Width != audio.SampleWidth {
		c.st = stateIdle
		return c.emit.Emit(ctx, protocol.TypeError, protocol.ServerError{
			Kind:    protocol.ErrKindBadRequest,
			Message: fmt.Sprintf("unsupported sample width %d, want %d", start.Width, audio.SampleWidth),
		})
	}
	rate, channels := start.Rate, start.Channels
	if rate <= 0 {
		rate = audio.SampleRate
	}
	if channels <= 0 {
		channels = audio.Channels
	}
	// The converter downmixes stereo; anything wider has no defined layout.
	if channels > 2 {
		c.st = stateIdle
		return c.emit.Emit(ctx, protocol.TypeError, protocol.ServerError{
			Kind:    protocol.ErrKindBadRequest,
			Message: fmt.Sprintf("unsupported channel count %d, want 1 or 2", channels),
		})
	}
	c.conv = audio.NewFormatConverter(rate, channels)

	c.buf.Reset()
	if c.vadSess != nil {
		c.vadSess.Reset()
	}
	if err := c.buildDetectors(ctx); err != nil {
		return err
	}
	c.engine.ResetUtterance(c.detectors)
	c.ts = -time.Duration(c.cfg.SilencePrefillMs) * time.Millisecond
	c.st = stateStreaming
	_, c.utterSpan = observe.StartSpan(ctx, "utterance",
		trace.WithAttributes(attribute.Int("models", len(c.detectors))))
	c.log.Debug("utterance started", "rate", rate, "channels", channels, "models", len(c.detectors))
	return nil
}

// HandleAudioChunk converts and buffers a PCM chunk, then evaluates every
// complete frame it yields. Chunks outside an utterance are dropped.
func (c *Controller) HandleAudioChunk(ctx context.Context, pcm []byte) error {
	if c.st != stateStreaming {
		c.log.Debug("audio chunk outside utterance, dropping", "bytes", len(pcm))
		return nil
	}
	if c.metrics != nil {
		c.metrics.AudioBytes.Add(ctx, int64(len(pcm)))
	}
	if err := c.buf.Push(c.conv.Convert(pcm)); err != nil {
		c.log.Warn("dropping malformed audio chunk", "bytes", len(pcm), "error", err)
		if c.metrics != nil {
			c.metrics.FramingErrors.Add(ctx, 1)
		}
		return c.emit.Emit(ctx, protocol.TypeError, protocol.ServerError{
			Kind:    protocol.ErrKindFraming,
			Message: err.Error(),
		})
	}
	return c.drainFrames(ctx)
}

// HandleAudioStop ends the utterance. Every frame still buffered is
// evaluated before the verdict: if nothing fired during the whole utterance,
// a not-detected message closes it out.
func (c *Controller) HandleAudioStop(ctx context.Context) error {
	if c.st != stateStreaming {
		c.log.Debug("audio stop outside utterance, ignoring")
		return nil
	}
	c.st = stateIdle
	if err := c.drainFrames(ctx); err != nil {
		return err
	}
	c.endUtterance()
	for _, d := range c.detectors {
		if d.Fired() {
			return nil
		}
	}
	return c.emit.Emit(ctx, protocol.TypeNotDetected, nil)
}

// closeDetectors releases the decode streams held by the current detector
// set.
func (c *Controller) closeDetectors() {
	for _, d := range c.detectors {
		if err := d.Close(); err != nil {
			c.log.Warn("closing decode stream failed", "model", d.Key, "error", err)
		}
	}
	c.detectors = c.detectors[:0]
}

// buildDetectors resolves the requested names against the registry, opening
// a session-owned decode stream per model. Unknown names and load failures
// are reported as error messages and skipped; the remaining models stay
// active. An empty request means every model that is currently loaded.
func (c *Controller) buildDetectors(ctx context.Context) error {
	c.closeDetectors()
	var entries []*registry.Entry
	if len(c.names) == 0 {
		for _, e := range c.reg.List() {
			if e.Loaded() {
				entries = append(entries, e)
			}
		}
	} else {
		for _, name := range c.names {
			e, err := c.reg.Resolve(name)
			if err != nil {
				c.log.Warn("unknown model requested", "name", name)
				if err := c.emit.Emit(ctx, protocol.TypeError, protocol.ServerError{
					Kind:    protocol.ErrKindUnknownModel,
					Message: fmt.Sprintf("unknown model %q", name),
				}); err != nil {
					return err
				}
				continue
			}
			entries = append(entries, e)
		}
	}
	for _, e := range entries {
		model, err := e.Model()
		if err != nil {
			c.log.Error("model failed to load", "model", e.Key, "error", err)
			if err := c.emit.Emit(ctx, protocol.TypeError, protocol.ServerError{
				Kind:    protocol.ErrKindModelLoad,
				Message: fmt.Sprintf("model %q failed to load: %v", e.Key, err),
			}); err != nil {
				return err
			}
			continue
		}
		stream, err := model.NewStream()
		if err != nil {
			c.log.Error("opening decode stream failed", "model", e.Key, "error", err)
			if err := c.emit.Emit(ctx, protocol.TypeError, protocol.ServerError{
				Kind:    protocol.ErrKindModelLoad,
				Message: fmt.Sprintf("model %q failed to open a stream: %v", e.Key, err),
			}); err != nil {
				return err
			}
			continue
		}
		c.detectors = append(c.detectors, c.engine.NewDetector(e.Key, stream))
	}
	if len(c.detectors) == 0 {
		c.log.Warn("utterance has no active models")
	}
	return nil
}

// drainFrames evaluates every complete frame currently buffered. The context
// is checked between frames so a dying connection stops paying for
// inference.
func (c *Controller) drainFrames(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame := c.buf.PopFrame()
		if frame == nil {
			return nil
		}
		if err := c.evaluateFrame(ctx, frame); err != nil {
			return err
		}
	}
}

func (c *Controller) evaluateFrame(ctx context.Context, frame []float32) error {
	speech := true
	if c.vadSess != nil {
		ev, err := c.vadSess.ProcessFrame(frame)
		if err != nil {
			// Fail open: a broken gate must not eat wake words.
			c.log.Warn("vad failed, treating frame as speech", "error", err)
		} else {
			speech = ev.Speech
		}
	}

	events := c.engine.Evaluate(ctx, frame, c.ts, c.detectors, speech)
	c.ts += c.frameDur
	for _, ev := range events {
		if !ev.Triggered {
			continue
		}
		ms := ev.Timestamp.Milliseconds()
		if ms < 0 {
			ms = 0
		}
		c.log.Info("wake word detected", "model", ev.Model, "probability", ev.Probability, "timestamp_ms", ms)
		if err := c.emit.Emit(ctx, protocol.TypeDetection, protocol.Detection{
			Name:      ev.Model,
			Timestamp: ms,
		}); err != nil {
			return err
		}
	}
	return nil
}

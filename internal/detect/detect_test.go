package detect_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hearken-audio/hearken/internal/detect"
	"github.com/hearken-audio/hearken/pkg/wake"
	wakemock "github.com/hearken-audio/hearken/pkg/wake/mock"
)

var frame = make([]float32, 1280)

// newStream opens a decode stream on a mock model, failing the test on
// error.
func newStream(t *testing.T, m *wakemock.Model) wake.Stream {
	t.Helper()
	st, err := m.NewStream()
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	return st
}

// evaluateSeq pushes a probability script through a single detector and
// returns which frame indices triggered.
func evaluateSeq(t *testing.T, cfg detect.Config, probs []float32) []int {
	t.Helper()

	model := &wakemock.Model{Probabilities: probs}
	eng := detect.NewEngine(cfg, nil)
	det := eng.NewDetector("okay_nabu", newStream(t, model))

	var triggered []int
	for i := range probs {
		events := eng.Evaluate(context.Background(), frame, time.Duration(i)*80*time.Millisecond,
			[]*detect.Detector{det}, true)
		for _, ev := range events {
			if ev.Triggered {
				triggered = append(triggered, i)
			}
		}
	}
	return triggered
}

func TestEvaluate_ImmediateTrigger(t *testing.T) {
	t.Parallel()

	got := evaluateSeq(t, detect.Config{Threshold: 0.5, TriggerLevel: 1},
		[]float32{0.1, 0.9, 0.2})
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("triggered frames: want [1], got %v", got)
	}
}

func TestEvaluate_ThresholdIsInclusive(t *testing.T) {
	t.Parallel()

	got := evaluateSeq(t, detect.Config{Threshold: 0.5, TriggerLevel: 1},
		[]float32{0.5})
	if len(got) != 1 {
		t.Fatalf("probability == threshold must trigger, got %v", got)
	}
}

func TestEvaluate_TriggerLevelThree(t *testing.T) {
	t.Parallel()

	// Two qualifying frames, a dip, then three qualifying frames: the dip
	// must restart the count, so only frame index 6 triggers.
	got := evaluateSeq(t, detect.Config{Threshold: 0.5, TriggerLevel: 3},
		[]float32{0.9, 0.9, 0.1, 0.0, 0.9, 0.9, 0.9})
	if len(got) != 1 || got[0] != 6 {
		t.Fatalf("triggered frames: want [6], got %v", got)
	}
}

func TestEvaluate_HysteresisBlocksRetrigger(t *testing.T) {
	t.Parallel()

	// After the trigger at index 1, sustained high probability must not
	// re-trigger; a dip below threshold re-arms, and index 4 fires again.
	got := evaluateSeq(t, detect.Config{Threshold: 0.5, TriggerLevel: 1},
		[]float32{0.9, 0.9, 0.9, 0.1, 0.9})
	// Index 0 triggers immediately with trigger level 1.
	if len(got) != 2 || got[0] != 0 || got[1] != 4 {
		t.Fatalf("triggered frames: want [0 4], got %v", got)
	}
}

func TestEvaluate_RefractoryWindow(t *testing.T) {
	t.Parallel()

	model := &wakemock.Model{Probabilities: []float32{0.9, 0.1, 0.9, 0.1, 0.9}}
	eng := detect.NewEngine(detect.Config{Threshold: 0.5, TriggerLevel: 1, Refractory: 10 * time.Second}, nil)

	clock := time.Unix(1000, 0)
	eng.SetClock(func() time.Time { return clock })
	det := eng.NewDetector("okay_nabu", newStream(t, model))

	var triggered []int
	for i := 0; i < 5; i++ {
		events := eng.Evaluate(context.Background(), frame, 0, []*detect.Detector{det}, true)
		for _, ev := range events {
			if ev.Triggered {
				triggered = append(triggered, i)
			}
		}
		clock = clock.Add(time.Second)
	}

	// Frame 2 is re-armed by the dip at frame 1 but still inside the 10s
	// refractory window; so is frame 4.
	if len(triggered) != 1 || triggered[0] != 0 {
		t.Fatalf("triggered frames: want [0], got %v", triggered)
	}
}

func TestEvaluate_SilenceDecaysDebounce(t *testing.T) {
	t.Parallel()

	model := &wakemock.Model{Probabilities: []float32{0.9, 0.9, 0.9}}
	eng := detect.NewEngine(detect.Config{Threshold: 0.5, TriggerLevel: 3}, nil)
	det := eng.NewDetector("okay_nabu", newStream(t, model))
	dets := []*detect.Detector{det}
	ctx := context.Background()

	// Two qualifying speech frames...
	eng.Evaluate(ctx, frame, 0, dets, true)
	eng.Evaluate(ctx, frame, 0, dets, true)
	// ...then silence: inference must be skipped and the count reset.
	if events := eng.Evaluate(ctx, frame, 0, dets, false); events != nil {
		t.Fatalf("silence frame produced events: %v", events)
	}
	if model.Infers() != 2 {
		t.Fatalf("silence frame ran inference: %d calls", model.Infers())
	}
	// The next qualifying frame is a fresh count of 1/3, so no trigger.
	events := eng.Evaluate(ctx, frame, 0, dets, true)
	for _, ev := range events {
		if ev.Triggered {
			t.Fatal("trigger after silence reset: count did not restart")
		}
	}
}

func TestEvaluate_InferenceFailureIsIsolated(t *testing.T) {
	t.Parallel()

	broken := &wakemock.Model{InferErr: errors.New("graph exploded")}
	healthy := &wakemock.Model{Probabilities: []float32{0.9}}
	eng := detect.NewEngine(detect.Config{Threshold: 0.5, TriggerLevel: 1}, nil)
	dets := []*detect.Detector{
		eng.NewDetector("broken", newStream(t, broken)),
		eng.NewDetector("healthy", newStream(t, healthy)),
	}

	events := eng.Evaluate(context.Background(), frame, 0, dets, true)
	if len(events) != 1 || events[0].Model != "healthy" || !events[0].Triggered {
		t.Fatalf("healthy model must trigger despite broken sibling, got %v", events)
	}
}

func TestEvaluate_DebugModeEmitsDiagnostics(t *testing.T) {
	t.Parallel()

	model := &wakemock.Model{Probabilities: []float32{0.2}}
	eng := detect.NewEngine(detect.Config{Threshold: 0.5, TriggerLevel: 1, DebugProbability: true}, nil)
	det := eng.NewDetector("okay_nabu", newStream(t, model))

	events := eng.Evaluate(context.Background(), frame, 0, []*detect.Detector{det}, true)
	if len(events) != 1 || events[0].Triggered {
		t.Fatalf("debug mode: want one non-triggered diagnostic, got %v", events)
	}
	if events[0].Probability != 0.2 {
		t.Errorf("Probability: want 0.2, got %v", events[0].Probability)
	}
}

func TestResetUtterance(t *testing.T) {
	t.Parallel()

	model := &wakemock.Model{Probabilities: []float32{0.9, 0.9}}
	eng := detect.NewEngine(detect.Config{Threshold: 0.5, TriggerLevel: 1, Refractory: time.Hour}, nil)
	det := eng.NewDetector("okay_nabu", newStream(t, model))
	dets := []*detect.Detector{det}
	ctx := context.Background()

	eng.Evaluate(ctx, frame, 0, dets, true)
	if !det.Fired() {
		t.Fatal("expected first utterance to fire")
	}

	// New utterance: fired flag and the hour-long refractory are cleared.
	eng.ResetUtterance(dets)
	if det.Fired() {
		t.Fatal("Fired must clear on utterance reset")
	}
	events := eng.Evaluate(ctx, frame, 0, dets, true)
	if len(events) != 1 || !events[0].Triggered {
		t.Fatalf("detector must trigger in fresh utterance, got %v", events)
	}
}

// TestEvaluate_SessionIsolation runs two sessions against one shared model
// handle, each with its own decode stream, and confirms debounce state stays
// session-local.
func TestEvaluate_SessionIsolation(t *testing.T) {
	t.Parallel()

	shared := &wakemock.Model{Probabilities: []float32{0.9}}
	cfg := detect.Config{Threshold: 0.5, TriggerLevel: 3}

	engA := detect.NewEngine(cfg, nil)
	engB := detect.NewEngine(cfg, nil)
	detA := engA.NewDetector("okay_nabu", newStream(t, shared))
	detB := engB.NewDetector("okay_nabu", newStream(t, shared))
	ctx := context.Background()

	// Session A sees two qualifying frames, session B sees three.
	engA.Evaluate(ctx, frame, 0, []*detect.Detector{detA}, true)
	engA.Evaluate(ctx, frame, 0, []*detect.Detector{detA}, true)

	var bTriggered bool
	for range 3 {
		for _, ev := range engB.Evaluate(ctx, frame, 0, []*detect.Detector{detB}, true) {
			bTriggered = bTriggered || ev.Triggered
		}
	}

	if detA.Fired() {
		t.Error("session A fired with only 2/3 qualifying frames")
	}
	if !bTriggered || !detB.Fired() {
		t.Error("session B should fire on its 3rd qualifying frame")
	}
}

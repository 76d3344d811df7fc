package delta

import (
	"testing"
	"time"

	"waterwatch/internal/shifts"
)

func defaultSpecs(tag string) CounterSpec { return CounterSpec{} }

func testWindow(t *testing.T) shifts.Window {
	t.Helper()
	loc := time.UTC
	return shifts.ShiftAt(time.Date(2026, 4, 1, 8, 0, 0, 0, loc), loc)
}

func sample(raw float64) Sample {
	return Sample{Tag: "PC_Line_Total", At: time.Now(), Raw: raw}
}

func TestComputeNormalDelta(t *testing.T) {
	engine, err := NewEngine(defaultSpecs)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	d := engine.Compute(testWindow(t), sample(1000), sample(1500))
	if d.Value != 500 {
		t.Fatalf("expected 500, got %v", d.Value)
	}
	if d.Confidence != ConfidenceNormal {
		t.Fatalf("expected normal confidence, got %s", d.Confidence)
	}
	if !d.Accepted() {
		t.Fatal("normal delta must be accepted")
	}
}

func TestComputeResetCorrection(t *testing.T) {
	engine, err := NewEngine(func(string) CounterSpec {
		return CounterSpec{Capacity: Counter32Capacity}
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	// A drop from 300M to 500k is far below the rollover zone of a
	// 32-bit counter, so it reads as a device reset.
	d := engine.Compute(testWindow(t), sample(300_000_000), sample(500_000))
	if d.Confidence != ConfidenceReset {
		t.Fatalf("expected reset correction, got %s", d.Confidence)
	}
	if d.Value != 500_000 {
		t.Fatalf("expected post-reset usage 500000, got %v", d.Value)
	}
}

func TestComputeOverflowCorrection(t *testing.T) {
	engine, err := NewEngine(defaultSpecs)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	start := 0.95 * DefaultCapacity
	end := 0.05 * DefaultCapacity
	d := engine.Compute(testWindow(t), sample(start), sample(end))
	if d.Confidence != ConfidenceOverflow {
		t.Fatalf("expected overflow correction, got %s", d.Confidence)
	}
	want := (DefaultCapacity - start) + end
	if diff := d.Value - want; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("expected %v, got %v", want, d.Value)
	}
}

func TestComputeNeverNegative(t *testing.T) {
	engine, err := NewEngine(defaultSpecs)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	cases := []struct {
		name       string
		start, end float64
	}{
		{"flat", 42000, 42000},
		{"reset", 500000, 100},
		{"rollover", 0.99 * DefaultCapacity, 12},
		{"zero to zero", 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := engine.Compute(testWindow(t), sample(tc.start), sample(tc.end))
			if d.Value < 0 {
				t.Fatalf("negative delta %v from start=%v end=%v", d.Value, tc.start, tc.end)
			}
		})
	}
}

func TestComputeRejectsImpossibleSpan(t *testing.T) {
	engine, err := NewEngine(func(string) CounterSpec {
		return CounterSpec{Capacity: 1000}
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	d := engine.Compute(testWindow(t), sample(0), sample(5000))
	if d.Confidence != ConfidenceRejected {
		t.Fatalf("expected rejected, got %s", d.Confidence)
	}
	if d.Accepted() {
		t.Fatal("rejected delta must not be accepted")
	}
}

func TestCommitRetainsCounterState(t *testing.T) {
	engine, err := NewEngine(defaultSpecs)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	window := testWindow(t)
	start := sample(1000)
	end := sample(1500)
	d := engine.Compute(window, start, end)

	if _, ok := engine.State("PC_Line_Total"); ok {
		t.Fatal("compute must not touch counter state")
	}
	engine.Commit("PC_Line_Total", d, start, end)
	state, ok := engine.State("PC_Line_Total")
	if !ok {
		t.Fatal("expected state after commit")
	}
	if state.LastRaw != 1500 || state.WindowStartRaw != 1000 {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestCommitTracksSuspectedCapacity(t *testing.T) {
	engine, err := NewEngine(defaultSpecs)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	window := testWindow(t)
	start := sample(0.97 * DefaultCapacity)
	end := sample(100)
	d := engine.Compute(window, start, end)
	if d.Confidence != ConfidenceOverflow {
		t.Fatalf("expected overflow, got %s", d.Confidence)
	}
	engine.Commit("PC_Line_Total", d, start, end)
	state, _ := engine.State("PC_Line_Total")
	if state.SuspectedCapacity != start.Raw {
		t.Fatalf("expected suspected capacity %v, got %v", start.Raw, state.SuspectedCapacity)
	}
}

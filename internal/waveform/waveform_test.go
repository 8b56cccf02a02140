package waveform

import (
	"math"
	"math/rand"
	"testing"

	"github.com/labbench/controller/internal/types"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSineLoopsToCenter(t *testing.T) {
	steps := Generate(types.WaveformSine, types.ParametricParams{Min: 0, Max: 10, PointsPerCycle: 8, IntervalMs: 100})
	if len(steps) != 8 {
		t.Fatalf("expected 8 steps, got %d", len(steps))
	}
	center := 5.0
	last := steps[len(steps)-1].Value
	if !almostEqual(last, center) {
		t.Fatalf("expected last sine sample to equal center %v, got %v", center, last)
	}
}

func TestTriangleEndsAtMin(t *testing.T) {
	steps := Generate(types.WaveformTriangle, types.ParametricParams{Min: 2, Max: 9, PointsPerCycle: 6, IntervalMs: 50})
	last := steps[len(steps)-1].Value
	if !almostEqual(last, 2) {
		t.Fatalf("expected triangle to end at min 2, got %v", last)
	}
}

func TestSquareHalfDuty(t *testing.T) {
	steps := Generate(types.WaveformSquare, types.ParametricParams{Min: 0, Max: 1, PointsPerCycle: 4, IntervalMs: 10})
	want := []float64{1, 1, 0, 0}
	for i, s := range steps {
		if !almostEqual(s.Value, want[i]) {
			t.Fatalf("step %d: want %v got %v", i, want[i], s.Value)
		}
	}
}

func TestRampSinglePoint(t *testing.T) {
	steps := Generate(types.WaveformRamp, types.ParametricParams{Min: 3, Max: 7, PointsPerCycle: 1, IntervalMs: 10})
	if len(steps) != 1 || !almostEqual(steps[0].Value, 3) {
		t.Fatalf("expected single ramp sample at min, got %+v", steps)
	}
}

func TestMinEqualsMaxIsConstant(t *testing.T) {
	steps := Generate(types.WaveformRamp, types.ParametricParams{Min: 5, Max: 5, PointsPerCycle: 4, IntervalMs: 10})
	for _, s := range steps {
		if !almostEqual(s.Value, 5) {
			t.Fatalf("expected constant 5, got %v", s.Value)
		}
	}
}

func TestRandomWalkContinuity(t *testing.T) {
	p := types.RandomWalkParams{StartValue: 5, MaxStepSize: 1, Min: 0, Max: 10, PointsPerCycle: 50, IntervalMs: 10}
	rng := rand.New(rand.NewSource(1))
	steps := GenerateRandomWalk(p, p.StartValue, rng)
	prev := p.StartValue
	for _, s := range steps {
		if s.Value < p.Min-1e-9 || s.Value > p.Max+1e-9 {
			t.Fatalf("value %v out of [min,max]", s.Value)
		}
		if math.Abs(s.Value-prev) > p.MaxStepSize+1e-9 {
			t.Fatalf("step delta %v exceeds maxStepSize %v", math.Abs(s.Value-prev), p.MaxStepSize)
		}
		prev = s.Value
	}
}

func TestModifierOrder(t *testing.T) {
	scale := 2.0
	offset := 1.0
	clampAt := 5.0
	m := Modifiers{Scale: &scale, Offset: &offset, MaxClamp: &clampAt}
	// 3*2+1 = 7, clamped to 5
	if got := m.Apply(3); got != 5 {
		t.Fatalf("expected clamp to 5, got %v", got)
	}
	// 1*2+1 = 3, under clamp
	if got := m.Apply(1); got != 3 {
		t.Fatalf("expected 3, got %v", got)
	}
}

func TestModifierIdentityWhenUnset(t *testing.T) {
	m := Modifiers{}
	if got := m.Apply(4.2); got != 4.2 {
		t.Fatalf("expected identity, got %v", got)
	}
}

func TestApplySlewLimitBoundsDelta(t *testing.T) {
	steps := []Step{{Value: 10, DwellMs: 100}, {Value: 0, DwellMs: 100}}
	out := ApplySlewLimit(steps, 0, 5) // 5 units/sec * 0.1s = 0.5 max delta per step
	if !almostEqual(out[0].Value, 0.5) {
		t.Fatalf("expected first step limited to 0.5, got %v", out[0].Value)
	}
	if out[1].Value >= out[0].Value {
		t.Fatalf("expected second step to move back down, got %v then %v", out[0].Value, out[1].Value)
	}
}

func TestApplySlewLimitDisabledWhenNonPositive(t *testing.T) {
	steps := []Step{{Value: 100, DwellMs: 10}}
	out := ApplySlewLimit(steps, 0, 0)
	if out[0].Value != 100 {
		t.Fatalf("expected passthrough when disabled, got %v", out[0].Value)
	}
}

func TestArbitraryVerbatim(t *testing.T) {
	in := []types.ArbitraryStep{{Value: 100, DwellMs: 100}, {Value: 50, DwellMs: 200}}
	out := Arbitrary(in)
	if len(out) != 2 || out[0].Value != 100 || out[1].DwellMs != 200 {
		t.Fatalf("arbitrary steps not preserved verbatim: %+v", out)
	}
}

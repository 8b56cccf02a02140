// Package waveform implements the pure step-list generator of §4.5: given
// waveform parameters, produce a deterministic ordered list of
// {value, dwellMs} steps. Nothing here touches a clock, a device, or any
// mutable package state — every function is a straight transform of its
// arguments, in the style of the teacher's free-function percentile/metric
// helpers (stopconditions/evaluator.go).
package waveform

import (
	"math"
	"math/rand"

	"github.com/labbench/controller/internal/types"
)

// Step is one generated {value, dwell} pair.
type Step struct {
	Value   float64
	DwellMs int64
}

// Generate produces the step list for a parametric waveform (sine, triangle,
// ramp, square, steps). N = PointsPerCycle, clamped to >= 1.
func Generate(kind types.WaveformKind, p types.ParametricParams) []Step {
	n := p.PointsPerCycle
	if n < 1 {
		n = 1
	}
	interval := p.IntervalMs

	switch kind {
	case types.WaveformSine:
		return sine(p.Min, p.Max, n, interval)
	case types.WaveformTriangle:
		return triangle(p.Min, p.Max, n, interval)
	case types.WaveformRamp, types.WaveformSteps:
		return rampOrSteps(p.Min, p.Max, n, interval)
	case types.WaveformSquare:
		return square(p.Min, p.Max, n, interval)
	default:
		return nil
	}
}

func sine(min, max float64, n int, interval int64) []Step {
	if n == 1 {
		center := (min + max) / 2
		return []Step{{Value: center, DwellMs: interval}}
	}
	center := (min + max) / 2
	amplitude := (max - min) / 2
	steps := make([]Step, n)
	for i := 1; i <= n; i++ {
		v := center + amplitude*math.Sin(2*math.Pi*float64(i)/float64(n))
		steps[i-1] = Step{Value: v, DwellMs: interval}
	}
	return steps
}

func triangle(min, max float64, n int, interval int64) []Step {
	if n == 1 {
		return []Step{{Value: min, DwellMs: interval}}
	}
	steps := make([]Step, n)
	for i := 1; i <= n; i++ {
		t := float64(i) / float64(n)
		var v float64
		if t <= 0.5 {
			v = min + (max-min)*2*t
		} else {
			v = max - (max-min)*2*(t-0.5)
		}
		steps[i-1] = Step{Value: v, DwellMs: interval}
	}
	return steps
}

func rampOrSteps(min, max float64, n int, interval int64) []Step {
	steps := make([]Step, n)
	for i := 0; i < n; i++ {
		var t float64
		if n > 1 {
			t = float64(i) / float64(n-1)
		}
		v := min + (max-min)*t
		steps[i] = Step{Value: v, DwellMs: interval}
	}
	return steps
}

func square(min, max float64, n int, interval int64) []Step {
	steps := make([]Step, n)
	high := n / 2
	for i := 0; i < n; i++ {
		v := max
		if i >= high {
			v = min
		}
		steps[i] = Step{Value: v, DwellMs: interval}
	}
	return steps
}

// GenerateRandomWalk produces one cycle of a random-walk waveform, seeding
// from seed (the start value on the first cycle, or the last commanded
// value of the previous cycle thereafter). rng must not be nil; callers own
// its seeding/determinism.
func GenerateRandomWalk(p types.RandomWalkParams, seed float64, rng *rand.Rand) []Step {
	n := p.PointsPerCycle
	if n < 1 {
		n = 1
	}
	if p.Min == p.Max {
		steps := make([]Step, n)
		for i := range steps {
			steps[i] = Step{Value: p.Min, DwellMs: p.IntervalMs}
		}
		return steps
	}
	if n == 1 {
		return []Step{{Value: clamp(seed, p.Min, p.Max), DwellMs: p.IntervalMs}}
	}
	steps := make([]Step, n)
	prev := seed
	for i := 0; i < n; i++ {
		delta := (rng.Float64()*2 - 1) * p.MaxStepSize
		next := clamp(prev+delta, p.Min, p.Max)
		steps[i] = Step{Value: next, DwellMs: p.IntervalMs}
		prev = next
	}
	return steps
}

// Arbitrary returns the explicit step list verbatim, applying no generation.
func Arbitrary(steps []types.ArbitraryStep) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = Step{Value: s.Value, DwellMs: s.DwellMs}
	}
	return out
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Modifiers is the §4.5/§8 modifier chain: scale -> offset -> clamp to
// maxClamp, applied in that order. Any unset pointer acts as identity.
type Modifiers struct {
	Scale    *float64
	Offset   *float64
	MaxClamp *float64
}

// Apply runs v through the modifier chain.
func (m Modifiers) Apply(v float64) float64 {
	if m.Scale != nil {
		v = v * *m.Scale
	}
	if m.Offset != nil {
		v = v + *m.Offset
	}
	if m.MaxClamp != nil && v > *m.MaxClamp {
		v = *m.MaxClamp
	}
	return v
}

// ApplySteps maps Apply over a full step list, leaving dwell untouched.
func ApplySteps(steps []Step, m Modifiers) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = Step{Value: m.Apply(s.Value), DwellMs: s.DwellMs}
	}
	return out
}

// ApplySlewLimit bounds the per-step rate of change to maxRatePerSec,
// starting from prev (the last commanded value before this step list
// began). A non-positive maxRatePerSec disables limiting.
func ApplySlewLimit(steps []Step, prev float64, maxRatePerSec float64) []Step {
	if maxRatePerSec <= 0 {
		return steps
	}
	out := make([]Step, len(steps))
	for i, s := range steps {
		dwellSec := float64(s.DwellMs) / 1000.0
		maxDelta := maxRatePerSec * dwellSec
		delta := s.Value - prev
		if delta > maxDelta {
			delta = maxDelta
		} else if delta < -maxDelta {
			delta = -maxDelta
		}
		v := prev + delta
		out[i] = Step{Value: v, DwellMs: s.DwellMs}
		prev = v
	}
	return out
}

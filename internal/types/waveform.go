package types

import "time"

// WaveformKind tags the variant of a sequence's waveform definition.
type WaveformKind string

const (
	WaveformSine     WaveformKind = "sine"
	WaveformTriangle WaveformKind = "triangle"
	WaveformRamp     WaveformKind = "ramp"
	WaveformSquare   WaveformKind = "square"
	WaveformSteps    WaveformKind = "steps"
	WaveformRandom   WaveformKind = "random"
	WaveformArbitrary WaveformKind = "arbitrary"
)

// ParametricParams describes a closed-form waveform (sine/triangle/ramp/
// square/steps).
type ParametricParams struct {
	Min            float64 `json:"min"`
	Max            float64 `json:"max"`
	PointsPerCycle int     `json:"pointsPerCycle"`
	IntervalMs     int64   `json:"intervalMs"`
}

// RandomWalkParams describes a random-walk waveform.
type RandomWalkParams struct {
	StartValue     float64 `json:"startValue"`
	MaxStepSize    float64 `json:"maxStepSize"`
	Min            float64 `json:"min"`
	Max            float64 `json:"max"`
	PointsPerCycle int     `json:"pointsPerCycle"`
	IntervalMs     int64   `json:"intervalMs"`
}

// ArbitraryStep is one explicit {value, dwell} pair in an arbitrary
// waveform's step list.
type ArbitraryStep struct {
	Value   float64 `json:"value"`
	DwellMs int64   `json:"dwellMs"`
}

// Waveform is a tagged sum type over the three waveform shapes (§3).
// Exactly one of Parametric/Random/Steps is populated, selected by Kind.
type Waveform struct {
	Kind       WaveformKind     `json:"kind"`
	Parametric ParametricParams `json:"parametric,omitempty"`
	Random     RandomWalkParams `json:"random,omitempty"`
	Steps      []ArbitraryStep  `json:"steps,omitempty"`
}

// SequenceDefinition is a durable, named playback program (§3).
type SequenceDefinition struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Unit        string    `json:"unit"`
	Waveform    Waveform  `json:"waveform"`
	PreValue    *float64  `json:"preValue,omitempty"`
	PostValue   *float64  `json:"postValue,omitempty"`
	Scale       *float64  `json:"scale,omitempty"`
	Offset      *float64  `json:"offset,omitempty"`
	MaxClamp    *float64  `json:"maxClamp,omitempty"`
	MaxSlewRate *float64  `json:"maxSlewRate,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RepeatMode controls how many cycles a sequence or trigger plays/fires.
type RepeatMode string

const (
	RepeatOnce       RepeatMode = "once"
	RepeatCount      RepeatMode = "count"
	RepeatContinuous RepeatMode = "continuous"
)

// SequenceRunConfig binds a sequence to one device parameter (§3).
type SequenceRunConfig struct {
	SequenceID  string     `json:"sequenceId"`
	DeviceID    string     `json:"deviceId"`
	Parameter   string     `json:"parameter"`
	RepeatMode  RepeatMode `json:"repeatMode"`
	RepeatCount int        `json:"repeatCount,omitempty"`
}

// SequenceExecutionState is the SequenceController lifecycle state (§4.7).
type SequenceExecutionState string

const (
	SeqIdle      SequenceExecutionState = "idle"
	SeqRunning   SequenceExecutionState = "running"
	SeqPaused    SequenceExecutionState = "paused"
	SeqCompleted SequenceExecutionState = "completed"
	SeqError     SequenceExecutionState = "error"
)

// SequenceState is the published playback state (§3).
type SequenceState struct {
	SequenceID       string                 `json:"sequenceId"`
	RunConfig        SequenceRunConfig      `json:"runConfig"`
	ExecutionState   SequenceExecutionState `json:"executionState"`
	CurrentStepIndex int                    `json:"currentStepIndex"`
	TotalSteps       int                    `json:"totalSteps"`
	CurrentCycle     int                    `json:"currentCycle"`
	TotalCycles      *int                   `json:"totalCycles,omitempty"` // nil means continuous
	StartedAt        time.Time              `json:"startedAt"`
	ElapsedMs        int64                  `json:"elapsedMs"`
	CommandedValue   float64                `json:"commandedValue"`
	Error            string                 `json:"error,omitempty"`
}

// Package types holds the value objects shared across the control plane:
// device identity/capability descriptors and the session state snapshot
// that is published to subscribers.
package types

import "time"

// DeviceKind enumerates the supported instrument families.
type DeviceKind string

const (
	KindPowerSupply    DeviceKind = "power-supply"
	KindElectronicLoad DeviceKind = "electronic-load"
	KindOscilloscope   DeviceKind = "oscilloscope"
)

// DeviceInfo identifies one physical instrument.
type DeviceInfo struct {
	ID           string     `json:"id"`
	Manufacturer string     `json:"manufacturer"`
	Model        string     `json:"model"`
	Serial       string     `json:"serial,omitempty"`
	Type         DeviceKind `json:"type"`
}

// SetpointDescriptor describes one commandable output.
type SetpointDescriptor struct {
	Name     string   `json:"name"`
	Unit     string   `json:"unit"`
	Min      float64  `json:"min"`
	Max      float64  `json:"max"`
	Decimals int      `json:"decimals"`
	Modes    []string `json:"modes,omitempty"` // restricts when this setpoint is active; empty = always
}

// MeasurementDescriptor describes one read-only measurement.
type MeasurementDescriptor struct {
	Name     string `json:"name"`
	Unit     string `json:"unit"`
	Decimals int    `json:"decimals"`
}

// Features are optional capability flags.
type Features struct {
	ListMode bool `json:"listMode,omitempty"`
}

// Capabilities is the static per-device description, queried once from the
// Driver and cached for the life of the session.
type Capabilities struct {
	Modes                []string                `json:"modes"`
	ModesSettable        bool                    `json:"modesSettable"`
	Outputs              []SetpointDescriptor    `json:"outputs"`
	Measurements         []MeasurementDescriptor `json:"measurements"`
	Features             Features                `json:"features,omitempty"`
	Channels             int                     `json:"channels,omitempty"`
	SupportedMeasurements []string               `json:"supportedMeasurements,omitempty"`
}

// Output looks up an output descriptor by name.
func (c Capabilities) Output(name string) (SetpointDescriptor, bool) {
	for _, o := range c.Outputs {
		if o.Name == name {
			return o, true
		}
	}
	return SetpointDescriptor{}, false
}

// Measurement looks up a measurement descriptor by name.
func (c Capabilities) Measurement(name string) (MeasurementDescriptor, bool) {
	for _, m := range c.Measurements {
		if m.Name == name {
			return m, true
		}
	}
	return MeasurementDescriptor{}, false
}

// HasMode reports whether name is one of the device's declared modes.
func (c Capabilities) HasMode(name string) bool {
	for _, m := range c.Modes {
		if m == name {
			return true
		}
	}
	return false
}

// ConnectionStatus is the DeviceSession's connection state machine value.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// History is the bounded rolling window of measurement samples.
type History struct {
	Timestamps []time.Time          `json:"timestamps"`
	Series     map[string][]float64 `json:"series"`
}

// Append adds one sample to every series and trims any sample older than
// windowMs relative to the newest timestamp.
func (h *History) Append(at time.Time, measurements map[string]float64, windowMs int64) {
	if h.Series == nil {
		h.Series = make(map[string][]float64)
	}
	h.Timestamps = append(h.Timestamps, at)
	for name, v := range measurements {
		h.Series[name] = append(h.Series[name], v)
	}
	// Series not present in this sample still need a slot so arrays stay
	// equal length; pad with the last known value (or 0 if none).
	for name, series := range h.Series {
		if len(series) < len(h.Timestamps) {
			last := 0.0
			if len(series) > 0 {
				last = series[len(series)-1]
			}
			h.Series[name] = append(series, last)
		}
	}
	cutoff := at.Add(-time.Duration(windowMs) * time.Millisecond)
	drop := 0
	for drop < len(h.Timestamps) && h.Timestamps[drop].Before(cutoff) {
		drop++
	}
	if drop > 0 {
		h.Timestamps = append([]time.Time{}, h.Timestamps[drop:]...)
		for name, series := range h.Series {
			if drop <= len(series) {
				h.Series[name] = append([]float64{}, series[drop:]...)
			}
		}
	}
}

// DeviceSessionState is the authoritative per-device published state (§3).
type DeviceSessionState struct {
	Info              DeviceInfo         `json:"info"`
	Capabilities      Capabilities       `json:"capabilities"`
	ConnectionStatus  ConnectionStatus   `json:"connectionStatus"`
	ConsecutiveErrors int                `json:"consecutiveErrors"`
	Mode              string             `json:"mode"`
	OutputEnabled     bool               `json:"outputEnabled"`
	Setpoints         map[string]float64 `json:"setpoints"`
	Measurements      map[string]float64 `json:"measurements"`
	History           History            `json:"history"`
	LastUpdated       time.Time          `json:"lastUpdated"`
}

// Clone returns a deep-enough copy for safe publication to subscribers: maps
// and history slices are copied so a reader never observes a later mutation.
func (s DeviceSessionState) Clone() DeviceSessionState {
	out := s
	out.Setpoints = cloneMap(s.Setpoints)
	out.Measurements = cloneMap(s.Measurements)
	out.History = History{
		Timestamps: append([]time.Time{}, s.History.Timestamps...),
		Series:     make(map[string][]float64, len(s.History.Series)),
	}
	for k, v := range s.History.Series {
		out.History.Series[k] = append([]float64{}, v...)
	}
	return out
}

func cloneMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

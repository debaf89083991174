package model

import "math"

// #region vectors

// InputVector is a flat mapping from input name to value. A value is
// unknown when the key is absent or the value is NaN.
type InputVector map[string]float64

// StateVector is a flat mapping from state name to value. Aggregate models
// hold namespaced keys ("id.local"); individual models hold local keys.
type StateVector map[string]float64

// OutputVector is a flat mapping from output name to value.
type OutputVector map[string]float64

// #endregion vectors

// #region vector-helpers

// Value returns the value stored under key, or NaN when the key is absent.
func (v InputVector) Value(key string) float64 {
	if val, ok := v[key]; ok {
		return val
	}
	return math.NaN()
}

// Known reports whether key holds a usable value.
func (v InputVector) Known(key string) bool {
	val, ok := v[key]
	return ok && !math.IsNaN(val)
}

// Value returns the value stored under key, or NaN when the key is absent.
func (v StateVector) Value(key string) float64 {
	if val, ok := v[key]; ok {
		return val
	}
	return math.NaN()
}

// Clone returns an independent copy of the state vector.
func (v StateVector) Clone() StateVector {
	out := make(StateVector, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Value returns the value stored under key, or NaN when the key is absent.
func (v OutputVector) Value(key string) float64 {
	if val, ok := v[key]; ok {
		return val
	}
	return math.NaN()
}

// #endregion vector-helpers

// #region model-interface

// Model is the capability set of one state-space prognostic model.
// Metadata lists are fixed for the lifetime of the model; their order is
// significant and must not change between calls.
type Model interface {
	// Name identifies the model kind. Used to derive expert IDs when the
	// caller does not supply them.
	Name() string

	Inputs() []string
	Outputs() []string
	States() []string
	Events() []string
	PerformanceMetricKeys() []string

	// Initialize produces the initial state from optional initial inputs u
	// and observed outputs z. Either may be nil or carry unknown values.
	Initialize(u InputVector, z OutputVector) (StateVector, error)

	// NextState propagates the state by dt given inputs u.
	NextState(x StateVector, u InputVector, dt float64) (StateVector, error)

	// Output computes the observable outputs for state x.
	Output(x StateVector) (OutputVector, error)

	// EventState computes per-event progress toward threshold, 1 (healthy)
	// down to 0 (threshold reached).
	EventState(x StateVector) (map[string]float64, error)

	// ThresholdMet reports, per event, whether the failure threshold has
	// been reached.
	ThresholdMet(x StateVector) (map[string]bool, error)

	// PerformanceMetrics computes derived metrics for state x.
	PerformanceMetrics(x StateVector) (map[string]float64, error)
}

// #endregion model-interface

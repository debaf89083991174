package models

import (
	"math"

	"github.com/danielpatrickdp/prognostic-moe/internal/model"
)

// #region decay-model

// ExponentialDecay models health that decays exponentially under stress:
//
//	health' = health * exp(-Rate*stress*dt)
//	health_meas = health
//
// The "depleted" event fires when health falls to FailThreshold. Its key
// sets are disjoint from LinearWear's, which makes it useful for
// exercising the flat union of heterogeneous experts.
type ExponentialDecay struct {
	Rate          float64
	FailThreshold float64
}

// NewExponentialDecay returns an ExponentialDecay with the given rate and
// the default failure threshold (0.05).
func NewExponentialDecay(rate float64) *ExponentialDecay {
	return &ExponentialDecay{Rate: rate, FailThreshold: 0.05}
}

// #endregion decay-model

// #region decay-metadata

func (m *ExponentialDecay) Name() string                    { return "ExponentialDecay" }
func (m *ExponentialDecay) Inputs() []string                { return []string{"stress"} }
func (m *ExponentialDecay) Outputs() []string               { return []string{"health_meas"} }
func (m *ExponentialDecay) States() []string                { return []string{"health"} }
func (m *ExponentialDecay) Events() []string                { return []string{"depleted"} }
func (m *ExponentialDecay) PerformanceMetricKeys() []string { return []string{"half_life"} }

// #endregion decay-metadata

// #region decay-operations

// Initialize derives health from an observed health_meas when known,
// otherwise starts at full health.
func (m *ExponentialDecay) Initialize(u model.InputVector, z model.OutputVector) (model.StateVector, error) {
	health := 1.0
	if v := z.Value("health_meas"); !math.IsNaN(v) {
		health = v
	}
	return model.StateVector{"health": health}, nil
}

func (m *ExponentialDecay) NextState(x model.StateVector, u model.InputVector, dt float64) (model.StateVector, error) {
	return model.StateVector{
		"health": x.Value("health") * math.Exp(-m.Rate*u.Value("stress")*dt),
	}, nil
}

func (m *ExponentialDecay) Output(x model.StateVector) (model.OutputVector, error) {
	return model.OutputVector{"health_meas": x.Value("health")}, nil
}

func (m *ExponentialDecay) EventState(x model.StateVector) (map[string]float64, error) {
	es := (x.Value("health") - m.FailThreshold) / (1 - m.FailThreshold)
	if es < 0 {
		es = 0
	}
	if es > 1 {
		es = 1
	}
	return map[string]float64{"depleted": es}, nil
}

func (m *ExponentialDecay) ThresholdMet(x model.StateVector) (map[string]bool, error) {
	return map[string]bool{"depleted": x.Value("health") <= m.FailThreshold}, nil
}

func (m *ExponentialDecay) PerformanceMetrics(x model.StateVector) (map[string]float64, error) {
	return map[string]float64{"half_life": math.Ln2 / m.Rate}, nil
}

// #endregion decay-operations

// Package models holds small reference degradation models used by the
// simulation commands and as mixture experts in tests. Each implements
// model.Model over flat string-keyed vectors.
package models

import (
	"math"

	"github.com/danielpatrickdp/prognostic-moe/internal/model"
)

// #region wear-model

// LinearWear is a one-state wear accumulation model: wear grows linearly
// with applied load, and two biased measurement channels observe it.
//
//	wear' = wear + Gain*load*dt
//	meas_a = wear + BiasA
//	meas_b = wear + BiasB
//
// The "worn" event fires when wear reaches Limit.
type LinearWear struct {
	Gain  float64
	BiasA float64
	BiasB float64
	Limit float64
}

// NewLinearWear returns a LinearWear with the given gain and default
// biases (1.0) and wear limit (10.0).
func NewLinearWear(gain float64) *LinearWear {
	return &LinearWear{Gain: gain, BiasA: 1.0, BiasB: 1.0, Limit: 10.0}
}

// #endregion wear-model

// #region wear-metadata

func (m *LinearWear) Name() string                    { return "LinearWear" }
func (m *LinearWear) Inputs() []string                { return []string{"load"} }
func (m *LinearWear) Outputs() []string               { return []string{"meas_a", "meas_b"} }
func (m *LinearWear) States() []string                { return []string{"wear"} }
func (m *LinearWear) Events() []string                { return []string{"worn"} }
func (m *LinearWear) PerformanceMetricKeys() []string { return []string{"wear_margin"} }

// #endregion wear-metadata

// #region wear-operations

// Initialize derives wear from an observed meas_a when known, otherwise
// starts pristine at zero.
func (m *LinearWear) Initialize(u model.InputVector, z model.OutputVector) (model.StateVector, error) {
	wear := 0.0
	if v := z.Value("meas_a"); !math.IsNaN(v) {
		wear = v - m.BiasA
	}
	return model.StateVector{"wear": wear}, nil
}

func (m *LinearWear) NextState(x model.StateVector, u model.InputVector, dt float64) (model.StateVector, error) {
	return model.StateVector{
		"wear": x.Value("wear") + m.Gain*u.Value("load")*dt,
	}, nil
}

func (m *LinearWear) Output(x model.StateVector) (model.OutputVector, error) {
	wear := x.Value("wear")
	return model.OutputVector{
		"meas_a": wear + m.BiasA,
		"meas_b": wear + m.BiasB,
	}, nil
}

func (m *LinearWear) EventState(x model.StateVector) (map[string]float64, error) {
	es := 1 - x.Value("wear")/m.Limit
	if es < 0 {
		es = 0
	}
	return map[string]float64{"worn": es}, nil
}

func (m *LinearWear) ThresholdMet(x model.StateVector) (map[string]bool, error) {
	return map[string]bool{"worn": x.Value("wear") >= m.Limit}, nil
}

func (m *LinearWear) PerformanceMetrics(x model.StateVector) (map[string]float64, error) {
	return map[string]float64{"wear_margin": m.Limit - x.Value("wear")}, nil
}

// #endregion wear-operations

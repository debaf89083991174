// Package moe combines multiple prognostic models of the same system into
// one mixture-of-experts model. Every expert's state is propagated each
// step; a per-expert score in [0, 1] tracks recent relative prediction
// accuracy, and all observable queries delegate to the expert with the
// highest score. Scores only move on steps whose inputs carry the observed
// (ground-truth) outputs; without them, state transition proceeds and the
// scores stay put.
package moe

import (
	"fmt"

	"github.com/danielpatrickdp/prognostic-moe/internal/model"
	"github.com/danielpatrickdp/prognostic-moe/internal/namespace"
	"github.com/danielpatrickdp/prognostic-moe/internal/scoring"
)

// initialScore is the score assigned to every expert at initialization.
const initialScore = 0.5

// #region mixture

// Mixture is a mixture-of-experts prognostic model. It implements
// model.Model over the combined spaces of its experts: state keys are
// namespaced per expert plus one score key each, while input, output,
// event, and metric keys are flat unions. The combined key universe is
// computed once at construction and never changes.
type Mixture struct {
	experts []Expert
	cfg     Config

	inputs     []string // union of expert inputs, then output-echo keys
	outputs    []string
	states     []string // namespaced expert states, then score keys
	events     []string
	metricKeys []string
	echoKeys   []string // union of expert outputs; echoed back as inputs
}

// New builds a mixture from ordered (id, model) pairs. At least two
// experts are required. IDs must be unique, non-empty, and free of the
// namespace separator.
func New(experts []Expert, cfg Config) (*Mixture, error) {
	if len(experts) < 2 {
		return nil, fmt.Errorf("mixture requires at least 2 experts, got %d", len(experts))
	}
	seen := make(map[string]bool, len(experts))
	for _, e := range experts {
		if !namespace.ValidID(e.ID) {
			return nil, fmt.Errorf("invalid expert ID %q: must be non-empty and must not contain %q", e.ID, namespace.Separator)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("duplicate expert ID %q", e.ID)
		}
		if e.Model == nil {
			return nil, fmt.Errorf("expert %q has no model", e.ID)
		}
		seen[e.ID] = true
	}

	m := &Mixture{
		experts: append([]Expert(nil), experts...),
		cfg:     cfg,
	}

	// Combined metadata: unions preserve first-seen order so the key
	// universe is deterministic.
	inputSet := make(map[string]bool)
	outputSet := make(map[string]bool)
	eventSet := make(map[string]bool)
	metricSet := make(map[string]bool)
	for _, e := range m.experts {
		for _, k := range e.Model.Inputs() {
			if !inputSet[k] {
				inputSet[k] = true
				m.inputs = append(m.inputs, k)
			}
		}
		for _, k := range e.Model.Outputs() {
			if !outputSet[k] {
				outputSet[k] = true
				m.outputs = append(m.outputs, k)
				m.echoKeys = append(m.echoKeys, k)
			}
		}
		for _, k := range e.Model.Events() {
			if !eventSet[k] {
				eventSet[k] = true
				m.events = append(m.events, k)
			}
		}
		for _, k := range e.Model.PerformanceMetricKeys() {
			if !metricSet[k] {
				metricSet[k] = true
				m.metricKeys = append(m.metricKeys, k)
			}
		}
		for _, k := range e.Model.States() {
			m.states = append(m.states, namespace.Join(e.ID, k))
		}
	}

	// Observed outputs are passed back in as inputs to drive scoring.
	for _, k := range m.echoKeys {
		if !inputSet[k] {
			inputSet[k] = true
			m.inputs = append(m.inputs, k)
		}
	}

	// One score per expert, appended after all expert states.
	for _, e := range m.experts {
		m.states = append(m.states, ScoreKey(e.ID))
	}

	return m, nil
}

// Wrap builds a mixture from bare models, deriving expert IDs from model
// names. Repeated names get _2, _3, ... suffixes in construction order.
func Wrap(models []model.Model, cfg Config) (*Mixture, error) {
	counts := make(map[string]int, len(models))
	experts := make([]Expert, 0, len(models))
	for _, md := range models {
		if md == nil {
			return nil, fmt.Errorf("nil model at position %d", len(experts))
		}
		name := md.Name()
		counts[name]++
		id := name
		if counts[name] > 1 {
			id = fmt.Sprintf("%s_%d", name, counts[name])
		}
		experts = append(experts, Expert{ID: id, Model: md})
	}
	return New(experts, cfg)
}

// #endregion mixture

// #region metadata

// Name implements model.Model.
func (m *Mixture) Name() string { return "MixtureOfExperts" }

// Inputs returns the combined input names: the union of expert inputs
// followed by the ground-truth echo keys.
func (m *Mixture) Inputs() []string { return append([]string(nil), m.inputs...) }

// Outputs returns the union of expert output names.
func (m *Mixture) Outputs() []string { return append([]string(nil), m.outputs...) }

// States returns the namespaced expert state names followed by one score
// key per expert.
func (m *Mixture) States() []string { return append([]string(nil), m.states...) }

// Events returns the union of expert event names.
func (m *Mixture) Events() []string { return append([]string(nil), m.events...) }

// PerformanceMetricKeys returns the union of expert metric key names.
func (m *Mixture) PerformanceMetricKeys() []string { return append([]string(nil), m.metricKeys...) }

// Experts returns the ordered (id, model) pairs.
func (m *Mixture) Experts() []Expert { return append([]Expert(nil), m.experts...) }

// #endregion metadata

// #region initialize

// Initialize initializes every expert and assembles the namespaced
// aggregate state. Per-expert initial values are resolved through
// namespaced keys ("id.local") in u and z, so callers can target one
// expert's initialization; absent keys pass through as unknown. Every
// score starts at 0.5.
func (m *Mixture) Initialize(u model.InputVector, z model.OutputVector) (model.StateVector, error) {
	x := make(model.StateVector, len(m.states))
	for _, e := range m.experts {
		ui := make(model.InputVector, len(e.Model.Inputs()))
		for _, k := range e.Model.Inputs() {
			ui[k] = u.Value(namespace.Join(e.ID, k))
		}
		zi := make(model.OutputVector, len(e.Model.Outputs()))
		for _, k := range e.Model.Outputs() {
			zi[k] = z.Value(namespace.Join(e.ID, k))
		}

		xi, err := e.Model.Initialize(ui, zi)
		if err != nil {
			return nil, fmt.Errorf("initialize expert %q: %w", e.ID, err)
		}
		for k, v := range xi {
			x[namespace.Join(e.ID, k)] = v
		}
		x[ScoreKey(e.ID)] = initialScore
	}
	return x, nil
}

// #endregion initialize

// #region next-state

// NextState propagates every expert's state slice by dt and, when every
// combined input (base inputs and ground-truth echoes) is known, updates
// the scores. Experts are
// propagated independently in construction order; their state slices are
// disjoint. The returned state is a new vector; x is not modified.
func (m *Mixture) NextState(x model.StateVector, u model.InputVector, dt float64) (model.StateVector, error) {
	out := x.Clone()

	// Propagate each expert on its own state slice and a local view of
	// the flat input space.
	for _, e := range m.experts {
		ui := m.localInputs(e, u)
		xi := m.localState(e, out)

		xn, err := e.Model.NextState(xi, ui, dt)
		if err != nil {
			return nil, fmt.Errorf("next state for expert %q: %w", e.ID, err)
		}
		for k, v := range xn {
			out[namespace.Join(e.ID, k)] = v
		}
	}

	// Scoring is all-or-nothing over the whole combined input space: one
	// unknown base input or echo input disables it for this step. An
	// unknown base input makes the propagated states unreliable, so the
	// comparison would poison the scores.
	for _, k := range m.inputs {
		if !u.Known(k) {
			return out, nil
		}
	}
	if err := m.updateScores(out, u); err != nil {
		return nil, err
	}
	return out, nil
}

// updateScores compares every expert's predicted output against the
// observed outputs echoed in u and applies the bounded score deltas.
func (m *Mixture) updateScores(x model.StateVector, u model.InputVector) error {
	mses := make([]float64, len(m.experts))
	for i, e := range m.experts {
		xi := m.localState(e, x)
		pred, err := e.Model.Output(xi)
		if err != nil {
			return fmt.Errorf("output for expert %q: %w", e.ID, err)
		}

		outs := e.Model.Outputs()
		gt := make([]float64, len(outs))
		pr := make([]float64, len(outs))
		for j, k := range outs {
			gt[j] = u.Value(k)
			pr[j] = pred.Value(k)
		}
		mses[i] = scoring.MeanSquaredError(gt, pr)
	}

	deltas := scoring.Deltas(mses, m.cfg.MaxScoreStep)
	scores := make([]float64, len(m.experts))
	for i, e := range m.experts {
		scores[i] = x.Value(ScoreKey(e.ID))
	}
	scoring.Apply(scores, deltas)
	for i, e := range m.experts {
		x[ScoreKey(e.ID)] = scores[i]
	}
	return nil
}

// #endregion next-state

// #region best

// Best returns the index of the highest-scoring expert in x. The scan
// uses strictly-greater comparison from a running max below any valid
// score, so exact ties resolve to the earliest-constructed expert.
func (m *Mixture) Best(x model.StateVector) int {
	bestValue := -1.0
	bestIndex := 0
	for i, e := range m.experts {
		if s := x.Value(ScoreKey(e.ID)); s > bestValue {
			bestValue = s
			bestIndex = i
		}
	}
	return bestIndex
}

// BestID returns the ID of the highest-scoring expert in x.
func (m *Mixture) BestID(x model.StateVector) string {
	return m.experts[m.Best(x)].ID
}

// Scores returns the current per-expert scores keyed by expert ID.
func (m *Mixture) Scores(x model.StateVector) map[string]float64 {
	out := make(map[string]float64, len(m.experts))
	for _, e := range m.experts {
		out[e.ID] = x.Value(ScoreKey(e.ID))
	}
	return out
}

// #endregion best

// #region delegated-queries

// Output returns the best expert's outputs for its slice of x. Outputs of
// the other experts are never surfaced.
func (m *Mixture) Output(x model.StateVector) (model.OutputVector, error) {
	e := m.experts[m.Best(x)]
	z, err := e.Model.Output(m.localState(e, x))
	if err != nil {
		return nil, fmt.Errorf("output for expert %q: %w", e.ID, err)
	}
	return z, nil
}

// EventState returns the best expert's event states.
func (m *Mixture) EventState(x model.StateVector) (map[string]float64, error) {
	e := m.experts[m.Best(x)]
	es, err := e.Model.EventState(m.localState(e, x))
	if err != nil {
		return nil, fmt.Errorf("event state for expert %q: %w", e.ID, err)
	}
	return es, nil
}

// ThresholdMet returns the best expert's threshold checks.
func (m *Mixture) ThresholdMet(x model.StateVector) (map[string]bool, error) {
	e := m.experts[m.Best(x)]
	tm, err := e.Model.ThresholdMet(m.localState(e, x))
	if err != nil {
		return nil, fmt.Errorf("threshold for expert %q: %w", e.ID, err)
	}
	return tm, nil
}

// PerformanceMetrics returns the best expert's performance metrics.
func (m *Mixture) PerformanceMetrics(x model.StateVector) (map[string]float64, error) {
	e := m.experts[m.Best(x)]
	pm, err := e.Model.PerformanceMetrics(m.localState(e, x))
	if err != nil {
		return nil, fmt.Errorf("performance metrics for expert %q: %w", e.ID, err)
	}
	return pm, nil
}

// #endregion delegated-queries

// #region local-views

// localInputs selects the expert's inputs from the flat input space.
// Experts share input names directly; only state keys are namespaced.
func (m *Mixture) localInputs(e Expert, u model.InputVector) model.InputVector {
	names := e.Model.Inputs()
	ui := make(model.InputVector, len(names))
	for _, k := range names {
		ui[k] = u.Value(k)
	}
	return ui
}

// localState extracts the expert's state slice from the namespaced
// aggregate state.
func (m *Mixture) localState(e Expert, x model.StateVector) model.StateVector {
	names := e.Model.States()
	xi := make(model.StateVector, len(names))
	for _, k := range names {
		xi[k] = x.Value(namespace.Join(e.ID, k))
	}
	return xi
}

// #endregion local-views

// Package sim drives a prognostic model forward in fixed time steps until
// a failure threshold or the horizon is reached, and replays recorded
// scenario fixtures against expected outcomes.
package sim

import (
	"fmt"

	"github.com/danielpatrickdp/prognostic-moe/internal/loading"
	"github.com/danielpatrickdp/prognostic-moe/internal/model"
)

// #region run-types

// RunConfig controls the simulation loop.
type RunConfig struct {
	DT      float64 // step size in simulated time units
	Horizon float64 // hard stop when simulated time reaches this
	// StopEvent names the event whose threshold ends the run. Empty means
	// any event's threshold ends it.
	StopEvent string
}

// DefaultRunConfig returns the standard simulation configuration.
func DefaultRunConfig() RunConfig {
	return RunConfig{DT: 1.0, Horizon: 100.0}
}

// Snapshot captures the model after one step.
type Snapshot struct {
	Step   int
	Time   float64
	State  model.StateVector
	Output model.OutputVector
	// BestExpert is the delegation target at this step when the model is
	// a mixture; empty otherwise.
	BestExpert string
}

// Summary aggregates a finished run.
type Summary struct {
	Steps     int
	StoppedOn string // event name, or "horizon"
	Final     model.StateVector
}

// bestReporter is implemented by mixture models that can name their
// current delegation target.
type bestReporter interface {
	BestID(model.StateVector) string
}

// #endregion run-types

// #region run

// Run steps m from x0 under the given load until the stop condition or
// horizon. The initial state is snapshotted as step 0 and never modified.
func Run(m model.Model, x0 model.StateVector, load loading.LoadFunc, cfg RunConfig) ([]Snapshot, Summary, error) {
	if cfg.DT <= 0 {
		return nil, Summary{}, fmt.Errorf("run requires positive dt, got %g", cfg.DT)
	}

	br, _ := m.(bestReporter)
	snap := func(step int, t float64, x model.StateVector) (Snapshot, error) {
		z, err := m.Output(x)
		if err != nil {
			return Snapshot{}, fmt.Errorf("output at step %d: %w", step, err)
		}
		s := Snapshot{Step: step, Time: t, State: x.Clone(), Output: z}
		if br != nil {
			s.BestExpert = br.BestID(x)
		}
		return s, nil
	}

	x := x0.Clone()
	t := 0.0
	s0, err := snap(0, t, x)
	if err != nil {
		return nil, Summary{}, err
	}
	snapshots := []Snapshot{s0}

	steps := 0
	for t < cfg.Horizon {
		u := load(t, x)
		next, err := m.NextState(x, u, cfg.DT)
		if err != nil {
			return nil, Summary{}, fmt.Errorf("step %d: %w", steps+1, err)
		}
		x = next
		t += cfg.DT
		steps++

		s, err := snap(steps, t, x)
		if err != nil {
			return nil, Summary{}, err
		}
		snapshots = append(snapshots, s)

		met, err := m.ThresholdMet(x)
		if err != nil {
			return nil, Summary{}, fmt.Errorf("threshold at step %d: %w", steps, err)
		}
		if event, ok := stopEvent(m.Events(), met, cfg.StopEvent); ok {
			return snapshots, Summary{Steps: steps, StoppedOn: event, Final: x}, nil
		}
	}

	return snapshots, Summary{Steps: steps, StoppedOn: "horizon", Final: x}, nil
}

// stopEvent decides whether the threshold results end the run, returning
// the event that fired. Events are checked in the model's declared order
// so the reported name is deterministic when several fire at once.
func stopEvent(events []string, met map[string]bool, want string) (string, bool) {
	if want != "" {
		return want, met[want]
	}
	for _, event := range events {
		if met[event] {
			return event, true
		}
	}
	return "", false
}

// #endregion run

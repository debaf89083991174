package sim

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/prognostic-moe/internal/model"
	"github.com/danielpatrickdp/prognostic-moe/internal/models"
	"github.com/danielpatrickdp/prognostic-moe/internal/moe"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a recorded scenario: a
// mixture definition plus the per-step inputs and the best expert each
// step is expected to delegate to. Inputs absent from a step's map are
// unknown to the model, so steps without echoed outputs leave scores
// untouched.
type Fixture struct {
	Description  string             `json:"description"`
	MaxScoreStep float64            `json:"max_score_step"`
	Experts      []FixtureExpert    `json:"experts"`
	InitialState map[string]float64 `json:"initial_state,omitempty"`
	Steps        []FixtureStep      `json:"steps"`
}

// FixtureExpert describes one expert to construct.
type FixtureExpert struct {
	ID     string             `json:"id"`
	Kind   string             `json:"kind"`
	Params map[string]float64 `json:"params"`
}

// FixtureStep is one recorded transition.
type FixtureStep struct {
	DT           float64            `json:"dt"`
	Inputs       map[string]float64 `json:"inputs"`
	ExpectedBest string             `json:"expected_best"`
}

// StepResult compares one replayed step against the recording.
type StepResult struct {
	Index    int
	BestID   string
	Expected string
	Match    bool
	Scores   map[string]float64
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if len(f.Steps) == 0 {
		return nil, fmt.Errorf("fixture %s has no steps", path)
	}
	return &f, nil
}

// #endregion fixture-loader

// #region build-expert

// BuildExpert constructs a reference model by kind name. Recognized kinds
// and params:
//
//	linear_wear:       gain (required), bias_a, bias_b, limit
//	exponential_decay: rate (required), fail_threshold
func BuildExpert(kind string, params map[string]float64) (model.Model, error) {
	get := func(key string) (float64, bool) {
		v, ok := params[key]
		return v, ok
	}

	switch kind {
	case "linear_wear":
		gain, ok := get("gain")
		if !ok {
			return nil, fmt.Errorf("linear_wear requires param %q", "gain")
		}
		m := models.NewLinearWear(gain)
		if v, ok := get("bias_a"); ok {
			m.BiasA = v
		}
		if v, ok := get("bias_b"); ok {
			m.BiasB = v
		}
		if v, ok := get("limit"); ok {
			m.Limit = v
		}
		return m, nil

	case "exponential_decay":
		rate, ok := get("rate")
		if !ok {
			return nil, fmt.Errorf("exponential_decay requires param %q", "rate")
		}
		m := models.NewExponentialDecay(rate)
		if v, ok := get("fail_threshold"); ok {
			m.FailThreshold = v
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown expert kind %q", kind)
}

// BuildMixture constructs the fixture's mixture model.
func (f *Fixture) BuildMixture() (*moe.Mixture, error) {
	experts := make([]moe.Expert, 0, len(f.Experts))
	for _, fe := range f.Experts {
		md, err := BuildExpert(fe.Kind, fe.Params)
		if err != nil {
			return nil, fmt.Errorf("expert %q: %w", fe.ID, err)
		}
		experts = append(experts, moe.Expert{ID: fe.ID, Model: md})
	}

	cfg := moe.DefaultConfig()
	if f.MaxScoreStep > 0 {
		cfg.MaxScoreStep = f.MaxScoreStep
	}
	return moe.New(experts, cfg)
}

// #endregion build-expert

// #region replay

// Replay runs the fixture's steps through a freshly built mixture and
// compares the delegation target after each step with the recording.
func Replay(f *Fixture) ([]StepResult, error) {
	mixture, err := f.BuildMixture()
	if err != nil {
		return nil, err
	}

	var x model.StateVector
	if len(f.InitialState) > 0 {
		x = model.StateVector(f.InitialState).Clone()
	} else {
		x, err = mixture.Initialize(nil, nil)
		if err != nil {
			return nil, fmt.Errorf("initialize: %w", err)
		}
	}

	results := make([]StepResult, 0, len(f.Steps))
	for i, step := range f.Steps {
		dt := step.DT
		if dt <= 0 {
			dt = 1.0
		}
		x, err = mixture.NextState(x, model.InputVector(step.Inputs), dt)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}

		best := mixture.BestID(x)
		results = append(results, StepResult{
			Index:    i,
			BestID:   best,
			Expected: step.ExpectedBest,
			Match:    step.ExpectedBest == "" || step.ExpectedBest == best,
			Scores:   mixture.Scores(x),
		})
	}
	return results, nil
}

// #endregion replay

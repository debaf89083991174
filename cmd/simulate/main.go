package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/prognostic-moe/internal/loading"
	"github.com/danielpatrickdp/prognostic-moe/internal/model"
	"github.com/danielpatrickdp/prognostic-moe/internal/moe"
	"github.com/danielpatrickdp/prognostic-moe/internal/sim"
	"github.com/danielpatrickdp/prognostic-moe/internal/store"
)

// #region scenario

// scenario is the YAML structure describing one simulation: the experts
// forming the mixture, an optional ground-truth model whose outputs are
// echoed back as measurement inputs (driving the scores), the applied
// load, and the loop parameters.
type scenario struct {
	Description  string             `yaml:"description"`
	MaxScoreStep float64            `yaml:"max_score_step"`
	DT           float64            `yaml:"dt"`
	Horizon      float64            `yaml:"horizon"`
	StopEvent    string             `yaml:"stop_event"`
	Load         map[string]float64 `yaml:"load"`
	NoiseStd     float64            `yaml:"noise_std"`
	Seed         uint64             `yaml:"seed"`
	Experts      []scenarioExpert   `yaml:"experts"`
	Truth        *scenarioExpert    `yaml:"truth"`
}

type scenarioExpert struct {
	ID     string             `yaml:"id"`
	Kind   string             `yaml:"kind"`
	Params map[string]float64 `yaml:"params"`
}

// defaultScenario is used when no config file is given: three wear
// experts with spread gains tracking a ground truth between them.
func defaultScenario() scenario {
	return scenario{
		Description: "three wear experts under noisy constant load",
		DT:          0.5,
		Horizon:     60,
		StopEvent:   "worn",
		Load:        map[string]float64{"load": 1.0},
		NoiseStd:    0.05,
		Seed:        42,
		Experts: []scenarioExpert{
			{ID: "optimistic", Kind: "linear_wear", Params: map[string]float64{"gain": 0.8}},
			{ID: "nominal", Kind: "linear_wear", Params: map[string]float64{"gain": 1.0}},
			{ID: "pessimistic", Kind: "linear_wear", Params: map[string]float64{"gain": 1.2}},
		},
		Truth: &scenarioExpert{Kind: "linear_wear", Params: map[string]float64{"gain": 0.95}},
	}
}

func loadScenario(path string) (scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return scenario{}, fmt.Errorf("read config %s: %w", path, err)
	}
	sc := scenario{}
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return scenario{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return sc, nil
}

// #endregion scenario

// #region main

func main() {
	configPath := flag.String("config", "", "path to scenario YAML (default: built-in scenario)")
	dbPath := flag.String("db", "", "persist the run to this SQLite database")
	flag.Parse()

	log := logrus.New()
	log.Formatter = &logrus.TextFormatter{FullTimestamp: true}

	sc := defaultScenario()
	if *configPath != "" {
		var err error
		sc, err = loadScenario(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(2)
		}
	}

	if err := run(log, sc, *dbPath); err != nil {
		log.WithError(err).Fatal("simulation failed")
	}
}

func run(log *logrus.Logger, sc scenario, dbPath string) error {
	mixture, err := buildMixture(sc)
	if err != nil {
		return err
	}

	x0, err := mixture.Initialize(nil, nil)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	load, err := buildLoad(sc)
	if err != nil {
		return err
	}

	runCfg := sim.DefaultRunConfig()
	if sc.DT > 0 {
		runCfg.DT = sc.DT
	}
	if sc.Horizon > 0 {
		runCfg.Horizon = sc.Horizon
	}
	runCfg.StopEvent = sc.StopEvent

	log.WithFields(logrus.Fields{
		"experts": len(sc.Experts),
		"dt":      runCfg.DT,
		"horizon": runCfg.Horizon,
	}).Info("starting simulation")

	snapshots, summary, err := sim.Run(mixture, x0, load, runCfg)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"steps":      summary.Steps,
		"stopped_on": summary.StoppedOn,
		"best":       mixture.BestID(summary.Final),
	}).Info("simulation finished")

	printScores(mixture.Scores(summary.Final))

	if dbPath != "" {
		runID, err := persist(sc, mixture, snapshots, dbPath)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"run_id": runID, "db": dbPath}).Info("run persisted")
	}
	return nil
}

// #endregion main

// #region wiring

func buildMixture(sc scenario) (*moe.Mixture, error) {
	experts := make([]moe.Expert, 0, len(sc.Experts))
	for _, se := range sc.Experts {
		md, err := sim.BuildExpert(se.Kind, se.Params)
		if err != nil {
			return nil, fmt.Errorf("expert %q: %w", se.ID, err)
		}
		experts = append(experts, moe.Expert{ID: se.ID, Model: md})
	}

	cfg := moe.DefaultConfig()
	if sc.MaxScoreStep > 0 {
		cfg.MaxScoreStep = sc.MaxScoreStep
	}
	return moe.New(experts, cfg)
}

// buildLoad assembles the load function: the scenario's constant load,
// plus ground-truth output echoes when a truth model is configured, plus
// optional Gaussian noise on every input.
func buildLoad(sc scenario) (loading.LoadFunc, error) {
	base := loading.Constant(model.InputVector(sc.Load))

	load := base
	if sc.Truth != nil {
		truth, err := sim.BuildExpert(sc.Truth.Kind, sc.Truth.Params)
		if err != nil {
			return nil, fmt.Errorf("truth model: %w", err)
		}
		xt, err := truth.Initialize(nil, nil)
		if err != nil {
			return nil, fmt.Errorf("initialize truth model: %w", err)
		}

		dt := sc.DT
		if dt <= 0 {
			dt = sim.DefaultRunConfig().DT
		}

		// The truth model advances alongside the mixture; its outputs at
		// the end of each step are the observed measurements.
		load = func(t float64, x model.StateVector) model.InputVector {
			u := base(t, x)
			next, err := truth.NextState(xt, u, dt)
			if err != nil {
				return u
			}
			xt = next
			z, err := truth.Output(xt)
			if err != nil {
				return u
			}
			for k, v := range z {
				u[k] = v
			}
			return u
		}
	}

	if sc.NoiseStd > 0 {
		load = loading.WithGaussianNoise(load, sc.NoiseStd, sc.Seed)
	}
	return load, nil
}

func persist(sc scenario, mixture *moe.Mixture, snapshots []sim.Snapshot, dbPath string) (string, error) {
	st, err := store.NewStore(dbPath)
	if err != nil {
		return "", err
	}
	defer st.Close()

	configJSON, err := json.Marshal(sc)
	if err != nil {
		return "", fmt.Errorf("marshal scenario: %w", err)
	}

	run, err := st.CreateRun(mixture.Name(), string(configJSON))
	if err != nil {
		return "", err
	}
	for _, snap := range snapshots {
		err := st.AppendSnapshot(store.SnapshotRow{
			RunID:      run.RunID,
			Step:       snap.Step,
			SimTime:    snap.Time,
			State:      snap.State,
			Output:     snap.Output,
			BestExpert: snap.BestExpert,
		})
		if err != nil {
			return "", err
		}
	}
	return run.RunID, nil
}

func printScores(scores map[string]float64) {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Printf("%-18s| %s\n", "Expert", "Score")
	fmt.Printf("%-18s+%s\n", "------------------", "--------")
	for _, id := range ids {
		fmt.Printf("%-18s| %.4f\n", id, scores[id])
	}
}

// #endregion wiring

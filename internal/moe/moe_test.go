package moe

import (
	"math"
	"testing"

	"github.com/danielpatrickdp/prognostic-moe/internal/model"
	"github.com/danielpatrickdp/prognostic-moe/internal/models"
)

func approx(t *testing.T, got, want, tol float64, label string) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Fatalf("%s: got %v, want %v", label, got, want)
	}
}

// wearTrio builds the reference mixture: three LinearWear experts with
// spread gains, the second one closest to a ground truth gain of 1.2.
func wearTrio(t *testing.T) *Mixture {
	t.Helper()

	m1 := models.NewLinearWear(2.3)
	m1.BiasA, m1.BiasB = 0.75, 0.75
	m2 := models.NewLinearWear(1.19)
	m3 := models.NewLinearWear(0.95)
	m3.BiasA, m3.BiasB = 0.85, 0.85

	mixture, err := Wrap([]model.Model{m1, m2, m3}, DefaultConfig())
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	return mixture
}

func hasAll(got []string, want ...string) bool {
	set := make(map[string]bool, len(got))
	for _, k := range got {
		set[k] = true
	}
	for _, k := range want {
		if !set[k] {
			return false
		}
	}
	return true
}

func TestCombinedMetadata(t *testing.T) {
	mixture := wearTrio(t)

	if got := mixture.Inputs(); len(got) != 3 || !hasAll(got, "load", "meas_a", "meas_b") {
		t.Fatalf("inputs: %v", got)
	}
	if got := mixture.Outputs(); len(got) != 2 || !hasAll(got, "meas_a", "meas_b") {
		t.Fatalf("outputs: %v", got)
	}
	if got := mixture.Events(); len(got) != 1 || got[0] != "worn" {
		t.Fatalf("events: %v", got)
	}
	states := mixture.States()
	if len(states) != 6 || !hasAll(states,
		"LinearWear.wear", "LinearWear_2.wear", "LinearWear_3.wear",
		"LinearWear._score", "LinearWear_2._score", "LinearWear_3._score") {
		t.Fatalf("states: %v", states)
	}
}

func TestHeterogeneousMetadataUnion(t *testing.T) {
	mixture, err := New([]Expert{
		{ID: "wear", Model: models.NewLinearWear(1.0)},
		{ID: "decay", Model: models.NewExponentialDecay(0.1)},
	}, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := mixture.Inputs(); !hasAll(got, "load", "stress", "meas_a", "meas_b", "health_meas") {
		t.Fatalf("inputs: %v", got)
	}
	if got := mixture.Outputs(); !hasAll(got, "meas_a", "meas_b", "health_meas") {
		t.Fatalf("outputs: %v", got)
	}
	if got := mixture.Events(); !hasAll(got, "worn", "depleted") {
		t.Fatalf("events: %v", got)
	}
	if got := mixture.PerformanceMetricKeys(); !hasAll(got, "wear_margin", "half_life") {
		t.Fatalf("metric keys: %v", got)
	}
	if got := mixture.States(); !hasAll(got, "wear.wear", "decay.health", "wear._score", "decay._score") {
		t.Fatalf("states: %v", got)
	}
}

func TestConstructionValidation(t *testing.T) {
	single := []Expert{{ID: "only", Model: models.NewLinearWear(1.0)}}
	if _, err := New(single, DefaultConfig()); err == nil {
		t.Fatal("expected error for fewer than 2 experts")
	}

	dup := []Expert{
		{ID: "same", Model: models.NewLinearWear(1.0)},
		{ID: "same", Model: models.NewLinearWear(2.0)},
	}
	if _, err := New(dup, DefaultConfig()); err == nil {
		t.Fatal("expected error for duplicate IDs")
	}

	dotted := []Expert{
		{ID: "a.b", Model: models.NewLinearWear(1.0)},
		{ID: "c", Model: models.NewLinearWear(2.0)},
	}
	if _, err := New(dotted, DefaultConfig()); err == nil {
		t.Fatal("expected error for separator in ID")
	}

	nilModel := []Expert{
		{ID: "a", Model: models.NewLinearWear(1.0)},
		{ID: "b", Model: nil},
	}
	if _, err := New(nilModel, DefaultConfig()); err == nil {
		t.Fatal("expected error for nil model")
	}
}

func TestWrapNaming(t *testing.T) {
	mixture, err := Wrap([]model.Model{
		models.NewLinearWear(1.0),
		models.NewExponentialDecay(0.1),
		models.NewLinearWear(2.0),
	}, DefaultConfig())
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	experts := mixture.Experts()
	want := []string{"LinearWear", "ExponentialDecay", "LinearWear_2"}
	for i, id := range want {
		if experts[i].ID != id {
			t.Fatalf("expert %d: got %q, want %q", i, experts[i].ID, id)
		}
	}
}

func TestInitializeScores(t *testing.T) {
	mixture := wearTrio(t)
	x, err := mixture.Initialize(nil, nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	for _, e := range mixture.Experts() {
		if got := x.Value(ScoreKey(e.ID)); got != 0.5 {
			t.Fatalf("score for %s: got %v, want 0.5", e.ID, got)
		}
		if got := x.Value(e.ID + ".wear"); got != 0 {
			t.Fatalf("wear for %s: got %v, want 0", e.ID, got)
		}
	}
}

func TestInitializeFromNamespacedObservation(t *testing.T) {
	mixture := wearTrio(t)
	x, err := mixture.Initialize(nil, model.OutputVector{"LinearWear.meas_a": 3.0})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Only the targeted expert picks up the observation.
	approx(t, x.Value("LinearWear.wear"), 3.0-0.75, 1e-12, "targeted expert wear")
	approx(t, x.Value("LinearWear_2.wear"), 0, 1e-12, "untargeted expert wear")
}

func TestScoringLifecycle(t *testing.T) {
	// Reference scenario: ground truth gain 1.2 under load 2, so the
	// second expert (gain 1.19) should become the delegation target.
	mixture := wearTrio(t)
	x, err := mixture.Initialize(nil, nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Step without echoed outputs: state moves, scores do not.
	x, err = mixture.NextState(x, model.InputVector{"load": 2}, 1)
	if err != nil {
		t.Fatalf("NextState: %v", err)
	}
	for _, e := range mixture.Experts() {
		if got := x.Value(ScoreKey(e.ID)); got != 0.5 {
			t.Fatalf("score for %s changed without observations: %v", e.ID, got)
		}
	}

	// Equal scores: delegation picks the first expert (wear 4.6, bias 0.75).
	z, err := mixture.Output(x)
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	approx(t, z.Value("meas_a"), 5.35, 1e-12, "tied output meas_a")
	approx(t, z.Value("meas_b"), 5.35, 1e-12, "tied output meas_b")

	// Step with observations matching the second expert.
	x, err = mixture.NextState(x, model.InputVector{
		"load":   2,
		"meas_a": 5.76,
		"meas_b": 5.0,
	}, 1)
	if err != nil {
		t.Fatalf("NextState: %v", err)
	}

	approx(t, x.Value(ScoreKey("LinearWear")), 0.49, 1e-9, "worst expert score")
	approx(t, x.Value(ScoreKey("LinearWear_2")), 0.51, 1e-9, "best expert score")
	s3 := x.Value(ScoreKey("LinearWear_3"))
	if !(s3 > 0.49 && s3 < 0.51) {
		t.Fatalf("middle expert score out of range: %v", s3)
	}

	// Delegation now follows the best expert (wear 4.76, bias 1.0).
	z, err = mixture.Output(x)
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	approx(t, z.Value("meas_a"), 5.76, 1e-12, "best output meas_a")
	approx(t, z.Value("meas_b"), 5.76, 1e-12, "best output meas_b")

	// Saturation rescale: push the best expert near the ceiling, then
	// feed it a perfect observation. Everyone is damped by 0.8.
	s1 := x.Value(ScoreKey("LinearWear"))
	s3 = x.Value(ScoreKey("LinearWear_3"))
	x[ScoreKey("LinearWear_2")] = 0.999

	x, err = mixture.NextState(x, model.InputVector{
		"load":   2,
		"meas_a": 8.14,
		"meas_b": 8.14,
	}, 1)
	if err != nil {
		t.Fatalf("NextState: %v", err)
	}

	approx(t, x.Value(ScoreKey("LinearWear")), (s1-0.01)*0.8, 1e-9, "worst rescaled")
	approx(t, x.Value(ScoreKey("LinearWear_2")), (0.999+0.01)*0.8, 1e-9, "saturating rescaled")
	s3After := x.Value(ScoreKey("LinearWear_3"))
	if !(s3After > (s3-0.01)*0.8 && s3After < (s3+0.01)*0.8) {
		t.Fatalf("middle expert after rescale out of range: %v", s3After)
	}
	for _, e := range mixture.Experts() {
		s := x.Value(ScoreKey(e.ID))
		if s < 0 || s > 1 {
			t.Fatalf("score for %s out of bounds: %v", e.ID, s)
		}
	}
}

func TestPartialObservationsDisableScoring(t *testing.T) {
	mixture := wearTrio(t)
	x, _ := mixture.Initialize(nil, nil)

	// One echo key present, one missing: all-or-nothing means no update.
	x, err := mixture.NextState(x, model.InputVector{"load": 2, "meas_a": 5.0}, 1)
	if err != nil {
		t.Fatalf("NextState: %v", err)
	}
	for _, e := range mixture.Experts() {
		if got := x.Value(ScoreKey(e.ID)); got != 0.5 {
			t.Fatalf("score for %s changed on partial observation: %v", e.ID, got)
		}
	}

	// NaN counts as unknown the same as absence.
	x, err = mixture.NextState(x, model.InputVector{"load": 2, "meas_a": 5.0, "meas_b": math.NaN()}, 1)
	if err != nil {
		t.Fatalf("NextState: %v", err)
	}
	for _, e := range mixture.Experts() {
		if got := x.Value(ScoreKey(e.ID)); got != 0.5 {
			t.Fatalf("score for %s changed on NaN observation: %v", e.ID, got)
		}
	}
}

func TestUnknownBaseInputDisablesScoring(t *testing.T) {
	mixture := wearTrio(t)
	x, _ := mixture.Initialize(nil, nil)

	// Echoes known but the load input missing: the propagated states are
	// unreliable, so the step must not score. A naive echo-only gate
	// would compare NaN predictions and drive every score to NaN.
	x, err := mixture.NextState(x, model.InputVector{"meas_a": 5.0, "meas_b": 5.0}, 1)
	if err != nil {
		t.Fatalf("NextState: %v", err)
	}
	for _, e := range mixture.Experts() {
		got := x.Value(ScoreKey(e.ID))
		if got != 0.5 {
			t.Fatalf("score for %s changed without base inputs: %v", e.ID, got)
		}
	}

	// NaN load counts as unknown the same as absence.
	x, err = mixture.NextState(x, model.InputVector{"load": math.NaN(), "meas_a": 5.0, "meas_b": 5.0}, 1)
	if err != nil {
		t.Fatalf("NextState: %v", err)
	}
	for _, e := range mixture.Experts() {
		got := x.Value(ScoreKey(e.ID))
		if math.IsNaN(got) || got != 0.5 {
			t.Fatalf("score for %s changed on NaN load: %v", e.ID, got)
		}
	}

	// A fully known step still scores, and the scores stay in bounds.
	x, _ = mixture.Initialize(nil, nil)
	x, err = mixture.NextState(x, model.InputVector{"load": 2, "meas_a": 5.0, "meas_b": 5.0}, 1)
	if err != nil {
		t.Fatalf("NextState: %v", err)
	}
	for _, e := range mixture.Experts() {
		got := x.Value(ScoreKey(e.ID))
		if math.IsNaN(got) || got < 0 || got > 1 {
			t.Fatalf("score for %s out of [0,1]: %v", e.ID, got)
		}
	}
}

func TestNextStateDoesNotMutateInput(t *testing.T) {
	mixture := wearTrio(t)
	x0, _ := mixture.Initialize(nil, nil)
	before := x0.Clone()

	if _, err := mixture.NextState(x0, model.InputVector{"load": 2}, 1); err != nil {
		t.Fatalf("NextState: %v", err)
	}
	for k, v := range before {
		if x0[k] != v {
			t.Fatalf("input state mutated at %s: %v != %v", k, x0[k], v)
		}
	}
}

func TestTieBreakDeterminism(t *testing.T) {
	mixture := wearTrio(t)
	x, _ := mixture.Initialize(nil, nil)

	for i := 0; i < 10; i++ {
		if got := mixture.Best(x); got != 0 {
			t.Fatalf("tied scores should pick index 0, got %d", got)
		}
	}

	// A strictly higher later score wins; restoring the tie goes back to 0.
	x[ScoreKey("LinearWear_3")] = 0.6
	if got := mixture.Best(x); got != 2 {
		t.Fatalf("expected index 2, got %d", got)
	}
	x[ScoreKey("LinearWear_3")] = 0.5
	if got := mixture.Best(x); got != 0 {
		t.Fatalf("expected index 0 after restoring tie, got %d", got)
	}
}

func TestDelegatedQueries(t *testing.T) {
	first := models.NewLinearWear(1.0)
	second := models.NewLinearWear(2.0)
	mixture, err := New([]Expert{
		{ID: "slow", Model: first},
		{ID: "fast", Model: second},
	}, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	x := model.StateVector{
		"slow.wear":   4.0,
		"fast.wear":   11.0,
		"slow._score": 0.7,
		"fast._score": 0.3,
	}

	// Every query answers from the score-0.7 expert's state slice only.
	z, err := mixture.Output(x)
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	approx(t, z.Value("meas_a"), 5.0, 1e-12, "delegated output")

	es, err := mixture.EventState(x)
	if err != nil {
		t.Fatalf("EventState: %v", err)
	}
	approx(t, es["worn"], 1-4.0/10.0, 1e-12, "delegated event state")

	tm, err := mixture.ThresholdMet(x)
	if err != nil {
		t.Fatalf("ThresholdMet: %v", err)
	}
	if tm["worn"] {
		t.Fatal("delegated threshold should come from the unworn expert")
	}

	pm, err := mixture.PerformanceMetrics(x)
	if err != nil {
		t.Fatalf("PerformanceMetrics: %v", err)
	}
	approx(t, pm["wear_margin"], 6.0, 1e-12, "delegated metric")

	// Flip the scores: the other expert (already past its limit) answers.
	x["slow._score"], x["fast._score"] = 0.3, 0.7
	tm, err = mixture.ThresholdMet(x)
	if err != nil {
		t.Fatalf("ThresholdMet: %v", err)
	}
	if !tm["worn"] {
		t.Fatal("delegated threshold should come from the worn expert")
	}
}

func TestEqualErrorsKeepScoresBounded(t *testing.T) {
	// Two identical experts always tie; the degenerate delta policy gives
	// both +step, so both climb and saturation rescaling kicks in.
	mixture, err := New([]Expert{
		{ID: "a", Model: models.NewLinearWear(1.0)},
		{ID: "b", Model: models.NewLinearWear(1.0)},
	}, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	x, _ := mixture.Initialize(nil, nil)
	for i := 0; i < 200; i++ {
		z, err := mixture.Output(x)
		if err != nil {
			t.Fatalf("Output: %v", err)
		}
		x, err = mixture.NextState(x, model.InputVector{
			"load":   1,
			"meas_a": z.Value("meas_a") + 1.0,
			"meas_b": z.Value("meas_b") + 1.0,
		}, 1)
		if err != nil {
			t.Fatalf("NextState: %v", err)
		}
		for _, e := range mixture.Experts() {
			s := x.Value(ScoreKey(e.ID))
			if s < 0 || s > 1 {
				t.Fatalf("iteration %d: score for %s out of bounds: %v", i, e.ID, s)
			}
		}
	}
}

func TestScoreKeyRoundTrip(t *testing.T) {
	id, ok := ExpertForScoreKey(ScoreKey("nominal"))
	if !ok || id != "nominal" {
		t.Fatalf("expected nominal, got %q (ok=%v)", id, ok)
	}
	if _, ok := ExpertForScoreKey("nominal.wear"); ok {
		t.Fatal("plain state key should not parse as a score key")
	}
	if _, ok := ExpertForScoreKey("_score"); ok {
		t.Fatal("bare score suffix should not parse as a score key")
	}
}

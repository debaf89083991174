package moe

import (
	"strings"

	"github.com/danielpatrickdp/prognostic-moe/internal/model"
	"github.com/danielpatrickdp/prognostic-moe/internal/namespace"
)

// #region expert

// Expert pairs an identifier with the model it names. Order of experts is
// fixed at construction and significant: exact score ties resolve to the
// earliest-constructed expert.
type Expert struct {
	ID    string
	Model model.Model
}

// #endregion expert

// #region config

// Config holds the mixture's tuning parameters.
type Config struct {
	// MaxScoreStep is the largest per-step score change: the best expert
	// gains this much, the worst loses this much.
	MaxScoreStep float64
}

// DefaultConfig returns the standard mixture configuration.
func DefaultConfig() Config {
	return Config{MaxScoreStep: 0.01}
}

// #endregion config

// #region score-key

// scoreSuffix is the reserved local state name holding an expert's score.
const scoreSuffix = "_score"

// ScoreKey returns the global state key holding the score for expert id.
func ScoreKey(id string) string {
	return namespace.Join(id, scoreSuffix)
}

// ExpertForScoreKey returns the expert ID for a score state key, or false
// when the key is not a score key.
func ExpertForScoreKey(key string) (string, bool) {
	id, ok := strings.CutSuffix(key, namespace.Separator+scoreSuffix)
	if !ok || !namespace.ValidID(id) {
		return "", false
	}
	return id, true
}

// #endregion score-key

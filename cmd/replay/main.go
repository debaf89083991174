package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/danielpatrickdp/prognostic-moe/internal/sim"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to scenario fixture JSON")
	verbose := flag.Bool("verbose", false, "print per-expert scores each step")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/scenario.json [--verbose]")
		os.Exit(2)
	}

	f, err := sim.LoadFixture(*fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		os.Exit(2)
	}

	results, err := sim.Replay(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}

	os.Exit(printComparison(f, results, *verbose))
}

// #endregion main

// #region output

// printComparison outputs a comparison table and returns the exit code:
// 0 when every step delegates to the recorded expert, 1 otherwise.
func printComparison(f *sim.Fixture, results []sim.StepResult, verbose bool) int {
	if f.Description != "" {
		fmt.Println(f.Description)
	}
	fmt.Printf("%-6s| %-18s| %-18s| %s\n", "Step", "Expected", "Replayed", "Match")
	fmt.Printf("%-6s+%-19s+%-19s+%s\n",
		"------", "-------------------", "-------------------", "------")

	matches := 0
	for _, r := range results {
		expected := r.Expected
		if expected == "" {
			expected = "(any)"
		}
		match := "DIFF"
		if r.Match {
			match = "OK"
			matches++
		}
		fmt.Printf("%-6d| %-18s| %-18s| %s\n", r.Index, expected, r.BestID, match)

		if verbose {
			fmt.Printf("       scores: %s\n", formatScores(r.Scores))
		}
	}

	diverge := len(results) - matches
	fmt.Printf("\nSummary: %d steps, %d match, %d diverge\n", len(results), matches, diverge)

	if diverge > 0 {
		return 1
	}
	return 0
}

// formatScores renders scores sorted by expert ID for stable output.
func formatScores(scores map[string]float64) string {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%s=%.4f", id, scores[id])
	}
	return strings.Join(parts, " ")
}

// #endregion output

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/danielpatrickdp/prognostic-moe/internal/moe"
	"github.com/danielpatrickdp/prognostic-moe/internal/store"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to runs database")
	last := flag.Int("last", 20, "show N most recent runs")
	runID := flag.String("run", "", "show score trajectory for one run")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/runs.db [--last N] [--run id] [--json]")
		os.Exit(2)
	}

	st, err := store.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if *runID != "" {
		err = runDetailMode(st, *runID, *jsonOut)
	} else {
		err = runListMode(st, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	RunID     string `json:"run_id"`
	Model     string `json:"model"`
	Steps     int    `json:"steps"`
	Best      string `json:"best,omitempty"`
	CreatedAt string `json:"created_at"`
}

func runListMode(st *store.Store, last int, jsonOut bool) error {
	runs, err := st.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	rows := make([]listRow, len(runs))
	for i, run := range runs {
		snaps, err := st.Snapshots(run.RunID)
		if err != nil {
			return err
		}
		row := listRow{
			RunID:     run.RunID,
			Model:     run.ModelName,
			Steps:     len(snaps),
			CreatedAt: run.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		if len(snaps) > 0 {
			row.Best = snaps[len(snaps)-1].BestExpert
		}
		rows[i] = row
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(rows)
	}

	fmt.Printf("%-38s| %-18s| %-6s| %-14s| %s\n", "Run", "Model", "Steps", "Best", "Created")
	for _, row := range rows {
		fmt.Printf("%-38s| %-18s| %-6d| %-14s| %s\n",
			row.RunID, row.Model, row.Steps, row.Best, row.CreatedAt)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailRow struct {
	Step   int                `json:"step"`
	Time   float64            `json:"time"`
	Best   string             `json:"best,omitempty"`
	Scores map[string]float64 `json:"scores"`
}

func runDetailMode(st *store.Store, runID string, jsonOut bool) error {
	run, err := st.GetRun(runID)
	if err != nil {
		return err
	}
	snaps, err := st.Snapshots(runID)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Fprintln(os.Stderr, "no snapshots found for run")
		return nil
	}

	rows := make([]detailRow, len(snaps))
	for i, snap := range snaps {
		scores := make(map[string]float64)
		for key, v := range snap.State {
			if id, ok := moe.ExpertForScoreKey(key); ok {
				scores[id] = v
			}
		}
		rows[i] = detailRow{Step: snap.Step, Time: snap.SimTime, Best: snap.BestExpert, Scores: scores}
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(rows)
	}

	// Stable column order from the first snapshot's score keys.
	ids := make([]string, 0, len(rows[0].Scores))
	for id := range rows[0].Scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Printf("run %s (%s)\n", run.RunID, run.ModelName)
	fmt.Printf("%-6s| %-10s| %-14s", "Step", "Time", "Best")
	for _, id := range ids {
		fmt.Printf("| %-14s", id)
	}
	fmt.Println()

	for _, row := range rows {
		fmt.Printf("%-6d| %-10.2f| %-14s", row.Step, row.Time, row.Best)
		for _, id := range ids {
			fmt.Printf("| %-14.4f", row.Scores[id])
		}
		fmt.Println()
	}
	return nil
}

// #endregion detail-mode

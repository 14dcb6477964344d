package command

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/tomatool/driverpool/internal/runlog"
)

var runsCommand = &cli.Command{
	Name:  "runs",
	Usage: "List stored runs with their logs and screenshots",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"n"},
			Value:   10,
			Usage:   "number of runs to show (0 for all)",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "output in JSON format",
		},
	},
	Action: func(c *cli.Context) error {
		runs, err := runlog.ListRuns()
		if err != nil {
			return fmt.Errorf("listing runs: %w", err)
		}
		if n := c.Int("limit"); n > 0 && len(runs) > n {
			runs = runs[:n]
		}

		if c.Bool("json") {
			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}
		printRuns(c.App.Writer, runs)
		return nil
	},
}

func printRuns(w io.Writer, runs []runlog.RunInfo) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet")
		return
	}
	for _, run := range runs {
		fmt.Fprintln(w, titleStyle.Render(run.Name))
		for _, f := range run.Logs {
			fmt.Fprintf(w, "  log        %-24s %s\n", f.Name, helpStyle.Render(f.HumanSize()))
		}
		for _, f := range run.Screenshots {
			fmt.Fprintf(w, "  screenshot %-24s %s\n", f.Name, helpStyle.Render(f.HumanSize()))
		}
	}
}

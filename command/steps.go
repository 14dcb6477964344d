package command

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/tomatool/driverpool/internal/steps"
)

var stepsCommand = &cli.Command{
	Name:  "steps",
	Usage: "List available Gherkin steps",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "filter",
			Aliases: []string{"f"},
			Usage:   "filter steps by keyword",
		},
		&cli.StringFlag{
			Name:  "format",
			Value: "text",
			Usage: "output format (text, json, markdown)",
		},
	},
	Action: func(c *cli.Context) error {
		categories := filterSteps(stepCatalog().Categories(), c.String("filter"))

		switch c.String("format") {
		case "json":
			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(categories)
		case "markdown", "md":
			writeStepsMarkdown(c.App.Writer, categories)
		case "text":
			writeStepsText(c.App.Writer, categories)
		default:
			return fmt.Errorf("unknown format %q", c.String("format"))
		}
		return nil
	},
}

func filterSteps(categories []steps.StepCategory, filter string) []steps.StepCategory {
	filter = strings.ToLower(filter)
	if filter == "" {
		return categories
	}

	var out []steps.StepCategory
	for _, cat := range categories {
		var matching []steps.StepDef
		for _, step := range cat.Steps {
			if strings.Contains(strings.ToLower(step.Description), filter) ||
				strings.Contains(strings.ToLower(step.Pattern), filter) ||
				strings.Contains(strings.ToLower(step.Group), filter) {
				matching = append(matching, step)
			}
		}
		if len(matching) > 0 {
			out = append(out, steps.StepCategory{Name: cat.Name, Description: cat.Description, Steps: matching})
		}
	}
	return out
}

func writeStepsText(w io.Writer, categories []steps.StepCategory) {
	for _, cat := range categories {
		fmt.Fprintf(w, "\n%s\n", titleStyle.Render(cat.Name))
		fmt.Fprintf(w, "%s\n\n", helpStyle.Render(cat.Description))

		for _, step := range cat.Steps {
			fmt.Fprintf(w, "  %s\n", keyStyle.Render(step.Description))
			fmt.Fprintf(w, "  %s\n", warnStyle.UnsetBold().Render(step.Pattern))
			if step.Example != "" {
				fmt.Fprintf(w, "  %s\n", helpStyle.Render("Example: "+strings.Split(step.Example, "\n")[0]))
			}
			fmt.Fprintln(w)
		}
	}
}

func writeStepsMarkdown(w io.Writer, categories []steps.StepCategory) {
	fmt.Fprintln(w, "# Step Reference")
	for _, cat := range categories {
		fmt.Fprintf(w, "\n## %s\n\n%s\n", cat.Name, cat.Description)

		group := ""
		for _, step := range cat.Steps {
			if step.Group != group {
				group = step.Group
				fmt.Fprintf(w, "\n### %s\n\n", group)
				fmt.Fprintln(w, "| Step | Description |")
				fmt.Fprintln(w, "|------|-------------|")
			}
			example := step.Example
			if example == "" {
				example = step.Pattern
			}
			example = strings.ReplaceAll(strings.Split(example, "\n")[0], "|", `\|`)
			fmt.Fprintf(w, "| `%s` | %s |\n", example, step.Description)
		}
	}
}

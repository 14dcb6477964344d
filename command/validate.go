package command

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	gherkin "github.com/cucumber/gherkin/go/v26"
	messages "github.com/cucumber/messages/go/v21"
	"github.com/urfave/cli/v2"

	"github.com/tomatool/driverpool/internal/browser"
	"github.com/tomatool/driverpool/internal/config"
	"github.com/tomatool/driverpool/internal/dashboard"
	"github.com/tomatool/driverpool/internal/steps"
)

var validateCommand = &cli.Command{
	Name:  "validate",
	Usage: "Validate the suite file, property files and feature files",
	Flags: []cli.Flag{
		configFlag,
		setFlag,
		&cli.BoolFlag{
			Name:  "plain",
			Usage: "disable colors (for CI)",
		},
	},
	Action: func(c *cli.Context) error {
		v := newValidator(c.String("config"), c.StringSlice("set"))
		v.validate()
		return v.report(c.App.Writer, c.Bool("plain"))
	},
}

// Validation statuses
const (
	statusOK      = "ok"
	statusWarning = "warning"
	statusError   = "error"
)

// ValidationResult holds the result of a validation check
type ValidationResult struct {
	Category   string
	Item       string
	Status     string
	Message    string
	Suggestion string
}

// Validator performs all validation checks
type Validator struct {
	configPath   string
	set          []string
	config       *config.Config
	results      []ValidationResult
	stepPatterns []*regexp.Regexp
}

func newValidator(configPath string, set []string) *Validator {
	v := &Validator{configPath: configPath, set: set}
	for _, step := range stepCatalog().AllSteps() {
		if re, err := regexp.Compile(step.Pattern); err == nil {
			v.stepPatterns = append(v.stepPatterns, re)
		}
	}
	return v
}

func stepCatalog() *steps.Catalog {
	return steps.NewCatalog(steps.NewBrowser(nil, nil, nil))
}

func (v *Validator) add(category, item, status, message, suggestion string) {
	v.results = append(v.results, ValidationResult{
		Category:   category,
		Item:       item,
		Status:     status,
		Message:    message,
		Suggestion: suggestion,
	})
}

func (v *Validator) validate() {
	v.validateConfig()
	if v.config == nil {
		return
	}
	v.validateProperties()
	v.validateContainers()
	v.validateFeatureFiles()
}

func (v *Validator) validateConfig() {
	if !fileExists(v.configPath) && v.configPath != config.DefaultFile {
		v.add("Config", v.configPath, statusError, "config file not found",
			fmt.Sprintf("Create %s or omit --config to use defaults", v.configPath))
		return
	}

	cfg, err := loadSuite(v.configPath)
	if err != nil {
		v.add("Config", v.configPath, statusError, err.Error(), "Check the config file syntax and structure")
		return
	}
	v.config = cfg

	if fileExists(v.configPath) {
		v.add("Config", v.configPath, statusOK, "valid configuration", "")
	} else {
		v.add("Config", v.configPath, statusWarning, "not found, using defaults", "")
	}

	for _, path := range cfg.Features.Paths {
		if !fileExists(path) {
			v.add("Config", "features.paths: "+path, statusWarning, "path does not exist",
				fmt.Sprintf("Create the directory: mkdir -p %s", path))
		}
	}
}

func (v *Validator) validateProperties() {
	found := 0
	for _, path := range v.config.Properties.Files {
		if !fileExists(path) {
			v.add("Properties", path, statusWarning, "file not found, defaults apply", "")
			continue
		}
		found++
	}
	for _, path := range v.config.Properties.TestData {
		if !fileExists(path) {
			v.add("Properties", path, statusWarning, "test data file not found", "")
		}
	}

	props, err := overrides(v.config, v.set)
	if err != nil {
		v.add("Properties", "--set", statusError, err.Error(), "Use key=value")
		return
	}
	store, err := config.LoadStore(v.config.Properties.Files, v.config.Properties.TestData, props)
	if err != nil {
		v.add("Properties", "load", statusError, err.Error(), "Check the .properties syntax")
		return
	}

	snap := store.Snapshot()
	if _, err := browser.ParseKind(snap.Browser); err != nil {
		v.add("Properties", config.KeyBrowser, statusError, err.Error(), "Use chrome, firefox or edge")
	} else {
		v.add("Properties", config.KeyBrowser, statusOK, snap.Browser, "")
	}

	switch {
	case v.config.Grid.Enabled():
		v.add("Properties", config.KeyRemoteExecution, statusOK, "managed grid container "+v.config.Grid.Container, "")
	case snap.RemoteExecution:
		v.add("Properties", config.KeyRemoteExecution, statusOK, "remote grid at "+config.RedactURL(snap.GridURL), "")
	default:
		v.add("Properties", config.KeyRemoteExecution, statusOK, "local browsers via playwright", "")
	}
	if found == 0 {
		v.add("Properties", "(none)", statusWarning, "no property files found",
			fmt.Sprintf("Create %s with browser=chrome", config.DefaultPropertiesFile))
	}
}

func (v *Validator) validateContainers() {
	for _, name := range sortedKeys(v.config.Containers) {
		cont := v.config.Containers[name]
		if cont.WaitFor.Type == "" {
			v.add("Containers", name, statusWarning, "no wait_for strategy defined",
				`Add wait_for to ensure the container is ready: wait_for: {type: port, target: "4444"}`)
			continue
		}
		msg := "image: " + cont.Image
		if v.config.Grid.Container == name {
			msg += " (grid)"
		}
		v.add("Containers", name, statusOK, msg, "")
	}
}

func (v *Validator) validateFeatureFiles() {
	var files []string
	for _, path := range v.config.Features.Paths {
		found, _ := dashboard.FindFeatureFiles(path)
		files = append(files, found...)
	}

	if len(files) == 0 {
		v.add("Features", "(none)", statusWarning, "no feature files found",
			"Create .feature files in your features directory")
		return
	}

	for _, file := range files {
		v.validateFeatureFile(file)
	}
}

func (v *Validator) validateFeatureFile(path string) {
	name := filepath.Base(path)

	content, err := os.ReadFile(path)
	if err != nil {
		v.add("Features", name, statusError, fmt.Sprintf("cannot read file: %v", err), "")
		return
	}

	doc, err := gherkin.ParseGherkinDocument(strings.NewReader(string(content)), (&messages.Incrementing{}).NewId)
	if err != nil {
		v.add("Features", name, statusError, fmt.Sprintf("parse error: %v", err),
			"Check Gherkin syntax: https://cucumber.io/docs/gherkin/reference/")
		return
	}
	if doc.Feature == nil {
		v.add("Features", name, statusError, "no Feature found in file", "Add 'Feature: <name>' at the top of the file")
		return
	}

	scenarios := 0
	var undefined []string
	check := func(stepList []*messages.Step) {
		for _, step := range stepList {
			if !v.isStepDefined(step.Text) {
				undefined = append(undefined, step.Text)
			}
		}
	}
	visit := func(bg *messages.Background, sc *messages.Scenario) {
		if bg != nil {
			check(bg.Steps)
		}
		if sc != nil {
			scenarios++
			check(sc.Steps)
		}
	}

	for _, child := range doc.Feature.Children {
		visit(child.Background, child.Scenario)
		if child.Rule != nil {
			for _, rc := range child.Rule.Children {
				visit(rc.Background, rc.Scenario)
			}
		}
	}

	if len(undefined) > 0 {
		shown := undefined
		if len(shown) > 3 {
			shown = shown[:3]
		}
		v.add("Features", name, statusWarning,
			fmt.Sprintf("%d undefined step(s): %s", len(undefined), strings.Join(shown, ", ")),
			"Run 'driverpool steps' to see available steps")
		return
	}
	v.add("Features", name, statusOK, fmt.Sprintf("%d scenario(s)", scenarios), "")
}

// isStepDefined matches step text against the step library. Outline
// placeholders are substituted first so "<url>" and <count> still match.
func (v *Validator) isStepDefined(text string) bool {
	text = placeholder.ReplaceAllString(text, "1")
	for _, pattern := range v.stepPatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

var placeholder = regexp.MustCompile(`<[^>]+>`)

func sortedKeys(m map[string]config.Container) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (v *Validator) counts() (ok, warnings, errs int) {
	for _, r := range v.results {
		switch r.Status {
		case statusOK:
			ok++
		case statusWarning:
			warnings++
		case statusError:
			errs++
		}
	}
	return
}

func (v *Validator) report(w io.Writer, plain bool) error {
	okS, warnS, errS, catS, hintS := okStyle, warnStyle, errorStyle, titleStyle, helpStyle
	if plain {
		okS, warnS, errS, catS, hintS = lipgloss.NewStyle(), lipgloss.NewStyle(), lipgloss.NewStyle(), lipgloss.NewStyle(), lipgloss.NewStyle()
	}

	var order []string
	grouped := make(map[string][]ValidationResult)
	for _, r := range v.results {
		if _, ok := grouped[r.Category]; !ok {
			order = append(order, r.Category)
		}
		grouped[r.Category] = append(grouped[r.Category], r)
	}

	for _, category := range order {
		fmt.Fprintln(w, catS.Render("["+category+"]"))
		for _, r := range grouped[category] {
			icon := okS.Render("✓")
			switch r.Status {
			case statusWarning:
				icon = warnS.Render("!")
			case statusError:
				icon = errS.Render("✗")
			}

			fmt.Fprintf(w, "  %s %s", icon, r.Item)
			if r.Message != "" {
				fmt.Fprintf(w, ": %s", r.Message)
			}
			fmt.Fprintln(w)
			if r.Suggestion != "" {
				fmt.Fprintf(w, "    %s\n", hintS.Render("→ "+r.Suggestion))
			}
		}
		fmt.Fprintln(w)
	}

	ok, warnings, errs := v.counts()
	fmt.Fprintf(w, "Summary: %d passed, %d warnings, %d errors\n", ok, warnings, errs)

	if errs > 0 {
		return fmt.Errorf("validation failed with %d error(s)", errs)
	}
	if warnings > 0 {
		fmt.Fprintln(w, "Validation passed with warnings")
	} else {
		fmt.Fprintln(w, "Validation passed!")
	}
	return nil
}

package command

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v2"

	"github.com/tomatool/driverpool/internal/browser"
	"github.com/tomatool/driverpool/internal/browser/remote"
	"github.com/tomatool/driverpool/internal/config"
)

var initCommand = &cli.Command{
	Name:  "init",
	Usage: "Initialize a new driverpool suite",
	Description: `Create driverpool.yml, config.properties, testdata.properties and an
example feature interactively.

Guides you through choosing a browser, headless mode and where sessions
run: locally through Playwright, on a Selenium Grid container driverpool
starts, on an existing grid, or on a cloud grid. With --yes the wizard is
skipped and the flag values are used as answers.`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "force",
			Aliases: []string{"f"},
			Usage:   "overwrite existing files",
		},
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "skip the wizard and use flag values",
		},
		&cli.StringFlag{
			Name:  "browser",
			Value: config.DefaultBrowser,
			Usage: "browser (chrome, firefox, edge)",
		},
		&cli.BoolFlag{
			Name:  "headless",
			Usage: "run browsers without a window",
		},
		&cli.StringFlag{
			Name:  "execution",
			Value: execLocal,
			Usage: "where sessions run (local, managed, remote, lambdatest, browserstack)",
		},
		&cli.StringFlag{
			Name:  "grid-url",
			Usage: "grid URL for --execution remote",
		},
	},
	Action: runInit,
}

// Execution targets offered by the wizard.
const (
	execLocal        = "local"
	execManaged      = "managed"
	execRemote       = "remote"
	execLambdaTest   = "lambdatest"
	execBrowserStack = "browserstack"
)

type execution struct {
	name        string
	description string
	key         string
}

var executions = []execution{
	{"Local", "Launch browsers on this machine through Playwright", execLocal},
	{"Managed grid", "Start a Selenium standalone container for every run", execManaged},
	{"Existing grid", "Connect to a Selenium Grid you already run", execRemote},
	{"LambdaTest", "Cloud grid, credentials read from properties", execLambdaTest},
	{"BrowserStack", "Cloud grid, credentials read from properties", execBrowserStack},
}

// initAnswers is what the wizard collects and the generators consume.
type initAnswers struct {
	Browser   browser.Kind
	Headless  bool
	Execution string
	GridURL   string
}

func (a initAnswers) validate() error {
	if _, err := browser.ParseKind(a.Browser.String()); err != nil {
		return err
	}
	known := false
	for _, e := range executions {
		if e.key == a.Execution {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown execution %q", a.Execution)
	}
	if a.Execution == execRemote {
		if _, err := remote.ParseEndpoint(a.GridURL); err != nil {
			return fmt.Errorf("execution remote needs an http(s) grid URL: %w", err)
		}
	}
	return nil
}

type initStep int

const (
	stepBrowser initStep = iota
	stepHeadless
	stepExecution
	stepGridURL
	stepConfirm
)

type initModel struct {
	step    initStep
	cursor  int
	answers initAnswers

	textInput string

	done      bool
	cancelled bool
}

func initialInitModel() initModel {
	return initModel{
		step: stepBrowser,
		answers: initAnswers{
			Browser:   config.DefaultBrowser,
			Execution: execLocal,
		},
	}
}

func (m initModel) Init() tea.Cmd {
	return nil
}

func (m initModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	if m.step == stepGridURL {
		return m.handleTextInput(key)
	}

	switch key.String() {
	case "ctrl+c", "q":
		m.cancelled = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < m.maxCursor() {
			m.cursor++
		}
	case "esc":
		if m.step > stepBrowser {
			m.step--
			if m.step == stepGridURL && m.answers.Execution != execRemote {
				m.step--
			}
			m.cursor = 0
		}
	case "enter":
		return m.handleEnter()
	}
	return m, nil
}

func (m initModel) handleTextInput(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyCtrlC:
		m.cancelled = true
		return m, tea.Quit
	case tea.KeyEnter:
		if strings.TrimSpace(m.textInput) == "" {
			return m, nil
		}
		m.answers.GridURL = strings.TrimSpace(m.textInput)
		m.step = stepConfirm
		m.cursor = 0
	case tea.KeyBackspace:
		if len(m.textInput) > 0 {
			m.textInput = m.textInput[:len(m.textInput)-1]
		}
	case tea.KeyEsc:
		m.step = stepExecution
		m.cursor = 0
	case tea.KeySpace:
		m.textInput += " "
	case tea.KeyRunes:
		m.textInput += string(key.Runes)
	}
	return m, nil
}

func (m initModel) maxCursor() int {
	switch m.step {
	case stepBrowser:
		return len(browser.Kinds()) - 1
	case stepHeadless:
		return 1 // Yes, No
	case stepExecution:
		return len(executions) - 1
	case stepConfirm:
		return 1 // Create, Cancel
	default:
		return 0
	}
}

func (m initModel) handleEnter() (tea.Model, tea.Cmd) {
	switch m.step {
	case stepBrowser:
		m.answers.Browser = browser.Kinds()[m.cursor]
		m.step = stepHeadless
	case stepHeadless:
		m.answers.Headless = m.cursor == 0
		m.step = stepExecution
	case stepExecution:
		m.answers.Execution = executions[m.cursor].key
		if m.answers.Execution == execRemote {
			m.step = stepGridURL
			if m.textInput == "" {
				m.textInput = config.DefaultGridURL
			}
		} else {
			m.answers.GridURL = ""
			m.step = stepConfirm
		}
	case stepConfirm:
		if m.cursor == 0 {
			m.done = true
		} else {
			m.cancelled = true
		}
		return m, tea.Quit
	}
	m.cursor = 0
	return m, nil
}

func (m initModel) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("driverpool init"))
	s.WriteString("\n\n")

	switch m.step {
	case stepBrowser:
		s.WriteString(subtitleStyle.Render("Which browser do your scenarios drive?"))
		s.WriteString("\n\n")
		for i, k := range browser.Kinds() {
			s.WriteString(m.option(i, k.String(), ""))
		}
		s.WriteString("\n" + helpStyle.Render("ENTER select • q quit"))

	case stepHeadless:
		s.WriteString(subtitleStyle.Render("Run headless?"))
		s.WriteString("\n\n")
		s.WriteString(m.option(0, "Yes", "No browser window, suited to CI"))
		s.WriteString(m.option(1, "No", "Show the browser while scenarios run"))
		s.WriteString("\n" + helpStyle.Render("ENTER select • ESC back"))

	case stepExecution:
		s.WriteString(subtitleStyle.Render("Where do browser sessions run?"))
		s.WriteString("\n\n")
		for i, e := range executions {
			s.WriteString(m.option(i, e.name, e.description))
		}
		s.WriteString("\n" + helpStyle.Render("ENTER select • ESC back"))

	case stepGridURL:
		s.WriteString(subtitleStyle.Render("Enter the Selenium Grid URL:"))
		s.WriteString("\n\n> " + m.textInput + "█\n\n")
		s.WriteString(helpStyle.Render("ENTER confirm • ESC back"))

	case stepConfirm:
		s.WriteString(subtitleStyle.Render("Ready to create the suite"))
		s.WriteString("\n\n")
		fmt.Fprintf(&s, "  browser    %s\n", m.answers.Browser)
		fmt.Fprintf(&s, "  headless   %t\n", m.answers.Headless)
		fmt.Fprintf(&s, "  execution  %s\n", m.answers.Execution)
		if m.answers.GridURL != "" {
			fmt.Fprintf(&s, "  grid.url   %s\n", m.answers.GridURL)
		}
		s.WriteString("\n")
		s.WriteString(m.option(0, "Create "+config.DefaultFile, ""))
		s.WriteString(m.option(1, "Cancel", ""))
	}

	return s.String()
}

func (m initModel) option(i int, name, desc string) string {
	if i != m.cursor {
		return "  " + unselectedStyle.Render(name) + "\n"
	}
	line := "> " + selectedStyle.Render(name)
	if desc != "" {
		line += helpStyle.Render("  " + desc)
	}
	return line + "\n"
}

func runInit(c *cli.Context) error {
	force := c.Bool("force")
	if _, err := os.Stat(config.DefaultFile); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", config.DefaultFile)
	}

	var answers initAnswers
	if c.Bool("yes") {
		answers = initAnswers{
			Browser:   browser.Kind(strings.ToLower(c.String("browser"))),
			Headless:  c.Bool("headless"),
			Execution: c.String("execution"),
			GridURL:   c.String("grid-url"),
		}
	} else {
		result, err := tea.NewProgram(initialInitModel()).Run()
		if err != nil {
			return fmt.Errorf("error running init: %w", err)
		}
		final := result.(initModel)
		if final.cancelled || !final.done {
			fmt.Fprintln(c.App.Writer, "\nCancelled.")
			return nil
		}
		answers = final.answers
	}

	if err := answers.validate(); err != nil {
		return err
	}
	return writeSuite(c.App.Writer, answers, force)
}

// writeSuite creates the suite files. Property files and the example
// feature are left alone when they exist, unless force is set.
func writeSuite(w io.Writer, a initAnswers, force bool) error {
	files := []struct {
		path      string
		content   string
		overwrite bool
	}{
		{config.DefaultFile, generateSuiteFile(a), true},
		{config.DefaultPropertiesFile, generateProperties(a), force},
		{config.TestDataPropertiesFile, generateTestData(), force},
		{filepath.Join("features", "example.feature"), generateExampleFeature(), force},
	}

	fmt.Fprintln(w)
	for _, f := range files {
		if _, err := os.Stat(f.path); err == nil && !f.overwrite {
			fmt.Fprintln(w, warnStyle.Render("• Kept existing "+f.path))
			continue
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("checking %s: %w", f.path, err)
		}
		if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(f.path), err)
		}
		if err := os.WriteFile(f.path, []byte(f.content), 0644); err != nil {
			return fmt.Errorf("creating %s: %w", f.path, err)
		}
		fmt.Fprintln(w, okStyle.Render("✓ Created "+f.path))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Next steps:")
	switch a.Execution {
	case execLambdaTest, execBrowserStack:
		fmt.Fprintf(w, "  1. Set %s.username and %s.accesskey, e.g. in a .env file\n", a.Execution, a.Execution)
	case execLocal:
		fmt.Fprintln(w, "  1. Browser binaries are installed on the first run")
	default:
		fmt.Fprintln(w, "  1. Review "+config.DefaultFile+" and config.properties")
	}
	fmt.Fprintln(w, "  2. Run "+selectedStyle.Render("driverpool validate"))
	fmt.Fprintln(w, "  3. Run "+selectedStyle.Render("driverpool run"))
	fmt.Fprintln(w)
	return nil
}

func generateSuiteFile(a initAnswers) string {
	var s strings.Builder

	s.WriteString("version: 2\n\n")

	s.WriteString("settings:\n")
	s.WriteString("  timeout: 10m\n")
	s.WriteString("  parallel: 1\n")
	s.WriteString("  fail_fast: false\n")
	s.WriteString("  output: pretty\n")
	s.WriteString("  screenshots: on_failure\n\n")

	s.WriteString("properties:\n")
	s.WriteString("  files:\n")
	s.WriteString("    - " + config.DefaultPropertiesFile + "\n")
	s.WriteString("  test_data:\n")
	s.WriteString("    - " + config.TestDataPropertiesFile + "\n\n")

	if a.Execution == execLocal {
		s.WriteString("playwright:\n")
		s.WriteString("  install: true\n\n")
	}

	if a.Execution == execManaged {
		s.WriteString("# Selenium Grid started before the first scenario\n")
		s.WriteString("grid:\n")
		s.WriteString("  container: selenium\n")
		s.WriteString("  port: 4444/tcp\n\n")
		s.WriteString("containers:\n")
		s.WriteString("  selenium:\n")
		fmt.Fprintf(&s, "    image: selenium/standalone-%s:latest\n", a.Browser)
		s.WriteString("    shm_size: 2g\n")
		s.WriteString("    ports:\n")
		s.WriteString("      - \"4444/tcp\"\n")
		s.WriteString("    wait_for:\n")
		s.WriteString("      type: http\n")
		s.WriteString("      target: \"4444/tcp\"\n")
		s.WriteString("      path: /status\n")
		s.WriteString("      timeout: 60s\n\n")
	}

	s.WriteString("hooks:\n")
	s.WriteString("  before_all: []\n")
	s.WriteString("  after_all: []\n")
	s.WriteString("  before_scenario: []\n")
	s.WriteString("  after_scenario: []\n\n")

	s.WriteString("features:\n")
	s.WriteString("  paths:\n")
	s.WriteString("    - ./features\n")

	return s.String()
}

func generateProperties(a initAnswers) string {
	var s strings.Builder

	s.WriteString("# Browser registry\n")
	fmt.Fprintf(&s, "%s=%s\n", config.KeyBrowser, a.Browser)
	fmt.Fprintf(&s, "%s=%t\n", config.KeyHeadless, a.Headless)
	fmt.Fprintf(&s, "%s=%d\n", config.KeyImplicitWait, config.DefaultImplicitWait)
	fmt.Fprintf(&s, "%s=%d\n", config.KeyExplicitWait, config.DefaultExplicitWait)
	fmt.Fprintf(&s, "%s=%d\n\n", config.KeyPageLoadTimeout, config.DefaultPageLoadTimeout)

	switch a.Execution {
	case execLocal:
		fmt.Fprintf(&s, "%s=false\n", config.KeyRemoteExecution)
	case execManaged:
		s.WriteString("# grid.url is filled in from the managed container\n")
		fmt.Fprintf(&s, "%s=true\n", config.KeyRemoteExecution)
	case execRemote:
		fmt.Fprintf(&s, "%s=true\n", config.KeyRemoteExecution)
		fmt.Fprintf(&s, "%s=%s\n", config.KeyGridURL, a.GridURL)
	case execLambdaTest, execBrowserStack:
		fmt.Fprintf(&s, "%s=true\n", config.KeyRemoteExecution)
		fmt.Fprintf(&s, "%s=%s\n", config.KeyGridProvider, a.Execution)
		s.WriteString("# Credentials come from DRIVERPOOL_" + strings.ToUpper(a.Execution) + "_USERNAME\n")
		s.WriteString("# and DRIVERPOOL_" + strings.ToUpper(a.Execution) + "_ACCESSKEY, or set them here.\n")
		fmt.Fprintf(&s, "%s.username=\n", a.Execution)
		fmt.Fprintf(&s, "%s.accesskey=\n", a.Execution)
	}

	return s.String()
}

func generateTestData() string {
	var s strings.Builder
	s.WriteString("# Values referenced from feature files as ${key}\n")
	s.WriteString("base.url=https://example.com\n")
	s.WriteString("example.heading=Example Domain\n")
	return s.String()
}

func generateExampleFeature() string {
	var s strings.Builder

	s.WriteString("Feature: Example site\n")
	s.WriteString("  As a tester\n")
	s.WriteString("  I want a browser scenario that runs out of the box\n")
	s.WriteString("  So that I can check the suite is wired correctly\n\n")

	s.WriteString("  Scenario: Landing page\n")
	s.WriteString("    Given I open \"${base.url}\"\n")
	s.WriteString("    When I wait for \"h1\" to be visible\n")
	s.WriteString("    Then \"h1\" should contain \"${example.heading}\"\n")
	s.WriteString("    And the title should contain \"Example\"\n")

	return s.String()
}

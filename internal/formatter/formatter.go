// Package formatter provides the "driverpool" godog formatter, which writes
// one JSON event per line for tools consuming run output.
package formatter

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/formatters"
	messages "github.com/cucumber/messages/go/v21"
)

// Name is the formatter name passed to godog.
const Name = "driverpool"

// EventPrefix starts every event line.
const EventPrefix = "DRIVERPOOL_EVENT:"

// Event types for structured output
const (
	EventFeatureStart  = "feature_start"
	EventScenarioStart = "scenario_start"
	EventScenarioEnd   = "scenario_end"
	EventStepEnd       = "step_end"
	EventSummary       = "summary"
)

// Event represents a structured test event
type Event struct {
	Type     string `json:"type"`
	Feature  string `json:"feature,omitempty"`
	Scenario string `json:"scenario,omitempty"`
	Step     string `json:"step,omitempty"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
	File     string `json:"file,omitempty"`
	Duration int64  `json:"duration_ms,omitempty"`

	// Summary fields
	Total   int `json:"total,omitempty"`
	Passed  int `json:"passed,omitempty"`
	Failed  int `json:"failed,omitempty"`
	Skipped int `json:"skipped,omitempty"`
}

type scenarioState struct {
	feature string
	name    string
	steps   int
	done    int
	failed  bool
	skipped int
	err     string
	started time.Time
}

// Formatter emits Event lines. It is safe for concurrent scenarios: state is
// tracked per pickle and a scenario ends when its last step reports.
type Formatter struct {
	out io.Writer
	mu  sync.Mutex

	features  map[string]string // uri -> feature name
	scenarios map[string]*scenarioState
	order     []string
	started   time.Time

	scenarioPassed  int
	scenarioFailed  int
	scenarioSkipped int
	stepsPassed     int
	stepsFailed     int
	stepsSkipped    int
}

func init() {
	godog.Format(Name, "Structured JSON events, one per line", New)
}

// New creates a formatter writing to out
func New(suite string, out io.Writer) formatters.Formatter {
	return &Formatter{
		out:       out,
		features:  make(map[string]string),
		scenarios: make(map[string]*scenarioState),
	}
}

func (f *Formatter) emit(event Event) {
	data, _ := json.Marshal(event)
	fmt.Fprintf(f.out, "%s%s\n", EventPrefix, data)
}

func (f *Formatter) TestRunStarted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = time.Now()
}

func (f *Formatter) Feature(doc *messages.GherkinDocument, uri string, content []byte) {
	if doc.Feature == nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.features[uri] = doc.Feature.Name
	f.emit(Event{
		Type:    EventFeatureStart,
		Feature: doc.Feature.Name,
		File:    uri,
	})
}

func (f *Formatter) Pickle(pickle *messages.Pickle) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := &scenarioState{
		feature: f.features[pickle.Uri],
		name:    pickle.Name,
		steps:   len(pickle.Steps),
		started: time.Now(),
	}
	f.scenarios[pickle.Id] = s
	f.order = append(f.order, pickle.Id)

	f.emit(Event{
		Type:     EventScenarioStart,
		Feature:  s.feature,
		Scenario: s.name,
		File:     pickle.Uri,
	})

	if s.steps == 0 {
		f.endScenario(pickle.Id)
	}
}

func (f *Formatter) Defined(*messages.Pickle, *messages.PickleStep, *formatters.StepDefinition) {}

func (f *Formatter) Passed(pickle *messages.Pickle, step *messages.PickleStep, def *formatters.StepDefinition) {
	f.step(pickle, step, "passed", nil)
}

func (f *Formatter) Failed(pickle *messages.Pickle, step *messages.PickleStep, def *formatters.StepDefinition, err error) {
	f.step(pickle, step, "failed", err)
}

func (f *Formatter) Skipped(pickle *messages.Pickle, step *messages.PickleStep, def *formatters.StepDefinition) {
	f.step(pickle, step, "skipped", nil)
}

func (f *Formatter) Undefined(pickle *messages.Pickle, step *messages.PickleStep, def *formatters.StepDefinition) {
	f.step(pickle, step, "undefined", fmt.Errorf("step undefined: %s", step.Text))
}

func (f *Formatter) Pending(pickle *messages.Pickle, step *messages.PickleStep, def *formatters.StepDefinition) {
	f.step(pickle, step, "pending", nil)
}

func (f *Formatter) Ambiguous(pickle *messages.Pickle, step *messages.PickleStep, def *formatters.StepDefinition, err error) {
	if err == nil {
		err = fmt.Errorf("ambiguous step")
	}
	f.step(pickle, step, "ambiguous", err)
}

func (f *Formatter) step(pickle *messages.Pickle, step *messages.PickleStep, status string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.scenarios[pickle.Id]
	if !ok {
		return
	}

	ev := Event{
		Type:     EventStepEnd,
		Feature:  s.feature,
		Scenario: s.name,
		Step:     step.Text,
		Status:   status,
	}

	switch status {
	case "passed":
		f.stepsPassed++
	case "skipped", "pending":
		f.stepsSkipped++
		s.skipped++
	default:
		f.stepsFailed++
		s.failed = true
		if err != nil {
			ev.Error = err.Error()
			s.err = ev.Error
		}
	}
	f.emit(ev)

	s.done++
	if s.done >= s.steps {
		f.endScenario(pickle.Id)
	}
}

// endScenario must be called with f.mu held
func (f *Formatter) endScenario(id string) {
	s, ok := f.scenarios[id]
	if !ok {
		return
	}
	delete(f.scenarios, id)

	status := "passed"
	switch {
	case s.failed:
		status = "failed"
		f.scenarioFailed++
	case s.steps > 0 && s.skipped == s.steps:
		status = "skipped"
		f.scenarioSkipped++
	default:
		f.scenarioPassed++
	}

	f.emit(Event{
		Type:     EventScenarioEnd,
		Feature:  s.feature,
		Scenario: s.name,
		Status:   status,
		Error:    s.err,
		Duration: time.Since(s.started).Milliseconds(),
	})
}

// Summary closes any scenario still open and writes the totals
func (f *Formatter) Summary() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range f.order {
		f.endScenario(id)
	}

	total := f.scenarioPassed + f.scenarioFailed + f.scenarioSkipped
	var elapsed int64
	if !f.started.IsZero() {
		elapsed = time.Since(f.started).Milliseconds()
	}
	f.emit(Event{
		Type:     EventSummary,
		Total:    total,
		Passed:   f.scenarioPassed,
		Failed:   f.scenarioFailed,
		Skipped:  f.scenarioSkipped,
		Duration: elapsed,
	})

	fmt.Fprintln(f.out)
	fmt.Fprintf(f.out, "%d scenarios (%d passed", total, f.scenarioPassed)
	if f.scenarioFailed > 0 {
		fmt.Fprintf(f.out, ", %d failed", f.scenarioFailed)
	}
	if f.scenarioSkipped > 0 {
		fmt.Fprintf(f.out, ", %d skipped", f.scenarioSkipped)
	}
	fmt.Fprintln(f.out, ")")

	totalSteps := f.stepsPassed + f.stepsFailed + f.stepsSkipped
	fmt.Fprintf(f.out, "%d steps (%d passed", totalSteps, f.stepsPassed)
	if f.stepsFailed > 0 {
		fmt.Fprintf(f.out, ", %d failed", f.stepsFailed)
	}
	if f.stepsSkipped > 0 {
		fmt.Fprintf(f.out, ", %d skipped", f.stepsSkipped)
	}
	fmt.Fprintln(f.out, ")")
}

// ParseEvent decodes one output line. ok is false for lines that are not
// events.
func ParseEvent(line string) (Event, bool, error) {
	if len(line) < len(EventPrefix) || line[:len(EventPrefix)] != EventPrefix {
		return Event{}, false, nil
	}
	var ev Event
	if err := json.Unmarshal([]byte(line[len(EventPrefix):]), &ev); err != nil {
		return Event{}, true, fmt.Errorf("decoding event: %w", err)
	}
	return ev, true, nil
}

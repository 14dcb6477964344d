package formatter

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	messages "github.com/cucumber/messages/go/v21"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pickle(id, name string, steps ...string) *messages.Pickle {
	p := &messages.Pickle{Id: id, Uri: "features/flights.feature", Name: name}
	for i, s := range steps {
		p.Steps = append(p.Steps, &messages.PickleStep{Id: id + "-" + string(rune('a'+i)), Text: s})
	}
	return p
}

func events(t *testing.T, out string) []Event {
	t.Helper()
	var evs []Event
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		ev, ok, err := ParseEvent(sc.Text())
		require.NoError(t, err)
		if ok {
			evs = append(evs, ev)
		}
	}
	return evs
}

func TestFormatter_Events(t *testing.T) {
	var buf bytes.Buffer
	f := New("suite", &buf)

	f.TestRunStarted()
	f.Feature(&messages.GherkinDocument{Feature: &messages.Feature{Name: "Flight search"}}, "features/flights.feature", nil)

	ok := pickle("p1", "one way", "I open home", "I click search")
	bad := pickle("p2", "round trip", "I open home", "I click return")

	// Interleaved as with concurrent scenarios.
	f.Pickle(ok)
	f.Pickle(bad)
	f.Passed(ok, ok.Steps[0], nil)
	f.Passed(bad, bad.Steps[0], nil)
	f.Failed(bad, bad.Steps[1], nil, errors.New("element not found"))
	f.Passed(ok, ok.Steps[1], nil)
	f.Summary()

	evs := events(t, buf.String())

	var ends []Event
	var summary Event
	for _, ev := range evs {
		switch ev.Type {
		case EventScenarioEnd:
			ends = append(ends, ev)
		case EventSummary:
			summary = ev
		}
	}

	require.Len(t, ends, 2)
	assert.Equal(t, "round trip", ends[0].Scenario)
	assert.Equal(t, "failed", ends[0].Status)
	assert.Equal(t, "element not found", ends[0].Error)
	assert.Equal(t, "Flight search", ends[0].Feature)
	assert.Equal(t, "one way", ends[1].Scenario)
	assert.Equal(t, "passed", ends[1].Status)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Passed)
	assert.Equal(t, 1, summary.Failed)

	assert.Equal(t, EventFeatureStart, evs[0].Type)
	assert.Contains(t, buf.String(), "2 scenarios (1 passed, 1 failed)")
	assert.Contains(t, buf.String(), "4 steps (3 passed, 1 failed)")
}

func TestFormatter_SkippedAndUnfinished(t *testing.T) {
	var buf bytes.Buffer
	f := New("suite", &buf)

	f.Feature(&messages.GherkinDocument{Feature: &messages.Feature{Name: "Smoke"}}, "features/smoke.feature", nil)
	skipped := pickle("s1", "skipped", "step one")
	open := pickle("s2", "interrupted", "step one", "step two")
	empty := pickle("s3", "empty")

	f.Pickle(skipped)
	f.Skipped(skipped, skipped.Steps[0], nil)
	f.Pickle(open)
	f.Passed(open, open.Steps[0], nil)
	f.Pickle(empty)
	f.Summary()

	statuses := map[string]string{}
	for _, ev := range events(t, buf.String()) {
		if ev.Type == EventScenarioEnd {
			statuses[ev.Scenario] = ev.Status
		}
	}
	assert.Equal(t, map[string]string{
		"skipped":     "skipped",
		"interrupted": "passed",
		"empty":       "passed",
	}, statuses)
}

func TestFormatter_UndefinedFails(t *testing.T) {
	var buf bytes.Buffer
	f := New("suite", &buf)

	p := pickle("u1", "typo", "I clik search")
	f.Pickle(p)
	f.Undefined(p, p.Steps[0], nil)
	f.Summary()

	assert.Contains(t, buf.String(), "1 scenarios (0 passed, 1 failed)")
}

func TestParseEvent(t *testing.T) {
	_, ok, err := ParseEvent("plain output")
	assert.False(t, ok)
	assert.NoError(t, err)

	_, ok, err = ParseEvent(EventPrefix + "{broken")
	assert.True(t, ok)
	assert.Error(t, err)

	ev, ok, err := ParseEvent(EventPrefix + `{"type":"summary","total":3}`)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, ev.Total)
}

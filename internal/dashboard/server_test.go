package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomatool/driverpool/internal/formatter"
	"github.com/tomatool/driverpool/internal/runlog"
)

const flightsFeature = `@smoke
Feature: Flight search
  Scenario: one way
    Given I open "${base.url}"
    When I click "#search"

  Rule: returns
    Scenario Outline: round trip
      Then the title should contain "<title>"

      Examples:
        | title  |
        | Flights |
`

func useRoot(t *testing.T) {
	t.Helper()
	prev := runlog.Root
	runlog.Root = filepath.Join(t.TempDir(), "runs")
	t.Cleanup(func() { runlog.Root = prev })
}

func writeFeature(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "flights.feature"), []byte(flightsFeature), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.feature"), []byte("Scenario without feature\n  Given"), 0644))
	return dir
}

func TestLoadFeatures(t *testing.T) {
	dir := writeFeature(t)

	features := LoadFeatures([]string{dir, filepath.Join(dir, "missing")})
	require.Len(t, features, 1)

	f := features[0]
	assert.Equal(t, "Flight search", f.Name)
	assert.Equal(t, []string{"@smoke"}, f.Tags)
	require.Len(t, f.Scenarios, 2)
	assert.Equal(t, "one way", f.Scenarios[0].Name)
	assert.Equal(t, Step{Keyword: "Given", Text: `I open "${base.url}"`}, f.Scenarios[0].Steps[0])
	assert.True(t, f.Scenarios[1].IsOutline)
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name  string
		event formatter.Event
		want  string
		ok    bool
	}{
		{"scenario start", formatter.Event{Type: formatter.EventScenarioStart, Scenario: "s"}, MsgScenarioRunning, true},
		{"scenario passed", formatter.Event{Type: formatter.EventScenarioEnd, Status: "passed"}, MsgScenarioPassed, true},
		{"scenario failed", formatter.Event{Type: formatter.EventScenarioEnd, Status: "failed"}, MsgScenarioFailed, true},
		{"scenario skipped", formatter.Event{Type: formatter.EventScenarioEnd, Status: "skipped"}, MsgScenarioSkipped, true},
		{"step passed", formatter.Event{Type: formatter.EventStepEnd, Status: "passed"}, "", false},
		{"step undefined", formatter.Event{Type: formatter.EventStepEnd, Status: "undefined"}, MsgStepFailed, true},
		{"summary", formatter.Event{Type: formatter.EventSummary, Total: 2}, MsgSummary, true},
		{"feature start", formatter.Event{Type: formatter.EventFeatureStart}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := Translate(tt.event)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, msg.Type)
		})
	}
}

func TestServer_RunHistory(t *testing.T) {
	useRoot(t)
	run, err := runlog.New()
	require.NoError(t, err)
	require.NoError(t, run.WriteLog("grid", []byte("grid ready")))
	shot, err := run.SaveScreenshot("failure", []byte("png"))
	require.NoError(t, err)

	srv := httptest.NewServer(New(Options{}).Handler())
	defer srv.Close()
	runName := filepath.Base(run.Dir)

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	code, body := get("/api/runs")
	assert.Equal(t, http.StatusOK, code)
	var runs []runlog.RunInfo
	require.NoError(t, json.Unmarshal([]byte(body), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, runName, runs[0].Name)

	code, body = get("/api/runs/" + runName + "/logs/grid")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "grid ready", body)

	code, body = get("/api/runs/" + runName + "/screenshots/" + strings.TrimSuffix(filepath.Base(shot), ".png"))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "png", body)

	code, _ = get("/api/runs/" + runName + "/logs/missing")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = get("/api/runs/" + runName + "/logs/a%5Cb")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = get("/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "<title>driverpool</title>")
}

func TestServer_Features(t *testing.T) {
	dir := writeFeature(t)
	srv := httptest.NewServer(New(Options{FeaturePaths: []string{dir}}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/features")
	require.NoError(t, err)
	defer resp.Body.Close()

	var features []Feature
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&features))
	require.Len(t, features, 1)
	assert.Equal(t, "Flight search", features[0].Name)
}

func dial(t *testing.T, s *Server, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var first Message
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, MsgInit, first.Type)

	require.Eventually(t, func() bool { return s.Hub().Count() == 1 }, time.Second, 10*time.Millisecond)
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) []Message {
	t.Helper()
	var seen []Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		seen = append(seen, msg)
		if msg.Type == typ {
			return seen
		}
	}
}

func TestServer_Broadcast(t *testing.T) {
	useRoot(t)
	s := New(Options{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, s, srv)
	s.Hub().Broadcast(Message{Type: MsgRunOutput, Output: "hello"})

	msgs := readUntil(t, conn, MsgRunOutput)
	assert.Equal(t, "hello", msgs[len(msgs)-1].Output)
}

func TestRelay_DrainsAfterOversizedLine(t *testing.T) {
	useRoot(t)
	s := New(Options{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	conn := dial(t, s, srv)

	pr, pw := io.Pipe()
	written := make(chan error, 1)
	go func() {
		_, err := io.WriteString(pw, "run: abcdef12\n"+strings.Repeat("x", 2*1024*1024)+"\nafter\n")
		pw.Close()
		written <- err
	}()

	relayed := make(chan struct{})
	go func() {
		s.Relay(pr)
		close(relayed)
	}()

	select {
	case err := <-written:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("writer blocked on an undrained pipe")
	}
	select {
	case <-relayed:
	case <-time.After(5 * time.Second):
		t.Fatal("Relay did not return")
	}

	msgs := readUntil(t, conn, MsgRunError)
	assert.Contains(t, msgs[len(msgs)-1].Error, "output relay stopped")
}

func TestServer_Run(t *testing.T) {
	useRoot(t)

	var gotArgs []string
	script := strings.Join([]string{
		`echo "run: abcdef12"`,
		`echo '` + formatter.EventPrefix + `{"type":"scenario_start","scenario":"one way"}'`,
		`echo '` + formatter.EventPrefix + `{"type":"step_end","scenario":"one way","step":"I click \"#go\"","status":"failed","error":"not found"}'`,
		`echo '` + formatter.EventPrefix + `{"type":"scenario_end","scenario":"one way","status":"failed","error":"not found"}'`,
		`echo '` + formatter.EventPrefix + `{"type":"summary","total":1,"failed":1}'`,
		`exit 1`,
	}, "\n")

	s := New(Options{
		ConfigPath: "driverpool.yml",
		Command: func(ctx context.Context, args []string) (*exec.Cmd, error) {
			gotArgs = args
			return exec.CommandContext(ctx, "sh", "-c", script), nil
		},
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	conn := dial(t, s, srv)

	resp, err := http.Post(srv.URL+"/api/run?scenario=one", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	msgs := readUntil(t, conn, MsgRunFinished)
	s.Wait()

	assert.Equal(t, []string{"run", "--format", "driverpool", "--config", "driverpool.yml", "--scenario", "one"}, gotArgs)

	types := make([]string, 0, len(msgs))
	for _, m := range msgs {
		types = append(types, m.Type)
	}
	assert.Equal(t, []string{
		MsgRunStarted,
		MsgRunCreated,
		MsgRunOutput,
		MsgScenarioRunning,
		MsgStepFailed,
		MsgScenarioFailed,
		MsgSummary,
		MsgRunFinished,
	}, types)
	assert.Equal(t, "abcdef12", msgs[1].RunID)
	assert.Equal(t, "not found", msgs[5].Error)
	assert.Equal(t, "failed", msgs[len(msgs)-1].Status)
}

func TestServer_StopAndConflict(t *testing.T) {
	useRoot(t)
	s := New(Options{
		Command: func(ctx context.Context, args []string) (*exec.Cmd, error) {
			return exec.CommandContext(ctx, "sleep", "30"), nil
		},
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/stop", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.NoError(t, s.Start("", ""))
	assert.ErrorIs(t, s.Start("", ""), ErrRunning)

	resp, err = http.Post(srv.URL+"/api/stop", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run was not stopped")
	}

	assert.False(t, s.Stop())
}

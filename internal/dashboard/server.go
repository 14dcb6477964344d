// Package dashboard serves stored runs and feature files over HTTP and streams
// live run progress to websocket clients.
package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tomatool/driverpool/internal/formatter"
	"github.com/tomatool/driverpool/internal/runlog"
)

// ErrRunning is returned when a run is requested while another is active.
var ErrRunning = errors.New("a run is already in progress")

// CommandFunc builds the process executing a run
type CommandFunc func(ctx context.Context, args []string) (*exec.Cmd, error)

// Options configures a Server
type Options struct {
	ConfigPath   string
	FeaturePaths []string

	// Command defaults to re-invoking the current executable
	Command CommandFunc
}

// Server is the dashboard HTTP handler
type Server struct {
	opts Options
	hub  *Hub

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a dashboard server
func New(opts Options) *Server {
	if opts.Command == nil {
		opts.Command = selfCommand
	}
	if len(opts.FeaturePaths) == 0 {
		opts.FeaturePaths = []string{"./features"}
	}
	return &Server{opts: opts, hub: newHub()}
}

func selfCommand(ctx context.Context, args []string) (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return exec.CommandContext(ctx, self, args...), nil
}

// Hub returns the websocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/features", s.handleFeatures)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{run}/logs/{name}", s.handleRunLog)
	mux.HandleFunc("GET /api/runs/{run}/screenshots/{name}", s.handleScreenshot)
	mux.HandleFunc("POST /api/run", s.handleRun)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, indexHTML)
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, LoadFeatures(s.opts.FeaturePaths))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := runlog.ListRuns()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleRunLog(w http.ResponseWriter, r *http.Request) {
	content, err := runlog.GetLogContent(r.PathValue("run"), r.PathValue("name"))
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, runlog.ErrInvalidName) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, content)
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	png, err := runlog.GetScreenshot(r.PathValue("run"), r.PathValue("name"))
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, runlog.ErrInvalidName) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if err := s.Start(r.URL.Query().Get("scenario"), r.URL.Query().Get("tags")); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrRunning) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.Stop() {
		http.Error(w, "no run in progress", http.StatusConflict)
		return
	}
	writeJSON(w, map[string]string{"status": "stopped"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	runs, _ := runlog.ListRuns()
	if err := s.hub.send(conn, Message{Type: MsgInit, Features: LoadFeatures(s.opts.FeaturePaths), Runs: runs}); err != nil {
		return
	}

	s.hub.add(conn)
	defer s.hub.remove(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Start launches a run in the background. Progress is broadcast to the hub.
func (s *Server) Start(scenario, tags string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrRunning
	}

	args := []string{"run", "--format", formatter.Name}
	if s.opts.ConfigPath != "" {
		args = append(args, "--config", s.opts.ConfigPath)
	}
	if scenario != "" {
		args = append(args, "--scenario", scenario)
	}
	if tags != "" {
		args = append(args, "--tags", tags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd, err := s.opts.Command(ctx, args)
	if err != nil {
		cancel()
		return fmt.Errorf("building run command: %w", err)
	}

	out, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("capturing output: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("starting run: %w", err)
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	s.hub.Broadcast(Message{Type: MsgRunStarted, Scenario: scenario})

	go s.follow(cmd, out, cancel, s.done)
	return nil
}

func (s *Server) follow(cmd *exec.Cmd, out io.Reader, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	s.Relay(out)

	if err := cmd.Wait(); err != nil {
		s.hub.Broadcast(Message{Type: MsgRunFinished, Status: "failed", Error: err.Error()})
	} else {
		s.hub.Broadcast(Message{Type: MsgRunFinished, Status: "passed"})
	}

	if runs, err := runlog.ListRuns(); err == nil {
		s.hub.Broadcast(Message{Type: MsgRunsUpdate, Runs: runs})
	}
}

// Stop cancels the active run. It reports false when nothing is running.
func (s *Server) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Wait blocks until the active run, if any, has finished.
func (s *Server) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

var (
	ansiPattern  = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)
	runIDPattern = regexp.MustCompile(`run: ([0-9a-f]{8})\b`)
)

// Relay reads run output line by line and broadcasts formatter events and
// plain output.
func (s *Server) Relay(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(ansiPattern.ReplaceAllString(scanner.Text(), ""))
		if line == "" {
			continue
		}

		ev, ok, err := formatter.ParseEvent(line)
		if ok {
			if err != nil {
				log.Debug().Err(err).Msg("skipping malformed event")
				continue
			}
			if msg, ok := Translate(ev); ok {
				s.hub.Broadcast(msg)
			}
			continue
		}

		if m := runIDPattern.FindStringSubmatch(line); m != nil {
			s.hub.Broadcast(Message{Type: MsgRunCreated, RunID: m[1]})
		}
		s.hub.Broadcast(Message{Type: MsgRunOutput, Output: line})
	}

	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Msg("run output relay stopped")
		s.hub.Broadcast(Message{Type: MsgRunError, Error: "output relay stopped: " + err.Error()})
		// keep the child from blocking on a full pipe
		if _, err := io.Copy(io.Discard, r); err != nil {
			log.Debug().Err(err).Msg("draining run output")
		}
	}
}

// Translate maps a formatter event to a websocket message.
func Translate(ev formatter.Event) (Message, bool) {
	msg := Message{Feature: ev.Feature, Scenario: ev.Scenario, Status: ev.Status, Error: ev.Error}

	switch ev.Type {
	case formatter.EventScenarioStart:
		msg.Type = MsgScenarioRunning
		msg.Status = "running"
	case formatter.EventScenarioEnd:
		switch ev.Status {
		case "failed":
			msg.Type = MsgScenarioFailed
		case "skipped":
			msg.Type = MsgScenarioSkipped
		default:
			msg.Type = MsgScenarioPassed
		}
	case formatter.EventStepEnd:
		if ev.Status == "passed" || ev.Status == "skipped" {
			return Message{}, false
		}
		msg.Type = MsgStepFailed
		msg.Output = ev.Step
	case formatter.EventSummary:
		msg.Type = MsgSummary
		msg.Total = ev.Total
		msg.Passed = ev.Passed
		msg.Failed = ev.Failed
	default:
		return Message{}, false
	}
	return msg, true
}

const indexHTML = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>driverpool</title></head>
<body>
<h1>driverpool</h1>
<button onclick="fetch('/api/run',{method:'POST'})">Run</button>
<button onclick="fetch('/api/stop',{method:'POST'})">Stop</button>
<pre id="out"></pre>
<script>
const out = document.getElementById('out');
const ws = new WebSocket('ws://' + location.host + '/ws');
ws.onmessage = (e) => {
  const m = JSON.parse(e.data);
  if (m.type === 'init' || m.type === 'runs_update') return;
  out.textContent += [m.type, m.scenario || '', m.status || '', m.output || m.error || ''].join(' ').trim() + '\n';
};
</script>
</body>
</html>
`

package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tomatool/driverpool/internal/runlog"
)

// Message types pushed to websocket clients
const (
	MsgInit            = "init"
	MsgRunStarted      = "run_started"
	MsgRunCreated      = "run_created"
	MsgRunOutput       = "run_output"
	MsgRunFinished     = "run_finished"
	MsgRunError        = "run_error"
	MsgRunsUpdate      = "runs_update"
	MsgScenarioRunning = "scenario_running"
	MsgScenarioPassed  = "scenario_passed"
	MsgScenarioFailed  = "scenario_failed"
	MsgScenarioSkipped = "scenario_skipped"
	MsgStepFailed      = "step_failed"
	MsgSummary         = "summary"
)

// Message is a websocket frame sent to every client
type Message struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features,omitempty"`
	Error    string    `json:"error,omitempty"`

	Feature  string `json:"feature,omitempty"`
	Scenario string `json:"scenario,omitempty"`
	Status   string `json:"status,omitempty"`
	Output   string `json:"output,omitempty"`

	Runs  []runlog.RunInfo `json:"runs,omitempty"`
	RunID string           `json:"runId,omitempty"`

	Total  int `json:"total,omitempty"`
	Passed int `json:"passed,omitempty"`
	Failed int `json:"failed,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans messages out to connected websocket clients
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func newHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool)}
}

func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast writes msg to every client. Writes are serialized under the hub
// lock since a websocket connection allows one concurrent writer.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("type", msg.Type).Msg("failed to encode websocket message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug().Err(err).Msg("dropping websocket client")
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) send(conn *websocket.Conn, msg Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return conn.WriteJSON(msg)
}

// Package dashboard serves a live training-progress view over HTTP and
// WebSocket so long-running cluster jobs can be watched from a browser.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Snapshot is one training-progress update.
type Snapshot struct {
	Member    string    `json:"member"`
	Epoch     int       `json:"epoch"`
	Loss      float64   `json:"loss"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// Dashboard broadcasts training snapshots to connected WebSocket clients and
// keeps a bounded history for the JSON API.
type Dashboard struct {
	server           *http.Server
	upgrader         websocket.Upgrader
	clients          map[*websocket.Conn]bool
	clientsMu        sync.RWMutex
	broadcastChannel chan Snapshot
	stopChannel      chan struct{}

	mu        sync.RWMutex
	history   []Snapshot
	isRunning bool
}

const maxHistory = 2048

// New creates a dashboard listening on the given port once started.
func New(port int) *Dashboard {
	d := &Dashboard{
		upgrader:         websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:          make(map[*websocket.Conn]bool),
		broadcastChannel: make(chan Snapshot, 100),
		stopChannel:      make(chan struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", d.handleIndex).Methods("GET")
	r.HandleFunc("/api/progress", d.handleProgressAPI).Methods("GET")
	r.HandleFunc("/ws", d.handleWebSocket).Methods("GET")

	d.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return d
}

// Start begins serving in the background.
func (d *Dashboard) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isRunning {
		return fmt.Errorf("dashboard is already running")
	}

	go d.clientBroadcaster()
	go func() {
		log.Info().Str("address", d.server.Addr).Msg("Starting training dashboard")
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Training dashboard server failed")
		}
	}()

	d.isRunning = true
	return nil
}

// Stop shuts the server down and drops all clients.
func (d *Dashboard) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isRunning {
		return nil
	}

	close(d.stopChannel)

	d.clientsMu.Lock()
	for client := range d.clients {
		client.Close()
	}
	d.clients = make(map[*websocket.Conn]bool)
	d.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.server.Shutdown(ctx); err != nil {
		return err
	}

	d.isRunning = false
	return nil
}

// Publish records a snapshot and queues it for broadcast. Drops the update
// when the broadcast channel is full rather than blocking training.
func (d *Dashboard) Publish(s Snapshot) {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}

	d.mu.Lock()
	d.history = append(d.history, s)
	if len(d.history) > maxHistory {
		d.history = d.history[len(d.history)-maxHistory:]
	}
	d.mu.Unlock()

	select {
	case d.broadcastChannel <- s:
	default:
	}
}

func (d *Dashboard) clientBroadcaster() {
	for {
		select {
		case s := <-d.broadcastChannel:
			d.broadcastToClients(s)
		case <-d.stopChannel:
			return
		}
	}
}

func (d *Dashboard) broadcastToClients(s Snapshot) {
	data, err := json.Marshal(s)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	d.clientsMu.Lock()
	defer d.clientsMu.Unlock()
	for client := range d.clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			client.Close()
			delete(d.clients, client)
		}
	}
}

func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	d.clientsMu.Lock()
	d.clients[conn] = true
	d.clientsMu.Unlock()

	log.Debug().Str("remote", r.RemoteAddr).Msg("Dashboard client connected")
}

func (d *Dashboard) handleProgressAPI(w http.ResponseWriter, r *http.Request) {
	d.mu.RLock()
	history := make([]Snapshot, len(d.history))
	copy(history, d.history)
	d.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(history); err != nil {
		log.Error().Err(err).Msg("Failed to encode progress history")
	}
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>Training Progress</title></head>
<body>
<h1>Ensemble Training Progress</h1>
<table border="1" id="progress">
<tr><th>Member</th><th>Epoch</th><th>Loss</th><th>Accuracy</th><th>Time</th></tr>
</table>
<script>
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = function(ev) {
  const s = JSON.parse(ev.data);
  const row = document.getElementById("progress").insertRow(1);
  row.insertCell(0).textContent = s.member;
  row.insertCell(1).textContent = s.epoch;
  row.insertCell(2).textContent = s.loss.toFixed(4);
  row.insertCell(3).textContent = s.accuracy.toFixed(4);
  row.insertCell(4).textContent = s.timestamp;
};
</script>
</body>
</html>`))

func (d *Dashboard) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if err := indexTemplate.Execute(w, nil); err != nil {
		log.Error().Err(err).Msg("Failed to render dashboard page")
	}
}

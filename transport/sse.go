package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one server-sent event.
type Event struct {
	ID    string
	Event string
	Data  string
}

// ReadEvents parses a text/event-stream body and calls fn for every
// event that carries data. An event ends at a blank line; multiple data
// lines are joined with "\n". Comment lines and unknown fields are
// ignored. A trailing event without the blank line is still delivered.
// A non-nil error from fn stops reading and is returned.
func ReadEvents(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxBodySize)

	var ev Event
	var data []string
	dispatch := func() error {
		defer func() { ev, data = Event{}, nil }()
		if len(data) == 0 {
			return nil
		}
		ev.Data = strings.Join(data, "\n")
		return fn(ev)
	}

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			if err := dispatch(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
		case "event":
			ev.Event = value
		case "id":
			ev.ID = value
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return dispatch()
}

// WriteEvent writes ev in wire format, splitting multi-line data.
func WriteEvent(w io.Writer, ev Event) error {
	var b strings.Builder
	if ev.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", ev.ID)
	}
	if ev.Event != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Event)
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// HubConfig configures a Hub.
type HubConfig struct {
	// ClientBuffer is the per-client queue size. Default: 100
	ClientBuffer int

	// HeartbeatInterval sends SSE comments as keepalive (0 = disabled).
	HeartbeatInterval time.Duration
}

// DefaultHubConfig returns configuration with sensible defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		ClientBuffer:      100,
		HeartbeatInterval: 30 * time.Second,
	}
}

// Hub fans events out to every connected SSE client. Slow clients drop
// events rather than block publishers.
type Hub struct {
	config HubConfig
	seq    atomic.Uint64

	mu      sync.RWMutex
	clients map[uint64]chan Event
	nextID  uint64
	closed  bool
	done    chan struct{}
}

// NewHub creates a hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = DefaultHubConfig().ClientBuffer
	}
	return &Hub{
		config:  cfg,
		clients: make(map[uint64]chan Event),
		done:    make(chan struct{}),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish encodes v as JSON and sends it to all clients under the given
// event name.
func (h *Hub) Publish(event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	ev := Event{
		ID:    fmt.Sprintf("%d", h.seq.Add(1)),
		Event: event,
		Data:  string(data),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for _, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			// Client buffer full, skip
		}
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	close(h.done)
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
	return nil
}

func (h *Hub) join() (uint64, chan Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, nil, false
	}
	h.nextID++
	ch := make(chan Event, h.config.ClientBuffer)
	h.clients[h.nextID] = ch
	return h.nextID, ch, true
}

func (h *Hub) leave(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

// ServeHTTP streams events to one client until it disconnects or the
// hub closes. Mount it at your SSE endpoint (e.g., /events).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	id, ch, ok := h.join()
	if !ok {
		http.Error(w, "Transport closed", http.StatusServiceUnavailable)
		return
	}
	defer h.leave(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var heartbeat <-chan time.Time
	if h.config.HeartbeatInterval > 0 {
		ticker := time.NewTicker(h.config.HeartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case <-heartbeat:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := WriteEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

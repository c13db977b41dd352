package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

const (
	subscriberBuffer = 64
	// backlogSize is how many recent events a new subscriber is replayed,
	// enough to cover the attempts of a cross search.
	backlogSize = 50
)

// StatusEvent is one acquisition status line as sent to SSE and websocket clients.
type StatusEvent struct {
	Time  string `json:"t"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
}

// StatusBroadcaster fans acquisition status out to every connected page.
// It keeps the most recent events so a page opened mid-acquisition still
// shows the attempts made so far.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	backlog []string
	now     func() time.Time
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
		now:     time.Now,
	}
}

// Subscribe returns a channel primed with the backlog that then receives
// every broadcast, and a cleanup function the caller must call when the
// client goes away.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, subscriberBuffer)
	b.mu.Lock()
	for _, payload := range b.backlog {
		ch <- payload
	}
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Broadcast sends {"t":"...","l":"<level>","msg":"..."} to all subscribers.
// A subscriber whose buffer is full misses the event.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	data, err := json.Marshal(StatusEvent{
		Time:  b.now().Format(time.RFC3339),
		Level: level,
		Msg:   msg,
	})
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.backlog = append(b.backlog, payload)
	if len(b.backlog) > backlogSize {
		b.backlog = b.backlog[len(b.backlog)-backlogSize:]
	}
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// BroadcastWriter adapts the broadcaster to an io.Writer, so the debug log
// can be teed into the status stream.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *StatusBroadcaster
}

// Write broadcasts one log line. Warning and error lines keep their
// level so the page can highlight them.
func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.Broadcast(lineLevel(msg), msg)
	}
	return len(p), nil
}

func lineLevel(line string) string {
	switch {
	case strings.Contains(line, "[ERROR]"):
		return "error"
	case strings.Contains(line, "[WARN]"):
		return "warn"
	default:
		return "info"
	}
}

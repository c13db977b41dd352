package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/cjeanneret/PointGo/internal/logic/centering"
	"github.com/gorilla/websocket"
)

const (
	maxRunBody   = 1 << 20
	minRunPeriod = 5 * time.Second
	maxExposureS = 3600
	maxOffsetDeg = 10
	maxPoints    = 1000
)

// Overrides holds acquisition parameters that can override config
// defaults. Zero values keep the configured value.
type Overrides struct {
	RAOffsetDeg  float64 `json:"ra_offset_deg"`
	DecOffsetDeg float64 `json:"dec_offset_deg"`
	ExposureS    float64 `json:"exposure_s"`
	Pattern      string  `json:"pattern,omitempty"`
	SpiralPoints int     `json:"spiral_points,omitempty"`
}

// ValidateOverrides checks that every set override is within range.
func ValidateOverrides(o Overrides) error {
	if err := checkRange("ra_offset_deg", o.RAOffsetDeg, maxOffsetDeg); err != nil {
		return err
	}
	if err := checkRange("dec_offset_deg", o.DecOffsetDeg, maxOffsetDeg); err != nil {
		return err
	}
	if err := checkRange("exposure_s", o.ExposureS, maxExposureS); err != nil {
		return err
	}
	switch o.Pattern {
	case "", "cross", "spiral":
	default:
		return fmt.Errorf("pattern must be cross or spiral, got %q", o.Pattern)
	}
	if o.SpiralPoints < 0 || o.SpiralPoints > maxPoints {
		return fmt.Errorf("spiral_points must be between 0 and %d", maxPoints)
	}
	return nil
}

func checkRange(name string, v, limit float64) error {
	if v == 0 {
		return nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > limit {
		return fmt.Errorf("%s must be between 0 and %g", name, limit)
	}
	return nil
}

// RunFunc runs one acquisition with the given overrides.
// It is called from the POST /run handler in a goroutine.
type RunFunc func(ctx context.Context, overrides Overrides) (*centering.Session, error)

// FormConfig holds default values for the run form (from config).
type FormConfig struct {
	RAOffsetDeg  float64 `json:"ra_offset_deg"`
	DecOffsetDeg float64 `json:"dec_offset_deg"`
	ExposureS    float64 `json:"exposure_s"`
	Pattern      string  `json:"pattern"`
	SpiralPoints int     `json:"spiral_points"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster  *StatusBroadcaster
	Run          RunFunc
	FormDefaults FormConfig
	runningMu    sync.Mutex
	running      bool
	lastRun      time.Time
	staticFS     fs.FS
	upgrader     websocket.Upgrader
	baseCtx      context.Context
}

// NewHandlers creates handlers with the given dependencies.
// If run is nil, POST /run will return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, run RunFunc, formDefaults FormConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster:  broadcaster,
		Run:          run,
		FormDefaults: formDefaults,
		staticFS:     staticFS,
		baseCtx:      context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// HandleConfig returns the form default values (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.FormDefaults)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleRun handles POST /run to start an acquisition.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var overrides Overrides
	r.Body = http.MaxBytesReader(w, r.Body, maxRunBody)
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := ValidateOverrides(overrides); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.Run == nil {
		http.Error(w, "acquisition not configured", http.StatusServiceUnavailable)
		return
	}

	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		http.Error(w, "acquisition already in progress", http.StatusConflict)
		return
	}
	if !h.lastRun.IsZero() && time.Since(h.lastRun) < minRunPeriod {
		h.runningMu.Unlock()
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	h.running = true
	h.lastRun = time.Now()
	h.runningMu.Unlock()

	// Run in goroutine; clear running when done
	go func() {
		defer func() {
			h.runningMu.Lock()
			h.running = false
			h.runningMu.Unlock()
		}()

		s, err := h.Run(h.baseCtx, overrides)
		switch {
		case err != nil:
			h.Broadcaster.Broadcast("error", "Acquisition failed: "+err.Error())
			log.Printf("acquisition failed: %v", err)
		case s == nil:
			h.Broadcaster.Broadcast("info", "Acquisition complete")
		case s.Outcome == centering.Resolved:
			h.Broadcaster.Broadcast("info", fmt.Sprintf("Acquisition resolved, correction %s", s.Correction))
		default:
			h.Broadcaster.Broadcast("warn", fmt.Sprintf("Acquisition %s after %d attempt(s)", s.Outcome, len(s.Attempts)))
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "started"})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// HandleStatusSocket handles GET /status/ws: the same events as the SSE
// stream, one JSON text message each.
func (h *Handlers) HandleStatusSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// The reader only notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

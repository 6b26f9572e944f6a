package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// sseBacklog is how many recent events are kept for Last-Event-ID replay.
	sseBacklog = 512

	sseKeepalive = 15 * time.Second

	sseClientBuffer = 64
)

type sseEvent struct {
	ID    uint64
	Topic string
	Data  []byte
}

// sseHub fans published events out to dashboard streams. Slow clients miss
// events rather than stall a mutation.
type sseHub struct {
	mu      sync.Mutex
	clients map[*sseClient]struct{}
	lastID  uint64
	backlog []sseEvent // oldest first, at most sseBacklog long
}

type sseClient struct {
	patterns []string
	ch       chan sseEvent
}

func newSSEHub() *sseHub {
	return &sseHub{clients: make(map[*sseClient]struct{})}
}

func (h *sseHub) broadcast(topic string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	evt := sseEvent{ID: h.lastID, Topic: topic, Data: payload}
	if len(h.backlog) == sseBacklog {
		copy(h.backlog, h.backlog[1:])
		h.backlog = h.backlog[:sseBacklog-1]
	}
	h.backlog = append(h.backlog, evt)

	for c := range h.clients {
		if !c.wants(topic) {
			continue
		}
		select {
		case c.ch <- evt:
		default:
		}
	}
}

// subscribe registers a client and returns the backlog after lastID that it
// should see first. Registration and the backlog read happen under one lock
// so no event falls between them.
func (h *sseHub) subscribe(patterns []string, lastID uint64) (*sseClient, []sseEvent) {
	c := &sseClient{patterns: patterns, ch: make(chan sseEvent, sseClientBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}

	var replay []sseEvent
	if lastID > 0 {
		for _, evt := range h.backlog {
			if evt.ID > lastID && c.wants(evt.Topic) {
				replay = append(replay, evt)
			}
		}
	}
	return c, replay
}

func (h *sseHub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (c *sseClient) wants(topic string) bool {
	if len(c.patterns) == 0 {
		return true
	}
	for _, p := range c.patterns {
		if topicMatches(p, topic) {
			return true
		}
	}
	return false
}

// topicMatches reports whether a dot-separated topic matches pattern, where
// "*" matches one segment and a trailing ">" matches one or more.
func topicMatches(pattern, topic string) bool {
	pp := strings.Split(pattern, ".")
	tp := strings.Split(topic, ".")
	for i, seg := range pp {
		if seg == ">" && i == len(pp)-1 {
			return len(tp) > i
		}
		if i >= len(tp) || (seg != "*" && seg != tp[i]) {
			return false
		}
	}
	return len(pp) == len(tp)
}

// handleEventStream handles GET /v1/events/stream. The optional "topics"
// query parameter is a comma-separated list of patterns.
func (s *ConfigServer) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var patterns []string
	for _, p := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	lastID, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	client, replay := s.sseHub.subscribe(patterns, lastID)
	defer s.sseHub.unsubscribe(client)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	for _, evt := range replay {
		writeSSEEvent(w, evt)
	}
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-client.ch:
			writeSSEEvent(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, evt sseEvent) {
	fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", evt.ID, evt.Topic, evt.Data)
}

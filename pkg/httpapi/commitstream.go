package httpapi

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mnohosten/blockstm/pkg/engine"
)

// upgrader mirrors the teacher's change-stream upgrader: generous buffers,
// origin checking left to the caller's CORS policy rather than the
// websocket layer.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// commitEventMessage is the JSON shape streamed to a subscriber for every
// committed transaction.
type commitEventMessage struct {
	Type        string `json:"type"` // "commit", "heartbeat"
	Idx         int    `json:"idx,omitempty"`
	Incarnation int    `json:"incarnation,omitempty"`
	Successful  bool   `json:"successful,omitempty"`
	Committed   int    `json:"committed,omitempty"`
	Total       int    `json:"total,omitempty"`
}

// commitStreamSubscriber is one live WebSocket connection watching a
// batch's commit stream.
type commitStreamSubscriber struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *commitStreamSubscriber) send(msg commitEventMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

// commitStreamManager fans a batch job's per-commit events out to every
// subscribed WebSocket connection, the same registration/broadcast shape
// as the teacher's ChangeStreamManager, narrowed to a single in-process
// broadcast (no oplog, no resume tokens — a batch job is a one-shot,
// in-memory run, not a durable change feed).
type commitStreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]*commitStreamSubscriber
	closed      bool
}

func newCommitStreamManager() *commitStreamManager {
	return &commitStreamManager{subscribers: make(map[string]*commitStreamSubscriber)}
}

func (m *commitStreamManager) add(sub *commitStreamSubscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		sub.conn.Close()
		return
	}
	m.subscribers[sub.id] = sub
}

func (m *commitStreamManager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribers, id)
}

func (m *commitStreamManager) broadcast(ev engine.CommitEvent) {
	msg := commitEventMessage{
		Type:        "commit",
		Idx:         int(ev.Idx),
		Incarnation: int(ev.Incarnation),
		Successful:  ev.Successful,
		Committed:   ev.Committed,
		Total:       ev.Total,
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subscribers {
		if err := sub.send(msg); err != nil {
			log.Printf("httpapi: failed to send commit event to %s: %v", sub.id, err)
		}
	}
}

// closeAll disconnects every subscriber once the batch has finished
// committing — there are no further events to stream.
func (m *commitStreamManager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, sub := range m.subscribers {
		sub.conn.Close()
	}
	m.subscribers = make(map[string]*commitStreamSubscriber)
}

// handleCommitStream upgrades the request to a WebSocket and streams the
// job's commit events (and a heartbeat every 30s) until the job finishes
// or the client disconnects.
func (s *Server) handleCommitStream(job *batchJob) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("httpapi: failed to upgrade connection: %v", err)
			return
		}

		sub := &commitStreamSubscriber{id: fmt.Sprintf("sub-%d", time.Now().UnixNano()), conn: conn}
		job.streams.add(sub)
		defer func() {
			job.streams.remove(sub.id)
			conn.Close()
		}()

		done := make(chan struct{})
		go func() {
			defer close(done)
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
			case <-done:
				return
			case <-ticker.C:
				if err := sub.send(commitEventMessage{Type: "heartbeat"}); err != nil {
					return
				}
			}
		}
	}
}

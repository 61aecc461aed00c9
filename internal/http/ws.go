package httpapp

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/quibble-app/quibble/internal/queue"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API is served same-origin behind a proxy in production; origin
	// enforcement belongs there.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSubscriber adapts one websocket connection to the hub's Subscriber
// contract. Writes are serialized through a mutex because fanout workers
// and the ping loop both touch the connection.
type wsSubscriber struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSubscriber) ID() string { return s.id }

func (s *wsSubscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSubscriber) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

// handleWS upgrades the connection and joins it to the comments topic.
// The read loop only exists to detect disconnects; clients do not send
// anything meaningful. Its exit deterministically unsubscribes the handle.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	sub := &wsSubscriber{id: uuid.NewString(), conn: conn}
	s.hub.Subscribe(queue.Topic, sub)
	s.log.Printf("subscriber %s joined (%d live)", sub.id, s.hub.MemberCount(queue.Topic))

	stopPing := make(chan struct{})
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := sub.ping(); err != nil {
					return
				}
			case <-stopPing:
				return
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	close(stopPing)
	s.hub.Unsubscribe(queue.Topic, sub)
	_ = conn.Close()
	s.log.Printf("subscriber %s left (%d live)", sub.id, s.hub.MemberCount(queue.Topic))
}

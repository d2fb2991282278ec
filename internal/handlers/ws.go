package handlers

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	dbpkg "autoclipper/internal/db"
	"autoclipper/internal/hub"
)

// heartbeatInterval is how long a client may stay silent before the server
// emits a heartbeat frame.
const heartbeatInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient serializes writes to a websocket connection: the hub's publish
// goroutines and this handler's heartbeat writer share it.
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (s *Server) wsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "job_id")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := &wsClient{conn: conn}
		s.Hub.Connect(jobID, client)
		defer func() {
			s.Hub.Disconnect(jobID, client)
			conn.Close()
		}()

		// First frame is always the current DB-row snapshot.
		if job, err := dbpkg.GetJob(r.Context(), s.DB, jobID); err == nil && job != nil {
			if err := client.WriteJSON(hub.NewEvent(job.ID, job.Status, job.ProgressPct, job.CurrentStage, "")); err != nil {
				return
			}
		}

		for {
			if err := conn.SetReadDeadline(time.Now().Add(heartbeatInterval)); err != nil {
				return
			}
			if _, _, err := conn.ReadMessage(); err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					beat := hub.NewEvent(jobID, "heartbeat", 0, "heartbeat", "")
					if werr := client.WriteJSON(beat); werr != nil {
						return
					}
					continue
				}
				log.Debug().Err(err).Str("job", jobID).Msg("websocket closed")
				return
			}
		}
	}
}

package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/mindwatch/internal/app"
	"github.com/ayusman/mindwatch/internal/pipeline"
	"github.com/ayusman/mindwatch/internal/store"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Message types sent on the progress socket.
const (
	MessageProgress = "progress"
	MessageRun      = "run"
)

// ProgressMessage is one websocket frame. Progress frames carry Event; the
// final frame carries the stored Run.
type ProgressMessage struct {
	Type  string          `json:"type"`
	Event *pipeline.Event `json:"event,omitempty"`
	Run   *store.Run      `json:"run,omitempty"`
}

// ProgressHandler streams the progress of one analysis run over a
// websocket and closes it after the final record.
type ProgressHandler struct {
	app *app.App
}

// NewProgressHandler creates a ProgressHandler.
func NewProgressHandler(a *app.App) *ProgressHandler {
	return &ProgressHandler{app: a}
}

// Serve upgrades the request and streams run id.
func (h *ProgressHandler) Serve(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.app.Get(id); err != nil {
		http.Error(w, "Analysis not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api] websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	events, unsubscribe, live := h.app.Subscribe(id)
	defer unsubscribe()

	// Drain client frames so close and ping control messages are handled.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if live {
	stream:
		for {
			select {
			case e, ok := <-events:
				if !ok {
					break stream
				}
				if err := send(conn, ProgressMessage{Type: MessageProgress, Event: &e}); err != nil {
					return
				}
			case <-gone:
				return
			}
		}
	}

	run, err := h.app.Get(id)
	if err != nil {
		return
	}
	if err := send(conn, ProgressMessage{Type: MessageRun, Run: run}); err != nil {
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func send(conn *websocket.Conn, msg ProgressMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

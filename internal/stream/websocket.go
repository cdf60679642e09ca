package stream

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SocketHandler streams broadcast values to websocket clients as JSON text
// frames. Each client gets its own lossy listener, so a stalled browser
// only loses its own updates.
type SocketHandler[T any] struct {
	broadcaster *Broadcaster[T]
	buffer      int
	log         *zap.SugaredLogger
}

// NewSocketHandler creates a websocket handler over b.
func NewSocketHandler[T any](b *Broadcaster[T], buffer int, log *zap.SugaredLogger) *SocketHandler[T] {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SocketHandler[T]{broadcaster: b, buffer: buffer, log: log}
}

func (h *SocketHandler[T]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	listener := h.broadcaster.Subscribe(h.buffer)
	defer h.broadcaster.Unsubscribe(listener)

	h.log.Infof("telemetry client connected (total: %d)", h.broadcaster.ListenerCount())
	defer h.log.Infof("telemetry client disconnected")

	// Read loop only services control frames and notices the client leaving.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case v, ok := <-listener.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream ended"))
				return
			}
			if err := conn.WriteJSON(v); err != nil {
				h.log.Debugw("telemetry write failed", "error", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

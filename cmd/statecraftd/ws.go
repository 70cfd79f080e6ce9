package main

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"statecraft/internal/logging"
	"statecraft/internal/pubsub"

	"go.uber.org/zap"
)

// wsHub relays a tenant's pub/sub topic to every browser connected to
// /ws?tenant_id=..., grounded on the teacher's websocket.Hub shape but
// scaled down to the one thing this demo bridge does: fan a Bus
// subscription out to gorilla/websocket connections. It carries no
// auth of any kind — any client may subscribe to any tenant_id — since no
// tenant-membership CRUD exists in the core to authorize against.
type wsHub struct {
	bus      pubsub.Bus
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]context.CancelFunc
}

func newWSHub(bus pubsub.Bus) *wsHub {
	return &wsHub{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]context.CancelFunc),
	}
}

func (s *server) serveWS(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	conn, err := s.hub.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.L().Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.hub.serve(conn, tenantID)
}

func (h *wsHub) serve(conn *websocket.Conn, tenantID string) {
	ctx, cancel := context.WithCancel(context.Background())

	h.mu.Lock()
	h.conns[conn] = cancel
	h.mu.Unlock()

	sub, err := h.bus.Subscribe(ctx, tenantID)
	if err != nil {
		logging.L().Warn("websocket subscribe failed", zap.Error(err), zap.String("tenant_id", tenantID))
		h.drop(conn)
		return
	}

	// One goroutine relays bus messages to the socket; a second drains
	// client reads purely to detect disconnects (this bridge is
	// publish-only toward the browser).
	go func() {
		defer h.drop(conn)
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			cancel()
			return
		}
	}
}

func (h *wsHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	cancel, ok := h.conns[conn]
	delete(h.conns, conn)
	h.mu.Unlock()
	if ok {
		cancel()
	}
	conn.Close()
}

// closeAll cancels every live connection's subscription — called during
// graceful shutdown so bus goroutines don't leak past server exit.
func (h *wsHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, cancel := range h.conns {
		cancel()
		conn.Close()
	}
	h.conns = make(map[*websocket.Conn]context.CancelFunc)
}

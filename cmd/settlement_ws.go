package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"arendoBack/internal/models"
)

const (
	wsReadLimit     = 1 << 16
	wsReadDeadline  = 120 * time.Second
	wsWriteDeadline = 5 * time.Second
	wsPingInterval  = 15 * time.Second
	wsEventBuffer   = 256
)

type wsClient struct {
	userID int
	conn   *websocket.Conn
}

// WebSocketManager fans booking events out to the connected parties of each
// booking. A user may hold several connections (multiple devices).
type WebSocketManager struct {
	clients    map[int]map[*websocket.Conn]struct{}
	events     chan models.BookingEvent
	register   chan wsClient
	unregister chan wsClient
}

func NewWebSocketManager() *WebSocketManager {
	return &WebSocketManager{
		clients:    make(map[int]map[*websocket.Conn]struct{}),
		events:     make(chan models.BookingEvent, wsEventBuffer),
		register:   make(chan wsClient),
		unregister: make(chan wsClient),
	}
}

// Publish queues an event for delivery. Never blocks: when the buffer is
// full the event is dropped, clients re-sync from the booking endpoint.
func (ws *WebSocketManager) Publish(event models.BookingEvent) {
	select {
	case ws.events <- event:
	default:
	}
}

func (ws *WebSocketManager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, conns := range ws.clients {
				for conn := range conns {
					conn.Close()
				}
			}
			return
		case client := <-ws.register:
			if ws.clients[client.userID] == nil {
				ws.clients[client.userID] = make(map[*websocket.Conn]struct{})
			}
			ws.clients[client.userID][client.conn] = struct{}{}
		case client := <-ws.unregister:
			if conns, ok := ws.clients[client.userID]; ok {
				if _, ok := conns[client.conn]; ok {
					client.conn.Close()
					delete(conns, client.conn)
					if len(conns) == 0 {
						delete(ws.clients, client.userID)
					}
				}
			}
		case event := <-ws.events:
			for _, userID := range event.Recipients {
				for conn := range ws.clients[userID] {
					conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
					if err := conn.WriteJSON(event); err != nil {
						ws.Unregister(userID, conn)
					}
				}
			}
		}
	}
}

// Unregister is safe to call from the hub loop itself.
func (ws *WebSocketManager) Unregister(userID int, conn *websocket.Conn) {
	go func() {
		ws.unregister <- wsClient{userID: userID, conn: conn}
	}()
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketHandler upgrades the connection for the authenticated user and
// starts feeding them their booking events.
func (app *application) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		app.errorLog.Printf("websocket upgrade error: %v", err)
		return
	}

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})

	app.wsManager.register <- wsClient{userID: userID, conn: conn}

	go app.pingLoop(userID, conn)
	go app.readLoop(userID, conn)
}

func (app *application) pingLoop(userID int, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for range ticker.C {
		conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			app.wsManager.Unregister(userID, conn)
			return
		}
	}
}

// readLoop discards inbound frames; the feed is one-way. Its job is to
// notice the close frame and network failures.
func (app *application) readLoop(userID int, conn *websocket.Conn) {
	defer app.wsManager.Unregister(userID, conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

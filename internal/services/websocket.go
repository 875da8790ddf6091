package services

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	EventModerationUpdate = "moderation_update"
	EventRuleUpdate       = "rule_update"
	EventStatsUpdate      = "stats_update"

	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsSendBuffer = 64
)

// WSMessage is the frame sent to WebSocket clients.
type WSMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// wsCommand is what clients send to change their room membership.
type wsCommand struct {
	Action    string `json:"action"` // join, leave
	ProjectID uint   `json:"project_id"`
}

type wsClient struct {
	id    string
	conn  *websocket.Conn
	send  chan []byte
	rooms map[string]bool
}

// WebSocketHub pushes events to clients grouped in per-project rooms.
type WebSocketHub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	rooms   map[string]map[*wsClient]struct{}
	clients map[*wsClient]struct{}
}

func NewWebSocketHub(checkOrigin func(r *http.Request) bool) *WebSocketHub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &WebSocketHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		rooms:   make(map[string]map[*wsClient]struct{}),
		clients: make(map[*wsClient]struct{}),
	}
}

// ProjectRoom names the room that receives a project's events.
func ProjectRoom(projectID uint) string {
	return "project_" + strconv.FormatUint(uint64(projectID), 10)
}

// ServeWS upgrades the request and joins the connection to the given
// projects' rooms. It returns once the connection is registered.
func (h *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request, projectIDs ...uint) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &wsClient{
		id:    uuid.NewString(),
		conn:  conn,
		send:  make(chan []byte, wsSendBuffer),
		rooms: make(map[string]bool),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	for _, id := range projectIDs {
		h.joinLocked(c, ProjectRoom(id))
	}
	h.mu.Unlock()

	logger.Debug().Str("client", c.id).Int("rooms", len(projectIDs)).Msg("[WebSocket] Client connected")

	go h.writePump(c)
	go h.readPump(c)
	return nil
}

func (h *WebSocketHub) joinLocked(c *wsClient, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*wsClient]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = true
}

func (h *WebSocketHub) leaveLocked(c *wsClient, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

func (h *WebSocketHub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *WebSocketHub) readPump(c *wsClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("[WebSocket] Client %s read error: %v", c.id, err)
			}
			return
		}

		var cmd wsCommand
		if err := json.Unmarshal(raw, &cmd); err != nil || cmd.ProjectID == 0 {
			continue
		}
		h.mu.Lock()
		switch cmd.Action {
		case "join":
			h.joinLocked(c, ProjectRoom(cmd.ProjectID))
		case "leave":
			h.leaveLocked(c, ProjectRoom(cmd.ProjectID))
		}
		h.mu.Unlock()
	}
}

func (h *WebSocketHub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Emit sends event to every client in room and returns how many were queued.
// Clients with a full send buffer miss the event.
func (h *WebSocketHub) Emit(room, event string, data interface{}) int {
	payload, err := json.Marshal(WSMessage{Event: event, Data: data})
	if err != nil {
		logger.Warnf("[WebSocket] Failed to encode %s: %v", event, err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for c := range h.rooms[room] {
		select {
		case c.send <- payload:
			sent++
		default:
			logger.Debug().Str("client", c.id).Str("event", event).Msg("[WebSocket] Send buffer full, dropping")
		}
	}
	return sent
}

func (h *WebSocketHub) EmitToProject(projectID uint, event string, data interface{}) int {
	return h.Emit(ProjectRoom(projectID), event, data)
}

func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of clients in room.
func (h *WebSocketHub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close disconnects every client.
func (h *WebSocketHub) Close() {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.unregister(c)
	}
}

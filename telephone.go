package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is the per-connection session record: the transport handle plus the
// player id and room code this connection currently acts for.
type Client struct {
	conn *websocket.Conn
	send chan any
	done chan struct{}

	playerID string
	roomCode string
}

// ConnRegistry maps player ids to live connections. It is the only path the
// game core uses to reach a player; rooms never hold connections.
type ConnRegistry struct {
	mu    sync.RWMutex
	conns map[string]*Client
}

func newConnRegistry() *ConnRegistry {
	return &ConnRegistry{conns: make(map[string]*Client)}
}

func (cr *ConnRegistry) Attach(playerID string, c *Client) {
	cr.mu.Lock()
	cr.conns[playerID] = c
	cr.mu.Unlock()
}

func (cr *ConnRegistry) Detach(playerID string, c *Client) {
	cr.mu.Lock()
	if cr.conns[playerID] == c {
		delete(cr.conns, playerID)
	}
	cr.mu.Unlock()
}

// Send implements Sender. Messages to absent or backlogged connections are
// dropped so a slow client can never stall a room.
func (cr *ConnRegistry) Send(playerID string, msg any) {
	cr.mu.RLock()
	c := cr.conns[playerID]
	cr.mu.RUnlock()

	if c == nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

func serveTelephoneWS(cfg *Config, rr *RoomRegistry, cr *ConnRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 16),
			done: make(chan struct{}),
		}

		go client.writePump()
		client.readPump(cfg, rr, cr)
	}
}

func (c *Client) readPump(cfg *Config, rr *RoomRegistry, cr *ConnRegistry) {
	defer func() {
		c.leaveRoom(cfg, rr)
		if c.playerID != "" {
			cr.Detach(c.playerID, c)
		}
		close(c.done)
		_ = c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logf(cfg, "GAMES: Ignoring malformed payload from %s: %v", c.conn.RemoteAddr(), err)
			continue
		}

		switch msg.Type {
		case "createRoom":
			c.handleCreate(cfg, rr, cr, msg)
		case "joinRoom":
			c.handleJoin(cfg, rr, cr, msg)
		case "listPublicRooms":
			c.reply(PublicRoomsListMessage{
				Type:  "publicRoomsList",
				Rooms: rr.ListPublic(),
			})
		case "startGame":
			c.handleStart(rr)
		case "submitEntry":
			c.handleSubmit(rr, msg)
		case "leave":
			c.leaveRoom(cfg, rr)
		default:
			// ignore unknown types
		}
	}
}

// writePump drains the send channel onto the socket. It exits on the first
// write error or once the reader is done; the channel itself is never
// closed, since room broadcasts may race a disconnect.
func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// reply queues a message for this connection only.
func (c *Client) reply(msg any) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) handleCreate(cfg *Config, rr *RoomRegistry, cr *ConnRegistry, msg ClientMessage) {
	if msg.Username == "" {
		return
	}

	// Creating while in a room implicitly leaves the old one.
	c.leaveRoom(cfg, rr)

	if c.playerID == "" {
		c.playerID = uuid.NewString()
		cr.Attach(c.playerID, c)
	}

	room := rr.CreateRoom(c.playerID, msg.Username, msg.IsPublic)
	info := room.RoomInfo()
	c.roomCode = info.RoomID

	c.reply(RoomCreatedMessage{
		Type:     "roomCreated",
		PlayerID: c.playerID,
		RoomID:   info.RoomID,
		RoomInfo: info,
	})
}

func (c *Client) handleJoin(cfg *Config, rr *RoomRegistry, cr *ConnRegistry, msg ClientMessage) {
	if msg.Username == "" || msg.RoomID == "" {
		return
	}

	c.leaveRoom(cfg, rr)

	if c.playerID == "" {
		c.playerID = uuid.NewString()
		cr.Attach(c.playerID, c)
	}

	room, err := rr.Join(c.playerID, msg.Username, msg.RoomID)
	if err != nil {
		c.reply(ErrorMessage{Type: "error", Message: err.Error()})
		return
	}

	info := room.RoomInfo()
	c.roomCode = info.RoomID

	c.reply(RoomJoinedMessage{
		Type:     "roomJoined",
		PlayerID: c.playerID,
		RoomID:   info.RoomID,
		RoomInfo: info,
	})
}

func (c *Client) handleStart(rr *RoomRegistry) {
	if c.roomCode == "" {
		return
	}

	room, ok := rr.Get(c.roomCode)
	if !ok {
		return
	}

	if err := room.StartGame(c.playerID); err != nil {
		c.reply(ErrorMessage{Type: "error", Message: err.Error()})
	}
}

func (c *Client) handleSubmit(rr *RoomRegistry, msg ClientMessage) {
	if c.roomCode == "" {
		return
	}

	room, ok := rr.Get(c.roomCode)
	if !ok {
		return
	}

	if err := room.SubmitEntry(c.playerID, msg.Content); err != nil {
		c.reply(ErrorMessage{Type: "error", Message: err.Error()})
		return
	}

	c.reply(SubmissionReceivedMessage{Type: "submissionReceived"})
}

// leaveRoom folds explicit leaves and transport closes into the same path:
// remove the player, then delete the room if it emptied.
func (c *Client) leaveRoom(cfg *Config, rr *RoomRegistry) {
	if c.roomCode == "" {
		return
	}

	code := c.roomCode
	c.roomCode = ""

	if room, ok := rr.Get(code); ok {
		room.RemovePlayer(c.playerID)
		rr.DeleteIfEmpty(code)
	}
}

// qrTelephoneHandler generates a PNG QR code for a room's join URL, so a
// private 4-digit code can be shared by pointing a phone at the screen.
func qrTelephoneHandler(cfg *Config, path string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + cfg.prefix + path + "?room=" + roomID

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

// registerTelephoneGame sets up routes so that:
//   - $path/ws           → WebSocket carrying the whole game protocol
//   - $path/qr/:roomid   → PNG QR code linking to that room
func registerTelephoneGame(cfg *Config, path string, mux *httprouter.Router) {
	cr := newConnRegistry()
	rr := newRoomRegistry(cfg, cr)

	mux.GET(cfg.prefix+path+"/ws", serveTelephoneWS(cfg, rr, cr))

	mux.GET(cfg.prefix+path+"/qr/:roomid", qrTelephoneHandler(cfg, path))
}

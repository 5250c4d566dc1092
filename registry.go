package main

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"sync"
	"time"
)

// RoomRegistry holds every live room keyed by its code. Private rooms get a
// short numeric code suitable for reading out loud; public rooms get a
// longer random token. Codes are freed as soon as their room is deleted.
type RoomRegistry struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	cfg    *Config
	sender Sender
}

func newRoomRegistry(cfg *Config, sender Sender) *RoomRegistry {
	rr := &RoomRegistry{
		rooms:  make(map[string]*Room),
		cfg:    cfg,
		sender: sender,
	}
	if cfg.sessionTimeout > 0 {
		go rr.reaperLoop()
	}
	return rr
}

// CreateRoom registers a new room with its creator as host and sole player.
func (rr *RoomRegistry) CreateRoom(playerID, username string, public bool) *Room {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	var code string
	if public {
		code = rr.newPublicCodeLocked()
	} else {
		code = rr.newPrivateCodeLocked()
	}

	room := newRoom(rr.cfg, code, public, rr.sender)
	rr.rooms[code] = room

	// Cannot fail: the room is in the lobby and empty.
	_ = room.AddPlayer(playerID, username)

	logf(rr.cfg, "GAMES: Created room %s (public: %t) for %q", code, public, username)

	return room
}

// Join adds a player to an existing room. The registry lock is held across
// the membership change so a join can never slip into a room that a
// concurrent last-player leave is deleting.
func (rr *RoomRegistry) Join(playerID, username, code string) (*Room, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	room, ok := rr.rooms[code]
	if !ok {
		return nil, errRoomNotFound
	}
	if err := room.AddPlayer(playerID, username); err != nil {
		return nil, err
	}

	return room, nil
}

// Get looks up a room by code.
func (rr *RoomRegistry) Get(code string) (*Room, bool) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	room, ok := rr.rooms[code]

	return room, ok
}

// ListPublic returns summaries of public rooms still in their lobby.
func (rr *RoomRegistry) ListPublic() []RoomInfo {
	rr.mu.Lock()
	snapshot := make([]*Room, 0, len(rr.rooms))
	for _, room := range rr.rooms {
		snapshot = append(snapshot, room)
	}
	rr.mu.Unlock()

	infos := make([]RoomInfo, 0, len(snapshot))
	for _, room := range snapshot {
		if room.Listable() {
			infos = append(infos, room.RoomInfo())
		}
	}

	return infos
}

// DeleteIfEmpty removes the room and frees its code once the last player is
// gone. Called after every player removal.
func (rr *RoomRegistry) DeleteIfEmpty(code string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	room, ok := rr.rooms[code]
	if !ok || !room.Empty() {
		return
	}

	delete(rr.rooms, code)
	room.Close()

	logf(rr.cfg, "GAMES: Deleted empty room %s", code)
}

// newPublicCodeLocked generates a crypto-random public room token and
// ensures it doesn't collide with existing rooms.
func (rr *RoomRegistry) newPublicCodeLocked() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		code := string(out)

		if _, exists := rr.rooms[code]; !exists {
			return code
		}
	}
}

// newPrivateCodeLocked generates a 4-digit room code, retrying until it is
// free. Codes are short-lived, so the small space is plenty.
func (rr *RoomRegistry) newPrivateCodeLocked() string {
	for {
		var buf [2]byte
		if _, err := rand.Read(buf[:]); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		code := strconv.Itoa(1000 + int(binary.BigEndian.Uint16(buf[:]))%9000)

		if _, exists := rr.rooms[code]; !exists {
			return code
		}
	}
}

// reaperLoop periodically removes rooms that have been idle longer than the
// configured session timeout.
func (rr *RoomRegistry) reaperLoop() {
	ticker := time.NewTicker(rr.cfg.sessionTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-rr.cfg.sessionTimeout)

		rr.mu.Lock()
		for code, room := range rr.rooms {
			if room.IdleSince().Before(cutoff) {
				delete(rr.rooms, code)
				logf(rr.cfg, "GAMES: Reaped idle room %s", code)
				go func(room *Room) {
					room.Broadcast(ErrorMessage{
						Type:    "error",
						Message: "Room closed due to inactivity",
					})
					room.Close()
				}(room)
			}
		}
		rr.mu.Unlock()
	}
}

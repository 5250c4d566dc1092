package main

import (
	"encoding/json"
	"sync"
	"time"
)

type GameState int

const (
	StateLobby GameState = iota
	StateWriting
	StateDrawing
	StateResults
)

func (s GameState) String() string {
	switch s {
	case StateLobby:
		return "lobby"
	case StateWriting:
		return "writing"
	case StateDrawing:
		return "drawing"
	case StateResults:
		return "results"
	}
	return "unknown"
}

func (s GameState) active() bool {
	return s == StateWriting || s == StateDrawing
}

const (
	entryText    = "text"
	entryDrawing = "drawing"
)

// Player holds the data we store server-side. The connection itself lives in
// the connection registry, keyed by player id.
type Player struct {
	ID       string
	Username string
	Ready    bool
}

// Entry is one contribution to a chain, immutable once submitted.
type Entry struct {
	Kind       string          `json:"type"` // "text" or "drawing"
	Content    json.RawMessage `json:"content"`
	Author     string          `json:"author"`
	AuthorName string          `json:"authorName"`
	Turn       int             `json:"turn"`
}

// Chain is the growing sequence of alternating prompts and drawings started
// by one player. The owner name is snapshotted at game start.
type Chain struct {
	OwnerID   string
	OwnerName string
	Sequence  []Entry
}

// Sender delivers a message to a single player's connection. Sends are
// best-effort: messages to absent or backlogged connections are dropped,
// never retried, and never block.
type Sender interface {
	Send(playerID string, msg any)
}

// Room is one isolated game. All state is guarded by mu; the turn timer and
// the inter-turn gap timer re-enter through guarded entry points that check
// the turn number they were scheduled for, so a stale fire and a concurrent
// submission can never end the same turn twice.
type Room struct {
	mu sync.Mutex

	code   string
	public bool
	hostID string

	players []*Player // insertion order defines host succession
	state   GameState
	turn    int // 1-based while a game is active

	// Rotation state, frozen at game start. A player who leaves mid-game
	// keeps their slot in order and their chain; their turns simply produce
	// no entry.
	order     []string
	chains    map[string]*Chain
	submitted map[string]bool

	// turnOpen is true only between a turn starting and ending; submissions
	// arriving in the gap before the next turn are rejected, and a timer
	// fire that lost the race to an all-submitted completion is a no-op.
	turnOpen bool

	// closed marks a room the registry has dropped; pending timers that fire
	// afterwards must not walk a memberless game forward.
	closed bool

	turnDuration time.Duration
	turnGap      time.Duration
	turnTimer    *time.Timer
	lastActive   time.Time

	sender Sender
	cfg    *Config
}

func newRoom(cfg *Config, code string, public bool, sender Sender) *Room {
	return &Room{
		code:         code,
		public:       public,
		state:        StateLobby,
		chains:       make(map[string]*Chain),
		turnDuration: cfg.turnDuration,
		turnGap:      cfg.turnGap,
		lastActive:   time.Now(),
		sender:       sender,
		cfg:          cfg,
	}
}

// AddPlayer joins a player to the room. The first player becomes host.
// Private rooms only admit players while in the lobby; public rooms admit
// latecomers when the late-join policy is on, though latecomers are not part
// of an already running rotation.
func (r *Room) AddPlayer(id, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	if r.state != StateLobby && (!r.public || !r.cfg.lateJoin) {
		return errGameStarted
	}

	player := &Player{ID: id, Username: username}
	r.players = append(r.players, player)
	if r.hostID == "" {
		r.hostID = id
	}

	logf(r.cfg, "GAMES: Player %q joined room %s (%d players)", username, r.code, len(r.players))

	r.broadcastLocked(PlayerJoinedMessage{
		Type:     "playerJoined",
		Player:   PlayerInfo{ID: id, Username: username},
		RoomInfo: r.roomInfoLocked(),
	}, id)

	return nil
}

// RemovePlayer handles both explicit leaves and transport closes. Returns
// true once the room is empty and should be deleted. If the departing player
// was host, the next remaining player in join order takes over. If they were
// the last member still owing a submission, the turn ends immediately.
func (r *Room) RemovePlayer(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, p := range r.players {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return len(r.players) == 0
	}

	username := r.players[idx].Username
	r.players = append(r.players[:idx], r.players[idx+1:]...)

	if len(r.players) == 0 {
		r.closed = true
		r.stopTimerLocked()
		logf(r.cfg, "GAMES: Player %q left room %s, room now empty", username, r.code)
		return true
	}

	if r.hostID == id {
		r.hostID = r.players[0].ID
		logf(r.cfg, "GAMES: Host %q left room %s, promoted %q", username, r.code, r.players[0].Username)
	}

	r.broadcastLocked(PlayerLeftMessage{
		Type:     "playerLeft",
		PlayerID: id,
		RoomInfo: r.roomInfoLocked(),
	}, "")

	if r.state.active() && r.turnOpen && r.allPresentSubmittedLocked() {
		r.endTurnLocked()
	}

	return false
}

// StartGame moves the room from lobby to the first writing turn. Only the
// current host may start; attempts from anyone else are ignored. Requires at
// least two players.
func (r *Room) StartGame(playerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	if r.state != StateLobby {
		return nil
	}
	if playerID != r.hostID {
		logf(r.cfg, "GAMES: Ignoring startGame from non-host %s in room %s", playerID, r.code)
		return nil
	}
	if len(r.players) < 2 {
		return errNotEnoughPlayers
	}

	r.order = make([]string, 0, len(r.players))
	for _, p := range r.players {
		r.order = append(r.order, p.ID)
		r.chains[p.ID] = &Chain{OwnerID: p.ID, OwnerName: p.Username}
	}
	r.turn = 0

	logf(r.cfg, "GAMES: Game started in room %s with %d players", r.code, len(r.order))

	r.startTurnLocked()

	return nil
}

// SubmitEntry appends a player's contribution to their assigned chain for
// the current turn. First submission wins; repeats are rejected. Ends the
// turn early once every still-present rotation member has submitted.
func (r *Room) SubmitEntry(playerID string, content json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	if !r.state.active() {
		return errNotInGame
	}

	p := -1
	for i, id := range r.order {
		if id == playerID {
			p = i
			break
		}
	}
	player := r.playerLocked(playerID)
	if p < 0 || player == nil {
		return errNotInGame
	}
	if !r.turnOpen {
		return errTurnOver
	}
	if r.submitted[playerID] {
		return errAlreadySubmitted
	}

	kind := entryDrawing
	if r.state == StateWriting {
		kind = entryText
	}

	chain := r.chains[r.order[assignedChain(p, r.turn, len(r.order))]]
	chain.Sequence = append(chain.Sequence, Entry{
		Kind:       kind,
		Content:    content,
		Author:     playerID,
		AuthorName: player.Username,
		Turn:       r.turn,
	})
	r.submitted[playerID] = true

	logf(r.cfg, "GAMES: Player %q submitted %s for chain %q in room %s (turn %d)",
		player.Username, kind, chain.OwnerName, r.code, r.turn)

	if r.allPresentSubmittedLocked() {
		r.endTurnLocked()
	}

	return nil
}

// startTurnLocked begins the next turn: bumps the counter, flips the phase
// by parity, arms the timer, announces the turn, and hands out tasks.
func (r *Room) startTurnLocked() {
	r.turn++
	if isWritingTurn(r.turn) {
		r.state = StateWriting
	} else {
		r.state = StateDrawing
	}
	r.submitted = make(map[string]bool)
	r.turnOpen = true

	r.stopTimerLocked()
	turn := r.turn
	r.turnTimer = time.AfterFunc(r.turnDuration, func() {
		r.turnExpired(turn)
	})

	logf(r.cfg, "GAMES: Room %s turn %d (%s)", r.code, r.turn, r.state)

	r.broadcastLocked(TurnStartMessage{
		Type:      "turnStart",
		Turn:      r.turn,
		IsWriting: r.state == StateWriting,
		Duration:  r.turnDuration.Milliseconds(),
	}, "")

	r.assignTasksLocked()
}

func (r *Room) assignTasksLocked() {
	n := len(r.order)

	for p, id := range r.order {
		player := r.playerLocked(id)
		if player == nil {
			// Slot belongs to a departed player; nothing to hand out.
			continue
		}

		chain := r.chains[r.order[assignedChain(p, r.turn, n)]]

		msg := YourTurnMessage{
			Type:       "yourTurn",
			ChainOwner: chain.OwnerName,
		}

		switch {
		case r.turn == 1:
			// Everyone opens their own chain with an initial prompt.
			msg.Action = "write"
		case r.state == StateDrawing:
			msg.Action = "draw"
			if prev := lastEntryOfKind(chain.Sequence, entryText); prev != nil {
				msg.Prompt = prev.Content
			}
		default:
			msg.Action = "write"
			if prev := lastEntryOfKind(chain.Sequence, entryDrawing); prev != nil {
				msg.Drawing = prev.Content
			}
		}

		r.sender.Send(id, msg)
	}
}

// turnExpired is the timer path into the room. The turn number check makes
// expiry a no-op if the turn already ended some other way.
func (r *Room) turnExpired(turn int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || !r.turnOpen || !r.state.active() || r.turn != turn {
		return
	}

	logf(r.cfg, "GAMES: Room %s turn %d timed out", r.code, turn)

	r.endTurnLocked()
}

func (r *Room) resumeAfterGap(turn int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || !r.state.active() || r.turn != turn {
		return
	}

	r.startTurnLocked()
}

func (r *Room) endTurnLocked() {
	r.turnOpen = false
	r.stopTimerLocked()

	if r.turn >= len(r.order) {
		r.endGameLocked()
		return
	}

	if r.turnGap <= 0 {
		r.startTurnLocked()
		return
	}

	turn := r.turn
	r.turnTimer = time.AfterFunc(r.turnGap, func() {
		r.resumeAfterGap(turn)
	})
}

func (r *Room) endGameLocked() {
	r.state = StateResults
	r.stopTimerLocked()

	results := make([]ChainResult, 0, len(r.order))
	for _, id := range r.order {
		chain := r.chains[id]
		results = append(results, ChainResult{
			Owner:    chain.OwnerName,
			Sequence: chain.Sequence,
		})
	}

	logf(r.cfg, "GAMES: Game ended in room %s after %d turns", r.code, r.turn)

	r.broadcastLocked(GameEndMessage{
		Type:    "gameEnd",
		Results: results,
	}, "")
}

// allPresentSubmittedLocked reports whether every rotation member who is
// still in the room has submitted this turn. Departed members are skipped,
// which is what lets a shrunken roster still make progress.
func (r *Room) allPresentSubmittedLocked() bool {
	for _, id := range r.order {
		if r.playerLocked(id) != nil && !r.submitted[id] {
			return false
		}
	}
	return true
}

func (r *Room) playerLocked(id string) *Player {
	for _, p := range r.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Room) stopTimerLocked() {
	if r.turnTimer != nil {
		r.turnTimer.Stop()
		r.turnTimer = nil
	}
}

func (r *Room) broadcastLocked(msg any, excludeID string) {
	for _, p := range r.players {
		if p.ID == excludeID {
			continue
		}
		r.sender.Send(p.ID, msg)
	}
}

func (r *Room) roomInfoLocked() RoomInfo {
	players := make([]PlayerInfo, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, PlayerInfo{
			ID:       p.ID,
			Username: p.Username,
			Ready:    p.Ready,
		})
	}

	return RoomInfo{
		RoomID:      r.code,
		IsPublic:    r.public,
		HostID:      r.hostID,
		PlayerCount: len(r.players),
		GameState:   r.state.String(),
		Players:     players,
	}
}

// RoomInfo returns the room summary sent in lobby and roster messages.
func (r *Room) RoomInfo() RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.roomInfoLocked()
}

// Listable reports whether the room should appear in the public room list.
func (r *Room) Listable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.public && r.state == StateLobby
}

// Broadcast sends a message to every current member.
func (r *Room) Broadcast(msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.broadcastLocked(msg, "")
}

// IdleSince returns the time of the last inbound operation, for the reaper.
func (r *Room) IdleSince() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lastActive
}

// Empty reports whether the room has no members left.
func (r *Room) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.players) == 0
}

// Close stops the room's timers and marks it dead. Used when the registry
// drops the room; any timer already ticking becomes a no-op.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.stopTimerLocked()
}

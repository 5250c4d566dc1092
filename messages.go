package main

import "encoding/json"

// Messages coming from clients
type ClientMessage struct {
	Type     string          `json:"type"`               // "createRoom", "joinRoom", "listPublicRooms", "startGame", "submitEntry", "leave"
	Username string          `json:"username,omitempty"` // createRoom / joinRoom
	IsPublic bool            `json:"isPublic,omitempty"` // createRoom
	RoomID   string          `json:"roomId,omitempty"`   // joinRoom
	Content  json.RawMessage `json:"content,omitempty"`  // submitEntry; opaque, text or draw data
}

// PlayerInfo is the public view of a player inside a room summary.
type PlayerInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Ready    bool   `json:"ready"`
}

// RoomInfo is the room summary included in lobby and roster messages.
type RoomInfo struct {
	RoomID      string       `json:"roomId"`
	IsPublic    bool         `json:"isPublic"`
	HostID      string       `json:"hostId"`
	PlayerCount int          `json:"playerCount"`
	GameState   string       `json:"gameState"`
	Players     []PlayerInfo `json:"players"`
}

// RoomCreatedMessage confirms room creation to the creator.
type RoomCreatedMessage struct {
	Type     string   `json:"type"` // "roomCreated"
	PlayerID string   `json:"playerId"`
	RoomID   string   `json:"roomId"`
	RoomInfo RoomInfo `json:"roomInfo"`
}

// RoomJoinedMessage confirms a join to the joining player.
type RoomJoinedMessage struct {
	Type     string   `json:"type"` // "roomJoined"
	PlayerID string   `json:"playerId"`
	RoomID   string   `json:"roomId"`
	RoomInfo RoomInfo `json:"roomInfo"`
}

// ErrorMessage is sent only to the connection that caused the error.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// PublicRoomsListMessage lists public rooms still accepting players.
type PublicRoomsListMessage struct {
	Type  string     `json:"type"` // "publicRoomsList"
	Rooms []RoomInfo `json:"rooms"`
}

// PlayerJoinedMessage is broadcast to existing members when someone joins.
type PlayerJoinedMessage struct {
	Type     string     `json:"type"` // "playerJoined"
	Player   PlayerInfo `json:"player"`
	RoomInfo RoomInfo   `json:"roomInfo"`
}

// PlayerLeftMessage is broadcast when someone leaves or disconnects.
type PlayerLeftMessage struct {
	Type     string   `json:"type"` // "playerLeft"
	PlayerID string   `json:"playerId"`
	RoomInfo RoomInfo `json:"roomInfo"`
}

// TurnStartMessage is broadcast at the start of every turn.
type TurnStartMessage struct {
	Type      string `json:"type"` // "turnStart"
	Turn      int    `json:"turn"`
	IsWriting bool   `json:"isWriting"`
	Duration  int64  `json:"duration"` // milliseconds
}

// YourTurnMessage carries a player's personalized task for the turn.
// Writing turns after the first include the drawing to caption; drawing
// turns include the prompt to illustrate.
type YourTurnMessage struct {
	Type       string          `json:"type"`   // "yourTurn"
	Action     string          `json:"action"` // "write" or "draw"
	Prompt     json.RawMessage `json:"prompt,omitempty"`
	Drawing    json.RawMessage `json:"drawing,omitempty"`
	ChainOwner string          `json:"chainOwner"`
}

// SubmissionReceivedMessage acknowledges a submission to its author.
type SubmissionReceivedMessage struct {
	Type string `json:"type"` // "submissionReceived"
}

// ChainResult is one completed chain in the end-of-game reveal.
type ChainResult struct {
	Owner    string  `json:"owner"` // owner display name
	Sequence []Entry `json:"sequence"`
}

// GameEndMessage is broadcast once the final turn completes.
type GameEndMessage struct {
	Type    string        `json:"type"` // "gameEnd"
	Results []ChainResult `json:"results"`
}

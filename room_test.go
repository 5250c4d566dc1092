package main

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSender stands in for the connection registry so rooms can be
// exercised without a transport.
type recordingSender struct {
	mu   sync.Mutex
	msgs map[string][]any
}

func newRecordingSender() *recordingSender {
	return &recordingSender{msgs: make(map[string][]any)}
}

func (s *recordingSender) Send(playerID string, msg any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs[playerID] = append(s.msgs[playerID], msg)
}

func (s *recordingSender) messagesFor(playerID string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]any, len(s.msgs[playerID]))
	copy(out, s.msgs[playerID])

	return out
}

func (s *recordingSender) lastYourTurn(playerID string) (YourTurnMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.msgs[playerID]) - 1; i >= 0; i-- {
		if msg, ok := s.msgs[playerID][i].(YourTurnMessage); ok {
			return msg, true
		}
	}

	return YourTurnMessage{}, false
}

func testConfig() *Config {
	return &Config{
		lateJoin:     true,
		turnDuration: time.Minute,
		turnGap:      0,
	}
}

func newTestRoom(cfg *Config, usernames ...string) (*Room, *recordingSender, []string) {
	sender := newRecordingSender()
	room := newRoom(cfg, "4242", false, sender)

	ids := make([]string, 0, len(usernames))
	for i, name := range usernames {
		id := fmt.Sprintf("player-%d", i)
		_ = room.AddPlayer(id, name)
		ids = append(ids, id)
	}

	return room, sender, ids
}

func (r *Room) currentTurn() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.turn
}

func (r *Room) currentState() GameState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

func (r *Room) turnIsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.turnOpen
}

func TestStartGameRequiresTwoPlayers(t *testing.T) {
	room, _, ids := newTestRoom(testConfig(), "alice")

	err := room.StartGame(ids[0])

	require.ErrorIs(t, err, errNotEnoughPlayers)
	assert.Equal(t, StateLobby, room.currentState())
}

func TestStartGameIgnoresNonHost(t *testing.T) {
	room, _, ids := newTestRoom(testConfig(), "alice", "bob")

	require.NoError(t, room.StartGame(ids[1]))

	assert.Equal(t, StateLobby, room.currentState())
	assert.Equal(t, 0, room.currentTurn())
}

func TestStartGameOpensFirstWritingTurn(t *testing.T) {
	room, sender, ids := newTestRoom(testConfig(), "alice", "bob", "carol")

	require.NoError(t, room.StartGame(ids[0]))

	assert.Equal(t, StateWriting, room.currentState())
	assert.Equal(t, 1, room.currentTurn())

	// Everyone opens their own chain.
	for i, id := range ids {
		task, ok := sender.lastYourTurn(id)
		require.True(t, ok, "player %s should have a task", id)
		assert.Equal(t, "write", task.Action)
		assert.Empty(t, task.Prompt)
		assert.Empty(t, task.Drawing)
		assert.Equal(t, []string{"alice", "bob", "carol"}[i], task.ChainOwner)
	}

	// Turn start is broadcast to the whole room.
	var starts int
	for _, msg := range sender.messagesFor(ids[1]) {
		if start, ok := msg.(TurnStartMessage); ok {
			starts++
			assert.Equal(t, 1, start.Turn)
			assert.True(t, start.IsWriting)
			assert.Equal(t, time.Minute.Milliseconds(), start.Duration)
		}
	}
	assert.Equal(t, 1, starts)
}

func submitAll(t *testing.T, room *Room, ids []string, turn int) {
	t.Helper()

	for _, id := range ids {
		content, _ := json.Marshal(fmt.Sprintf("%s-turn-%d", id, turn))
		require.NoError(t, room.SubmitEntry(id, content))
	}
}

func TestFullGameRotationAndResults(t *testing.T) {
	room, sender, ids := newTestRoom(testConfig(), "alice", "bob", "carol")
	require.NoError(t, room.StartGame(ids[0]))

	for turn := 1; turn <= 3; turn++ {
		require.Equal(t, turn, room.currentTurn())
		submitAll(t, room, ids, turn)
	}

	require.Equal(t, StateResults, room.currentState())

	var endMsg GameEndMessage
	var found bool
	for _, msg := range sender.messagesFor(ids[0]) {
		if end, ok := msg.(GameEndMessage); ok {
			endMsg = end
			found = true
		}
	}
	require.True(t, found, "gameEnd should be broadcast")
	require.Len(t, endMsg.Results, 3)

	for _, result := range endMsg.Results {
		require.Len(t, result.Sequence, 3, "chain %q", result.Owner)

		authors := make(map[string]bool)
		for i, entry := range result.Sequence {
			assert.Equal(t, i+1, entry.Turn)
			if isWritingTurn(entry.Turn) {
				assert.Equal(t, entryText, entry.Kind)
			} else {
				assert.Equal(t, entryDrawing, entry.Kind)
			}
			authors[entry.Author] = true
		}
		// Every player contributed to every chain exactly once.
		assert.Len(t, authors, 3, "chain %q", result.Owner)
	}
}

func TestGameDoesNotEndEarly(t *testing.T) {
	room, _, ids := newTestRoom(testConfig(), "alice", "bob", "carol")
	require.NoError(t, room.StartGame(ids[0]))

	submitAll(t, room, ids, 1)
	submitAll(t, room, ids, 2)

	assert.Equal(t, 3, room.currentTurn())
	assert.Equal(t, StateWriting, room.currentState())
}

func TestSecondTurnTasksCarryPreviousEntry(t *testing.T) {
	room, sender, ids := newTestRoom(testConfig(), "alice", "bob", "carol")
	require.NoError(t, room.StartGame(ids[0]))

	submitAll(t, room, ids, 1)

	require.Equal(t, 2, room.currentTurn())
	require.Equal(t, StateDrawing, room.currentState())

	// Turn 2: alice draws bob's prompt, bob draws carol's, carol draws alice's.
	tests := []struct {
		player string
		owner  string
		prompt string
	}{
		{ids[0], "bob", `"player-1-turn-1"`},
		{ids[1], "carol", `"player-2-turn-1"`},
		{ids[2], "alice", `"player-0-turn-1"`},
	}

	for _, tt := range tests {
		task, ok := sender.lastYourTurn(tt.player)
		require.True(t, ok)
		assert.Equal(t, "draw", task.Action)
		assert.Equal(t, tt.owner, task.ChainOwner)
		assert.JSONEq(t, tt.prompt, string(task.Prompt))
		assert.Empty(t, task.Drawing)
	}
}

func TestDuplicateSubmissionRejected(t *testing.T) {
	room, _, ids := newTestRoom(testConfig(), "alice", "bob")
	require.NoError(t, room.StartGame(ids[0]))

	require.NoError(t, room.SubmitEntry(ids[0], json.RawMessage(`"first"`)))
	err := room.SubmitEntry(ids[0], json.RawMessage(`"second"`))

	require.ErrorIs(t, err, errAlreadySubmitted)

	room.mu.Lock()
	defer room.mu.Unlock()
	require.Len(t, room.chains[ids[0]].Sequence, 1)
	assert.JSONEq(t, `"first"`, string(room.chains[ids[0]].Sequence[0].Content))
}

func TestSubmitOutsideActiveGame(t *testing.T) {
	room, _, ids := newTestRoom(testConfig(), "alice", "bob")

	err := room.SubmitEntry(ids[0], json.RawMessage(`"early"`))

	require.ErrorIs(t, err, errNotInGame)
}

func TestTurnTimeoutForcesProgress(t *testing.T) {
	cfg := testConfig()
	cfg.turnDuration = 100 * time.Millisecond

	room, _, ids := newTestRoom(cfg, "alice", "bob")
	require.NoError(t, room.StartGame(ids[0]))

	// Only one of two players submits; the timer must still move the game.
	require.NoError(t, room.SubmitEntry(ids[0], json.RawMessage(`"solo"`)))

	require.Eventually(t, func() bool {
		return room.currentTurn() >= 2
	}, time.Second, 5*time.Millisecond, "turn should advance on timeout")

	// Turn 2 has no submissions at all and must also time out, ending the game.
	require.Eventually(t, func() bool {
		return room.currentState() == StateResults
	}, time.Second, 5*time.Millisecond, "game should reach results via timeouts")
}

func TestLateSubmissionAfterTimeoutRejected(t *testing.T) {
	cfg := testConfig()
	cfg.turnDuration = 50 * time.Millisecond
	cfg.turnGap = time.Minute

	room, _, ids := newTestRoom(cfg, "alice", "bob")
	require.NoError(t, room.StartGame(ids[0]))

	// Nobody submits; wait for the timer to end turn 1 and open the gap.
	require.Eventually(t, func() bool {
		return !room.turnIsOpen()
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, room.currentTurn())

	err := room.SubmitEntry(ids[0], json.RawMessage(`"too late"`))
	require.ErrorIs(t, err, errTurnOver)

	// The ended turn keeps its gap: nothing lands in alice's chain.
	room.mu.Lock()
	defer room.mu.Unlock()
	assert.Empty(t, room.chains[ids[0]].Sequence)
}

func TestCloseDuringGapStopsGame(t *testing.T) {
	cfg := testConfig()
	cfg.turnGap = 30 * time.Millisecond

	room, sender, ids := newTestRoom(cfg, "alice", "bob")
	require.NoError(t, room.StartGame(ids[0]))

	submitAll(t, room, ids, 1)
	require.Equal(t, 1, room.currentTurn())

	// The registry drops the room while the inter-turn gap is pending.
	room.Close()
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, room.currentTurn())
	for _, msg := range sender.messagesFor(ids[0]) {
		if start, ok := msg.(TurnStartMessage); ok {
			assert.Equal(t, 1, start.Turn, "no turn may start after Close")
		}
	}
}

func TestEmptiedRoomStopsAdvancing(t *testing.T) {
	cfg := testConfig()
	cfg.turnDuration = 30 * time.Millisecond

	room, _, ids := newTestRoom(cfg, "alice", "bob")
	require.NoError(t, room.StartGame(ids[0]))

	require.False(t, room.RemovePlayer(ids[0]))
	require.True(t, room.RemovePlayer(ids[1]))

	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, room.currentTurn())
	assert.Equal(t, StateWriting, room.currentState())
}

func TestHostMigrationFollowsJoinOrder(t *testing.T) {
	room, _, ids := newTestRoom(testConfig(), "alice", "bob", "carol")

	empty := room.RemovePlayer(ids[0])
	require.False(t, empty)
	assert.Equal(t, ids[1], room.RoomInfo().HostID)

	empty = room.RemovePlayer(ids[1])
	require.False(t, empty)
	assert.Equal(t, ids[2], room.RoomInfo().HostID)

	empty = room.RemovePlayer(ids[2])
	assert.True(t, empty)
}

func TestRemovePlayerBroadcastsFreshSnapshot(t *testing.T) {
	room, sender, ids := newTestRoom(testConfig(), "alice", "bob", "carol")

	room.RemovePlayer(ids[2])

	var left *PlayerLeftMessage
	for _, msg := range sender.messagesFor(ids[0]) {
		if m, ok := msg.(PlayerLeftMessage); ok {
			left = &m
		}
	}
	require.NotNil(t, left)
	assert.Equal(t, ids[2], left.PlayerID)
	assert.Equal(t, 2, left.RoomInfo.PlayerCount)
}

func TestMidGameLeaveAutoSkipsRotationSlot(t *testing.T) {
	room, sender, ids := newTestRoom(testConfig(), "alice", "bob", "carol")
	require.NoError(t, room.StartGame(ids[0]))

	// carol bails during the first writing turn without submitting.
	room.RemovePlayer(ids[2])

	require.NoError(t, room.SubmitEntry(ids[0], json.RawMessage(`"a dog"`)))
	require.NoError(t, room.SubmitEntry(ids[1], json.RawMessage(`"a frog"`)))

	// Turn ends without carol; rotation still runs over the frozen roster.
	require.Equal(t, 2, room.currentTurn())
	require.Equal(t, StateDrawing, room.currentState())

	// bob is assigned carol's chain, which has no prompt to pass along.
	task, ok := sender.lastYourTurn(ids[1])
	require.True(t, ok)
	assert.Equal(t, "carol", task.ChainOwner)
	assert.Empty(t, task.Prompt)

	// Chains are never deleted mid-game.
	room.mu.Lock()
	defer room.mu.Unlock()
	require.Len(t, room.chains, 3)
	require.Len(t, room.order, 3)
}

func TestLastUnsubmittedLeaverEndsTurn(t *testing.T) {
	room, _, ids := newTestRoom(testConfig(), "alice", "bob", "carol")
	require.NoError(t, room.StartGame(ids[0]))

	require.NoError(t, room.SubmitEntry(ids[0], json.RawMessage(`"a dog"`)))
	require.NoError(t, room.SubmitEntry(ids[1], json.RawMessage(`"a frog"`)))
	require.Equal(t, 1, room.currentTurn())

	// Everyone still present has submitted once carol leaves.
	room.RemovePlayer(ids[2])

	assert.Equal(t, 2, room.currentTurn())
}

func TestPrivateRoomRejectsJoinAfterStart(t *testing.T) {
	room, _, ids := newTestRoom(testConfig(), "alice", "bob")
	require.NoError(t, room.StartGame(ids[0]))

	err := room.AddPlayer("late", "dave")

	require.ErrorIs(t, err, errGameStarted)
}

func TestPublicRoomLateJoinSpectates(t *testing.T) {
	cfg := testConfig()
	sender := newRecordingSender()
	room := newRoom(cfg, "PUBROOM1", true, sender)

	require.NoError(t, room.AddPlayer("p0", "alice"))
	require.NoError(t, room.AddPlayer("p1", "bob"))
	require.NoError(t, room.StartGame("p0"))

	// Late joiners are admitted but sit outside the frozen rotation.
	require.NoError(t, room.AddPlayer("p2", "carol"))

	err := room.SubmitEntry("p2", json.RawMessage(`"meddling"`))
	require.ErrorIs(t, err, errNotInGame)
}

func TestPublicRoomLateJoinDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.lateJoin = false
	sender := newRecordingSender()
	room := newRoom(cfg, "PUBROOM2", true, sender)

	require.NoError(t, room.AddPlayer("p0", "alice"))
	require.NoError(t, room.AddPlayer("p1", "bob"))
	require.NoError(t, room.StartGame("p0"))

	err := room.AddPlayer("p2", "carol")
	require.ErrorIs(t, err, errGameStarted)
}

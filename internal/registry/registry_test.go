package registry

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddPlayerFillsSlotsInOrderThenFails(t *testing.T) {
	reg := New(2, 1)

	c1, _ := net.Pipe()
	c2, _ := net.Pipe()
	c3, _ := net.Pipe()

	p1, err := reg.AddPlayer(c1)
	require.NoError(t, err)
	p2, err := reg.AddPlayer(c2)
	require.NoError(t, err)
	assert.Equal(t, 0, p1.Slot())
	assert.Equal(t, 1, p2.Slot())

	_, err = reg.AddPlayer(c3)
	assert.ErrorIs(t, err, ErrServerFull)
}

func TestDisconnectedInGameSlotIsNotReusedByAddPlayer(t *testing.T) {
	reg := New(1, 1)
	c1, _ := net.Pipe()

	p1, err := reg.AddPlayer(c1)
	require.NoError(t, err)
	p1.Nickname = "alice"
	_, err = reg.JoinRoom(0, p1)
	require.NoError(t, err)
	reg.HandleDisconnect(p1)

	c2, _ := net.Pipe()
	_, err = reg.AddPlayer(c2)
	assert.ErrorIs(t, err, ErrServerFull)
}

func TestJoinRoomFillsAndTransitionsToInProgress(t *testing.T) {
	reg := New(2, 1)
	c1, _ := net.Pipe()
	c2, _ := net.Pipe()

	p1, _ := reg.AddPlayer(c1)
	p2, _ := reg.AddPlayer(c2)

	filled, err := reg.JoinRoom(0, p1)
	require.NoError(t, err)
	assert.False(t, filled)

	room, ok := reg.GetRoom(0)
	require.True(t, ok)
	assert.Equal(t, Waiting, room.State())
	assert.Equal(t, 1, room.Count())

	filled, err = reg.JoinRoom(0, p2)
	require.NoError(t, err)
	assert.True(t, filled)
	assert.Equal(t, InProgress, room.State())
	assert.Equal(t, 2, room.Count())

	players := room.Players()
	assert.Equal(t, p1, players[0])
	assert.Equal(t, p2, players[1])
}

func TestJoinRoomRejectsFullOrInProgressRoom(t *testing.T) {
	reg := New(3, 1)
	c1, _ := net.Pipe()
	c2, _ := net.Pipe()
	c3, _ := net.Pipe()
	p1, _ := reg.AddPlayer(c1)
	p2, _ := reg.AddPlayer(c2)
	p3, _ := reg.AddPlayer(c3)

	_, err := reg.JoinRoom(0, p1)
	require.NoError(t, err)
	_, err = reg.JoinRoom(0, p2)
	require.NoError(t, err)

	_, err = reg.JoinRoom(0, p3)
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestJoinRoomOutOfRange(t *testing.T) {
	reg := New(1, 1)
	c1, _ := net.Pipe()
	p1, _ := reg.AddPlayer(c1)

	_, err := reg.JoinRoom(5, p1)
	assert.ErrorIs(t, err, ErrNoSuchRoom)
}

func TestLeaveRoomOnlyWhileWaiting(t *testing.T) {
	reg := New(2, 1)
	c1, _ := net.Pipe()
	c2, _ := net.Pipe()
	p1, _ := reg.AddPlayer(c1)
	p2, _ := reg.AddPlayer(c2)

	_, err := reg.JoinRoom(0, p1)
	require.NoError(t, err)

	require.NoError(t, reg.LeaveRoom(p1))
	assert.Equal(t, Lobby, p1.State)
	assert.Equal(t, -1, p1.RoomID)

	room, _ := reg.GetRoom(0)
	assert.Equal(t, 0, room.Count())

	// Re-join, fill the room, and confirm leave is now rejected.
	_, err = reg.JoinRoom(0, p1)
	require.NoError(t, err)
	filled, err := reg.JoinRoom(0, p2)
	require.NoError(t, err)
	require.True(t, filled)

	err = reg.LeaveRoom(p1)
	assert.ErrorIs(t, err, ErrGameInProgress)
}

func TestFindActiveAndFindDisconnected(t *testing.T) {
	reg := New(1, 1)
	c1, _ := net.Pipe()
	p1, _ := reg.AddPlayer(c1)
	p1.Nickname = "alice"

	active, ok := reg.FindActive("alice")
	require.True(t, ok)
	assert.Same(t, p1, active)

	_, ok = reg.FindDisconnected("alice")
	assert.False(t, ok)

	_, err := reg.JoinRoom(0, p1)
	require.NoError(t, err)
	reg.HandleDisconnect(p1)

	_, ok = reg.FindActive("alice")
	assert.False(t, ok)

	disc, ok := reg.FindDisconnected("alice")
	require.True(t, ok)
	assert.Same(t, p1, disc)
}

func TestRemovePlayerClearsRoomSlotAndLifecycle(t *testing.T) {
	reg := New(2, 1)
	c1, _ := net.Pipe()
	c2, _ := net.Pipe()
	p1, _ := reg.AddPlayer(c1)
	p2, _ := reg.AddPlayer(c2)

	_, err := reg.JoinRoom(0, p1)
	require.NoError(t, err)
	filled, err := reg.JoinRoom(0, p2)
	require.NoError(t, err)
	require.True(t, filled)

	reg.RemovePlayer(p1)

	assert.Equal(t, Lobby, p1.State)
	assert.Equal(t, -1, p1.RoomID)
	assert.False(t, p1.Connected())

	room, _ := reg.GetRoom(0)
	assert.Equal(t, 1, room.Count())
}

func TestRoomBroadcastWakesAllWaiters(t *testing.T) {
	reg := New(1, 1)
	room, _ := reg.GetRoom(0)

	n := 5
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		ch := room.Wait()
		go func() {
			<-ch
			done <- struct{}{}
		}()
	}

	room.Broadcast()

	for i := 0; i < n; i++ {
		<-done
	}
}

func TestRoomsSnapshotStableOrder(t *testing.T) {
	reg := New(1, 3)
	snap := reg.Rooms()
	require.Len(t, snap, 3)
	for i, s := range snap {
		assert.Equal(t, i, s.ID)
		assert.Equal(t, Waiting, s.State)
	}
}

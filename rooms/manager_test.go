package rooms_test

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cameroncuttingedge/cube_four/game"
	"github.com/cameroncuttingedge/cube_four/rooms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu        sync.Mutex
	changes   []rooms.Change
	destroyed []string
}

func (r *recorder) RoomChanged(_ string, c rooms.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) RoomDestroyed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyed = append(r.destroyed, id)
}

func player(t *testing.T, name string, seat game.Cell) rooms.Player {
	t.Helper()
	p, err := rooms.NewPlayer(name, seat)
	require.NoError(t, err)
	return p
}

// startedRoom returns a manager with one started room and both player ids.
func startedRoom(t *testing.T, opts ...rooms.Option) (*rooms.Manager, string, string, string) {
	t.Helper()
	m := rooms.NewManager(opts...)
	host := player(t, "Ann", game.Player1)
	guest := player(t, "Bo", game.Player2)
	r, err := m.CreateRoom(host)
	require.NoError(t, err)
	_, err = m.JoinRoom(r.ID, guest)
	require.NoError(t, err)
	_, err = m.StartGame(r.ID, host.ID)
	require.NoError(t, err)
	return m, r.ID, host.ID, guest.ID
}

func TestNewPlayer(t *testing.T) {
	p := player(t, "  ", game.Player1)
	assert.Equal(t, "Player 1", p.Name)
	assert.Equal(t, rooms.HostColor, p.Color)
	assert.True(t, p.IsHost)
	assert.NotEmpty(t, p.ID)

	g := player(t, "Bo", game.Player2)
	assert.Equal(t, rooms.GuestColor, g.Color)
	assert.False(t, g.IsHost)

	_, err := rooms.NewPlayer("abcdefghijklmnopqrstuvwxyz0123456789", game.Player1)
	assert.ErrorIs(t, err, rooms.ErrValidation)
}

func TestManager_CreateRoom(t *testing.T) {
	clock := newFakeClock()
	m := rooms.NewManager(rooms.WithClock(clock.Now))
	rec := &recorder{}
	m.AddListener(rec)

	host := player(t, "Ann", game.Player1)
	host.IsHost = false
	r, err := m.CreateRoom(host)
	require.NoError(t, err)

	assert.Regexp(t, `^[A-Z0-9]{6}$`, r.ID)
	require.Len(t, r.Players, 1)
	assert.True(t, r.Players[0].IsHost)
	assert.Equal(t, rooms.PhaseWaiting, r.Phase)
	assert.False(t, r.GameStarted)
	assert.False(t, r.GameOver)
	assert.Equal(t, game.Player1, r.CurrentPlayer)
	assert.Equal(t, game.EmptyBoard(), r.GameState)
	assert.Equal(t, clock.Now(), r.CreatedAt)
	assert.Equal(t, rooms.DefaultSettings(), r.Settings)
	assert.Equal(t, []rooms.Change{rooms.ChangeCreated}, rec.changes)

	_, err = m.CreateRoom(rooms.Player{})
	assert.ErrorIs(t, err, rooms.ErrValidation)
}

func TestManager_CreateRoomRegeneratesOnCollision(t *testing.T) {
	codes := []string{"aaaaaa", "AAAAAA", "BBBBBB"}
	var i int
	m := rooms.NewManager(rooms.WithCodeGenerator(func() string {
		c := codes[i%len(codes)]
		i++
		return c
	}))
	r1, err := m.CreateRoom(player(t, "a", game.Player1))
	require.NoError(t, err)
	r2, err := m.CreateRoom(player(t, "b", game.Player1))
	require.NoError(t, err)
	assert.Equal(t, "AAAAAA", r1.ID)
	assert.Equal(t, "BBBBBB", r2.ID)

	stuck := rooms.NewManager(rooms.WithCodeGenerator(func() string { return "SAME01" }))
	_, err = stuck.CreateRoom(player(t, "a", game.Player1))
	require.NoError(t, err)
	_, err = stuck.CreateRoom(player(t, "b", game.Player1))
	assert.ErrorIs(t, err, rooms.ErrInternal)
}

func TestManager_JoinRoom(t *testing.T) {
	m := rooms.NewManager()
	host := player(t, "Ann", game.Player1)
	r, err := m.CreateRoom(host)
	require.NoError(t, err)

	tests := []struct {
		name    string
		roomID  string
		player  rooms.Player
		wantErr error
	}{
		{name: "missing room", roomID: "NOPE00", player: player(t, "x", game.Player2), wantErr: rooms.ErrNotFound},
		{name: "host again", roomID: r.ID, player: host, wantErr: rooms.ErrConflict},
		{name: "lower-case code joins", roomID: fmt.Sprintf(" %s ", strings.ToLower(r.ID)), player: player(t, "Bo", game.Player2)},
		{name: "third player", roomID: r.ID, player: player(t, "Cy", game.Player2), wantErr: rooms.ErrRoomFull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.JoinRoom(tt.roomID, tt.player)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, got.Players, 2)
			assert.False(t, got.Players[1].IsHost)
			assert.Equal(t, rooms.PhaseReady, got.Phase)
		})
	}

	final, err := m.Get(r.ID)
	require.NoError(t, err)
	assert.Len(t, final.Players, 2)
}

func TestManager_QuickMatch(t *testing.T) {
	m := rooms.NewManager()

	r1, p1, matched, err := m.QuickMatch("Ann")
	require.NoError(t, err)
	assert.False(t, matched)
	assert.True(t, p1.IsHost)

	r2, p2, matched, err := m.QuickMatch("Bo")
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, r1.ID, r2.ID)
	require.Len(t, r2.Players, 2)
	assert.Equal(t, p1.ID, r2.Players[0].ID)
	assert.Equal(t, p2.ID, r2.Players[1].ID)

	r3, _, matched, err := m.QuickMatch("")
	require.NoError(t, err)
	assert.False(t, matched)
	assert.NotEqual(t, r1.ID, r3.ID)
	assert.Equal(t, "Player 1", r3.Players[0].Name)
}

func TestManager_QuickMatchConcurrent(t *testing.T) {
	m := rooms.NewManager()
	const n = 40
	var wg sync.WaitGroup
	var matched atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, ok, err := m.QuickMatch("racer")
			assert.NoError(t, err)
			if ok {
				matched.Add(1)
			}
		}()
	}
	wg.Wait()

	seated := 0
	for _, r := range m.List() {
		assert.LessOrEqual(t, len(r.Players), rooms.MaxPlayers)
		seated += len(r.Players)
	}
	assert.Equal(t, n, seated)
	assert.LessOrEqual(t, int(matched.Load()), n/2)
}

func TestManager_FindAvailableRoom(t *testing.T) {
	m := rooms.NewManager()
	_, ok := m.FindAvailableRoom()
	assert.False(t, ok)

	full, err := m.CreateRoom(player(t, "a", game.Player1))
	require.NoError(t, err)
	_, err = m.JoinRoom(full.ID, player(t, "b", game.Player2))
	require.NoError(t, err)
	open1, err := m.CreateRoom(player(t, "c", game.Player1))
	require.NoError(t, err)
	_, err = m.CreateRoom(player(t, "d", game.Player1))
	require.NoError(t, err)

	got, ok := m.FindAvailableRoom()
	require.True(t, ok)
	assert.Equal(t, open1.ID, got.ID)
}

func TestManager_StartGame(t *testing.T) {
	m := rooms.NewManager()
	host := player(t, "Ann", game.Player1)
	r, err := m.CreateRoom(host)
	require.NoError(t, err)

	_, err = m.StartGame(r.ID, host.ID)
	assert.ErrorIs(t, err, rooms.ErrNotEnoughPlayers)
	_, err = m.StartGame("ZZZZZZ", host.ID)
	assert.ErrorIs(t, err, rooms.ErrRoomNotFound)

	guest := player(t, "Bo", game.Player2)
	_, err = m.JoinRoom(r.ID, guest)
	require.NoError(t, err)
	_, err = m.StartGame(r.ID, "stranger")
	assert.ErrorIs(t, err, rooms.ErrPlayerNotFound)

	started, err := m.StartGame(r.ID, guest.ID)
	require.NoError(t, err)
	assert.True(t, started.GameStarted)
	assert.Equal(t, rooms.PhaseStarted, started.Phase)
	assert.Equal(t, game.Player1, started.CurrentPlayer)

	again, err := m.StartGame(r.ID, host.ID)
	require.NoError(t, err)
	assert.Equal(t, rooms.PhaseStarted, again.Phase)
}

func TestManager_MakeMove(t *testing.T) {
	m, id, host, guest := startedRoom(t)

	r, err := m.MakeMove(id, rooms.Move{PlayerID: host, X: 1, Z: 2})
	require.NoError(t, err)
	assert.Equal(t, game.Player1, r.GameState[1][0][2])
	assert.Equal(t, game.Player2, r.CurrentPlayer)
	require.NotNil(t, r.LastMove)
	assert.Equal(t, 1, r.LastMove.X)
	assert.False(t, r.LastMove.Timestamp.IsZero())

	t.Run("wrong turn leaves the room unchanged", func(t *testing.T) {
		before, err := m.Get(id)
		require.NoError(t, err)
		_, err = m.MakeMove(id, rooms.Move{PlayerID: host, X: 0, Z: 0})
		require.ErrorIs(t, err, rooms.ErrNotYourTurn)
		after, err := m.Get(id)
		require.NoError(t, err)
		assert.Equal(t, before.GameState, after.GameState)
		assert.Equal(t, before.CurrentPlayer, after.CurrentPlayer)
	})

	t.Run("rejections", func(t *testing.T) {
		_, err := m.MakeMove("NOPE00", rooms.Move{PlayerID: guest})
		assert.ErrorIs(t, err, rooms.ErrRoomNotFound)
		_, err = m.MakeMove(id, rooms.Move{PlayerID: "stranger"})
		assert.ErrorIs(t, err, rooms.ErrPlayerNotFound)
		_, err = m.MakeMove(id, rooms.Move{PlayerID: guest, X: 4, Z: 0})
		assert.ErrorIs(t, err, rooms.ErrInvalidColumn)
		assert.ErrorIs(t, err, rooms.ErrValidation)
	})

	t.Run("full column", func(t *testing.T) {
		players := []string{guest, host, guest}
		for _, p := range players {
			_, err := m.MakeMove(id, rooms.Move{PlayerID: p, X: 1, Z: 2})
			require.NoError(t, err)
		}
		_, err := m.MakeMove(id, rooms.Move{PlayerID: host, X: 1, Z: 2})
		require.ErrorIs(t, err, rooms.ErrColumnFull)
		assert.ErrorIs(t, err, rooms.ErrConflict)
		r, err := m.Get(id)
		require.NoError(t, err)
		assert.Equal(t, game.Player1, r.CurrentPlayer)
	})
}

func TestManager_MakeMoveBeforeStart(t *testing.T) {
	m := rooms.NewManager()
	host := player(t, "Ann", game.Player1)
	r, err := m.CreateRoom(host)
	require.NoError(t, err)
	_, err = m.MakeMove(r.ID, rooms.Move{PlayerID: host.ID})
	assert.ErrorIs(t, err, rooms.ErrGameNotStarted)
}

func TestManager_WinEndsGame(t *testing.T) {
	m, id, host, guest := startedRoom(t)
	rec := &recorder{}
	m.AddListener(rec)

	for i := 0; i < 3; i++ {
		_, err := m.MakeMove(id, rooms.Move{PlayerID: host, X: 0, Z: 0})
		require.NoError(t, err)
		_, err = m.MakeMove(id, rooms.Move{PlayerID: guest, X: 3, Z: 3})
		require.NoError(t, err)
	}
	r, err := m.MakeMove(id, rooms.Move{PlayerID: host, X: 0, Z: 0})
	require.NoError(t, err)

	assert.True(t, r.GameOver)
	assert.Equal(t, rooms.PhaseOver, r.Phase)
	assert.Equal(t, game.Player1, r.Winner)
	assert.Equal(t, game.Player1, r.CurrentPlayer, "turn does not pass after the winning move")
	assert.Len(t, r.WinningLine, 4)
	assert.False(t, r.Draw)

	_, err = m.MakeMove(id, rooms.Move{PlayerID: guest, X: 1, Z: 1})
	assert.ErrorIs(t, err, rooms.ErrGameOver)
	assert.Len(t, rec.changes, 7)
}

func TestManager_Rematch(t *testing.T) {
	m, id, host, guest := startedRoom(t)
	_, err := m.RequestRematch(id, host)
	require.ErrorIs(t, err, rooms.ErrGameNotOver)

	for i := 0; i < 3; i++ {
		_, err = m.MakeMove(id, rooms.Move{PlayerID: host, X: 2, Z: 2})
		require.NoError(t, err)
		_, err = m.MakeMove(id, rooms.Move{PlayerID: guest, X: 1, Z: 1})
		require.NoError(t, err)
	}
	_, err = m.MakeMove(id, rooms.Move{PlayerID: host, X: 2, Z: 2})
	require.NoError(t, err)

	r, err := m.RequestRematch(id, guest)
	require.NoError(t, err)
	assert.Equal(t, rooms.PhaseOver, r.Phase)
	assert.Equal(t, []string{guest}, r.RematchRequests)

	r, err = m.RequestRematch(id, host)
	require.NoError(t, err)
	assert.Equal(t, rooms.PhaseStarted, r.Phase)
	assert.Equal(t, game.EmptyBoard(), r.GameState)
	assert.Equal(t, game.Empty, r.Winner)
	assert.Equal(t, game.Player1, r.CurrentPlayer)
	assert.Empty(t, r.RematchRequests)
}

func TestManager_Draw(t *testing.T) {
	m, id, host, guest := startedRoom(t)
	seats := map[game.Cell]string{game.Player1: host, game.Player2: guest}

	var last rooms.Room
	for i := 0; i < game.Size*game.Size*game.Size; i++ {
		r, err := m.Get(id)
		require.NoError(t, err)
		if r.GameOver {
			break
		}
		col := drawColumn(r.GameState, r.CurrentPlayer)
		last, err = m.MakeMove(id, rooms.Move{PlayerID: seats[r.CurrentPlayer], X: col.X, Z: col.Z})
		require.NoError(t, err)
	}
	require.True(t, last.GameOver)
	if last.Winner != game.Empty {
		t.Skip("fill order produced a win")
	}
	assert.True(t, last.Draw)
	assert.Equal(t, rooms.PhaseOver, last.Phase)

	_, err := m.MakeMove(id, rooms.Move{PlayerID: seats[last.CurrentPlayer]})
	assert.ErrorIs(t, err, rooms.ErrGameOver)
}

// drawColumn picks a column for player that does not complete a line, preferring the lowest.
func drawColumn(b game.Board, player game.Cell) game.Column {
	moves := game.ValidMoves(b)
	for _, mv := range moves {
		if !game.CheckWinningMove(b, mv.X, mv.Z, player) {
			return mv.Column()
		}
	}
	return moves[0].Column()
}

func TestManager_UpdatePlayerConnection(t *testing.T) {
	clock := newFakeClock()
	m := rooms.NewManager(rooms.WithClock(clock.Now))
	host := player(t, "Ann", game.Player1)
	r, err := m.CreateRoom(host)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	got, err := m.UpdatePlayerConnection(r.ID, host.ID, false)
	require.NoError(t, err)
	assert.False(t, got.Players[0].Connected)
	assert.Equal(t, clock.Now(), got.Players[0].LastSeen)
	assert.Equal(t, clock.Now(), got.LastActivity)

	_, err = m.UpdatePlayerConnection(r.ID, "stranger", true)
	assert.ErrorIs(t, err, rooms.ErrPlayerNotFound)
	_, err = m.UpdatePlayerConnection("NOPE00", host.ID, true)
	assert.ErrorIs(t, err, rooms.ErrRoomNotFound)
}

func TestManager_CleanupInactiveRooms(t *testing.T) {
	clock := newFakeClock()
	m := rooms.NewManager(rooms.WithClock(clock.Now))
	rec := &recorder{}
	m.AddListener(rec)

	stale, err := m.CreateRoom(player(t, "old", game.Player1))
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	fresh, err := m.CreateRoom(player(t, "new", game.Player1))
	require.NoError(t, err)

	// stale is now 31 minutes idle, fresh 29
	clock.Advance(29 * time.Minute)
	removed := m.CleanupInactiveRooms()
	assert.Equal(t, []string{stale.ID}, removed)
	assert.Equal(t, []string{stale.ID}, rec.destroyed)

	_, err = m.Get(stale.ID)
	assert.ErrorIs(t, err, rooms.ErrRoomNotFound)
	_, err = m.Get(fresh.ID)
	assert.NoError(t, err)
	assert.Len(t, m.List(), 1)
}

func TestManager_Remove(t *testing.T) {
	m := rooms.NewManager()
	r, err := m.CreateRoom(player(t, "a", game.Player1))
	require.NoError(t, err)
	assert.True(t, m.Remove(r.ID))
	assert.False(t, m.Remove(r.ID))
	assert.Empty(t, m.List())
}

func TestManager_ConcurrentMovesSameTurn(t *testing.T) {
	m, id, host, _ := startedRoom(t)
	const n = 20
	var wg sync.WaitGroup
	var accepted atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(x int) {
			defer wg.Done()
			_, err := m.MakeMove(id, rooms.Move{PlayerID: host, X: x % game.Size, Z: 0})
			if err == nil {
				accepted.Add(1)
				return
			}
			assert.True(t, errors.Is(err, rooms.ErrNotYourTurn), err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), accepted.Load())

	r, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 1, game.Count(r.GameState, game.Player1))
}

func TestKind(t *testing.T) {
	assert.Equal(t, rooms.ErrConflict, rooms.Kind(rooms.ErrRoomFull))
	assert.Equal(t, rooms.ErrNotFound, rooms.Kind(fmt.Errorf("wrapped: %w", rooms.ErrRoomNotFound)))
	assert.Equal(t, rooms.ErrValidation, rooms.Kind(rooms.ErrInvalidColumn))
	assert.Equal(t, rooms.ErrInternal, rooms.Kind(errors.New("boom")))
}

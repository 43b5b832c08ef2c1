// Package rooms is the authoritative registry of online games.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cameroncuttingedge/cube_four/game"
	"github.com/cameroncuttingedge/cube_four/utils"
	"github.com/rs/zerolog/log"
)

const (
	DefaultIdleTimeout = 30 * time.Minute
	DefaultCodeLength  = 6
	MaxNameLength      = 32

	codeAttempts = 16
)

// Change says which kind of mutation a listener is being told about.
type Change string

const (
	ChangeCreated  Change = "created"
	ChangeJoined   Change = "joined"
	ChangeStarted  Change = "started"
	ChangeMoved    Change = "moved"
	ChangePresence Change = "presence"
	ChangeRematch  Change = "rematch"
	ChangeReset    Change = "reset"
)

// Listener is told about every accepted mutation after the room lock is released.
// Implementations must not block.
type Listener interface {
	RoomChanged(roomID string, change Change)
	RoomDestroyed(roomID string)
}

type Option func(*Manager)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idleTimeout = d }
}

// WithCodeLength sets the room code length. Non-positive values are ignored.
func WithCodeLength(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.newCode = func() string { return utils.GenerateRoomCode(n) }
		}
	}
}

// WithCodeGenerator replaces the room code source.
func WithCodeGenerator(gen func() string) Option {
	return func(m *Manager) { m.newCode = gen }
}

// Manager owns every Room and Player. Rooms are returned as copies only.
type Manager struct {
	mu        sync.RWMutex
	rooms     map[string]*room
	order     []string
	listeners []Listener

	now         func() time.Time
	newCode     func() string
	idleTimeout time.Duration
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		rooms:       make(map[string]*room),
		now:         time.Now,
		newCode:     func() string { return utils.GenerateRoomCode(DefaultCodeLength) },
		idleTimeout: DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddListener registers l for change notifications. Call before serving traffic.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) notify(roomID string, change Change) {
	m.mu.RLock()
	listeners := m.listeners
	m.mu.RUnlock()
	for _, l := range listeners {
		l.RoomChanged(roomID, change)
	}
}

func (m *Manager) notifyDestroyed(roomID string) {
	m.mu.RLock()
	listeners := m.listeners
	m.mu.RUnlock()
	for _, l := range listeners {
		l.RoomDestroyed(roomID)
	}
}

// NewPlayer builds a player with a fresh opaque id. An empty name gets the seat's default.
func NewPlayer(name string, seat game.Cell) (Player, error) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > MaxNameLength {
		return Player{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidName, MaxNameLength)
	}
	if name == "" {
		name = fmt.Sprintf("Player %d", seat)
	}
	color := HostColor
	if seat == game.Player2 {
		color = GuestColor
	}
	return Player{
		ID:        utils.GenerateUUIDString(),
		Name:      name,
		Color:     color,
		IsHost:    seat == game.Player1,
		Connected: true,
	}, nil
}

func (m *Manager) lookup(roomID string) (*room, error) {
	id := utils.NormalizeRoomCode(roomID)
	m.mu.RLock()
	r, ok := m.rooms[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrRoomNotFound, id)
	}
	return r, nil
}

// CreateRoom registers a new room with host as its only player.
func (m *Manager) CreateRoom(host Player) (Room, error) {
	if host.ID == "" {
		return Room{}, fmt.Errorf("%w: host has no id", ErrValidation)
	}
	now := m.now()
	host.IsHost = true
	host.LastSeen = now

	m.mu.Lock()
	id, err := m.freeCodeLocked()
	if err != nil {
		m.mu.Unlock()
		return Room{}, err
	}
	r := newRoom(id, &host, now)
	m.rooms[id] = r
	m.order = append(m.order, id)
	m.mu.Unlock()

	log.Info().Str("roomID", id).Str("playerID", host.ID).Msg("Room created")

	r.mu.Lock()
	snap := r.snapshot()
	r.mu.Unlock()
	m.notify(id, ChangeCreated)
	return snap, nil
}

// freeCodeLocked draws codes until one is unused. Caller holds m.mu.
func (m *Manager) freeCodeLocked() (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code := utils.NormalizeRoomCode(m.newCode())
		if code == "" {
			continue
		}
		if _, taken := m.rooms[code]; !taken {
			return code, nil
		}
		log.Warn().Str("roomID", code).Msg("Room code collision, regenerating")
	}
	return "", ErrCodeSpace
}

// JoinRoom seats p as the second, non-host player.
func (m *Manager) JoinRoom(roomID string, p Player) (Room, error) {
	if p.ID == "" {
		return Room{}, fmt.Errorf("%w: player has no id", ErrValidation)
	}
	r, err := m.lookup(roomID)
	if err != nil {
		return Room{}, err
	}

	r.mu.Lock()
	if existing, _ := r.seat(p.ID); existing != nil {
		r.mu.Unlock()
		return Room{}, ErrAlreadyJoined
	}
	if len(r.players) >= MaxPlayers {
		r.mu.Unlock()
		return Room{}, ErrRoomFull
	}
	now := m.now()
	p.IsHost = false
	p.LastSeen = now
	r.players = append(r.players, &p)
	if r.phase == PhaseWaiting {
		r.phase = PhaseReady
	}
	r.lastActivity = now
	snap := r.snapshot()
	r.mu.Unlock()

	log.Info().Str("roomID", r.id).Str("playerID", p.ID).Msg("Player joined room")
	m.notify(r.id, ChangeJoined)
	return snap, nil
}

// FindAvailableRoom returns the oldest room that has exactly one player and is not over.
func (m *Manager) FindAvailableRoom() (Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		r := m.rooms[id]
		r.mu.Lock()
		open := len(r.players) == 1 && r.phase != PhaseOver
		var snap Room
		if open {
			snap = r.snapshot()
		}
		r.mu.Unlock()
		if open {
			return snap, true
		}
	}
	return Room{}, false
}

// QuickMatch joins the first available room or, failing that, creates one.
// matched is true when the caller was seated against a waiting host.
func (m *Manager) QuickMatch(name string) (Room, Player, bool, error) {
	if open, ok := m.FindAvailableRoom(); ok {
		guest, err := NewPlayer(name, game.Player2)
		if err != nil {
			return Room{}, Player{}, false, err
		}
		snap, err := m.JoinRoom(open.ID, guest)
		if err == nil {
			return snap, guest, true, nil
		}
		if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrNotFound) {
			return Room{}, Player{}, false, err
		}
		// lost the race for this room
		log.Debug().Err(err).Str("roomID", open.ID).Msg("Quick match join lost, creating a room")
	}

	host, err := NewPlayer(name, game.Player1)
	if err != nil {
		return Room{}, Player{}, false, err
	}
	snap, err := m.CreateRoom(host)
	if err != nil {
		return Room{}, Player{}, false, err
	}
	return snap, host, false, nil
}

// StartGame marks a full room as started. Starting an already started room is a no-op
// that still notifies listeners, so clients that missed the first signal get another.
func (m *Manager) StartGame(roomID, playerID string) (Room, error) {
	r, err := m.lookup(roomID)
	if err != nil {
		return Room{}, err
	}

	r.mu.Lock()
	if p, _ := r.seat(playerID); p == nil {
		r.mu.Unlock()
		return Room{}, ErrPlayerNotFound
	}
	if len(r.players) != MaxPlayers {
		r.mu.Unlock()
		return Room{}, ErrNotEnoughPlayers
	}
	if r.phase == PhaseOver {
		r.mu.Unlock()
		return Room{}, ErrGameOver
	}
	r.phase = PhaseStarted
	r.lastActivity = m.now()
	snap := r.snapshot()
	r.mu.Unlock()

	log.Info().Str("roomID", r.id).Str("playerID", playerID).Msg("Game started")
	m.notify(r.id, ChangeStarted)
	return snap, nil
}

// MakeMove drops the mover's piece into the requested column if it is their turn.
// A rejected move leaves the room untouched.
func (m *Manager) MakeMove(roomID string, move Move) (Room, error) {
	r, err := m.lookup(roomID)
	if err != nil {
		return Room{}, err
	}
	snap, err := m.applyMove(r, move)
	if err != nil {
		return Room{}, err
	}

	log.Info().
		Str("roomID", snap.ID).
		Str("playerID", move.PlayerID).
		Int("x", move.X).
		Int("z", move.Z).
		Bool("gameOver", snap.GameOver).
		Msg("Move accepted")
	m.notify(snap.ID, ChangeMoved)
	return snap, nil
}

func (m *Manager) applyMove(r *room, move Move) (Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase == PhaseOver {
		return Room{}, ErrGameOver
	}
	_, seat := r.seat(move.PlayerID)
	if seat == game.Empty {
		return Room{}, ErrPlayerNotFound
	}
	if r.phase != PhaseStarted {
		return Room{}, ErrGameNotStarted
	}
	if seat != r.current {
		return Room{}, ErrNotYourTurn
	}
	next, err := game.ApplyMove(r.board, move.X, move.Z, seat)
	switch {
	case errors.Is(err, game.ErrOutOfBounds):
		return Room{}, fmt.Errorf("%w (%d, %d)", ErrInvalidColumn, move.X, move.Z)
	case errors.Is(err, game.ErrColumnFull):
		return Room{}, fmt.Errorf("%w (%d, %d)", ErrColumnFull, move.X, move.Z)
	case err != nil:
		return Room{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	now := m.now()
	if move.Timestamp.IsZero() {
		move.Timestamp = now
	}
	r.board = next
	r.lastMove = &move
	r.winner = game.CheckWinner(next)
	switch {
	case r.winner != game.Empty:
		r.phase = PhaseOver
	case game.IsFull(next):
		r.phase = PhaseOver
		r.draw = true
	default:
		r.current = r.current.Opponent()
	}
	r.lastActivity = now
	return r.snapshot(), nil
}

// UpdatePlayerConnection records presence for a subscribed or departing player.
func (m *Manager) UpdatePlayerConnection(roomID, playerID string, connected bool) (Room, error) {
	r, err := m.lookup(roomID)
	if err != nil {
		return Room{}, err
	}

	r.mu.Lock()
	p, _ := r.seat(playerID)
	if p == nil {
		r.mu.Unlock()
		return Room{}, ErrPlayerNotFound
	}
	now := m.now()
	p.Connected = connected
	p.LastSeen = now
	r.lastActivity = now
	snap := r.snapshot()
	r.mu.Unlock()

	log.Info().Str("roomID", r.id).Str("playerID", playerID).Bool("connected", connected).Msg("Player connection updated")
	m.notify(r.id, ChangePresence)
	return snap, nil
}

// RequestRematch records playerID's vote. Once both players have voted the board is cleared.
func (m *Manager) RequestRematch(roomID, playerID string) (Room, error) {
	r, err := m.lookup(roomID)
	if err != nil {
		return Room{}, err
	}

	r.mu.Lock()
	if p, _ := r.seat(playerID); p == nil {
		r.mu.Unlock()
		return Room{}, ErrPlayerNotFound
	}
	if r.phase != PhaseOver {
		r.mu.Unlock()
		return Room{}, ErrGameNotOver
	}
	r.rematch[playerID] = true
	change := ChangeRematch
	if len(r.rematch) == len(r.players) {
		r.reset()
		change = ChangeReset
	}
	r.lastActivity = m.now()
	snap := r.snapshot()
	r.mu.Unlock()

	log.Info().Str("roomID", r.id).Str("playerID", playerID).Str("change", string(change)).Msg("Rematch requested")
	m.notify(r.id, change)
	return snap, nil
}

// Get returns a copy of the room.
func (m *Manager) Get(roomID string) (Room, error) {
	r, err := m.lookup(roomID)
	if err != nil {
		return Room{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(), nil
}

// List returns every room in creation order.
func (m *Manager) List() []Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Room, 0, len(m.order))
	for _, id := range m.order {
		r := m.rooms[id]
		r.mu.Lock()
		out = append(out, r.snapshot())
		r.mu.Unlock()
	}
	return out
}

// Remove destroys a room. It reports whether the room existed.
func (m *Manager) Remove(roomID string) bool {
	id := utils.NormalizeRoomCode(roomID)
	m.mu.Lock()
	ok := m.removeLocked(id)
	m.mu.Unlock()
	if ok {
		log.Info().Str("roomID", id).Msg("Room removed")
		m.notifyDestroyed(id)
	}
	return ok
}

func (m *Manager) removeLocked(id string) bool {
	if _, ok := m.rooms[id]; !ok {
		return false
	}
	delete(m.rooms, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

// CleanupInactiveRooms destroys every room idle for longer than the idle timeout
// and returns their ids.
func (m *Manager) CleanupInactiveRooms() []string {
	now := m.now()
	var removed []string

	m.mu.Lock()
	for _, id := range append([]string(nil), m.order...) {
		r := m.rooms[id]
		r.mu.Lock()
		idle := now.Sub(r.lastActivity)
		r.mu.Unlock()
		if idle > m.idleTimeout {
			m.removeLocked(id)
			removed = append(removed, id)
		}
	}
	m.mu.Unlock()

	for _, id := range removed {
		log.Info().Str("roomID", id).Msg("Inactive room cleaned up")
		m.notifyDestroyed(id)
	}
	return removed
}

// Run sweeps idle rooms every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.CleanupInactiveRooms()
		case <-ctx.Done():
			return nil
		}
	}
}

// Stats counts rooms by phase.
func (m *Manager) Stats() map[Phase]int {
	stats := make(map[Phase]int)
	for _, r := range m.List() {
		stats[r.Phase]++
	}
	return stats
}

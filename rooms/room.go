package rooms

import (
	"sort"
	"sync"
	"time"

	"github.com/cameroncuttingedge/cube_four/game"
)

// Phase is the lifecycle state of a room.
//
//	waiting -> join -> ready -> start -> started -> winning or filling move -> over
//	over -> both players ask for a rematch -> started
type Phase string

const (
	PhaseWaiting Phase = "waiting"
	PhaseReady   Phase = "ready"
	PhaseStarted Phase = "started"
	PhaseOver    Phase = "over"
)

const MaxPlayers = 2

const (
	HostColor  = "#ef4444"
	GuestColor = "#3b82f6"
)

type Player struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	IsHost    bool      `json:"isHost"`
	Connected bool      `json:"connected"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Settings are cosmetic and never consulted by the rules.
type Settings struct {
	Player1Color       string `json:"player1Color"`
	Player2Color       string `json:"player2Color"`
	ShowVerticalGrid   bool   `json:"showVerticalGrid"`
	ShowHorizontalGrid bool   `json:"showHorizontalGrid"`
}

func DefaultSettings() Settings {
	return Settings{
		Player1Color:     HostColor,
		Player2Color:     GuestColor,
		ShowVerticalGrid: true,
	}
}

// Move is a drop request. The landing height is always derived.
type Move struct {
	PlayerID  string    `json:"playerId"`
	X         int       `json:"x"`
	Z         int       `json:"z"`
	Timestamp time.Time `json:"timestamp"`
}

// Room is a point-in-time copy of a room. Mutating it has no effect on the registry.
type Room struct {
	ID              string     `json:"id"`
	Players         []Player   `json:"players"`
	GameState       game.Board `json:"gameState"`
	CurrentPlayer   game.Cell  `json:"currentPlayer"`
	Winner          game.Cell  `json:"winner"`
	WinningLine     []game.Pos `json:"winningLine,omitempty"`
	Draw            bool       `json:"draw"`
	GameOver        bool       `json:"gameOver"`
	GameStarted     bool       `json:"gameStarted"`
	Phase           Phase      `json:"phase"`
	LastMove        *Move      `json:"lastMove,omitempty"`
	RematchRequests []string   `json:"rematchRequests,omitempty"`
	Settings        Settings   `json:"settings"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastActivity    time.Time  `json:"lastActivity"`
}

// Summary is the short form returned by create, join and quick-match.
type Summary struct {
	ID            string     `json:"id"`
	Players       []Player   `json:"players"`
	GameState     game.Board `json:"gameState"`
	CurrentPlayer game.Cell  `json:"currentPlayer"`
	Settings      Settings   `json:"settings"`
}

func (r Room) Summary() Summary {
	return Summary{
		ID:            r.ID,
		Players:       r.Players,
		GameState:     r.GameState,
		CurrentPlayer: r.CurrentPlayer,
		Settings:      r.Settings,
	}
}

// Seat returns the 1-based seat of playerID, or Empty when they are not in the room.
func (r Room) Seat(playerID string) game.Cell {
	for i, p := range r.Players {
		if p.ID == playerID {
			return game.Cell(i + 1)
		}
	}
	return game.Empty
}

// room is the authoritative state. Every field is guarded by mu.
type room struct {
	mu           sync.Mutex
	id           string
	players      []*Player
	board        game.Board
	current      game.Cell
	winner       game.Cell
	draw         bool
	phase        Phase
	lastMove     *Move
	rematch      map[string]bool
	settings     Settings
	createdAt    time.Time
	lastActivity time.Time
}

func newRoom(id string, host *Player, now time.Time) *room {
	return &room{
		id:           id,
		players:      []*Player{host},
		board:        game.EmptyBoard(),
		current:      game.Player1,
		phase:        PhaseWaiting,
		rematch:      make(map[string]bool),
		settings:     DefaultSettings(),
		createdAt:    now,
		lastActivity: now,
	}
}

// seat returns the player and their 1-based seat. Caller holds mu.
func (r *room) seat(playerID string) (*Player, game.Cell) {
	for i, p := range r.players {
		if p.ID == playerID {
			return p, game.Cell(i + 1)
		}
	}
	return nil, game.Empty
}

// reset clears the board for another game between the same players. Caller holds mu.
func (r *room) reset() {
	r.board = game.EmptyBoard()
	r.current = game.Player1
	r.winner = game.Empty
	r.draw = false
	r.lastMove = nil
	r.rematch = make(map[string]bool)
	r.phase = PhaseStarted
}

// snapshot copies the room. Caller holds mu.
func (r *room) snapshot() Room {
	players := make([]Player, len(r.players))
	for i, p := range r.players {
		players[i] = *p
	}
	var votes []string
	for id := range r.rematch {
		votes = append(votes, id)
	}
	sort.Strings(votes)
	var lastMove *Move
	if r.lastMove != nil {
		m := *r.lastMove
		lastMove = &m
	}
	var line []game.Pos
	if r.winner != game.Empty {
		line, _ = game.WinningLine(r.board)
	}
	return Room{
		ID:              r.id,
		Players:         players,
		GameState:       r.board,
		CurrentPlayer:   r.current,
		Winner:          r.winner,
		WinningLine:     line,
		Draw:            r.draw,
		GameOver:        r.phase == PhaseOver,
		GameStarted:     r.phase == PhaseStarted || r.phase == PhaseOver,
		Phase:           r.phase,
		LastMove:        lastMove,
		RematchRequests: votes,
		Settings:        r.settings,
		CreatedAt:       r.createdAt,
		LastActivity:    r.lastActivity,
	}
}

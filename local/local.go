// Package local runs a game on one machine: two people sharing a keyboard,
// or one person against the computer.
package local

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cameroncuttingedge/cube_four/ai"
	"github.com/cameroncuttingedge/cube_four/game"
	"github.com/rs/zerolog/log"
)

var (
	ErrGameOver = errors.New("game is over")
	ErrNoMove   = errors.New("no legal move")
)

// Mover decides the next column for the side it plays.
type Mover interface {
	NextMove(ctx context.Context, b game.Board, me game.Cell) (game.Column, error)
}

// Computer plays with an ai.Player and pauses for its think time before answering.
type Computer struct {
	AI         *ai.Player
	Difficulty ai.Difficulty
	// Sleep waits for the think delay. Nil means no delay.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewComputer(seed uint64, d ai.Difficulty) *Computer {
	return &Computer{AI: ai.NewPlayer(seed), Difficulty: d, Sleep: Sleep}
}

// Sleep is a context-aware time.Sleep.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Computer) NextMove(ctx context.Context, b game.Board, me game.Cell) (game.Column, error) {
	if c.Sleep != nil {
		if err := c.Sleep(ctx, c.AI.ThinkDelay(c.Difficulty)); err != nil {
			return game.Column{}, err
		}
	}
	col, ok := c.AI.ChooseMove(b, me, c.Difficulty)
	if !ok {
		return game.Column{}, ErrNoMove
	}
	return col, nil
}

// Turn describes one applied move.
type Turn struct {
	Player game.Cell
	Pos    game.Pos
	Board  game.Board
	// Threats are the mover's lines that now need one more piece.
	Threats []game.ReachLine
	Winner  game.Cell
	Line    []game.Pos
	Draw    bool
}

func (t Turn) Over() bool { return t.Winner != game.Empty || t.Draw }

// Match is a local game between two movers. It is not safe for concurrent use.
type Match struct {
	players [2]Mover
	board   game.Board
	current game.Cell
	history []game.Pos
	last    Turn
	over    bool
}

func NewMatch(p1, p2 Mover) *Match {
	return &Match{players: [2]Mover{p1, p2}, board: game.EmptyBoard(), current: game.Player1}
}

func (m *Match) Board() game.Board   { return m.board }
func (m *Match) Current() game.Cell  { return m.current }
func (m *Match) History() []game.Pos { return append([]game.Pos(nil), m.history...) }

// Reset clears the board for another game with the same players.
func (m *Match) Reset() {
	m.board = game.EmptyBoard()
	m.current = game.Player1
	m.history = nil
	m.last = Turn{}
	m.over = false
}

// Apply drops a piece for the side to move.
func (m *Match) Apply(col game.Column) (Turn, error) {
	if m.over {
		return Turn{}, ErrGameOver
	}
	next, err := game.ApplyMove(m.board, col.X, col.Z, m.current)
	if err != nil {
		return Turn{}, err
	}
	pos := game.Pos{X: col.X, Y: m.board.Height(col.X, col.Z), Z: col.Z}
	m.board = next
	m.history = append(m.history, pos)

	t := Turn{Player: m.current, Pos: pos, Board: next, Threats: game.FindReachLines(next, m.current)}
	t.Line, t.Winner = game.WinningLine(next)
	switch {
	case t.Winner != game.Empty:
		m.over = true
	case game.IsFull(next):
		t.Draw = true
		m.over = true
	default:
		m.current = m.current.Opponent()
	}
	m.last = t
	return t, nil
}

// Step asks the side to move for a column and applies it.
func (m *Match) Step(ctx context.Context) (Turn, error) {
	if m.over {
		return Turn{}, ErrGameOver
	}
	mover := m.players[m.current-1]
	col, err := mover.NextMove(ctx, m.board, m.current)
	if err != nil {
		return Turn{}, err
	}
	t, err := m.Apply(col)
	if err != nil {
		return Turn{}, fmt.Errorf("player %d chose (%d, %d): %w", m.current, col.X, col.Z, err)
	}
	log.Debug().Int("player", int(t.Player)).Int("x", t.Pos.X).Int("y", t.Pos.Y).Int("z", t.Pos.Z).Msg("Local move")
	return t, nil
}

// Play steps until the game ends, calling onTurn after every move.
func (m *Match) Play(ctx context.Context, onTurn func(Turn)) (Turn, error) {
	for !m.over {
		t, err := m.Step(ctx)
		if err != nil {
			return m.last, err
		}
		if onTurn != nil {
			onTurn(t)
		}
	}
	return m.last, nil
}

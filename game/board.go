package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Size is the edge length of the cube. y is the gravity axis.
const Size = 4

type Cell int

const (
	Empty Cell = iota
	Player1
	Player2
)

var (
	ErrColumnFull    = errors.New("column is full")
	ErrOutOfBounds   = errors.New("column is out of bounds")
	ErrInvalidPlayer = errors.New("invalid player")
)

// Opponent returns the other seat, or Empty for Empty.
func (c Cell) Opponent() Cell {
	switch c {
	case Player1:
		return Player2
	case Player2:
		return Player1
	}
	return Empty
}

func (c Cell) Valid() bool {
	return c == Player1 || c == Player2
}

func (c Cell) String() string {
	switch c {
	case Player1:
		return "1"
	case Player2:
		return "2"
	}
	return "-"
}

// MarshalJSON encodes Empty as null and a player as its seat number.
func (c Cell) MarshalJSON() ([]byte, error) {
	if c == Empty {
		return []byte("null"), nil
	}
	return json.Marshal(int(c))
}

func (c *Cell) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = Empty
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if n < 0 || n > int(Player2) {
		return fmt.Errorf("cell value %d: %w", n, ErrInvalidPlayer)
	}
	*c = Cell(n)
	return nil
}

// Pos is a cell coordinate. It travels on the wire as [x, y, z].
type Pos struct {
	X, Y, Z int
}

func (p Pos) InBounds() bool {
	return p.X >= 0 && p.X < Size && p.Y >= 0 && p.Y < Size && p.Z >= 0 && p.Z < Size
}

func (p Pos) Column() Column {
	return Column{X: p.X, Z: p.Z}
}

// Step moves k cells from p along d. Negative k walks backwards.
func (p Pos) Step(d Direction, k int) Pos {
	return Pos{X: p.X + d.DX*k, Y: p.Y + d.DY*k, Z: p.Z + d.DZ*k}
}

func (p Pos) less(o Pos) bool {
	if p.X != o.X {
		return p.X < o.X
	}
	if p.Y != o.Y {
		return p.Y < o.Y
	}
	return p.Z < o.Z
}

func (p Pos) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]int{p.X, p.Y, p.Z})
}

func (p *Pos) UnmarshalJSON(data []byte) error {
	var v [3]int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Pos{X: v[0], Y: v[1], Z: v[2]}
	return nil
}

// Column is the (x, z) pair a piece is dropped into.
type Column struct {
	X int `json:"x"`
	Z int `json:"z"`
}

func (c Column) InBounds() bool {
	return c.X >= 0 && c.X < Size && c.Z >= 0 && c.Z < Size
}

// Board is indexed [x][y][z]. It is a value type: copying a Board copies every cell,
// so the engine functions below never alias their input.
type Board [Size][Size][Size]Cell

func EmptyBoard() Board {
	return Board{}
}

func (b Board) At(p Pos) Cell {
	return b[p.X][p.Y][p.Z]
}

// Height is the number of occupied cells in a column, which is also its landing slot.
func (b Board) Height(x, z int) int {
	for y := 0; y < Size; y++ {
		if b[x][y][z] == Empty {
			return y
		}
	}
	return Size
}

// Playable reports whether an empty cell can receive a piece right now under gravity.
func (b Board) Playable(p Pos) bool {
	if !p.InBounds() || b.At(p) != Empty {
		return false
	}
	return p.Y == 0 || b[p.X][p.Y-1][p.Z] != Empty
}

// ValidMoves lists the landing slot of every non-full column, ascending x then z.
func ValidMoves(b Board) []Pos {
	moves := make([]Pos, 0, Size*Size)
	for x := 0; x < Size; x++ {
		for z := 0; z < Size; z++ {
			if y := b.Height(x, z); y < Size {
				moves = append(moves, Pos{X: x, Y: y, Z: z})
			}
		}
	}
	return moves
}

// ApplyMove returns a copy of b with player's piece at the lowest empty slot of (x, z).
// On failure the returned board is b unchanged.
func ApplyMove(b Board, x, z int, player Cell) (Board, error) {
	if !player.Valid() {
		return b, ErrInvalidPlayer
	}
	if !(Column{X: x, Z: z}).InBounds() {
		return b, fmt.Errorf("(%d, %d): %w", x, z, ErrOutOfBounds)
	}
	y := b.Height(x, z)
	if y >= Size {
		return b, fmt.Errorf("(%d, %d): %w", x, z, ErrColumnFull)
	}
	next := b
	next[x][y][z] = player
	return next, nil
}

// IsFull reports whether no column can take another piece.
func IsFull(b Board) bool {
	for x := 0; x < Size; x++ {
		for z := 0; z < Size; z++ {
			if b[x][Size-1][z] == Empty {
				return false
			}
		}
	}
	return true
}

// Count returns how many pieces player has on the board.
func Count(b Board, player Cell) int {
	n := 0
	b.each(func(p Pos, c Cell) {
		if c == player {
			n++
		}
	})
	return n
}

func (b Board) each(fn func(Pos, Cell)) {
	for x := 0; x < Size; x++ {
		for y := 0; y < Size; y++ {
			for z := 0; z < Size; z++ {
				fn(Pos{X: x, Y: y, Z: z}, b[x][y][z])
			}
		}
	}
}

// String renders the board one horizontal layer at a time, bottom layer first.
func (b Board) String() string {
	var sb strings.Builder
	for y := 0; y < Size; y++ {
		sb.WriteString(fmt.Sprintf("y=%d\n", y))
		for z := Size - 1; z >= 0; z-- {
			for x := 0; x < Size; x++ {
				sb.WriteString(b[x][y][z].String())
				sb.WriteString(" ")
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

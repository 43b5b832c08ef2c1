package game

import "sort"

// Direction is a unit step along one line orientation.
type Direction struct {
	DX, DY, DZ int
}

// Directions holds one vector per line orientation in the cube: 3 axes,
// 6 face diagonals and 4 space diagonals. Runs are scanned both ways.
var Directions = [...]Direction{
	{1, 0, 0}, {0, 1, 0}, {0, 0, 1},
	{1, 1, 0}, {1, -1, 0},
	{0, 1, 1}, {0, 1, -1},
	{1, 0, 1}, {1, 0, -1},
	{1, 1, 1}, {1, 1, -1}, {1, -1, 1}, {-1, 1, 1},
}

// ReachLine is a four-cell line holding three of Player's pieces and one
// empty cell that can be played immediately.
type ReachLine struct {
	Positions       [Size]Pos `json:"positions"`
	Player          Cell      `json:"player"`
	WinningPosition Pos       `json:"winningPosition"`
}

// run collects the maximal run of same-colored cells through p along d.
func (b Board) run(p Pos, d Direction) []Pos {
	player := b.At(p)
	line := []Pos{p}
	for k := 1; k < Size; k++ {
		n := p.Step(d, k)
		if !n.InBounds() || b.At(n) != player {
			break
		}
		line = append(line, n)
	}
	for k := 1; k < Size; k++ {
		n := p.Step(d, -k)
		if !n.InBounds() || b.At(n) != player {
			break
		}
		line = append([]Pos{n}, line...)
	}
	return line
}

// WinningLine returns the first line of four found and its owner, or Empty when there is none.
func WinningLine(b Board) ([]Pos, Cell) {
	for x := 0; x < Size; x++ {
		for y := 0; y < Size; y++ {
			for z := 0; z < Size; z++ {
				p := Pos{X: x, Y: y, Z: z}
				player := b.At(p)
				if player == Empty {
					continue
				}
				for _, d := range Directions {
					if line := b.run(p, d); len(line) >= Size {
						return line, player
					}
				}
			}
		}
	}
	return nil, Empty
}

// CheckWinner returns the player owning a line of four, or Empty.
func CheckWinner(b Board) Cell {
	_, winner := WinningLine(b)
	return winner
}

// CheckWinningMove reports whether dropping player's piece into (x, z) wins the game.
func CheckWinningMove(b Board, x, z int, player Cell) bool {
	next, err := ApplyMove(b, x, z, player)
	if err != nil {
		return false
	}
	return CheckWinner(next) == player
}

// window returns the four-cell line along d that contains p, if the cube has one.
func window(p Pos, d Direction) ([Size]Pos, bool) {
	var w [Size]Pos
	start := p
	for start.Step(d, -1).InBounds() {
		start = start.Step(d, -1)
	}
	for k := 0; k < Size; k++ {
		w[k] = start.Step(d, k)
		if !w[k].InBounds() {
			return w, false
		}
	}
	sort.Slice(w[:], func(i, j int) bool { return w[i].less(w[j]) })
	return w, true
}

// FindReachLines lists every distinct line where player needs one more,
// immediately placeable, piece to win. Lines are reported once each, in scan order.
func FindReachLines(b Board, player Cell) []ReachLine {
	if !player.Valid() {
		return nil
	}
	var lines []ReachLine
	seen := make(map[[Size]Pos]bool)
	b.each(func(p Pos, c Cell) {
		if c != player {
			return
		}
		for _, d := range Directions {
			w, ok := window(p, d)
			if !ok || seen[w] {
				continue
			}
			seen[w] = true
			var empty []Pos
			own := 0
			for _, q := range w {
				switch b.At(q) {
				case player:
					own++
				case Empty:
					empty = append(empty, q)
				}
			}
			if own != Size-1 || len(empty) != 1 || !b.Playable(empty[0]) {
				continue
			}
			lines = append(lines, ReachLine{Positions: w, Player: player, WinningPosition: empty[0]})
		}
	})
	return lines
}

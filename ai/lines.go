package ai

import "github.com/cameroncuttingedge/cube_four/game"

// linePotential sums count² over every direction where p sits in a run of at
// least two of player's pieces that still has an empty cell at one end.
func linePotential(b game.Board, p game.Pos, player game.Cell) int {
	total := 0
	for _, d := range game.Directions {
		count, open := 1, 0
		for _, sign := range [2]int{1, -1} {
			for k := 1; k < game.Size; k++ {
				n := p.Step(d, sign*k)
				if !n.InBounds() {
					break
				}
				c := b.At(n)
				if c == player {
					count++
					continue
				}
				if c == game.Empty {
					open++
				}
				break
			}
		}
		if count >= 2 && open > 0 {
			total += count * count
		}
	}
	return total
}

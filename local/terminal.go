package local

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cameroncuttingedge/cube_four/game"
)

// Terminal reads "x z" columns from a person at a text console.
type Terminal struct {
	in  *bufio.Scanner
	out io.Writer
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewScanner(in), out: out}
}

// NextMove prompts until the person enters a playable column or input ends.
func (t *Terminal) NextMove(ctx context.Context, b game.Board, me game.Cell) (game.Column, error) {
	for {
		if err := ctx.Err(); err != nil {
			return game.Column{}, err
		}
		fmt.Fprintf(t.out, "%s to move, enter x z: ", me)
		if !t.in.Scan() {
			if err := t.in.Err(); err != nil {
				return game.Column{}, err
			}
			return game.Column{}, io.EOF
		}
		col, err := ParseColumn(t.in.Text())
		if err != nil {
			fmt.Fprintln(t.out, err)
			continue
		}
		if b.Height(col.X, col.Z) >= game.Size {
			fmt.Fprintln(t.out, "that column is full")
			continue
		}
		return col, nil
	}
}

// ParseColumn reads two integers separated by spaces or a comma.
func ParseColumn(s string) (game.Column, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' || r == '\t' })
	if len(fields) != 2 {
		return game.Column{}, fmt.Errorf("want two numbers, got %q", strings.TrimSpace(s))
	}
	x, errX := strconv.Atoi(fields[0])
	z, errZ := strconv.Atoi(fields[1])
	if errX != nil || errZ != nil {
		return game.Column{}, fmt.Errorf("want two numbers, got %q", strings.TrimSpace(s))
	}
	col := game.Column{X: x, Z: z}
	if !col.InBounds() {
		return game.Column{}, fmt.Errorf("x and z must be between 0 and %d", game.Size-1)
	}
	return col, nil
}

// Render prints the board after t and any threat or result it produced.
func Render(w io.Writer, t Turn) {
	fmt.Fprintf(w, "\n%s dropped at x=%d z=%d (height %d)\n", t.Player, t.Pos.X, t.Pos.Z, t.Pos.Y)
	fmt.Fprintln(w, t.Board.String())
	switch {
	case t.Winner != game.Empty:
		fmt.Fprintf(w, "%s wins along %v\n", t.Winner, t.Line)
	case t.Draw:
		fmt.Fprintln(w, "The board is full. Draw.")
	default:
		for _, r := range t.Threats {
			fmt.Fprintf(w, "%s threatens to complete a line at %v\n", r.Player, r.WinningPosition)
		}
	}
}

// Package ai picks moves for the computer opponent.
package ai

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/cameroncuttingedge/cube_four/game"
	"github.com/rs/zerolog/log"
)

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Normal Difficulty = "normal"
	Hard   Difficulty = "hard"
)

func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(s))); d {
	case Easy, Normal, Hard:
		return d, nil
	}
	return "", fmt.Errorf("unknown difficulty %q", s)
}

const (
	easyRandomMoveChance = 0.5
	easySkipBlockChance  = 0.3
	opponentWinPenalty   = -100
	threatWeight         = 10
	lineWeight           = 3
)

// Player chooses moves for one seat. It is safe for concurrent use.
type Player struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewPlayer(seed uint64) *Player {
	return &Player{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (p *Player) float() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64()
}

func (p *Player) intn(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.IntN(n)
}

// ChooseMove returns the column to play as me, or false when the board is full.
// It never fails: an internal fault degrades to a random legal column.
func (p *Player) ChooseMove(b game.Board, me game.Cell, d Difficulty) (col game.Column, ok bool) {
	moves := game.ValidMoves(b)
	if len(moves) == 0 {
		return game.Column{}, false
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("difficulty", string(d)).Msg("AI move selection failed, playing randomly")
			col, ok = moves[p.intn(len(moves))].Column(), true
		}
	}()
	return p.choose(b, moves, me, d), true
}

func (p *Player) choose(b game.Board, moves []game.Pos, me game.Cell, d Difficulty) game.Column {
	if !me.Valid() {
		panic(fmt.Sprintf("AI seat %d is not a player", me))
	}
	opp := me.Opponent()

	if d == Easy && p.float() < easyRandomMoveChance {
		return moves[p.intn(len(moves))].Column()
	}

	for _, m := range moves {
		if game.CheckWinningMove(b, m.X, m.Z, me) {
			return m.Column()
		}
	}

	if d != Easy || p.float() > easySkipBlockChance {
		for _, m := range moves {
			if game.CheckWinningMove(b, m.X, m.Z, opp) {
				return m.Column()
			}
		}
	}

	best := moves[0].Column()
	bestScore := math.Inf(-1)
	for _, m := range moves {
		next, err := game.ApplyMove(b, m.X, m.Z, me)
		if err != nil {
			panic(err)
		}
		score := Evaluate(next, me, d) - Evaluate(next, opp, d)
		if d == Hard {
			score += opponentThreats(next, opp) * threatWeight
		}
		score += p.float() * jitter(d)
		if score > bestScore {
			best, bestScore = m.Column(), score
		}
	}
	return best
}

func jitter(d Difficulty) float64 {
	switch d {
	case Easy:
		return 50
	case Hard:
		return 5
	}
	return 20
}

// ThinkDelay is how long the computer pretends to think before moving.
func (p *Player) ThinkDelay(d Difficulty) time.Duration {
	base, spread := 500, 1000
	switch d {
	case Easy:
		base, spread = 300, 500
	case Hard:
		base, spread = 1000, 1500
	}
	return time.Duration(base+p.intn(spread)) * time.Millisecond
}

// Evaluate scores player's pieces on b: closeness to the cube's center, and on
// hard also the potential of the partial lines through each piece.
func Evaluate(b game.Board, player game.Cell, d Difficulty) float64 {
	const center = float64(game.Size-1) / 2
	score := 0.0
	for x := 0; x < game.Size; x++ {
		for y := 0; y < game.Size; y++ {
			for z := 0; z < game.Size; z++ {
				if b[x][y][z] != player {
					continue
				}
				dist := math.Abs(float64(x)-center) + math.Abs(float64(y)-center) + math.Abs(float64(z)-center)
				bonus := (6 - dist) * 2
				switch d {
				case Easy:
					score += bonus * 0.5
				case Hard:
					score += bonus * 1.5
					score += float64(linePotential(b, game.Pos{X: x, Y: y, Z: z}, player)) * lineWeight
				default:
					score += bonus
				}
			}
		}
	}
	return score
}

// opponentThreats penalises every column where opp could win next turn.
func opponentThreats(b game.Board, opp game.Cell) float64 {
	threat := 0.0
	for _, m := range game.ValidMoves(b) {
		if game.CheckWinningMove(b, m.X, m.Z, opp) {
			threat += opponentWinPenalty
		}
	}
	return threat
}

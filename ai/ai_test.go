package ai_test

import (
	"testing"

	"github.com/cameroncuttingedge/cube_four/ai"
	"github.com/cameroncuttingedge/cube_four/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, moves ...[3]int) game.Board {
	t.Helper()
	b := game.EmptyBoard()
	for _, m := range moves {
		var err error
		b, err = game.ApplyMove(b, m[0], m[1], game.Cell(m[2]))
		require.NoError(t, err)
	}
	return b
}

func TestParseDifficulty(t *testing.T) {
	for in, want := range map[string]ai.Difficulty{"easy": ai.Easy, " Normal ": ai.Normal, "HARD": ai.Hard} {
		got, err := ai.ParseDifficulty(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ai.ParseDifficulty("impossible")
	assert.Error(t, err)
}

func TestChooseMove_HardTakesImmediateWin(t *testing.T) {
	// player 2 has three stacked at (3, 3); player 1 threatens along the floor too.
	b := build(t,
		[3]int{0, 0, 1}, [3]int{3, 3, 2},
		[3]int{1, 0, 1}, [3]int{3, 3, 2},
		[3]int{2, 0, 1}, [3]int{3, 3, 2},
	)
	for seed := uint64(0); seed < 200; seed++ {
		col, ok := ai.NewPlayer(seed).ChooseMove(b, game.Player2, ai.Hard)
		require.True(t, ok)
		require.Equal(t, game.Column{X: 3, Z: 3}, col, "seed %d", seed)
	}
}

func TestChooseMove_BlocksOpponent(t *testing.T) {
	b := build(t,
		[3]int{0, 1, 1}, [3]int{3, 3, 2},
		[3]int{1, 1, 1}, [3]int{2, 3, 2},
		[3]int{2, 1, 1},
	)
	for _, d := range []ai.Difficulty{ai.Normal, ai.Hard} {
		for seed := uint64(0); seed < 50; seed++ {
			col, ok := ai.NewPlayer(seed).ChooseMove(b, game.Player2, d)
			require.True(t, ok)
			assert.Equal(t, game.Column{X: 3, Z: 1}, col, "difficulty %s seed %d", d, seed)
		}
	}
}

func TestChooseMove_EasyIsSometimesCareless(t *testing.T) {
	b := build(t,
		[3]int{0, 1, 1}, [3]int{3, 3, 2},
		[3]int{1, 1, 1}, [3]int{2, 3, 2},
		[3]int{2, 1, 1},
	)
	blocked, other := 0, 0
	for seed := uint64(0); seed < 300; seed++ {
		col, ok := ai.NewPlayer(seed).ChooseMove(b, game.Player2, ai.Easy)
		require.True(t, ok)
		if col == (game.Column{X: 3, Z: 1}) {
			blocked++
		} else {
			other++
		}
	}
	assert.Positive(t, blocked)
	assert.Positive(t, other)
}

func TestChooseMove_AlwaysLegal(t *testing.T) {
	p := ai.NewPlayer(7)
	b := game.EmptyBoard()
	me := game.Player1
	for {
		col, ok := p.ChooseMove(b, me, ai.Normal)
		if !ok {
			break
		}
		var err error
		b, err = game.ApplyMove(b, col.X, col.Z, me)
		require.NoError(t, err)
		me = me.Opponent()
	}
	assert.True(t, game.IsFull(b))
}

func TestChooseMove_FullBoard(t *testing.T) {
	b := game.EmptyBoard()
	for i, m := 0, game.ValidMoves(b); len(m) > 0; i, m = i+1, game.ValidMoves(b) {
		b, _ = game.ApplyMove(b, m[0].X, m[0].Z, game.Cell(i%2+1))
	}
	_, ok := ai.NewPlayer(1).ChooseMove(b, game.Player2, ai.Hard)
	assert.False(t, ok)
}

func TestChooseMove_FaultFallsBackToRandom(t *testing.T) {
	b := build(t, [3]int{0, 0, 1})
	col, ok := ai.NewPlayer(3).ChooseMove(b, game.Empty, ai.Hard)
	require.True(t, ok)
	assert.True(t, col.InBounds())
}

func TestEvaluate(t *testing.T) {
	center := build(t, [3]int{1, 1, 1}, [3]int{1, 1, 1})
	corner := build(t, [3]int{0, 0, 1}, [3]int{0, 0, 1})
	for _, d := range []ai.Difficulty{ai.Easy, ai.Normal, ai.Hard} {
		assert.Greater(t, ai.Evaluate(center, game.Player1, d), ai.Evaluate(corner, game.Player1, d), d)
	}
	assert.Greater(t, ai.Evaluate(center, game.Player1, ai.Hard), ai.Evaluate(center, game.Player1, ai.Normal))
	assert.Zero(t, ai.Evaluate(center, game.Player2, ai.Hard))
}

func TestThinkDelay(t *testing.T) {
	p := ai.NewPlayer(11)
	for i := 0; i < 100; i++ {
		d := p.ThinkDelay(ai.Hard)
		assert.GreaterOrEqual(t, d.Milliseconds(), int64(1000))
		assert.Less(t, d.Milliseconds(), int64(2500))
		e := p.ThinkDelay(ai.Easy)
		assert.GreaterOrEqual(t, e.Milliseconds(), int64(300))
		assert.Less(t, e.Milliseconds(), int64(800))
	}
}

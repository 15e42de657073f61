package statements

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDraw_AvoidsUsed(t *testing.T) {
	pool := []string{"a", "b", "c"}
	rnd := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 50; i++ {
		got := Draw(pool, []string{"a", "b"}, rnd)
		require.Equal(t, "c", got)
	}
}

func TestDraw_ResetsWhenExhausted(t *testing.T) {
	pool := []string{"a", "b"}
	rnd := rand.New(rand.NewPCG(3, 4))

	got := Draw(pool, []string{"a", "b", "a"}, rnd)
	assert.Contains(t, pool, got)
}

func TestDraw_NoRepeatAcrossPool(t *testing.T) {
	rnd := rand.New(rand.NewPCG(5, 6))
	var used []string
	for range Pool {
		used = append(used, Draw(Pool, used, rnd))
	}
	seen := map[string]bool{}
	for _, s := range used {
		assert.False(t, seen[s], "statement repeated before pool exhausted: %s", s)
		seen[s] = true
	}
}

func TestDraw_EmptyPool(t *testing.T) {
	assert.Equal(t, "", Draw(nil, nil, nil))
}

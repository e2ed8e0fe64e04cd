package stopline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardDistance(t *testing.T) {
	cases := []struct {
		car, target, n, want int
	}{
		{0, 4, 10, 4},
		{4, 4, 10, 0},
		{9, 0, 10, 1},
		{5, 3, 10, 8},
		{0, 0, 1, 0},
		{3, 2, 0, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ForwardDistance(tc.car, tc.target, tc.n), "%+v", tc)
	}
}

func TestSelectAheadEmpty(t *testing.T) {
	_, ok := SelectAhead(nil, 0, 10)
	assert.False(t, ok)

	_, ok = SelectAhead([]Association{{PathIndex: 1}}, 0, 0)
	assert.False(t, ok)
}

func TestSelectAheadWrapsAround(t *testing.T) {
	entries := []Association{
		{Key: LightKey{ID: "far"}, PathIndex: 5, LastColor: Green},
		{Key: LightKey{ID: "wrap"}, PathIndex: 0, LastColor: Red},
	}
	got, ok := SelectAhead(entries, 9, 10)
	require.True(t, ok)
	assert.Equal(t, "wrap", got.Key.ID)
	assert.Equal(t, 1, got.Distance)
}

func TestSelectAheadBehindIsFarAhead(t *testing.T) {
	entries := []Association{
		{Key: LightKey{ID: "behind"}, PathIndex: 3},
		{Key: LightKey{ID: "ahead"}, PathIndex: 8},
	}
	got, ok := SelectAhead(entries, 4, 10)
	require.True(t, ok)
	assert.Equal(t, "ahead", got.Key.ID)
	assert.Equal(t, 4, got.Distance)
}

func TestSelectAheadAtStopLine(t *testing.T) {
	entries := []Association{{Key: LightKey{ID: "here"}, PathIndex: 6}}
	got, ok := SelectAhead(entries, 6, 10)
	require.True(t, ok)
	assert.Equal(t, 0, got.Distance)
}

func TestSelectAheadTieBreakIsDeterministic(t *testing.T) {
	// Two lights controlling the same stop line: the first one seen wins,
	// regardless of how often the selection runs.
	entries := []Association{
		{Key: LightKey{ID: "first"}, PathIndex: 7, LastColor: Red},
		{Key: LightKey{ID: "second"}, PathIndex: 7, LastColor: Green},
	}
	for i := 0; i < 20; i++ {
		got, ok := SelectAhead(entries, 2, 10)
		require.True(t, ok)
		assert.Equal(t, "first", got.Key.ID)
	}

	// Reversing insertion order reverses the winner.
	entries[0], entries[1] = entries[1], entries[0]
	got, _ := SelectAhead(entries, 2, 10)
	assert.Equal(t, "second", got.Key.ID)
}

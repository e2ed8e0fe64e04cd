package stopline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func feed(d *Debouncer, colors []LightColor, index int) []int {
	out := make([]int, len(colors))
	for i, c := range colors {
		out[i] = d.Observe(c, index)
	}
	return out
}

func TestDebouncerInitialState(t *testing.T) {
	d := NewDebouncer(0)
	assert.Equal(t, DefaultStateCountThreshold, d.Threshold)
	assert.Equal(t, NoStop, d.LastEmitted())
	_, ok := d.Confirmed()
	assert.False(t, ok)
}

func TestDebouncerConfirmsRedAfterThreshold(t *testing.T) {
	d := NewDebouncer(3)
	got := feed(d, []LightColor{Red, Red, Red, Red}, 12)
	assert.Equal(t, []int{NoStop, NoStop, 12, 12}, got)

	c, ok := d.Confirmed()
	assert.True(t, ok)
	assert.Equal(t, Red, c)
}

func TestDebouncerSingleFrameFlickerIsSuppressed(t *testing.T) {
	d := NewDebouncer(3)
	feed(d, []LightColor{Red, Red, Red}, 4)

	got := feed(d, []LightColor{Green, Red, Red, Red}, 4)
	assert.Equal(t, []int{4, 4, 4, 4}, got)

	// A red blip while green is confirmed never emits a stop.
	d = NewDebouncer(3)
	feed(d, []LightColor{Green, Green, Green}, 4)
	got = feed(d, []LightColor{Red, Green, Red, Green}, 4)
	assert.Equal(t, []int{NoStop, NoStop, NoStop, NoStop}, got)
}

func TestDebouncerTransitionNeedsFullRun(t *testing.T) {
	d := NewDebouncer(3)
	feed(d, []LightColor{Red, Red, Red}, 4)

	// the changing sample starts the run at zero; three more commit
	got := feed(d, []LightColor{Green, Green, Green, Green}, 4)
	assert.Equal(t, []int{4, 4, 4, NoStop}, got)
}

func TestDebouncerNonRedAlwaysNoStop(t *testing.T) {
	for _, c := range []LightColor{Green, Yellow, Unknown} {
		d := NewDebouncer(3)
		got := feed(d, []LightColor{c, c, c, c, c}, 17)
		assert.Equal(t, []int{NoStop, NoStop, NoStop, NoStop, NoStop}, got, "color %s", c)
		confirmed, ok := d.Confirmed()
		assert.True(t, ok)
		assert.Equal(t, c, confirmed)
	}
}

func TestDebouncerFollowsMovingRedIndex(t *testing.T) {
	d := NewDebouncer(3)
	feed(d, []LightColor{Red, Red, Red}, 4)
	// still red, next light ahead: the confirmed output tracks the index
	assert.Equal(t, 9, d.Observe(Red, 9))
}

func TestDebouncerUnknownNeverCommitsRed(t *testing.T) {
	d := NewDebouncer(3)
	got := feed(d, []LightColor{Red, Unknown, Red, Unknown, Red, Unknown}, 3)
	for _, v := range got {
		assert.Equal(t, NoStop, v)
	}
}

func TestDebouncerReset(t *testing.T) {
	d := NewDebouncer(2)
	feed(d, []LightColor{Red, Red}, 5)
	assert.Equal(t, 5, d.LastEmitted())

	d.Reset()
	assert.Equal(t, 2, d.Threshold)
	assert.Equal(t, NoStop, d.LastEmitted())
	_, ok := d.Confirmed()
	assert.False(t, ok)
	c, n := d.Candidate()
	assert.Equal(t, Unknown, c)
	assert.Equal(t, 0, n)
}

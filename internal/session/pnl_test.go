package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPnLTrackerNotifiesOnChange(t *testing.T) {
	tr := NewPnLTracker()

	var got []float64
	tr.Subscribe(func(v float64) { got = append(got, v) })

	tr.Set(-100)
	tr.Set(-100)
	tr.Set(-250.5)

	assert.Equal(t, []float64{-100, -250.5}, got)
	assert.InDelta(t, -250.5, tr.Value(), 1e-9)
}

func TestPnLTrackerFirstZeroStillNotifies(t *testing.T) {
	tr := NewPnLTracker()

	var calls int
	tr.Subscribe(func(float64) { calls++ })

	// Zero is a legitimate first value, not "unchanged".
	tr.Set(0)
	assert.Equal(t, 1, calls)

	tr.Set(0)
	assert.Equal(t, 1, calls)
}

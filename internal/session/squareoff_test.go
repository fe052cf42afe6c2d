package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSquareOffReportsEveryOutcome(t *testing.T) {
	bad := map[string]bool{"2": true, "4": true}
	var mu sync.Mutex
	calls := map[string]int{}

	exit := func(_ context.Context, id string) error {
		mu.Lock()
		calls[id]++
		mu.Unlock()
		if bad[id] {
			return errors.New("engine rejected")
		}
		return nil
	}

	so := NewSquareOff(exit, 2, 0)
	report := so.Run(context.Background(), []string{"1", "2", "3", "4", "5"})

	assert.Len(t, report.Outcomes, 5)
	assert.ElementsMatch(t, []string{"2", "4"}, report.Failed())
	assert.Equal(t, 3, report.Succeeded())
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		assert.Equal(t, 1, calls[id], "id %s", id)
	}
}

func TestSquareOffFailureDoesNotShortCircuit(t *testing.T) {
	var mu sync.Mutex
	var attempted []string
	exit := func(_ context.Context, id string) error {
		mu.Lock()
		attempted = append(attempted, id)
		mu.Unlock()
		return errors.New("down")
	}

	so := NewSquareOff(exit, 1, 0)
	report := so.Run(context.Background(), []string{"a", "b", "c"})

	assert.ElementsMatch(t, []string{"a", "b", "c"}, attempted)
	assert.Len(t, report.Failed(), 3)
}

func TestSquareOffRetryPassesOnlyFailedIDs(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	exit := func(_ context.Context, id string) error {
		mu.Lock()
		calls[id]++
		n := calls[id]
		mu.Unlock()
		// id "b" fails once, then succeeds on the retry pass.
		if id == "b" && n == 1 {
			return errors.New("transient")
		}
		return nil
	}

	so := NewSquareOff(exit, 4, 1)
	report := so.Run(context.Background(), []string{"a", "b"})

	assert.Empty(t, report.Failed())
	assert.Equal(t, 2, report.Succeeded())
	assert.Equal(t, 1, calls["a"])
	assert.Equal(t, 2, calls["b"])
}

func TestSquareOffEmptyList(t *testing.T) {
	so := NewSquareOff(func(context.Context, string) error {
		t.Fatal("exit must not be called")
		return nil
	}, 0, 0)
	report := so.Run(context.Background(), nil)
	assert.Empty(t, report.Outcomes)
}

package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name     string
		current  State
		counts   Counts
		override bool
		want     State
	}{
		{"not started always enters in progress", StateNotStarted, Counts{Error: 5}, false, StateInProgress},
		{"clean run passes", StateInProgress, Counts{Info: 2}, false, StatePassed},
		{"warnings give partial pass", StateInProgress, Counts{Warning: 1}, false, StatePartialPass},
		{"errors fail", StateInProgress, Counts{Error: 1}, false, StateFailed},
		{"fatal fails", StateInProgress, Counts{Fatal: 1}, false, StateFailed},
		{"errors win over warnings", StateInProgress, Counts{Warning: 3, Error: 1}, false, StateFailed},
		{"partial pass with override passes", StatePartialPass, Counts{Warning: 1}, true, StatePassed},
		{"partial pass without override is idempotent", StatePartialPass, Counts{Warning: 1}, false, StatePartialPass},
		{"passed stays passed", StatePassed, Counts{}, false, StatePassed},
		{"failed stays failed", StateFailed, Counts{Error: 1}, true, StateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transition(tt.current, tt.counts, tt.override))
		})
	}
}

func TestResolve(t *testing.T) {
	assert.Equal(t, StatePassed, Resolve(Counts{}))
	assert.Equal(t, StatePartialPass, Resolve(Counts{Warning: 2}))
	assert.Equal(t, StateFailed, Resolve(Counts{Fatal: 1}))
}

func TestCanProceed(t *testing.T) {
	assert.True(t, CanProceed(StatePassed))
	assert.True(t, CanProceed(StatePartialPass))
	assert.False(t, CanProceed(StateFailed))
	assert.False(t, CanProceed(StateInProgress))
}

func TestCanMerge(t *testing.T) {
	assert.True(t, CanMerge(StatePassed))
	assert.False(t, CanMerge(StatePartialPass))
	assert.False(t, CanMerge(StateFailed))
}

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestra/pkg/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from models.State
		to   models.State
		want bool
	}{
		{"idle to running", models.StateIdle, models.StateRunning, true},
		{"idle to error", models.StateIdle, models.StateError, true},
		{"idle to success direct", models.StateIdle, models.StateSuccess, false},
		{"running to stopped", models.StateRunning, models.StateStopped, true},
		{"running to delayed", models.StateRunning, models.StateDelayed, true},
		{"running to success", models.StateRunning, models.StateSuccess, true},
		{"running to error", models.StateRunning, models.StateError, true},
		{"running to idle", models.StateRunning, models.StateIdle, false},
		{"stopped to running", models.StateStopped, models.StateRunning, true},
		{"stopped to error", models.StateStopped, models.StateError, true},
		{"stopped to success", models.StateStopped, models.StateSuccess, false},
		{"delayed to running", models.StateDelayed, models.StateRunning, true},
		{"delayed to error", models.StateDelayed, models.StateError, true},
		{"success has no outbound edges", models.StateSuccess, models.StateRunning, false},
		{"error has no outbound edges", models.StateError, models.StateRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransition_Valid(t *testing.T) {
	got, err := Transition(models.StateIdle, models.StateRunning)
	require.NoError(t, err)
	assert.Equal(t, models.StateRunning, got)
}

func TestTransition_Invalid(t *testing.T) {
	got, err := Transition(models.StateSuccess, models.StateRunning)
	require.Error(t, err)
	assert.Equal(t, models.StateSuccess, got)

	var invalidErr *ErrInvalidTransition
	require.ErrorAs(t, err, &invalidErr)
	assert.Equal(t, models.StateSuccess, invalidErr.From)
	assert.Equal(t, models.StateRunning, invalidErr.To)
	assert.Contains(t, err.Error(), "SUCCESS")
	assert.Contains(t, err.Error(), "RUNNING")
}

func TestState_IsTerminal(t *testing.T) {
	assert.True(t, models.StateSuccess.IsTerminal())
	assert.True(t, models.StateError.IsTerminal())
	assert.False(t, models.StateIdle.IsTerminal())
	assert.False(t, models.StateRunning.IsTerminal())
	assert.False(t, models.StateStopped.IsTerminal())
	assert.False(t, models.StateDelayed.IsTerminal())
}

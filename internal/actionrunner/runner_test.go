package actionrunner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoRunner_ReturnsInputAsOutput(t *testing.T) {
	r := EchoRunner{}
	input := map[string]interface{}{"a": 1}
	result, err := r.Run(context.Background(), "key", "echo", input)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, input, result.Output)
}

func TestFlakyRunner_FailsThenSucceeds(t *testing.T) {
	r := NewFlakyRunner(2)

	result, err := r.Run(context.Background(), "k1", "flaky", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)

	result, err = r.Run(context.Background(), "k1", "flaky", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)

	result, err = r.Run(context.Background(), "k1", "flaky", map[string]interface{}{"x": 1})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, map[string]interface{}{"x": 1}, result.Output)
}

func TestFlakyRunner_TracksAttemptsPerKeyIndependently(t *testing.T) {
	r := NewFlakyRunner(1)

	result, err := r.Run(context.Background(), "k1", "flaky", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)

	result, err = r.Run(context.Background(), "k2", "flaky", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestRegistry_DispatchesToNamedRunner(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", EchoRunner{})

	result, err := reg.Run(context.Background(), "key", "echo", map[string]interface{}{"a": 1})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestRegistry_FallsBackToDefault(t *testing.T) {
	reg := NewRegistry()
	reg.SetDefault(EchoRunner{})

	result, err := reg.Run(context.Background(), "key", "unregistered.action", map[string]interface{}{"a": 1})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestRegistry_UnregisteredActionWithNoDefault(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Run(context.Background(), "key", "ghost", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestRegistry_NamedRunnerTakesPrecedenceOverDefault(t *testing.T) {
	reg := NewRegistry()
	reg.Register("flaky", NewFlakyRunner(1))
	reg.SetDefault(EchoRunner{})

	result, err := reg.Run(context.Background(), "k", "flaky", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSpecYAML = `
name: greet-sequential
type: direct
start-task: fetch
tasks:
  fetch:
    action: http.get
    timeout: 5s
`

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	require.NoError(t, w.Close())
	os.Stdout = old

	var buf bytes.Buffer
	_, err = io.Copy(&buf, r)
	require.NoError(t, err)
	return buf.String()
}

func TestRunSpecValidate_ValidSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "greet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validSpecYAML), 0o644))

	out := captureStdout(t, func() {
		err := runSpecValidate(specValidateCmd, []string{path})
		require.NoError(t, err)
	})

	assert.Contains(t, out, "greet-sequential")
	assert.Contains(t, out, "tasks=1")
}

func TestRunSpecValidate_InvalidSpecReturnsValidationError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: bad\ntype: direct\n"), 0o644))

	err := runSpecValidate(specValidateCmd, []string{path})
	require.Error(t, err)
	assert.Equal(t, exitValidation, exitCodeFor(err))
}

func TestRunSpecValidate_MissingFileReturnsValidationError(t *testing.T) {
	err := runSpecValidate(specValidateCmd, []string{filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
	assert.Equal(t, exitValidation, exitCodeFor(err))
}

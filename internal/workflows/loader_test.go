package workflows

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAMLSpec = `
name: demo
type: direct
start-task: fetch
tasks:
  fetch:
    action: http.get
    timeout: 5s
    on-success:
      - task: notify
  notify:
    action: slack.post
    timeout: 5s
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoader_LoadFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "demo.workflow.yaml", validYAMLSpec)

	wf, err := NewLoader(dir).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", wf.Spec.Name)
	assert.Equal(t, TypeDirect, wf.Spec.Type)
	assert.NotEmpty(t, wf.Checksum)
	assert.Equal(t, wf.Checksum, wf.Spec.Checksum)
}

func TestLoader_LoadFile_NameDefaultsFromFilename(t *testing.T) {
	dir := t.TempDir()
	content := `
type: direct
start-task: fetch
tasks:
  fetch: {action: http.get, timeout: 5s}
`
	path := writeFile(t, dir, "unnamed.workflow.yaml", content)

	wf, err := NewLoader(dir).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "unnamed", wf.Spec.Name)
}

func TestLoader_LoadFile_JSON(t *testing.T) {
	dir := t.TempDir()
	content := `{"name":"demo-json","type":"direct","start-task":"a","tasks":{"a":{"action":"http.get","timeout":"5s"}}}`
	path := writeFile(t, dir, "demo-json.workflow.json", content)

	wf, err := NewLoader(dir).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "demo-json", wf.Spec.Name)
}

func TestLoader_LoadFile_ValidationFailurePropagates(t *testing.T) {
	dir := t.TempDir()
	content := `
type: direct
tasks:
  a: {action: http.get, timeout: 5s}
`
	path := writeFile(t, dir, "bad.workflow.yaml", content)

	_, err := NewLoader(dir).LoadFile(path)
	assert.Error(t, err)
}

func TestLoader_LoadFile_MissingFile(t *testing.T) {
	_, err := NewLoader(t.TempDir()).LoadFile("/nonexistent/path.workflow.yaml")
	assert.Error(t, err)
}

func TestLoader_LoadAll_GlobsMatchingExtensions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "one.workflow.yaml", validYAMLSpec)
	writeFile(t, dir, "two.workflow.json", `{"name":"two","type":"direct","start-task":"a","tasks":{"a":{"action":"http.get","timeout":"5s"}}}`)
	writeFile(t, dir, "ignored.txt", "not a workflow")

	result, err := NewLoader(dir).LoadAll()
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalFiles)
	assert.Len(t, result.Specs, 2)
	assert.Empty(t, result.Errors)
}

func TestLoader_LoadAll_CollectsErrorsWithoutFailingWholeScan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.workflow.yaml", validYAMLSpec)
	writeFile(t, dir, "bad.workflow.yaml", "type: direct\ntasks: {}\n")

	result, err := NewLoader(dir).LoadAll()
	require.NoError(t, err)
	assert.Len(t, result.Specs, 1)
	assert.Len(t, result.Errors, 1)
}

func TestLoader_LoadAll_MissingDirectoryIsNotAnError(t *testing.T) {
	result, err := NewLoader(filepath.Join(t.TempDir(), "does-not-exist")).LoadAll()
	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalFiles)
}

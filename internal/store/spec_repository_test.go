package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestra/internal/workflows"
)

func TestSaveSpec_FirstVersionIsOne(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	spec := &workflows.WorkflowSpec{Name: "demo", Namespace: "default", Type: workflows.TypeDirect, Checksum: "abc123"}
	version, err := s.SaveSpec(ctx, spec, []byte(`{"name":"demo"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestSaveSpec_SameChecksumReturnsSameVersion(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	spec := &workflows.WorkflowSpec{Name: "demo", Namespace: "default", Type: workflows.TypeDirect, Checksum: "abc123"}
	v1, err := s.SaveSpec(ctx, spec, []byte(`{"name":"demo"}`))
	require.NoError(t, err)

	v2, err := s.SaveSpec(ctx, spec, []byte(`{"name":"demo"}`))
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestSaveSpec_ChangedChecksumBumpsVersion(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	spec := &workflows.WorkflowSpec{Name: "demo", Namespace: "default", Type: workflows.TypeDirect, Checksum: "v1hash"}
	v1, err := s.SaveSpec(ctx, spec, []byte(`{"v":1}`))
	require.NoError(t, err)

	spec.Checksum = "v2hash"
	v2, err := s.SaveSpec(ctx, spec, []byte(`{"v":2}`))
	require.NoError(t, err)
	assert.Equal(t, v1+1, v2)
}

func TestGetLatestSpecVersion_NotFound(t *testing.T) {
	s := setupStore(t)
	_, err := s.GetLatestSpecVersion(context.Background(), "missing", "default")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetLatestSpecVersion_ReturnsNewest(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	spec := &workflows.WorkflowSpec{Name: "demo", Namespace: "default", Type: workflows.TypeDirect, Checksum: "v1hash"}
	_, err := s.SaveSpec(ctx, spec, []byte(`{"v":1}`))
	require.NoError(t, err)

	spec.Checksum = "v2hash"
	_, err = s.SaveSpec(ctx, spec, []byte(`{"v":2}`))
	require.NoError(t, err)

	latest, err := s.GetLatestSpecVersion(ctx, "demo", "default")
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.Version)
	assert.Equal(t, "v2hash", latest.Checksum)
}

func TestGetSpecVersion_SpecificVersion(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	spec := &workflows.WorkflowSpec{Name: "demo", Namespace: "default", Type: workflows.TypeDirect, Checksum: "v1hash"}
	_, err := s.SaveSpec(ctx, spec, []byte(`{"v":1}`))
	require.NoError(t, err)

	spec.Checksum = "v2hash"
	_, err = s.SaveSpec(ctx, spec, []byte(`{"v":2}`))
	require.NoError(t, err)

	v1, err := s.GetSpecVersion(ctx, "demo", "default", 1)
	require.NoError(t, err)
	assert.Equal(t, "v1hash", v1.Checksum)

	_, err = s.GetSpecVersion(ctx, "demo", "default", 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveSpec_DefaultsNamespace(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	spec := &workflows.WorkflowSpec{Name: "demo", Type: workflows.TypeDirect, Checksum: "abc"}
	_, err := s.SaveSpec(ctx, spec, []byte(`{}`))
	require.NoError(t, err)

	got, err := s.GetLatestSpecVersion(ctx, "demo", "default")
	require.NoError(t, err)
	assert.Equal(t, "default", got.Namespace)
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orchestra/internal/workflows"
)

// SaveSpec registers (or re-registers, on checksum change) a workflow
// document under its name/namespace, bumping version when the document
// differs from the latest stored one.
func (s *Store) SaveSpec(ctx context.Context, spec *workflows.WorkflowSpec, document []byte) (int64, error) {
	namespace := spec.Namespace
	if namespace == "" {
		namespace = "default"
	}

	latest, err := s.GetLatestSpecVersion(ctx, spec.Name, namespace)
	if err != nil && err != ErrNotFound {
		return 0, err
	}

	version := int64(1)
	if latest != nil {
		if latest.Checksum == spec.Checksum {
			return latest.Version, nil
		}
		version = latest.Version + 1
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO workflow_specs (id, name, namespace, version, type, checksum, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), spec.Name, namespace, version, string(spec.Type), spec.Checksum, string(document), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save workflow spec %s: %w", spec.Name, err)
	}
	return version, nil
}

// StoredSpec is one row of the workflow_specs table.
type StoredSpec struct {
	Name      string
	Namespace string
	Version   int64
	Type      string
	Checksum  string
	Document  []byte
}

// GetLatestSpecVersion returns the highest-versioned spec row for name and
// namespace, or ErrNotFound.
func (s *Store) GetLatestSpecVersion(ctx context.Context, name, namespace string) (*StoredSpec, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT name, namespace, version, type, checksum, document
		FROM workflow_specs
		WHERE name = ? AND namespace = ?
		ORDER BY version DESC LIMIT 1`,
		name, namespace,
	)

	var sp StoredSpec
	var document string
	err := row.Scan(&sp.Name, &sp.Namespace, &sp.Version, &sp.Type, &sp.Checksum, &document)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sp.Document = []byte(document)
	return &sp, nil
}

// GetSpecVersion returns a specific version of a spec, or ErrNotFound.
func (s *Store) GetSpecVersion(ctx context.Context, name, namespace string, version int64) (*StoredSpec, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT name, namespace, version, type, checksum, document
		FROM workflow_specs
		WHERE name = ? AND namespace = ? AND version = ?`,
		name, namespace, version,
	)

	var sp StoredSpec
	var document string
	err := row.Scan(&sp.Name, &sp.Namespace, &sp.Version, &sp.Type, &sp.Checksum, &document)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sp.Document = []byte(document)
	return &sp, nil
}

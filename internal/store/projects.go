package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidMode rejects a project mode other than "enforce" or "shadow".
var ErrInvalidMode = errors.New("mode must be enforce or shadow")

// Project represents a row in the projects table.
type Project struct {
	ID           string
	Name         string
	APIKeyHash   string
	APIKeyPrefix string
	Mode         string // "enforce" or "shadow"
	FailOpen     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UpdateProjectParams holds optional fields for partial project updates.
type UpdateProjectParams struct {
	Name     *string
	Mode     *string
	FailOpen *bool
}

const projectColumns = `id, name, api_key_hash, api_key_prefix, mode, fail_open, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.APIKeyHash, &p.APIKeyPrefix,
		&p.Mode, &p.FailOpen, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GenerateAPIKey creates a new tsk_ API key with its bcrypt hash and prefix.
// Returns (fullKey, hash, prefix, error). The fullKey is shown to the user once.
func GenerateAPIKey() (string, string, string, error) {
	return generateAPIKey(bcrypt.DefaultCost)
}

func generateAPIKey(cost int) (string, string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	fullKey := "tsk_" + hex.EncodeToString(raw)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), cost)
	if err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	return fullKey, string(hashBytes), fullKey[:8], nil
}

// CreateProject inserts a new project. The plaintext API key is returned once.
func (s *Store) CreateProject(ctx context.Context, name, mode string) (*Project, string, error) {
	if mode == "" {
		mode = "enforce"
	}
	if !validMode(mode) {
		return nil, "", ErrInvalidMode
	}
	fullKey, keyHash, keyPrefix, err := s.keygen()
	if err != nil {
		return nil, "", fmt.Errorf("CreateProject: %w", err)
	}

	p, err := scanProject(s.db.QueryRowContext(ctx, `
		INSERT INTO projects (name, api_key_hash, api_key_prefix, mode)
		VALUES ($1, $2, $3, $4)
		RETURNING `+projectColumns,
		name, keyHash, keyPrefix, mode,
	))
	if err != nil {
		return nil, "", fmt.Errorf("CreateProject: %w", err)
	}
	return p, fullKey, nil
}

// ListProjects returns all projects ordered by created_at DESC.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ListProjects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("ListProjects: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// GetProject returns a project by ID, or nil if not found.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetProject: %w", err)
	}
	return p, nil
}

// UpdateProject applies a partial update. Only non-nil fields are changed.
// A nil project means the ID does not exist.
func (s *Store) UpdateProject(ctx context.Context, id string, params UpdateProjectParams) (*Project, error) {
	if params.Mode != nil && !validMode(*params.Mode) {
		return nil, ErrInvalidMode
	}
	p, err := scanProject(s.db.QueryRowContext(ctx, `
		UPDATE projects SET
			name       = COALESCE($2, name),
			mode       = COALESCE($3, mode),
			fail_open  = COALESCE($4, fail_open),
			updated_at = now()
		WHERE id = $1
		RETURNING `+projectColumns,
		id, params.Name, params.Mode, params.FailOpen,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateProject: %w", err)
	}
	return p, nil
}

// DeleteProject deletes a project by ID. sql.ErrNoRows means it did not exist.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("DeleteProject: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RotateAPIKey replaces a project's API key. The plaintext key is returned once.
func (s *Store) RotateAPIKey(ctx context.Context, id string) (*Project, string, error) {
	fullKey, keyHash, keyPrefix, err := s.keygen()
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}

	p, err := scanProject(s.db.QueryRowContext(ctx, `
		UPDATE projects SET
			api_key_hash   = $2,
			api_key_prefix = $3,
			updated_at     = now()
		WHERE id = $1
		RETURNING `+projectColumns,
		id, keyHash, keyPrefix,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", sql.ErrNoRows)
	}
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}
	return p, fullKey, nil
}

func (s *Store) keygen() (string, string, string, error) {
	return generateAPIKey(s.bcryptCost())
}

func validMode(mode string) bool {
	return mode == "enforce" || mode == "shadow"
}

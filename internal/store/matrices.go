package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/triage-ai/palisade-rasp/internal/matrix"
)

// MatrixVersion is one stored algorithm matrix document.
type MatrixVersion struct {
	Version   int64
	Document  json.RawMessage
	Comment   string
	CreatedAt time.Time
}

// GetActiveMatrix returns the newest matrix version, or nil when none was
// ever saved.
func (s *Store) GetActiveMatrix(ctx context.Context) (*MatrixVersion, error) {
	var mv MatrixVersion
	err := s.db.QueryRowContext(ctx, `
		SELECT version, document, comment, created_at
		FROM rasp_matrices ORDER BY version DESC LIMIT 1`,
	).Scan(&mv.Version, &mv.Document, &mv.Comment, &mv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetActiveMatrix: %w", err)
	}
	return &mv, nil
}

// SaveMatrix validates doc and stores it as a new version. Invalid documents
// fail with an error matching matrix.ErrInvalid and are not stored.
func (s *Store) SaveMatrix(ctx context.Context, doc json.RawMessage, comment string) (*MatrixVersion, error) {
	if err := matrix.Validate(doc); err != nil {
		return nil, err
	}
	var mv MatrixVersion
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rasp_matrices (document, comment)
		VALUES ($1, $2)
		RETURNING version, document, comment, created_at`,
		[]byte(doc), comment,
	).Scan(&mv.Version, &mv.Document, &mv.Comment, &mv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("SaveMatrix: %w", err)
	}
	return &mv, nil
}

// MatrixSource serves the active stored matrix to a matrix.Reloader. With
// nothing stored it serves the built-in default.
type MatrixSource struct {
	store *Store
}

// MatrixSource returns a reload source backed by this store.
func (s *Store) MatrixSource() *MatrixSource {
	return &MatrixSource{store: s}
}

// Fetch implements matrix.Source. The version is the row version.
func (m *MatrixSource) Fetch(ctx context.Context) ([]byte, string, error) {
	mv, err := m.store.GetActiveMatrix(ctx)
	if err != nil {
		return nil, "", err
	}
	if mv == nil {
		return matrix.DefaultJSON(), "default", nil
	}
	return mv.Document, strconv.FormatInt(mv.Version, 10), nil
}

var _ matrix.Source = (*MatrixSource)(nil)

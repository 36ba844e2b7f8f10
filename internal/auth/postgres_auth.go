package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ProjectStore abstracts DB queries for testability.
type ProjectStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*projectRow, error)
}

type projectRow struct {
	ProjectID  string
	APIKeyHash string
	Mode       string
	FailOpen   bool
}

// sqlProjectStore is the real implementation using *sql.DB.
type sqlProjectStore struct {
	db *sql.DB
}

func (s *sqlProjectStore) LookupByPrefix(ctx context.Context, prefix string) (*projectRow, error) {
	row := &projectRow{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, api_key_hash, mode, fail_open
		 FROM projects
		 WHERE api_key_prefix = $1`,
		prefix,
	).Scan(&row.ProjectID, &row.APIKeyHash, &row.Mode, &row.FailOpen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("sqlProjectStore.LookupByPrefix: %w", err)
	}
	return row, nil
}

// PostgresAuthenticator validates API keys against the projects table.
// Verified projects are kept in an AuthCache with stale-while-revalidate.
// The x-project-id value is ignored: the key alone names the project.
type PostgresAuthenticator struct {
	store  ProjectStore
	cache  *AuthCache
	logger *zap.Logger
}

// PostgresAuthConfig configures the PostgresAuthenticator.
type PostgresAuthConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration // Default: 30s
	Logger   *zap.Logger
}

// NewPostgresAuthenticator creates a new authenticator backed by PostgreSQL.
func NewPostgresAuthenticator(cfg PostgresAuthConfig) *PostgresAuthenticator {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresAuthenticator{
		store:  &sqlProjectStore{db: cfg.DB},
		cache:  NewAuthCache(ttl),
		logger: logger,
	}
}

func newPostgresAuthenticatorWithStore(store ProjectStore, cache *AuthCache, logger *zap.Logger) *PostgresAuthenticator {
	return &PostgresAuthenticator{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// Cache exposes the authenticator's cache so project updates can evict it.
func (a *PostgresAuthenticator) Cache() *AuthCache {
	return a.cache
}

// Verify resolves an API key:
//   - fresh cache hit returns immediately
//   - stale hit returns the cached project and refreshes in the background
//   - miss does the DB lookup and bcrypt check synchronously
func (a *PostgresAuthenticator) Verify(ctx context.Context, creds Credentials) (*ProjectContext, error) {
	apiKey := creds.APIKey
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	result := a.cache.Get(apiKey)
	if result.Hit {
		if result.NeedsRefresh {
			go a.backgroundRefresh(apiKey)
		}
		return result.Project, nil
	}

	project, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		return nil, a.lookupError(err)
	}
	a.cache.Set(apiKey, project)
	return project, nil
}

// backgroundRefresh re-verifies a stale entry. On failure the entry is
// dropped so the next call verifies synchronously.
func (a *PostgresAuthenticator) backgroundRefresh(apiKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	project, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		a.logger.Warn("background auth refresh failed", zap.Error(err))
		a.cache.Delete(apiKey)
		return
	}
	a.cache.Set(apiKey, project)
}

func (a *PostgresAuthenticator) lookupAndVerify(ctx context.Context, apiKey string) (*ProjectContext, error) {
	if len(apiKey) < lookupPrefixLen {
		return nil, ErrInvalidAPIKey
	}
	row, err := a.store.LookupByPrefix(ctx, apiKey[:lookupPrefixLen])
	if err != nil {
		return nil, fmt.Errorf("lookupAndVerify: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.APIKeyHash), []byte(apiKey)); err != nil {
		return nil, ErrInvalidAPIKey
	}

	mode := row.Mode
	if mode != ModeShadow {
		mode = ModeEnforce
	}
	return &ProjectContext{
		ProjectID: row.ProjectID,
		Mode:      mode,
		FailOpen:  row.FailOpen,
	}, nil
}

func (a *PostgresAuthenticator) lookupError(err error) error {
	if errors.Is(err, ErrInvalidAPIKey) {
		return ErrInvalidAPIKey
	}
	a.logger.Warn("auth DB unreachable", zap.Error(err))
	return fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
}

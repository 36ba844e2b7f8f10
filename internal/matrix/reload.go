package matrix

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/triage-ai/palisade-rasp/internal/engine"
	"go.uber.org/zap"
)

// Source supplies matrix documents for hot reload.
type Source interface {
	// Fetch returns the current JSON document and an opaque version.
	// The version changes whenever the document does.
	Fetch(ctx context.Context) (data []byte, version string, err error)
}

// Publisher accepts a freshly parsed matrix (engine.Engine).
type Publisher interface {
	SwapMatrix(m *engine.Matrix)
}

// FileSource reads a JSON or YAML matrix file.
type FileSource struct {
	Path string
}

// Fetch implements Source. The version is the SHA-256 of the file contents.
func (s FileSource) Fetch(ctx context.Context) ([]byte, string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, "", fmt.Errorf("FileSource.Fetch: %w", err)
	}
	sum := sha256.Sum256(data)
	version := hex.EncodeToString(sum[:])

	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".yaml", ".yml":
		data, err = YAMLToJSON(data)
		if err != nil {
			return nil, "", err
		}
	}
	return data, version, nil
}

// Reloader polls a Source and publishes every new, valid matrix. An invalid
// document is logged and the previous matrix stays in place.
type Reloader struct {
	source    Source
	publisher Publisher
	logger    *zap.Logger

	mu      sync.Mutex
	version string
}

// NewReloader creates a Reloader.
func NewReloader(source Source, publisher Publisher, logger *zap.Logger) *Reloader {
	return &Reloader{source: source, publisher: publisher, logger: logger}
}

// Reload fetches the source once. It reports whether a new matrix was published.
func (r *Reloader) Reload(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, version, err := r.source.Fetch(ctx)
	if err != nil {
		return false, err
	}
	if version == r.version {
		return false, nil
	}
	m, err := Parse(data)
	if err != nil {
		return false, err
	}
	r.publisher.SwapMatrix(m)
	r.version = version
	r.logger.Info("algorithm matrix reloaded", zap.String("version", version))
	return true, nil
}

// Run reloads every interval until ctx is done.
func (r *Reloader) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Reload(ctx); err != nil {
				r.logger.Warn("algorithm matrix reload failed, keeping current matrix", zap.Error(err))
			}
		}
	}
}

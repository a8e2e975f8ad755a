// Package session persists replay session state as a versioned JSON document.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"marketReplay/internal/domain"
	"marketReplay/internal/ports"
)

// Store implements ports.SessionStore on a single JSON file.
//
// Saves are atomic: the snapshot is written to a temp file in the same
// directory and renamed over the target, so a crash mid-write can never
// leave a torn session file behind.
type Store struct {
	path   string
	logger ports.Logger
	mu     sync.Mutex // serializes concurrent background saves
}

// Config holds configuration for the session store.
type Config struct {
	Path   string
	Logger ports.Logger
}

// NewStore creates a session store writing to cfg.Path.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for session store")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("session file path is required: %w", ports.ErrConfigurationError)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory '%s': %w", filepath.Dir(cfg.Path), err)
	}
	return &Store{path: cfg.Path, logger: cfg.Logger}, nil
}

// Save atomically writes the session snapshot.
func (s *Store) Save(ctx context.Context, state *domain.ReplaySessionState) error {
	if state == nil {
		return fmt.Errorf("nil session state: %w", ports.ErrInvalidRequest)
	}
	state.FormatVersion = domain.SessionFormatVersion

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w: %w", ports.ErrSerialization, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write session temp file '%s': %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename session file into place: %w", err)
	}

	s.logger.Debug(ctx, "Session saved", map[string]interface{}{"path": s.path, "bytes": len(data)})
	return nil
}

// Load reads the persisted session. Returns ErrNotFound when no session
// file exists; ErrSerialization when the document is corrupt or carries an
// unsupported format version, so the caller can offer a fresh session.
func (s *Store) Load(ctx context.Context) (*domain.ReplaySessionState, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no session file at '%s': %w", s.path, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read session file '%s': %w", s.path, err)
	}

	var state domain.ReplaySessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("corrupt session file '%s': %w: %w", s.path, ports.ErrSerialization, err)
	}
	if state.FormatVersion != domain.SessionFormatVersion {
		return nil, fmt.Errorf("unsupported session format version %d (want %d): %w",
			state.FormatVersion, domain.SessionFormatVersion, ports.ErrSerialization)
	}

	s.logger.Info(ctx, "Session loaded", map[string]interface{}{"path": s.path, "symbols": len(state.PerSymbol)})
	return &state, nil
}

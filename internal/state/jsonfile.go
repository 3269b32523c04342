package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// JSONFileBackend stores the state as one human-inspectable JSON
// document. Saves go through a temp file in the same directory,
// fsync, then an atomic rename, so a crash mid-save leaves either the
// old document or the new one, never a torn mix.
type JSONFileBackend struct {
	path string
}

var _ Backend = (*JSONFileBackend)(nil)

func NewJSONFileBackend(path string) (*JSONFileBackend, error) {
	if path == "" {
		return nil, errors.New("empty state path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.WithMessage(err, "create state dir")
	}
	return &JSONFileBackend{path: path}, nil
}

func (b *JSONFileBackend) Load(ctx context.Context) (*PersistedState, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WithMessagef(ErrCorruptState, "read %s: %v", b.path, err)
	}
	var st PersistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.WithMessagef(ErrCorruptState, "parse %s: %v", b.path, err)
	}
	return &st, nil
}

func (b *JSONFileBackend) Save(ctx context.Context, st *PersistedState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.WithMessage(err, "marshal state")
	}
	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return errors.WithMessage(err, "create temp state file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.WithMessage(err, "write temp state file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.WithMessage(err, "sync temp state file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.WithMessage(err, "close temp state file")
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		_ = os.Remove(tmpName)
		return errors.WithMessage(err, "replace state file")
	}
	return nil
}

func (b *JSONFileBackend) Close() error { return nil }

package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore writes each document to <dir>/<key>.json. Writes go through a
// temp file and rename so a crash never leaves a half-written document.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

func (f *FileStore) Load(_ context.Context, key string) ([]byte, error) {
	raw, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}
	return raw, nil
}

func (f *FileStore) Save(_ context.Context, docs ...Document) error {
	for _, d := range docs {
		tmp, err := os.CreateTemp(f.dir, d.Key+".*.tmp")
		if err != nil {
			return err
		}
		if _, err := tmp.Write(d.Body); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return err
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return err
		}
		if err := os.Chmod(tmp.Name(), 0o600); err != nil {
			os.Remove(tmp.Name())
			return err
		}
		if err := os.Rename(tmp.Name(), f.path(d.Key)); err != nil {
			os.Remove(tmp.Name())
			return err
		}
	}
	return nil
}

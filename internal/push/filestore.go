package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileRepository keeps subscriptions as a JSON array in a single file. The
// file is read in full on every call and rewritten in full on every
// mutation through a temp file and rename.
type FileRepository struct {
	path string
	mu   sync.Mutex
}

var _ Repository = (*FileRepository)(nil)

func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

// Path returns the backing file.
func (r *FileRepository) Path() string {
	return r.path
}

// List returns all subscriptions. A missing or empty file is an empty list.
func (r *FileRepository) List(_ context.Context) ([]Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read()
}

func (r *FileRepository) Append(_ context.Context, sub Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, err := r.read()
	if err != nil {
		return err
	}
	return r.write(append(subs, sub))
}

func (r *FileRepository) Replace(_ context.Context, subs []Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.write(subs)
}

func (r *FileRepository) read() ([]Subscription, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Subscription{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read subscriptions file: %w", err)
	}
	if len(data) == 0 {
		return []Subscription{}, nil
	}
	var subs []Subscription
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, fmt.Errorf("failed to parse subscriptions file %s: %w", r.path, err)
	}
	if subs == nil {
		subs = []Subscription{}
	}
	return subs, nil
}

func (r *FileRepository) write(subs []Subscription) error {
	if subs == nil {
		subs = []Subscription{}
	}
	data, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode subscriptions: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create subscriptions directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".subscriptions-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write subscriptions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync subscriptions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("failed to replace subscriptions file: %w", err)
	}
	return nil
}

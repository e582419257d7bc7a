// Package banstore holds the ban set backends that live outside the sqlite
// database: a YAML file and an etcd key.
package banstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

type banDocument struct {
	BannedIPs []string `yaml:"banned_ips"`
}

// FileStore keeps the ban set in a YAML document with a single banned_ips
// list. Writes go to a temporary file that is renamed over the original.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) Update(ctx context.Context, fn func(current []string) ([]string, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	current, err := s.read()
	if err != nil {
		return err
	}
	next, err := fn(slices.Clone(current))
	if err != nil {
		return err
	}
	return s.write(normalize(next))
}

func (s *FileStore) read() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ban file: %w", err)
	}
	var doc banDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse ban file %s: %w", s.path, err)
	}
	return normalize(doc.BannedIPs), nil
}

func (s *FileStore) write(addrs []string) error {
	data, err := yaml.Marshal(banDocument{BannedIPs: addrs})
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".bans-*.yaml")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func normalize(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if addr != "" {
			out = append(out, addr)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

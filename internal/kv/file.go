package kv

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	fileutil "followpilot/internal/file"
)

// fileStore keeps one JSON document per key under dataDir/kv.
type fileStore struct {
	dir string
}

// NewFileStore returns a Store writing documents atomically under dataDir.
func NewFileStore(dataDir string) (Store, error) { //nolint:ireturn
	if dataDir == "" {
		dataDir = "data"
	}
	dir := filepath.Join(dataDir, "kv")
	if err := fileutil.EnsureDir(dir); err != nil {
		return nil, err
	}
	return &fileStore{dir: dir}, nil
}

func (s *fileStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, "..") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.dir, key+".json"), nil
}

func (s *fileStore) Get(_ context.Context, key string) ([]byte, error) { //nolint:revive // context reserved for future use
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, ok, err := fileutil.ReadIfExists(p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (s *fileStore) Set(_ context.Context, key string, value []byte) error { //nolint:revive // context reserved for future use
	p, err := s.path(key)
	if err != nil {
		return err
	}
	return fileutil.WriteBytesAtomic(p, value) //nolint:wrapcheck
}

func (s *fileStore) Remove(_ context.Context, key string) error { //nolint:revive // context reserved for future use
	p, err := s.path(key)
	if err != nil {
		return err
	}
	return fileutil.RemoveIfExists(p) //nolint:wrapcheck
}

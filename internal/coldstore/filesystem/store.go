package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/smallbiznis/billarchive/internal/coldstore/domain"
)

const scheme = "file://"

// Store writes blobs below a root directory. Writes go to a temp file that is
// renamed (overwrite) or hard linked (no overwrite) into place, so readers
// never observe a partial blob.
type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("filesystem cold store requires a root directory")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create root %s: %w", abs, err)
	}
	return &Store{root: abs}, nil
}

func (s *Store) Put(ctx context.Context, name string, data []byte, overwrite bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if overwrite {
		if err := os.Rename(tmpName, target); err != nil {
			return "", err
		}
	} else if err := os.Link(tmpName, target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", domain.ErrExists
		}
		return "", err
	}
	return scheme + filepath.ToSlash(target), nil
}

func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *Store) NameFromLocator(locator string) (string, bool) {
	prefix := scheme + filepath.ToSlash(s.root) + "/"
	if !strings.HasPrefix(locator, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(locator, prefix)
	if _, err := s.resolve(name); err != nil {
		return "", false
	}
	return name, true
}

func (s *Store) resolve(name string) (string, error) {
	if name == "" {
		return "", errors.New("empty object name")
	}
	native := filepath.FromSlash(name)
	if filepath.Clean(native) != native {
		return "", fmt.Errorf("object name %q is not canonical", name)
	}
	target := filepath.Join(s.root, native)
	rel, err := filepath.Rel(s.root, target)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("object name %q escapes the store root", name)
	}
	return target, nil
}

// Package artifact stores report image payloads on the local
// filesystem and hands out the public URLs they are served under.
package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store is a directory-backed artifact store.
type Store struct {
	dir       string
	urlPrefix string
}

// NewStore creates the backing directory if needed. urlPrefix is the
// public path artifacts are served under, e.g.
// "http://host/api/v1/images".
func NewStore(dir, urlPrefix string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{dir: dir, urlPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

// Save writes the payload under the given name and returns its public
// URL. A name that is already taken gets a numeric suffix rather than
// overwriting the stored artifact. Names containing path separators
// are rejected.
func (s *Store) Save(name string, data []byte) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	final := name
	for i := 1; s.Exists(final); i++ {
		ext := filepath.Ext(name)
		final = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), i, ext)
	}
	path := filepath.Join(s.dir, final)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", final, err)
	}
	return s.urlPrefix + "/" + final, nil
}

// Exists reports whether an artifact with the given name is stored.
func (s *Store) Exists(name string) bool {
	if checkName(name) != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(s.dir, name))
	return err == nil
}

// Open returns a reader over the named artifact.
func (s *Store) Open(name string) (io.ReadCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact %s: %w", name, os.ErrNotExist)
		}
		return nil, err
	}
	return f, nil
}

// Path returns the on-disk path of the named artifact.
func (s *Store) Path(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name), nil
}

// Dir returns the backing directory.
func (s *Store) Dir() string { return s.dir }

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}

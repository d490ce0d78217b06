package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// LocalStore keeps objects as files under a root directory. It is meant for
// single host deployments and development without an S3 endpoint.
type LocalStore struct {
	root string
}

var _ ObjectStore = (*LocalStore)(nil)

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create storage directory")
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(key))
	if !strings.HasPrefix(p, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", errors.Errorf("invalid object key %q", key)
	}
	return p, nil
}

// Put writes through a temp file and renames it into place so readers never
// see a partial object.
func (s *LocalStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return errors.Wrapf(err, "failed to put %s", key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return errors.Wrapf(err, "failed to put %s", key)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to put %s", key)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to put %s", key)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), p), "failed to put %s", key)
}

func (s *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get %s", key)
	}
	return f, nil
}

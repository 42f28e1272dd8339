package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrTooLarge is returned by BlobStore.Put when the content exceeds the limit.
var ErrTooLarge = errors.New("attachment too large")

// BlobStore keeps uploaded attachments as files named <uuid><ext>.
type BlobStore struct {
	dir   string
	limit int64
}

func NewBlobStore(dir string, limit int64) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachments directory: %w", err)
	}
	return &BlobStore{dir: dir, limit: limit}, nil
}

// Put writes r under a fresh name keeping the extension of fileName.
func (b *BlobStore) Put(fileName string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(fileName)))
	name := uuid.NewString() + ext

	f, err := os.CreateTemp(b.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	src := r
	if b.limit > 0 {
		src = io.LimitReader(r, b.limit+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if b.limit > 0 && n > b.limit {
		return "", ErrTooLarge
	}
	if err := os.Rename(tmp, filepath.Join(b.dir, name)); err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}
	return name, nil
}

// Open returns the blob called name. Names that would escape the
// attachments directory are reported as ErrNotFound.
func (b *BlobStore) Open(name string) (*os.File, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, ErrNotFound
	}
	f, err := os.Open(filepath.Join(b.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

// Package blob stores uploaded image bytes on the local filesystem.
// Images are written to a staging area first and moved into the
// serving area only when the enclosing ingestion promotes them, so a
// failed ingestion can always delete everything it wrote.
package blob

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("image not found")
	ErrInvalidHandle = errors.New("invalid image handle")
)

type Store struct {
	dir        string
	stagingDir string
}

func Open(dir string) (*Store, error) {
	staging := filepath.Join(dir, ".staging")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, stagingDir: staging}, nil
}

// Stage writes the image bytes into the staging area and returns the
// opaque handle the committed post will reference. The extension is
// derived from the declared content type so the serving side can
// recover it with the mime package.
func (s *Store) Stage(contentType string, r io.Reader) (string, error) {
	handle := "img-" + uuid.NewString() + extFor(contentType)
	f, err := os.OpenFile(filepath.Join(s.stagingDir, handle), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("stage image: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("stage image: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("stage image: %w", err)
	}
	return handle, nil
}

// Promote moves a staged image into the serving area. The rename stays
// on one filesystem, so a promoted image is either fully visible or
// still staged, never torn.
func (s *Store) Promote(handle string) error {
	if err := checkHandle(handle); err != nil {
		return err
	}
	return os.Rename(filepath.Join(s.stagingDir, handle), filepath.Join(s.dir, handle))
}

// Discard deletes an image wherever it currently lives. It is the
// rollback half of Stage/Promote and tolerates images that were never
// promoted or already removed.
func (s *Store) Discard(handle string) error {
	if err := checkHandle(handle); err != nil {
		return err
	}
	stagedErr := os.Remove(filepath.Join(s.stagingDir, handle))
	if stagedErr == nil {
		return nil
	}
	servedErr := os.Remove(filepath.Join(s.dir, handle))
	if servedErr == nil || errors.Is(servedErr, os.ErrNotExist) {
		return nil
	}
	return servedErr
}

// Open streams a promoted image. Staged-but-uncommitted images are not
// reachable here.
func (s *Store) Open(handle string) (io.ReadCloser, string, error) {
	if err := checkHandle(handle); err != nil {
		return nil, "", ErrNotFound
	}
	f, err := os.Open(filepath.Join(s.dir, handle))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	contentType := mime.TypeByExtension(filepath.Ext(handle))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return f, contentType, nil
}

// checkHandle rejects anything that does not look like a handle this
// store minted; handles are embedded in URLs and must never escape the
// image directory.
func checkHandle(handle string) error {
	if handle == "" || handle != filepath.Base(handle) || strings.ContainsAny(handle, `/\`) {
		return ErrInvalidHandle
	}
	if !strings.HasPrefix(handle, "img-") {
		return ErrInvalidHandle
	}
	return nil
}

func extFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

// DefaultExt is the note file extension used when none is configured.
const DefaultExt = ".md"

const tmpPrefix = ".ansuz-tmp-"

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to vault directory
	ext  string
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist. An empty ext means DefaultExt.
func NewFS(root, ext string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	if ext == "" {
		ext = DefaultExt
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &FS{root: abs, ext: ext}, nil
}

// Root returns the absolute vault directory.
func (f *FS) Root() string { return f.root }

// Ext returns the note file extension.
func (f *FS) Ext() string { return f.ext }

// safePath resolves an identity against the vault root and rejects any
// result that escapes it (directory traversal).
func (f *FS) safePath(id models.Identity) (string, error) {
	if !id.Valid() {
		return "", apperr.IO("resolve", string(id), errors.New("invalid identity"))
	}
	abs := filepath.Join(f.root, filepath.FromSlash(string(id))+f.ext)
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", apperr.IO("resolve", string(id), errors.New("path escapes vault root"))
	}
	return abs, nil
}

// IdentityOf maps an absolute path inside the vault to its identity.
func (f *FS) IdentityOf(absPath string) (models.Identity, bool) {
	if !strings.HasSuffix(absPath, f.ext) || strings.HasPrefix(filepath.Base(absPath), ".") {
		return "", false
	}
	rel, err := filepath.Rel(f.root, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	id := models.Identity(filepath.ToSlash(strings.TrimSuffix(rel, f.ext)))
	return id, id.Valid()
}

// Fingerprints walks the vault and stats every note file. Hidden files and
// directories are skipped.
func (f *FS) Fingerprints(ctx context.Context) (map[models.Identity]models.Fingerprint, error) {
	out := make(map[models.Identity]models.Fingerprint)
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && p != f.root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		id, ok := f.IdentityOf(p)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil // removed mid-walk
		}
		if err != nil {
			return err
		}
		out[id] = models.NewFingerprint(id, info.ModTime(), info.Size())
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperr.IO("list", "", err)
	}
	return out, nil
}

// Stat fingerprints a single note file.
func (f *FS) Stat(_ context.Context, id models.Identity) (models.Fingerprint, error) {
	abs, err := f.safePath(id)
	if err != nil {
		return models.Fingerprint{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.Fingerprint{}, f.pathErr("stat", id, err)
	}
	return models.NewFingerprint(id, info.ModTime(), info.Size()), nil
}

// Read returns the raw bytes of a note and the fingerprint of the open file.
func (f *FS) Read(ctx context.Context, id models.Identity) ([]byte, models.Fingerprint, error) {
	abs, err := f.safePath(id)
	if err != nil {
		return nil, models.Fingerprint{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, models.Fingerprint{}, err
	}
	file, err := os.Open(abs)
	if err != nil {
		return nil, models.Fingerprint{}, f.pathErr("read", id, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, models.Fingerprint{}, apperr.IO("read", string(id), err)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, models.Fingerprint{}, apperr.IO("read", string(id), err)
	}
	return data, models.NewFingerprint(id, info.ModTime(), int64(len(data))), nil
}

// Write atomically writes content: tmp file → fsync → rename → chtimes.
func (f *FS) Write(ctx context.Context, id models.Identity, content []byte, modified time.Time) (models.Fingerprint, error) {
	abs, err := f.safePath(id)
	if err != nil {
		return models.Fingerprint{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Fingerprint{}, err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.Fingerprint{}, apperr.IO("mkdir", string(id), err)
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return models.Fingerprint{}, apperr.IO("create temp", string(id), err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return models.Fingerprint{}, apperr.IO("write temp", string(id), err)
	}
	if err := tmp.Sync(); err != nil {
		return models.Fingerprint{}, apperr.IO("fsync", string(id), err)
	}
	if err := tmp.Close(); err != nil {
		return models.Fingerprint{}, apperr.IO("close temp", string(id), err)
	}
	if !modified.IsZero() {
		if err := os.Chtimes(tmpName, modified, modified); err != nil {
			return models.Fingerprint{}, apperr.IO("chtimes", string(id), err)
		}
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return models.Fingerprint{}, apperr.IO("rename", string(id), err)
	}
	success = true

	info, err := os.Stat(abs)
	if err != nil {
		return models.Fingerprint{}, apperr.IO("stat", string(id), err)
	}
	return models.NewFingerprint(id, info.ModTime(), info.Size()), nil
}

// Delete removes a note file from the vault.
func (f *FS) Delete(_ context.Context, id models.Identity) error {
	abs, err := f.safePath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return f.pathErr("delete", id, err)
	}
	return nil
}

// Move renames a note file within the vault. The target must not exist.
func (f *FS) Move(_ context.Context, from, to models.Identity) error {
	absOld, err := f.safePath(from)
	if err != nil {
		return err
	}
	absNew, err := f.safePath(to)
	if err != nil {
		return err
	}
	if _, err := os.Stat(absNew); err == nil {
		return apperr.IO("move", string(to), fs.ErrExist)
	}
	if err := os.MkdirAll(filepath.Dir(absNew), 0o755); err != nil {
		return apperr.IO("mkdir", string(to), err)
	}
	if err := os.Rename(absOld, absNew); err != nil {
		return f.pathErr("move", from, err)
	}
	return nil
}

func (f *FS) pathErr(op string, id models.Identity, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return apperr.NotFound(op, string(id))
	}
	return apperr.IO(op, string(id), err)
}

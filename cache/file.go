package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// FileExtension is appended to the key to form the entry file name.
	FileExtension = ".html"

	denyFileName    = ".htaccess"
	denyFileContent = "<IfModule mod_authz_core.c>\nRequire all denied\n</IfModule>\n"
)

// FileCache stores one file per key in a single directory.
// The file content is the raw body and the file modification time is the
// creation time of the entry.
type FileCache struct {
	dir string
}

// NewFileCache provisions dir and returns a file backed cache.
// The directory gets a deny file so a web server serving its parent
// does not expose the entries directly.
func NewFileCache(dir string) (*FileCache, error) {
	if dir == "" {
		return nil, errors.New("cache directory required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	deny := filepath.Join(abs, denyFileName)
	if _, err := os.Stat(deny); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(deny, []byte(denyFileContent), 0o640); err != nil {
			return nil, fmt.Errorf("write deny file: %w", err)
		}
	}
	return &FileCache{dir: abs}, nil
}

// Dir returns the absolute cache directory.
func (f *FileCache) Dir() string {
	return f.dir
}

func (f *FileCache) Get(key string) (CacheEntry, bool, error) {
	path, err := f.path(key)
	if err != nil {
		return CacheEntry{}, false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CacheEntry{}, false, nil
		}
		return CacheEntry{}, false, err
	}
	if info.IsDir() {
		return CacheEntry{}, false, nil
	}
	bytes, err := os.ReadFile(path)
	if err != nil {
		// removed between stat and read
		if errors.Is(err, fs.ErrNotExist) {
			return CacheEntry{}, false, nil
		}
		return CacheEntry{}, false, err
	}
	return CacheEntry{
		Key:       key,
		CreatedAt: info.ModTime(),
		Bytes:     bytes,
	}, true, nil
}

// Put writes the entry to a temporary file and renames it into place,
// so concurrent readers see either the old or the new body.
func (f *FileCache) Put(ce CacheEntry) error {
	path, err := f.path(ce.Key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, ".cache-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(ce.Bytes)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return err
	}

	createdAt := ce.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if err := os.Chtimes(tmpName, createdAt, createdAt); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (f *FileCache) Purge(key string) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (f *FileCache) Clear() (int, error) {
	files, err := filepath.Glob(filepath.Join(f.dir, "*"+FileExtension))
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, file := range files {
		if err := os.Remove(file); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func (f *FileCache) Keys(cb func(string)) error {
	files, err := filepath.Glob(filepath.Join(f.dir, "*"+FileExtension))
	if err != nil {
		return err
	}
	for _, file := range files {
		cb(strings.TrimSuffix(filepath.Base(file), FileExtension))
	}
	return nil
}

func (f *FileCache) Close() error {
	return nil
}

func (f *FileCache) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("invalid cache key %q", key)
	}
	return filepath.Join(f.dir, key+FileExtension), nil
}

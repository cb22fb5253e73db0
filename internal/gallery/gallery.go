// Package gallery persists finished photo strips as PNG files under the
// booth directory and hands out data URLs for in-page display.
package gallery

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store manages the strips directory. Filenames embed a timestamp and a
// content hash, so re-saving an identical strip is harmless.
type Store struct {
	mu  sync.RWMutex
	dir string
}

// NewStore creates a gallery store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// Dir returns the gallery directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Save encodes img as PNG and writes it to the gallery. Returns the full
// path of the written file.
func (s *Store) Save(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode strip: %w", err)
	}
	data := buf.Bytes()

	name := fmt.Sprintf("strip-%s-%s.png", time.Now().Format("20060102-150405"), hashBytes(data))
	path := filepath.Join(s.dir, name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// List returns the gallery's strip filenames, newest first.
func (s *Store) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".png") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// Read returns the bytes of one gallery file by name. Path components are
// rejected.
func (s *Store) Read(name string) ([]byte, error) {
	if name != filepath.Base(name) {
		return nil, fmt.Errorf("invalid gallery name %q", name)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return os.ReadFile(filepath.Join(s.dir, name))
}

// DataURL encodes img as a PNG data URL for direct embedding in a page.
func DataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8]) // 16 hex chars
}

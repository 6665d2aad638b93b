// Package download writes collected tabs as Markdown files with a JSON
// metadata sidecar per file.
package download

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/tabtalk/internal/types"
)

var (
	uuidRe      = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*]`)
)

var (
	// ErrNotFound is returned for unknown download ids.
	ErrNotFound  = errors.New("download not found")
	ErrInvalidID = errors.New("invalid download id")
)

const maxTitleRunes = 100

// Meta describes one saved Markdown file.
type Meta struct {
	ID        string    `json:"id"`
	TabID     string    `json:"tab_id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	File      string    `json:"file"`
	SizeBytes int       `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages Markdown files on disk.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates a Store and ensures the directory exists.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("download store: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) validateID(id string) error {
	if !uuidRe.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// FileName builds the file name for the index-th of total files.
func FileName(title string, index, total int, now time.Time) string {
	name := unsafeChars.ReplaceAllString(title, "-")
	if runes := []rune(name); len(runes) > maxTitleRunes {
		name = string(runes[:maxTitleRunes])
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "page"
	}
	if total > 1 {
		name += fmt.Sprintf("_%d", index+1)
	}
	return name + "_" + now.Local().Format("20060102-1504") + ".md"
}

// Render builds the Markdown document for a tab.
func Render(tab *types.CollectedTabInfo, now time.Time) string {
	return fmt.Sprintf("# %s\n\n**URL:** %s\n\n**Extracted:** %s\n\n---\n\n%s",
		tab.Title, tab.URL, now.UTC().Format("2006-01-02T15:04:05.000Z07:00"), tab.Content)
}

// Save writes the index-th of total tabs and its metadata sidecar.
func (s *Store) Save(tab *types.CollectedTabInfo, index, total int, now time.Time) (Meta, error) {
	if tab == nil {
		return Meta{}, errors.New("download store: nil tab")
	}
	meta := Meta{
		ID:        uuid.NewString(),
		TabID:     tab.TabID,
		Title:     tab.Title,
		URL:       tab.URL,
		CreatedAt: now.UTC(),
	}
	body := []byte(Render(tab, now))
	meta.SizeBytes = len(body)

	s.mu.Lock()
	defer s.mu.Unlock()

	meta.File = s.uniqueName(FileName(tab.Title, index, total, now), meta.ID)
	mdPath := filepath.Join(s.dir, meta.File)
	jsonPath := filepath.Join(s.dir, meta.ID+".json")

	if err := os.WriteFile(mdPath, body, 0o644); err != nil {
		return Meta{}, fmt.Errorf("download store: write markdown: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		_ = os.Remove(mdPath)
		return Meta{}, fmt.Errorf("download store: marshal meta: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		_ = os.Remove(mdPath)
		return Meta{}, fmt.Errorf("download store: write meta: %w", err)
	}
	return meta, nil
}

// uniqueName keeps two saves within the same minute from overwriting each
// other. Callers hold s.mu.
func (s *Store) uniqueName(name, id string) string {
	if _, err := os.Stat(filepath.Join(s.dir, name)); errors.Is(err, os.ErrNotExist) {
		return name
	}
	return strings.TrimSuffix(name, ".md") + "_" + id[:8] + ".md"
}

// Get reads download metadata by ID.
func (s *Store) Get(id string) (Meta, error) {
	if err := s.validateID(id); err != nil {
		return Meta{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readMeta(id)
}

func (s *Store) readMeta(id string) (Meta, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Meta{}, fmt.Errorf("download store: read meta: %w", err)
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("download store: unmarshal meta: %w", err)
	}
	return meta, nil
}

// List returns all downloads sorted by creation time (newest first).
func (s *Store) List() ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("download store: glob: %w", err)
	}

	metas := make([]Meta, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Debug("download meta read failed", "path", path, "error", err)
			continue
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			slog.Debug("download meta decode failed", "path", path, "error", err)
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// Read returns the Markdown file's bytes.
func (s *Store) Read(id string) ([]byte, Meta, error) {
	meta, err := s.Get(id)
	if err != nil {
		return nil, Meta{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.dir, meta.File))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Meta{}, fmt.Errorf("%w: %s file missing", ErrNotFound, id)
		}
		return nil, Meta{}, fmt.Errorf("download store: read markdown: %w", err)
	}
	return data, meta, nil
}

// Delete removes both the Markdown file and its metadata.
func (s *Store) Delete(id string) error {
	if err := s.validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readMeta(id)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(s.dir, meta.File)); err != nil {
		slog.Debug("download file cleanup failed", "id", id, "file", meta.File, "error", err)
	}
	if err := os.Remove(filepath.Join(s.dir, id+".json")); err != nil {
		return fmt.Errorf("download store: remove meta: %w", err)
	}
	return nil
}

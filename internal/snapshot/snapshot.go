// Package snapshot writes run artifacts to the local cache directory. Every
// artifact is stored twice: under a UTC timestamped name and as
// "<kind>-latest.<ext>", so the most recent run has a fixed filename.
package snapshot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dgallion1/docards/internal/extract"
	"github.com/dgallion1/docards/internal/normalize"
)

const timestampLayout = "20060102T150405.000Z"

// Artifact kinds and their extensions.
const (
	KindDocument = "document"
	KindCards    = "cards"
	KindReply    = "reply"
)

var extensions = map[string]string{
	KindDocument: ".md",
	KindCards:    ".json",
	KindReply:    ".txt",
}

// Store writes snapshots below a single directory.
type Store struct {
	dir string
	log *slog.Logger
	now func() time.Time
}

func New(dir string, log *slog.Logger) *Store {
	return &Store{dir: dir, log: log, now: time.Now}
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

// SaveDocument stores the normalized text of doc.
func (s *Store) SaveDocument(doc *normalize.Document) (string, error) {
	return s.save(KindDocument, []byte(doc.NormalizedText))
}

// SaveCards stores cards as an indented JSON array.
func (s *Store) SaveCards(cards []extract.Card) (string, error) {
	if cards == nil {
		cards = []extract.Card{}
	}
	data, err := json.MarshalIndent(cards, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal cards: %w", err)
	}
	return s.save(KindCards, append(data, '\n'))
}

// SaveReply stores a raw model reply for manual inspection.
func (s *Store) SaveReply(raw string) (string, error) {
	return s.save(KindReply, []byte(raw))
}

// LatestDocument returns the most recent normalized document text.
func (s *Store) LatestDocument() (string, error) {
	data, err := os.ReadFile(s.LatestPath(KindDocument))
	if err != nil {
		return "", fmt.Errorf("read latest document: %w", err)
	}
	return string(data), nil
}

// LatestCards returns the most recent cards snapshot.
func (s *Store) LatestCards() ([]extract.Card, error) {
	data, err := os.ReadFile(s.LatestPath(KindCards))
	if err != nil {
		return nil, fmt.Errorf("read latest cards: %w", err)
	}
	var cards []extract.Card
	if err := json.Unmarshal(data, &cards); err != nil {
		return nil, fmt.Errorf("decode latest cards: %w", err)
	}
	return cards, nil
}

// LatestPath is the fixed filename of the newest artifact of kind.
func (s *Store) LatestPath(kind string) string {
	return filepath.Join(s.dir, kind+"-latest"+extensions[kind])
}

func (s *Store) save(kind string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	ts := s.now().UTC().Format(timestampLayout)
	path := filepath.Join(s.dir, kind+"-"+ts+extensions[kind])
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s snapshot: %w", kind, err)
	}
	if err := writeReplace(s.LatestPath(kind), data); err != nil {
		return "", fmt.Errorf("write latest %s snapshot: %w", kind, err)
	}
	if s.log != nil {
		s.log.Debug("snapshot written", "kind", kind, "path", path, "bytes", len(data))
	}
	return path, nil
}

// writeReplace overwrites path via a temp file and rename.
func writeReplace(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

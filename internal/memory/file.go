package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"researchbot/internal/domain"
)

// Document is the on-disk shape of the file backend and of import files.
type Document struct {
	Memories []domain.MemoryEntry `json:"memories"`
	NextID   int                  `json:"next_id"`
}

func emptyDocument() Document {
	return Document{Memories: []domain.MemoryEntry{}, NextID: 1}
}

// normalize guarantees next_id is above every stored id.
func (d *Document) normalize() {
	if d.Memories == nil {
		d.Memories = []domain.MemoryEntry{}
	}
	if d.NextID < 1 {
		d.NextID = 1
	}
	for _, e := range d.Memories {
		if e.ID >= d.NextID {
			d.NextID = e.ID + 1
		}
	}
}

// ReadDocument parses a memory document strictly. Unlike FileStore it fails on
// a missing or malformed file.
func ReadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read memory document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse memory document %s: %w", path, err)
	}
	doc.normalize()
	return doc, nil
}

// FileStore implements domain.MemoryStore on a single JSON document. Every
// operation reads the whole document; mutations write it back through a temp
// file and rename while holding mu.
type FileStore struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create memory directory %s: %w", dir, err)
	}
	return &FileStore{path: path, logger: logger, now: time.Now}, nil
}

// load reads the document. A missing or corrupt document reads as the empty
// state; any other read failure is returned so a mutation never overwrites
// notes it could not see.
func (s *FileStore) load() (Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return emptyDocument(), nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("read memory document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("memory document corrupt, starting empty", "path", s.path, "err", err)
		return emptyDocument(), nil
	}
	doc.normalize()
	return doc, nil
}

func (s *FileStore) save(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memory document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".memory-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace memory document: %w", err)
	}
	return nil
}

func (s *FileStore) Add(_ context.Context, content, author string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return 0, err
	}
	id := doc.NextID
	doc.Memories = append(doc.Memories, domain.MemoryEntry{
		ID:      id,
		Content: content,
		Author:  author,
		Created: domain.NewStamp(s.now()),
	})
	doc.NextID++

	if err := s.save(doc); err != nil {
		return 0, err
	}
	s.logger.Debug("memory added", "id", id, "author", author)
	return id, nil
}

func (s *FileStore) All(_ context.Context) ([]domain.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.Memories, nil
}

func (s *FileStore) Get(_ context.Context, id int) (*domain.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, e := range doc.Memories {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, nil
}

func (s *FileStore) Update(_ context.Context, id int, content string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return false, err
	}
	for i := range doc.Memories {
		if doc.Memories[i].ID != id {
			continue
		}
		stamp := domain.NewStamp(s.now())
		doc.Memories[i].Content = content
		doc.Memories[i].Updated = &stamp
		if err := s.save(doc); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (s *FileStore) Delete(_ context.Context, id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return false, err
	}
	for i, e := range doc.Memories {
		if e.ID != id {
			continue
		}
		doc.Memories = append(doc.Memories[:i], doc.Memories[i+1:]...)
		if err := s.save(doc); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (s *FileStore) Close() error { return nil }

// Open builds the store selected by backend ("file" or "sqlite").
func Open(backend, path string, logger *slog.Logger) (domain.MemoryStore, error) {
	switch backend {
	case "", "file":
		return NewFileStore(path, logger)
	case "sqlite":
		return NewSQLiteStore(path, logger)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", backend)
	}
}

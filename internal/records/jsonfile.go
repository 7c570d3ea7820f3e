package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/m3rciful/botmaker/core/logger"
)

// document is the on-disk layout: {"users": {"<id>": {...}}, "stats": {...}}.
type document struct {
	Users map[string]*UserRecord `json:"users"`
	Stats Stats                  `json:"stats"`
}

// FileStore keeps all records in one JSON document. Every operation loads
// the document, and every write rewrites it in full through a temp file and
// rename, all under one mutex.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

var _ Store = (*FileStore)(nil)

// OpenFile opens or creates the document at path.
func OpenFile(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	s := &FileStore{path: path, now: time.Now}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := s.save(s.empty()); err != nil {
			return nil, err
		}
		logger.Store.Info("record document created",
			slog.String("event", "store.open"),
			slog.String("path", path),
		)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat store: %w", err)
	}
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	logger.Store.Info("record document opened",
		slog.String("event", "store.open"),
		slog.String("path", path),
		slog.Int("users", len(doc.Users)),
	)
	return s, nil
}

func (s *FileStore) empty() *document {
	return &document{
		Users: make(map[string]*UserRecord),
		Stats: Stats{StartDate: s.now().UTC()},
	}
}

// load reads the document. A missing file reads as empty and a corrupt one
// is moved aside and reads as empty. A file that exists but cannot be read
// is an error, so no write replaces it.
func (s *FileStore) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s.empty(), nil
	}
	if err != nil {
		logger.Store.Error("record document unreadable",
			slog.String("event", "store.load"),
			slog.String("path", s.path),
			logger.Err(err),
		)
		return nil, fmt.Errorf("read records: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		aside := s.path + ".corrupt-" + s.now().UTC().Format("20060102T150405")
		renameErr := os.Rename(s.path, aside)
		logger.Store.Error("record document corrupt",
			slog.String("event", "store.load"),
			slog.String("path", s.path),
			slog.String("moved_to", aside),
			slog.Bool("moved", renameErr == nil),
			logger.Err(err),
		)
		return s.empty(), nil
	}

	if doc.Users == nil {
		doc.Users = make(map[string]*UserRecord)
	}
	for key, u := range doc.Users {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || u == nil {
			logger.Store.Warn("skipping malformed user entry",
				slog.String("event", "store.load"),
				slog.String("key", key),
			)
			delete(doc.Users, key)
			continue
		}
		u.ID = id
	}
	if doc.Stats.StartDate.IsZero() {
		doc.Stats.StartDate = s.now().UTC()
	}
	return &doc, nil
}

func (s *FileStore) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace record document: %w", err)
	}
	return nil
}

func (s *FileStore) saveLogged(ctx context.Context, doc *document, op string) error {
	if err := s.save(doc); err != nil {
		logger.Store.ErrorContext(ctx, "record save failed",
			slog.String("event", "store.save"),
			slog.String("op", op),
			logger.Err(err),
		)
		return err
	}
	return nil
}

func key(id int64) string { return strconv.FormatInt(id, 10) }

// GetUser returns a copy of the user's record or ErrNotFound.
func (s *FileStore) GetUser(_ context.Context, id int64) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	u, ok := doc.Users[key(id)]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

// PutUser replaces the user's record.
func (s *FileStore) PutUser(ctx context.Context, u *UserRecord) error {
	if u == nil || u.ID == 0 {
		return errors.New("records: put user without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Users[key(u.ID)] = u.Clone()
	return s.saveLogged(ctx, doc, "put_user")
}

// ListUsers returns copies of every record ordered by ID.
func (s *FileStore) ListUsers(_ context.Context) ([]*UserRecord, error) {
	s.mu.Lock()
	doc, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]*UserRecord, 0, len(doc.Users))
	for _, u := range doc.Users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Update applies fn to the user's record under the store lock.
func (s *FileStore) Update(ctx context.Context, id int64, fn UpdateFunc) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	cur, found := doc.Users[key(id)]
	work := &UserRecord{ID: id}
	if found {
		work = cur.Clone()
	}
	if err := fn(work, found); err != nil {
		if errors.Is(err, ErrUnchanged) {
			if !found {
				return nil, ErrNotFound
			}
			return cur.Clone(), nil
		}
		return nil, err
	}
	work.ID = id
	doc.Users[key(id)] = work
	if err := s.saveLogged(ctx, doc, "update"); err != nil {
		return nil, err
	}
	return work.Clone(), nil
}

// Stats returns the document counters.
func (s *FileStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return Stats{}, err
	}
	return doc.Stats, nil
}

// UpdateStats applies fn to the counters under the store lock.
func (s *FileStore) UpdateStats(ctx context.Context, fn func(*Stats) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(&doc.Stats); err != nil {
		if errors.Is(err, ErrUnchanged) {
			return nil
		}
		return err
	}
	return s.saveLogged(ctx, doc, "update_stats")
}

// Close is a no-op; every write is already on disk.
func (s *FileStore) Close() error { return nil }

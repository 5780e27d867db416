package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/bazar/internal/listing"
)

// FileStore keeps sessions and the action log in one JSON document and each
// listing in its own file. All operations are serialized by a single mutex.
type FileStore struct {
	mu          sync.Mutex
	usersPath   string
	listingsDir string
}

type usersDoc struct {
	Sessions map[string]SessionRecord `json:"sessions"`
	Logs     []ActionEntry            `json:"logs"`
}

// OpenFile creates dataDir and its listings directory if needed.
func OpenFile(dataDir string) (*FileStore, error) {
	listingsDir := filepath.Join(dataDir, "listings")
	if err := os.MkdirAll(listingsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &FileStore{
		usersPath:   filepath.Join(dataDir, "users.json"),
		listingsDir: listingsDir,
	}, nil
}

// Close is a no-op; every operation flushes to disk.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) load() (usersDoc, error) {
	doc := usersDoc{Sessions: map[string]SessionRecord{}}
	data, err := os.ReadFile(s.usersPath)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("reading %s: %w", s.usersPath, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parsing %s: %w", s.usersPath, err)
	}
	if doc.Sessions == nil {
		doc.Sessions = map[string]SessionRecord{}
	}
	return doc, nil
}

func (s *FileStore) save(doc usersDoc) error {
	if doc.Logs == nil {
		doc.Logs = []ActionEntry{}
	}
	return writeJSONAtomic(s.usersPath, doc)
}

// writeJSONAtomic writes v to a temp file beside path and renames it into place.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func sessionKey(userID int64) string { return strconv.FormatInt(userID, 10) }

// --- Sessions ---

func (s *FileStore) GetSession(userID int64) (SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return SessionRecord{}, err
	}
	rec, ok := doc.Sessions[sessionKey(userID)]
	if !ok {
		return SessionRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *FileStore) CreateSession(rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	key := sessionKey(rec.UserID)
	if _, ok := doc.Sessions[key]; ok {
		return ErrSessionExists
	}
	now := time.Now().UTC()
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	rec.UpdatedAt = now
	doc.Sessions[key] = rec
	return s.save(doc)
}

func (s *FileStore) UpdateSession(userID int64, fn func(*SessionRecord) error) (SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return SessionRecord{}, err
	}
	key := sessionKey(userID)
	rec, ok := doc.Sessions[key]
	if !ok {
		return SessionRecord{}, ErrNotFound
	}
	if err := fn(&rec); err != nil {
		return SessionRecord{}, err
	}
	rec.UserID = userID
	rec.UpdatedAt = time.Now().UTC()
	doc.Sessions[key] = rec
	if err := s.save(doc); err != nil {
		return SessionRecord{}, err
	}
	return rec, nil
}

func (s *FileStore) DeleteSession(userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return false, err
	}
	key := sessionKey(userID)
	if _, ok := doc.Sessions[key]; !ok {
		return false, nil
	}
	delete(doc.Sessions, key)
	return true, s.save(doc)
}

func (s *FileStore) CompleteSession(userID int64, build func(SessionRecord) (listing.Listing, error)) (listing.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return listing.Listing{}, err
	}
	key := sessionKey(userID)
	rec, ok := doc.Sessions[key]
	if !ok {
		return listing.Listing{}, ErrNotFound
	}
	l, err := build(rec)
	if err != nil {
		return listing.Listing{}, err
	}
	if err := s.writeListing(l); err != nil {
		return listing.Listing{}, err
	}
	delete(doc.Sessions, key)
	if err := s.save(doc); err != nil {
		// Roll back so a retry cannot create the listing twice.
		os.Remove(s.listingPath(l.ID))
		return listing.Listing{}, err
	}
	return l, nil
}

// --- Listings ---

func (s *FileStore) listingPath(id string) string {
	return filepath.Join(s.listingsDir, "listing_"+id+".json")
}

func (s *FileStore) writeListing(l listing.Listing) error {
	if l.ID == "" || strings.ContainsAny(l.ID, `/\`) {
		return fmt.Errorf("invalid listing id %q", l.ID)
	}
	return writeJSONAtomic(s.listingPath(l.ID), l)
}

func (s *FileStore) readListing(path string) (listing.Listing, error) {
	var l listing.Listing
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if err := json.Unmarshal(data, &l); err != nil {
		return l, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return l, nil
}

func (s *FileStore) GetListing(id string) (listing.Listing, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return listing.Listing{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readListing(s.listingPath(id))
}

func (s *FileStore) allListings(keep func(listing.Listing) bool) ([]listing.Listing, error) {
	entries, err := os.ReadDir(s.listingsDir)
	if err != nil {
		return nil, fmt.Errorf("reading listings directory: %w", err)
	}
	var out []listing.Listing
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "listing_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		l, err := s.readListing(filepath.Join(s.listingsDir, name))
		if err != nil {
			return nil, err
		}
		if keep == nil || keep(l) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *FileStore) ListUserListings(userID int64, limit int) ([]listing.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ls, err := s.allListings(func(l listing.Listing) bool { return l.UserID == userID })
	if err != nil {
		return nil, err
	}
	return sortNewestFirst(ls, limit), nil
}

func (s *FileStore) ListListings(limit int) ([]listing.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ls, err := s.allListings(nil)
	if err != nil {
		return nil, err
	}
	return sortNewestFirst(ls, limit), nil
}

func (s *FileStore) updateListing(id string, fn func(*listing.Listing)) (listing.Listing, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return listing.Listing{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.readListing(s.listingPath(id))
	if err != nil {
		return listing.Listing{}, err
	}
	fn(&l)
	l.UpdatedAt = time.Now().UTC()
	if err := s.writeListing(l); err != nil {
		return listing.Listing{}, err
	}
	return l, nil
}

func (s *FileStore) UpdateListingStatus(id string, status listing.Status) (listing.Listing, error) {
	return s.updateListing(id, func(l *listing.Listing) { l.Status = status })
}

func (s *FileStore) UpdateListingPrice(id string, price float64) (listing.Listing, error) {
	return s.updateListing(id, func(l *listing.Listing) { l.Price = price })
}

// --- Action log ---

func (s *FileStore) LogAction(entry ActionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Logs = append(doc.Logs, prepareAction(entry))
	if n := len(doc.Logs); n > MaxActions {
		doc.Logs = append([]ActionEntry(nil), doc.Logs[n-MaxActions:]...)
	}
	return s.save(doc)
}

// RecentActions returns up to limit entries, newest first.
func (s *FileStore) RecentActions(limit int) ([]ActionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	n := len(doc.Logs)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ActionEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, doc.Logs[i])
	}
	return out, nil
}

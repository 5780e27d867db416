package storage

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/bazar/internal/listing"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrSessionExists is returned by CreateSession when the user already has a live session.
var ErrSessionExists = errors.New("session already exists")

// MaxActions is the number of action log entries retained.
const MaxActions = 1000

// SessionRecord is the persisted form of one user's in-progress listing flow.
// State names the conversation step; the remaining fields are filled as the
// flow advances.
type SessionRecord struct {
	UserID      int64              `json:"user_id"`
	Username    string             `json:"username,omitempty"`
	State       string             `json:"state"`
	Category    string             `json:"category,omitempty"`
	Subcategory string             `json:"subcategory,omitempty"`
	ProductName string             `json:"product_name,omitempty"`
	Description string             `json:"description,omitempty"`
	Extracted   *listing.Extracted `json:"extracted,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// ActionEntry is one line of the append-only audit log.
type ActionEntry struct {
	ID        string         `json:"id"`
	UserID    int64          `json:"user_id"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Store is the persistence contract shared by the file and SQLite backends.
type Store interface {
	GetSession(userID int64) (SessionRecord, error)
	CreateSession(rec SessionRecord) error
	// UpdateSession applies fn to the stored session and persists the result.
	// If fn returns an error nothing is written and the error is returned.
	UpdateSession(userID int64, fn func(*SessionRecord) error) (SessionRecord, error)
	DeleteSession(userID int64) (bool, error)
	// CompleteSession builds a listing from the session, persists it and
	// removes the session, all under one lock or transaction.
	CompleteSession(userID int64, build func(SessionRecord) (listing.Listing, error)) (listing.Listing, error)

	GetListing(id string) (listing.Listing, error)
	ListUserListings(userID int64, limit int) ([]listing.Listing, error)
	ListListings(limit int) ([]listing.Listing, error)
	UpdateListingStatus(id string, status listing.Status) (listing.Listing, error)
	UpdateListingPrice(id string, price float64) (listing.Listing, error)

	LogAction(entry ActionEntry) error
	RecentActions(limit int) ([]ActionEntry, error)

	Close() error
}

// Open returns the backend named by kind ("file" or "sqlite") rooted at dataDir.
func Open(kind, dataDir string) (Store, error) {
	switch kind {
	case "", "file":
		return OpenFile(dataDir)
	case "sqlite":
		return OpenSQLite(dataDir)
	}
	return nil, fmt.Errorf("unknown storage backend %q (want file or sqlite)", kind)
}

func prepareAction(e ActionEntry) ActionEntry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return e
}

// sortNewestFirst orders listings by creation time, newest first, and trims
// the result to limit when limit is positive.
func sortNewestFirst(ls []listing.Listing, limit int) []listing.Listing {
	sort.Slice(ls, func(i, j int) bool {
		if !ls[i].CreatedAt.Equal(ls[j].CreatedAt) {
			return ls[i].CreatedAt.After(ls[j].CreatedAt)
		}
		return ls[i].ID > ls[j].ID
	})
	if limit > 0 && len(ls) > limit {
		ls = ls[:limit]
	}
	return ls
}

package storage

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/bazar/internal/listing"
)

// backends returns a fresh instance of every Store implementation.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := OpenFile(t.TempDir())
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	sq, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite(:memory:): %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]Store{"file": fs, "sqlite": sq}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) { fn(t, s) })
	}
}

func sampleListing(id string, userID int64, created time.Time) listing.Listing {
	return listing.Listing{
		ID:          id,
		UserID:      userID,
		Username:    "seller",
		Category:    "Electronics",
		Subcategory: "Smartphones & Accessories",
		ProductName: "iPhone 13",
		Title:       "iPhone 13 128GB",
		Description: "Lightly used, with box.",
		Attributes: listing.NewAttributes(
			listing.Pair{Name: "Brand", Value: "Apple"},
			listing.Pair{Name: "Color", Value: listing.NotFound},
		),
		Confidence:      0.8,
		PriceSuggestion: listing.PriceSuggestion{MinPrice: 300, MaxPrice: 400, Currency: "USD"},
		Price:           350,
		Status:          listing.StatusActive,
		CreatedAt:       created.UTC(),
		UpdatedAt:       created.UTC(),
	}
}

func TestSessionLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		if _, err := s.GetSession(42); !errors.Is(err, ErrNotFound) {
			t.Fatalf("GetSession on empty store: err = %v, want ErrNotFound", err)
		}

		if err := s.CreateSession(SessionRecord{UserID: 42, Username: "ana", State: "category_selection"}); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		if err := s.CreateSession(SessionRecord{UserID: 42, State: "category_selection"}); !errors.Is(err, ErrSessionExists) {
			t.Fatalf("second CreateSession: err = %v, want ErrSessionExists", err)
		}

		ext := &listing.Extracted{
			Success:     true,
			ProductName: "iPhone 13",
			Attributes:  listing.NewAttributes(listing.Pair{Name: "Brand", Value: "Apple"}),
			Confidence:  0.7,
		}
		updated, err := s.UpdateSession(42, func(r *SessionRecord) error {
			r.State = "confirmation"
			r.Category = "Electronics"
			r.Extracted = ext
			return nil
		})
		if err != nil {
			t.Fatalf("UpdateSession: %v", err)
		}
		if updated.State != "confirmation" {
			t.Errorf("updated State = %q", updated.State)
		}

		got, err := s.GetSession(42)
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if got.Username != "ana" || got.Category != "Electronics" || got.State != "confirmation" {
			t.Errorf("session = %+v", got)
		}
		if got.Extracted == nil {
			t.Fatal("Extracted not persisted")
		}
		if v, _ := got.Extracted.Attributes.Get("Brand"); v != "Apple" {
			t.Errorf("Extracted Brand = %q", v)
		}
		if got.StartedAt.IsZero() || got.UpdatedAt.Before(got.StartedAt) {
			t.Errorf("timestamps: started %v updated %v", got.StartedAt, got.UpdatedAt)
		}

		deleted, err := s.DeleteSession(42)
		if err != nil || !deleted {
			t.Fatalf("DeleteSession = %v, %v", deleted, err)
		}
		deleted, err = s.DeleteSession(42)
		if err != nil || deleted {
			t.Fatalf("second DeleteSession = %v, %v", deleted, err)
		}
	})
}

func TestUpdateSession_VetoAndMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		if _, err := s.UpdateSession(7, func(*SessionRecord) error { return nil }); !errors.Is(err, ErrNotFound) {
			t.Fatalf("UpdateSession on missing session: err = %v, want ErrNotFound", err)
		}

		if err := s.CreateSession(SessionRecord{UserID: 7, State: "processing", ProductName: "Bike"}); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		veto := errors.New("state changed")
		_, err := s.UpdateSession(7, func(r *SessionRecord) error {
			r.State = "confirmation"
			return veto
		})
		if !errors.Is(err, veto) {
			t.Fatalf("err = %v, want veto", err)
		}
		got, _ := s.GetSession(7)
		if got.State != "processing" {
			t.Errorf("vetoed update was written: State = %q", got.State)
		}
	})
}

func TestCompleteSession(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		if err := s.CreateSession(SessionRecord{UserID: 5, State: "price_input", ProductName: "iPhone 13"}); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}

		now := time.Now()
		built := 0
		l, err := s.CompleteSession(5, func(rec SessionRecord) (listing.Listing, error) {
			built++
			if rec.ProductName != "iPhone 13" {
				t.Errorf("build got %+v", rec)
			}
			return sampleListing(listing.NewIDAt(now), rec.UserID, now), nil
		})
		if err != nil {
			t.Fatalf("CompleteSession: %v", err)
		}
		if built != 1 {
			t.Errorf("build called %d times", built)
		}
		if _, err := s.GetSession(5); !errors.Is(err, ErrNotFound) {
			t.Errorf("session still present after completion: %v", err)
		}

		stored, err := s.GetListing(l.ID)
		if err != nil {
			t.Fatalf("GetListing: %v", err)
		}
		if stored.Price != 350 || stored.Status != listing.StatusActive || stored.Title != "iPhone 13 128GB" {
			t.Errorf("stored listing = %+v", stored)
		}
		if got := stored.Attributes.Pairs(); len(got) != 2 || got[0].Name != "Brand" || got[1].Name != "Color" {
			t.Errorf("attribute order lost: %v", got)
		}
		if stored.PriceSuggestion.MaxPrice != 400 {
			t.Errorf("PriceSuggestion = %+v", stored.PriceSuggestion)
		}

		if _, err := s.CompleteSession(5, func(SessionRecord) (listing.Listing, error) {
			t.Error("build called without a session")
			return listing.Listing{}, nil
		}); !errors.Is(err, ErrNotFound) {
			t.Errorf("second CompleteSession: err = %v, want ErrNotFound", err)
		}
	})
}

func TestCompleteSession_BuildError(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		s.CreateSession(SessionRecord{UserID: 9, State: "price_input"})
		boom := errors.New("boom")
		if _, err := s.CompleteSession(9, func(SessionRecord) (listing.Listing, error) {
			return listing.Listing{}, boom
		}); !errors.Is(err, boom) {
			t.Fatalf("err = %v, want boom", err)
		}
		if _, err := s.GetSession(9); err != nil {
			t.Errorf("session removed after failed build: %v", err)
		}
	})
}

func TestCompleteSession_Concurrent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		s.CreateSession(SessionRecord{UserID: 11, State: "price_input"})

		var wg sync.WaitGroup
		var mu sync.Mutex
		created := 0
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.CompleteSession(11, func(rec SessionRecord) (listing.Listing, error) {
					now := time.Now()
					return sampleListing(listing.NewIDAt(now), rec.UserID, now), nil
				})
				if err == nil {
					mu.Lock()
					created++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if created != 1 {
			t.Errorf("created %d listings, want exactly 1", created)
		}
		ls, err := s.ListUserListings(11, 0)
		if err != nil {
			t.Fatalf("ListUserListings: %v", err)
		}
		if len(ls) != 1 {
			t.Errorf("stored %d listings, want 1", len(ls))
		}
	})
}

func TestListings_OrderingAndUpdates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for i, uid := range []int64{1, 2, 1, 1} {
			at := base.Add(time.Duration(i) * time.Minute)
			s.CreateSession(SessionRecord{UserID: uid, State: "price_input"})
			if _, err := s.CompleteSession(uid, func(SessionRecord) (listing.Listing, error) {
				return sampleListing(fmt.Sprintf("L%02d", i), uid, at), nil
			}); err != nil {
				t.Fatalf("CompleteSession %d: %v", i, err)
			}
		}

		mine, err := s.ListUserListings(1, 2)
		if err != nil {
			t.Fatalf("ListUserListings: %v", err)
		}
		if len(mine) != 2 || mine[0].ID != "L03" || mine[1].ID != "L02" {
			t.Errorf("ListUserListings(1, 2) = %v", ids(mine))
		}

		all, err := s.ListListings(0)
		if err != nil {
			t.Fatalf("ListListings: %v", err)
		}
		if got := ids(all); fmt.Sprint(got) != "[L03 L02 L01 L00]" {
			t.Errorf("ListListings = %v", got)
		}

		sold, err := s.UpdateListingStatus("L01", listing.StatusSold)
		if err != nil {
			t.Fatalf("UpdateListingStatus: %v", err)
		}
		if sold.Status != listing.StatusSold || !sold.UpdatedAt.After(sold.CreatedAt) {
			t.Errorf("after status update: %+v", sold)
		}
		repriced, err := s.UpdateListingPrice("L01", 99.5)
		if err != nil {
			t.Fatalf("UpdateListingPrice: %v", err)
		}
		if repriced.Price != 99.5 || repriced.Status != listing.StatusSold {
			t.Errorf("after price update: %+v", repriced)
		}

		if _, err := s.UpdateListingStatus("missing", listing.StatusSold); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateListingStatus(missing): err = %v", err)
		}
		if _, err := s.GetListing("missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetListing(missing): err = %v", err)
		}
	})
}

func ids(ls []listing.Listing) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.ID
	}
	return out
}

func TestActionLog(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		if err := s.LogAction(ActionEntry{UserID: 3, Action: "listing_started"}); err != nil {
			t.Fatalf("LogAction: %v", err)
		}
		if err := s.LogAction(ActionEntry{UserID: 3, Action: "category_selected", Details: map[string]any{"category": "Fashion"}}); err != nil {
			t.Fatalf("LogAction: %v", err)
		}

		got, err := s.RecentActions(10)
		if err != nil {
			t.Fatalf("RecentActions: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		if got[0].Action != "category_selected" || got[0].Details["category"] != "Fashion" {
			t.Errorf("newest entry = %+v", got[0])
		}
		if got[1].ID == "" || got[1].Timestamp.IsZero() {
			t.Errorf("entry not stamped: %+v", got[1])
		}
	})
}

func TestActionLog_Capped(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		for i := range MaxActions + 25 {
			if err := s.LogAction(ActionEntry{UserID: int64(i), Action: "product_name_entered"}); err != nil {
				t.Fatalf("LogAction %d: %v", i, err)
			}
		}
		got, err := s.RecentActions(0)
		if err != nil {
			t.Fatalf("RecentActions: %v", err)
		}
		if len(got) != MaxActions {
			t.Fatalf("len = %d, want %d", len(got), MaxActions)
		}
		if got[0].UserID != MaxActions+24 || got[len(got)-1].UserID != 25 {
			t.Errorf("kept range %d..%d", got[len(got)-1].UserID, got[0].UserID)
		}
	})
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := Open("redis", t.TempDir()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

// TestFileStore_Reopen verifies state survives a new FileStore on the same directory.
func TestFileStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	s1, _ := OpenFile(dir)
	s1.CreateSession(SessionRecord{UserID: 1, State: "product_input", Category: "Fashion"})

	s2, err := OpenFile(dir)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	got, err := s2.GetSession(1)
	if err != nil || got.Category != "Fashion" {
		t.Errorf("GetSession after reopen = %+v, %v", got, err)
	}
}

// TestMigrationsIdempotent runs OpenSQLite twice on the same directory and
// verifies migrations are not re-applied.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := OpenSQLite(dir)
	if err != nil {
		t.Fatalf("first OpenSQLite failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := OpenSQLite(dir)
	if err != nil {
		t.Fatalf("second OpenSQLite failed: %v", err)
	}
	defer s2.Close()
	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestIndexesExist(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	for _, idx := range []string{"idx_listings_user_created", "idx_listings_created", "idx_action_log_user"} {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count); err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestParseMigrationVersion(t *testing.T) {
	if v, err := parseMigrationVersion("001_init.sql"); err != nil || v != 1 {
		t.Errorf("parseMigrationVersion = %d, %v", v, err)
	}
	if _, err := parseMigrationVersion("init.sql"); err == nil {
		t.Error("expected error for unnumbered file")
	}
}

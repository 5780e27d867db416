package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/bazar/internal/listing"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) bazar.db in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "bazar.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *SQLiteStore) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *SQLiteStore) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(field, v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- Sessions ---

const sessionColumns = `user_id, username, state, category, subcategory, product_name, description, extracted, started_at, updated_at`

func scanSession(row rowScanner) (SessionRecord, error) {
	var rec SessionRecord
	var extracted sql.NullString
	var startedAt, updatedAt string
	if err := row.Scan(&rec.UserID, &rec.Username, &rec.State, &rec.Category, &rec.Subcategory,
		&rec.ProductName, &rec.Description, &extracted, &startedAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionRecord{}, ErrNotFound
		}
		return SessionRecord{}, err
	}
	if extracted.Valid && extracted.String != "" {
		rec.Extracted = &listing.Extracted{}
		if err := json.Unmarshal([]byte(extracted.String), rec.Extracted); err != nil {
			return SessionRecord{}, fmt.Errorf("parsing extracted data for user %d: %w", rec.UserID, err)
		}
	}
	var err error
	if rec.StartedAt, err = parseTime("started_at", startedAt); err != nil {
		return SessionRecord{}, err
	}
	if rec.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return SessionRecord{}, err
	}
	return rec, nil
}

func encodeExtracted(e *listing.Extracted) (sql.NullString, error) {
	if e == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding extracted data: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func (s *SQLiteStore) GetSession(userID int64) (SessionRecord, error) {
	return scanSession(s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ?`, userID))
}

func (s *SQLiteStore) CreateSession(rec SessionRecord) error {
	now := time.Now().UTC()
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	extracted, err := encodeExtracted(rec.Extracted)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		rec.UserID, rec.Username, rec.State, rec.Category, rec.Subcategory, rec.ProductName,
		rec.Description, extracted, formatTime(rec.StartedAt), formatTime(now),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionExists
	}
	return nil
}

func (s *SQLiteStore) UpdateSession(userID int64, fn func(*SessionRecord) error) (SessionRecord, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return SessionRecord{}, fmt.Errorf("beginning session update: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanSession(tx.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ?`, userID))
	if err != nil {
		return SessionRecord{}, err
	}
	if err := fn(&rec); err != nil {
		return SessionRecord{}, err
	}
	rec.UserID = userID
	rec.UpdatedAt = time.Now().UTC()

	extracted, err := encodeExtracted(rec.Extracted)
	if err != nil {
		return SessionRecord{}, err
	}
	if _, err := tx.Exec(`
		UPDATE sessions SET username = ?, state = ?, category = ?, subcategory = ?, product_name = ?,
			description = ?, extracted = ?, updated_at = ?
		WHERE user_id = ?`,
		rec.Username, rec.State, rec.Category, rec.Subcategory, rec.ProductName,
		rec.Description, extracted, formatTime(rec.UpdatedAt), userID,
	); err != nil {
		return SessionRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return SessionRecord{}, fmt.Errorf("committing session update: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) DeleteSession(userID int64) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) CompleteSession(userID int64, build func(SessionRecord) (listing.Listing, error)) (listing.Listing, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return listing.Listing{}, fmt.Errorf("beginning completion: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanSession(tx.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ?`, userID))
	if err != nil {
		return listing.Listing{}, err
	}
	l, err := build(rec)
	if err != nil {
		return listing.Listing{}, err
	}
	if err := insertListing(tx, l); err != nil {
		return listing.Listing{}, err
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return listing.Listing{}, err
	}
	if err := tx.Commit(); err != nil {
		return listing.Listing{}, fmt.Errorf("committing completion: %w", err)
	}
	return l, nil
}

// --- Listings ---

const listingColumns = `id, user_id, username, category, subcategory, product_name, title, description,
	attributes, confidence, price_suggestion, price, status, created_at, updated_at`

func insertListing(tx *sql.Tx, l listing.Listing) error {
	attrs, err := json.Marshal(l.Attributes)
	if err != nil {
		return fmt.Errorf("encoding attributes: %w", err)
	}
	price, err := json.Marshal(l.PriceSuggestion)
	if err != nil {
		return fmt.Errorf("encoding price suggestion: %w", err)
	}
	_, err = tx.Exec(`INSERT INTO listings (`+listingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.UserID, l.Username, l.Category, l.Subcategory, l.ProductName, l.Title, l.Description,
		string(attrs), l.Confidence, string(price), l.Price, string(l.Status),
		formatTime(l.CreatedAt), formatTime(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting listing %s: %w", l.ID, err)
	}
	return nil
}

func scanListing(row rowScanner) (listing.Listing, error) {
	var l listing.Listing
	var attrs, price, status, createdAt, updatedAt string
	if err := row.Scan(&l.ID, &l.UserID, &l.Username, &l.Category, &l.Subcategory, &l.ProductName,
		&l.Title, &l.Description, &attrs, &l.Confidence, &price, &l.Price, &status, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return listing.Listing{}, ErrNotFound
		}
		return listing.Listing{}, err
	}
	if err := json.Unmarshal([]byte(attrs), &l.Attributes); err != nil {
		return listing.Listing{}, fmt.Errorf("parsing attributes of %s: %w", l.ID, err)
	}
	if err := json.Unmarshal([]byte(price), &l.PriceSuggestion); err != nil {
		return listing.Listing{}, fmt.Errorf("parsing price suggestion of %s: %w", l.ID, err)
	}
	l.Status = listing.Status(status)
	var err error
	if l.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return listing.Listing{}, err
	}
	if l.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return listing.Listing{}, err
	}
	return l, nil
}

func (s *SQLiteStore) queryListings(query string, args ...any) ([]listing.Listing, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []listing.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, l)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) GetListing(id string) (listing.Listing, error) {
	return scanListing(s.db.QueryRow(`SELECT `+listingColumns+` FROM listings WHERE id = ?`, id))
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func (s *SQLiteStore) ListUserListings(userID int64, limit int) ([]listing.Listing, error) {
	return s.queryListings(`SELECT `+listingColumns+` FROM listings
		WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, sqlLimit(limit))
}

func (s *SQLiteStore) ListListings(limit int) ([]listing.Listing, error) {
	return s.queryListings(`SELECT `+listingColumns+` FROM listings
		ORDER BY created_at DESC, id DESC LIMIT ?`, sqlLimit(limit))
}

func (s *SQLiteStore) updateListing(id, column string, value any) (listing.Listing, error) {
	res, err := s.db.Exec(`UPDATE listings SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		value, formatTime(time.Now()), id)
	if err != nil {
		return listing.Listing{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return listing.Listing{}, err
	}
	if n == 0 {
		return listing.Listing{}, ErrNotFound
	}
	return s.GetListing(id)
}

func (s *SQLiteStore) UpdateListingStatus(id string, status listing.Status) (listing.Listing, error) {
	return s.updateListing(id, "status", string(status))
}

func (s *SQLiteStore) UpdateListingPrice(id string, price float64) (listing.Listing, error) {
	return s.updateListing(id, "price", price)
}

// --- Action log ---

func (s *SQLiteStore) LogAction(entry ActionEntry) error {
	entry = prepareAction(entry)
	var details sql.NullString
	if len(entry.Details) > 0 {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("encoding action details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning action log write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO action_log (id, user_id, action, details, timestamp) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Action, details, formatTime(entry.Timestamp)); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM action_log WHERE seq <= (SELECT MAX(seq) FROM action_log) - ?`, MaxActions); err != nil {
		return fmt.Errorf("trimming action log: %w", err)
	}
	return tx.Commit()
}

// RecentActions returns up to limit entries, newest first.
func (s *SQLiteStore) RecentActions(limit int) ([]ActionEntry, error) {
	rows, err := s.db.Query(`SELECT id, user_id, action, details, timestamp FROM action_log
		ORDER BY seq DESC LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ActionEntry
	for rows.Next() {
		var e ActionEntry
		var details sql.NullString
		var ts string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &details, &ts); err != nil {
			return nil, err
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("parsing details of action %s: %w", e.ID, err)
			}
		}
		if e.Timestamp, err = parseTime("timestamp", ts); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

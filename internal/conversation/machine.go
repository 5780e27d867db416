// Package conversation drives a user through creating a listing: category,
// subcategory, product name, extraction review, description and price.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/bazar/internal/catalog"
	"github.com/kalambet/bazar/internal/extract"
	"github.com/kalambet/bazar/internal/listing"
	"github.com/kalambet/bazar/internal/metrics"
	"github.com/kalambet/bazar/internal/storage"
)

var (
	// ErrNoSession is returned when an operation needs a live session and the user has none.
	ErrNoSession = errors.New("no active listing session")
	// ErrStaleAction is returned for a button that does not apply to the current step.
	ErrStaleAction = errors.New("action does not apply to the current step")
	// ErrUnknownSelection is returned for a category or subcategory missing from the catalog.
	ErrUnknownSelection = errors.New("unknown category or subcategory")
)

// Input bounds.
const (
	MinProductNameLength = 3
	MinDescriptionLength = 10
	MaxDescriptionLength = 500
	MaxPrice             = 1_000_000
	DefaultListingsLimit = 5
)

// Action log tags.
const (
	ActionStarted            = "listing_started"
	ActionCategorySelected   = "category_selected"
	ActionBackToCategories   = "back_to_categories"
	ActionSubcategoryChosen  = "subcategory_selected"
	ActionProductNameEntered = "product_name_entered"
	ActionDataExtracted      = "product_data_extracted"
	ActionConfirmed          = "product_confirmed"
	ActionRejected           = "product_rejected"
	ActionDescriptionEntered = "description_entered"
	ActionCompleted          = "listing_completed"
	ActionCancelled          = "listing_cancelled"
	ActionInterrupted        = "processing_interrupted"
)

// DefaultProcessingTimeout is how long a session may sit in processing before
// it is considered abandoned, e.g. by a restart mid-extraction.
const DefaultProcessingTimeout = 2 * time.Minute

// Extractor interprets a product name. Implementations never fail; problems
// are reported through the result's Success and Error fields.
type Extractor interface {
	Extract(ctx context.Context, req extract.Request) listing.Extracted
}

// Exporter writes a completed listing somewhere outside the store.
type Exporter interface {
	Export(l listing.Listing) (string, error)
}

// User identifies who an operation is for.
type User struct {
	ID   int64
	Name string
}

// Options tune a Machine. The zero value asks for a description and exports nothing.
type Options struct {
	SkipDescription bool
	Exporter        Exporter
	Logger          *slog.Logger
	Now             func() time.Time

	// ProcessingTimeout should exceed the extractor's own timeout.
	ProcessingTimeout time.Duration
}

// Machine applies conversation operations against the session store.
type Machine struct {
	catalog         *catalog.Catalog
	store           storage.Store
	extractor       Extractor
	exporter        Exporter
	skipDescription bool
	logger          *slog.Logger
	now             func() time.Time
	procTimeout     time.Duration
}

// New creates a Machine.
func New(cat *catalog.Catalog, store storage.Store, ext Extractor, opts Options) *Machine {
	m := &Machine{
		catalog:         cat,
		store:           store,
		extractor:       ext,
		exporter:        opts.Exporter,
		skipDescription: opts.SkipDescription,
		logger:          opts.Logger,
		now:             opts.Now,
		procTimeout:     opts.ProcessingTimeout,
	}
	if m.procTimeout <= 0 {
		m.procTimeout = DefaultProcessingTimeout
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Catalog returns the catalog the machine selects from.
func (m *Machine) Catalog() *catalog.Catalog { return m.catalog }

// record appends an action entry. Failures are logged; the audit trail never
// blocks the flow.
func (m *Machine) record(userID int64, action string, details map[string]any) {
	metrics.ObserveTransition(action)
	m.logger.Info("transition", "user_id", userID, "action", action)
	err := m.store.LogAction(storage.ActionEntry{
		UserID:    userID,
		Action:    action,
		Details:   details,
		Timestamp: m.now().UTC(),
	})
	if err != nil {
		m.logger.Warn("action log write failed", "user_id", userID, "action", action, "error", err)
	}
}

// current loads and decodes the user's session.
func (m *Machine) current(userID int64) (Step, error) {
	_, cur, err := m.load(userID)
	return cur, err
}

func (m *Machine) load(userID int64) (storage.SessionRecord, Step, error) {
	rec, err := m.store.GetSession(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return rec, nil, ErrNoSession
	}
	if err != nil {
		return rec, nil, fmt.Errorf("loading session: %w", err)
	}
	cur, err := decodeStep(rec)
	return rec, cur, err
}

// advance atomically moves the session from its current step to the one fn
// returns. fn may return a *rejection to leave the session unchanged.
func (m *Machine) advance(u User, fn func(Step) (Step, error)) (Step, error) {
	var next Step
	_, err := m.store.UpdateSession(u.ID, func(rec *storage.SessionRecord) error {
		cur, err := decodeStep(*rec)
		if err != nil {
			return err
		}
		if next, err = fn(cur); err != nil {
			return err
		}
		encodeStep(next, rec)
		if u.Name != "" {
			rec.Username = u.Name
		}
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoSession
	}
	return next, err
}

// rejected reports whether err is a veto and returns its result.
func rejected(err error) (Result, bool) {
	var r *rejection
	if errors.As(err, &r) {
		return r.result, true
	}
	return nil, false
}

// Start opens a new session at category selection.
func (m *Machine) Start(ctx context.Context, u User) (Result, error) {
	if m.catalog.Empty() {
		return NoCategories{}, nil
	}
	if cur, err := m.current(u.ID); err == nil {
		return AlreadyActive{Summary: summarize(cur)}, nil
	} else if !errors.Is(err, ErrNoSession) {
		return nil, err
	}

	rec := storage.SessionRecord{UserID: u.ID, Username: u.Name, StartedAt: m.now().UTC()}
	encodeStep(CategorySelection{}, &rec)
	if err := m.store.CreateSession(rec); err != nil {
		if errors.Is(err, storage.ErrSessionExists) {
			cur, err := m.current(u.ID)
			if err != nil {
				return nil, err
			}
			return AlreadyActive{Summary: summarize(cur)}, nil
		}
		return nil, fmt.Errorf("creating session: %w", err)
	}
	m.record(u.ID, ActionStarted, nil)
	return ShowCategories{Categories: m.catalog.Categories()}, nil
}

// SelectCategory records the category and offers its subcategories. A
// different category may be picked while subcategories are shown.
func (m *Machine) SelectCategory(ctx context.Context, u User, name string) (Result, error) {
	cat, ok := m.catalog.FindCategory(name)
	if !ok {
		return nil, ErrUnknownSelection
	}
	_, err := m.advance(u, func(cur Step) (Step, error) {
		switch cur.(type) {
		case CategorySelection, SubcategorySelection:
			return SubcategorySelection{Category: cat.Name}, nil
		}
		return nil, ErrStaleAction
	})
	if err != nil {
		return nil, err
	}
	m.record(u.ID, ActionCategorySelected, map[string]any{"category": cat.Name})
	return ShowSubcategories{Category: cat}, nil
}

// Back returns from subcategory selection to the category list.
func (m *Machine) Back(ctx context.Context, u User) (Result, error) {
	_, err := m.advance(u, func(cur Step) (Step, error) {
		if _, ok := cur.(SubcategorySelection); !ok {
			return nil, ErrStaleAction
		}
		return CategorySelection{}, nil
	})
	if err != nil {
		return nil, err
	}
	m.record(u.ID, ActionBackToCategories, nil)
	return ShowCategories{Categories: m.catalog.Categories()}, nil
}

// SelectSubcategory records the subcategory and asks for the product name.
func (m *Machine) SelectSubcategory(ctx context.Context, u User, category, subcategory string) (Result, error) {
	cat, ok := m.catalog.FindCategory(category)
	if !ok {
		return nil, ErrUnknownSelection
	}
	sub, ok := m.catalog.FindSubcategory(category, subcategory)
	if !ok {
		return nil, ErrUnknownSelection
	}
	_, err := m.advance(u, func(cur Step) (Step, error) {
		s, ok := cur.(SubcategorySelection)
		if !ok || !strings.EqualFold(s.Category, cat.Name) {
			return nil, ErrStaleAction
		}
		return ProductInput{Category: cat.Name, Subcategory: sub.Name}, nil
	})
	if err != nil {
		return nil, err
	}
	m.record(u.ID, ActionSubcategoryChosen, map[string]any{"category": cat.Name, "subcategory": sub.Name})
	return AskProductName{Category: cat.Name, Subcategory: sub.Name}, nil
}

// SubmitProductName runs extraction for name. The session is held in the
// processing step during the call; the result is applied only if the session
// is still processing the same product when the call returns.
func (m *Machine) SubmitProductName(ctx context.Context, u User, name string) (Result, error) {
	name = strings.TrimSpace(name)
	next, err := m.advance(u, func(cur Step) (Step, error) {
		switch s := cur.(type) {
		case ProductInput:
			if utf8.RuneCountInString(name) < MinProductNameLength {
				return nil, &rejection{ProductNameTooShort{}}
			}
			return Processing{Category: s.Category, Subcategory: s.Subcategory, ProductName: name}, nil
		case Processing:
			return nil, &rejection{StillProcessing{ProductName: s.ProductName}}
		}
		return nil, ErrStaleAction
	})
	if res, ok := rejected(err); ok {
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	proc := next.(Processing)
	m.record(u.ID, ActionProductNameEntered, map[string]any{"product_name": name})

	res := m.extractor.Extract(ctx, extract.Request{
		ProductName: proc.ProductName,
		Category:    proc.Category,
		Subcategory: proc.Subcategory,
		Attributes:  m.catalog.ExpectedAttributes(proc.Category, proc.Subcategory),
	})
	m.record(u.ID, ActionDataExtracted, map[string]any{
		"success":          res.Success,
		"confidence":       res.Confidence,
		"attributes_count": res.Attributes.Len(),
	})

	_, err = m.advance(u, func(cur Step) (Step, error) {
		if cur != Step(proc) {
			return nil, &rejection{Discarded{}}
		}
		if !res.Success {
			return ProductInput{Category: proc.Category, Subcategory: proc.Subcategory}, nil
		}
		return Confirmation{proc.Category, proc.Subcategory, proc.ProductName, res}, nil
	})
	if errors.Is(err, ErrNoSession) {
		m.logger.Info("extraction result discarded", "user_id", u.ID, "reason", "session gone")
		return Discarded{}, nil
	}
	if r, ok := rejected(err); ok {
		m.logger.Info("extraction result discarded", "user_id", u.ID, "reason", "session moved on")
		return r, nil
	}
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return ExtractionFailed{Extracted: res}, nil
	}
	return AwaitConfirmation{Extracted: res}, nil
}

// Confirm accepts the extraction and moves on to the description, or
// straight to the price when descriptions are skipped.
func (m *Machine) Confirm(ctx context.Context, u User) (Result, error) {
	next, err := m.advance(u, func(cur Step) (Step, error) {
		s, ok := cur.(Confirmation)
		if !ok {
			return nil, ErrStaleAction
		}
		if m.skipDescription {
			return PriceInput{s.Category, s.Subcategory, s.ProductName, s.Extracted, ""}, nil
		}
		return DescriptionInput{s.Category, s.Subcategory, s.ProductName, s.Extracted}, nil
	})
	if err != nil {
		return nil, err
	}
	m.record(u.ID, ActionConfirmed, nil)
	switch s := next.(type) {
	case PriceInput:
		return AskPrice{ProductName: s.ProductName, Suggestion: s.Extracted.PriceSuggestion}, nil
	case DescriptionInput:
		return AskDescription{ProductName: s.ProductName, Category: s.Category, Subcategory: s.Subcategory}, nil
	}
	return nil, fmt.Errorf("unexpected step %T after confirm", next)
}

// Reject drops the extraction and asks for the product name again.
func (m *Machine) Reject(ctx context.Context, u User) (Result, error) {
	next, err := m.advance(u, func(cur Step) (Step, error) {
		s, ok := cur.(Confirmation)
		if !ok {
			return nil, ErrStaleAction
		}
		return ProductInput{Category: s.Category, Subcategory: s.Subcategory}, nil
	})
	if err != nil {
		return nil, err
	}
	m.record(u.ID, ActionRejected, nil)
	p := next.(ProductInput)
	return AskProductName{Category: p.Category, Subcategory: p.Subcategory, Retry: true}, nil
}

// SubmitDescription stores the seller's own description.
func (m *Machine) SubmitDescription(ctx context.Context, u User, text string) (Result, error) {
	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	next, err := m.advance(u, func(cur Step) (Step, error) {
		s, ok := cur.(DescriptionInput)
		if !ok {
			return nil, ErrStaleAction
		}
		if n < MinDescriptionLength || n > MaxDescriptionLength {
			return nil, &rejection{DescriptionInvalid{Length: n}}
		}
		return PriceInput{s.Category, s.Subcategory, s.ProductName, s.Extracted, text}, nil
	})
	if res, ok := rejected(err); ok {
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	m.record(u.ID, ActionDescriptionEntered, map[string]any{"description_length": n})
	p := next.(PriceInput)
	return AskPrice{ProductName: p.ProductName, Suggestion: p.Extracted.PriceSuggestion, Description: p.Description}, nil
}

var priceRun = regexp.MustCompile(`[\d.,]+`)

// ParsePrice reads the first number in text. A comma is taken as the decimal
// separator. It reports false when no number is found or the value is outside
// (0, MaxPrice].
func ParsePrice(text string) (float64, bool) {
	run := priceRun.FindString(text)
	if run == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(run, ",", "."), 64)
	if err != nil || math.IsNaN(v) || v <= 0 || v > MaxPrice {
		return 0, false
	}
	return v, true
}

// SubmitPrice completes the listing.
func (m *Machine) SubmitPrice(ctx context.Context, u User, text string) (Result, error) {
	cur, err := m.current(u.ID)
	if err != nil {
		return nil, err
	}
	if _, ok := cur.(PriceInput); !ok {
		return nil, ErrStaleAction
	}
	price, ok := ParsePrice(text)
	if !ok {
		return PriceInvalid{}, nil
	}

	l, err := m.store.CompleteSession(u.ID, func(rec storage.SessionRecord) (listing.Listing, error) {
		step, err := decodeStep(rec)
		if err != nil {
			return listing.Listing{}, err
		}
		p, ok := step.(PriceInput)
		if !ok {
			return listing.Listing{}, ErrStaleAction
		}
		username := rec.Username
		if u.Name != "" {
			username = u.Name
		}
		return m.build(u.ID, username, p, price), nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	m.record(u.ID, ActionCompleted, map[string]any{
		"listing_id":   l.ID,
		"category":     l.Category,
		"subcategory":  l.Subcategory,
		"product_name": l.ProductName,
		"price":        l.Price,
	})
	m.logger.Info("listing created", "user_id", u.ID, "listing_id", l.ID)

	created := ListingCreated{Listing: l}
	if m.exporter != nil {
		path, err := m.exporter.Export(l)
		if err != nil {
			m.logger.Error("listing export failed", "listing_id", l.ID, "error", err)
		} else {
			created.ExportPath = path
		}
	}
	return created, nil
}

func (m *Machine) build(userID int64, username string, p PriceInput, price float64) listing.Listing {
	now := m.now().UTC()
	title := strings.TrimSpace(p.Extracted.Listing.Title)
	if title == "" {
		title = p.ProductName
	}
	desc := p.Description
	if desc == "" {
		desc = p.Extracted.Listing.Description
	}
	return listing.Listing{
		ID:              listing.NewIDAt(now),
		UserID:          userID,
		Username:        username,
		Category:        p.Category,
		Subcategory:     p.Subcategory,
		ProductName:     p.ProductName,
		Title:           title,
		Description:     desc,
		Attributes:      p.Extracted.Attributes.Clone(),
		Confidence:      p.Extracted.Confidence,
		PriceSuggestion: p.Extracted.PriceSuggestion,
		Price:           price,
		Status:          listing.StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Cancel deletes the session from any step.
func (m *Machine) Cancel(ctx context.Context, u User) (Result, error) {
	rec, err := m.store.GetSession(u.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return NothingToCancel{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	deleted, err := m.store.DeleteSession(u.ID)
	if err != nil {
		return nil, fmt.Errorf("deleting session: %w", err)
	}
	if !deleted {
		return NothingToCancel{}, nil
	}
	m.record(u.ID, ActionCancelled, map[string]any{
		"state":        rec.State,
		"category":     rec.Category,
		"subcategory":  rec.Subcategory,
		"product_name": rec.ProductName,
	})
	return Cancelled{}, nil
}

// Status summarizes the live session.
func (m *Machine) Status(ctx context.Context, u User) (Result, error) {
	cur, err := m.current(u.ID)
	if err != nil {
		return nil, err
	}
	return StatusSummary{Summary: summarize(cur)}, nil
}

// MyListings returns the user's newest listings. A non-positive limit uses
// DefaultListingsLimit.
func (m *Machine) MyListings(ctx context.Context, u User, limit int) (Result, error) {
	if limit <= 0 {
		limit = DefaultListingsLimit
	}
	ls, err := m.store.ListUserListings(u.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing user listings: %w", err)
	}
	return Listings{Listings: ls}, nil
}

// HandleText routes free text to the operation the current step expects.
func (m *Machine) HandleText(ctx context.Context, u User, text string) (Result, error) {
	rec, cur, err := m.load(u.ID)
	if err != nil {
		return nil, err
	}
	switch s := cur.(type) {
	case ProductInput:
		return m.SubmitProductName(ctx, u, text)
	case Processing:
		if m.now().Sub(rec.UpdatedAt) > m.procTimeout {
			return m.interrupt(u, s)
		}
		return StillProcessing{ProductName: s.ProductName}, nil
	case DescriptionInput:
		return m.SubmitDescription(ctx, u, text)
	case PriceInput:
		return m.SubmitPrice(ctx, u, text)
	}
	return ExpectButtons{State: cur.State()}, nil
}

// interrupt returns an abandoned processing session to the product name
// prompt. A late extraction result for it is then discarded.
func (m *Machine) interrupt(u User, proc Processing) (Result, error) {
	_, err := m.advance(u, func(cur Step) (Step, error) {
		if cur != Step(proc) {
			return nil, &rejection{StatusSummary{Summary: summarize(cur)}}
		}
		return ProductInput{Category: proc.Category, Subcategory: proc.Subcategory}, nil
	})
	if r, ok := rejected(err); ok {
		return r, nil
	}
	if err != nil {
		return nil, err
	}
	m.logger.Warn("processing session abandoned, asking for the product again", "user_id", u.ID, "product_name", proc.ProductName)
	m.record(u.ID, ActionInterrupted, map[string]any{"product_name": proc.ProductName})
	return ProcessingInterrupted{ProductName: proc.ProductName}, nil
}

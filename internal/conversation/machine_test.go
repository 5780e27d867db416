package conversation

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/bazar/internal/catalog"
	"github.com/kalambet/bazar/internal/extract"
	"github.com/kalambet/bazar/internal/listing"
	"github.com/kalambet/bazar/internal/storage"
)

// fakeExtractor implements Extractor for testing.
type fakeExtractor struct {
	mu     sync.Mutex
	result listing.Extracted
	calls  []extract.Request
	during func()
}

func (f *fakeExtractor) Extract(ctx context.Context, req extract.Request) listing.Extracted {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	during := f.during
	f.mu.Unlock()
	if during != nil {
		during()
	}
	res := f.result
	res.ProductName = req.ProductName
	res.Category = req.Category
	res.Subcategory = req.Subcategory
	return res
}

type fakeExporter struct {
	err      error
	exported []listing.Listing
}

func (f *fakeExporter) Export(l listing.Listing) (string, error) {
	f.exported = append(f.exported, l)
	if f.err != nil {
		return "", f.err
	}
	return "/exports/" + l.ID + ".json", nil
}

func samsung() listing.Extracted {
	return listing.Extracted{
		Success: true,
		Attributes: listing.NewAttributes(
			listing.Pair{Name: "Brand", Value: "Samsung"},
			listing.Pair{Name: "Model", Value: "Galaxy S21 Ultra"},
			listing.Pair{Name: "Color", Value: listing.NotFound},
		),
		Confidence:      0.92,
		PriceSuggestion: listing.PriceSuggestion{MinPrice: 450, MaxPrice: 600, Currency: "USD"},
		Listing:         listing.Copy{Title: "Samsung Galaxy S21 Ultra 256GB", Description: "Model-written copy."},
	}
}

var seller = User{ID: 1001, Name: "ana"}

type fixture struct {
	m     *Machine
	store storage.Store
	ext   *fakeExtractor
	exp   *fakeExporter
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	store, err := storage.OpenFile(t.TempDir())
	require.NoError(t, err)
	ext := &fakeExtractor{result: samsung()}
	exp := &fakeExporter{}
	if opts.Exporter == nil {
		opts.Exporter = exp
	}
	return fixture{m: New(catalog.Default(), store, ext, opts), store: store, ext: ext, exp: exp}
}

func (f fixture) state(t *testing.T, u User) string {
	t.Helper()
	rec, err := f.store.GetSession(u.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return ""
	}
	require.NoError(t, err)
	return rec.State
}

// toProductInput walks the user to the product name prompt.
func (f fixture) toProductInput(t *testing.T, u User) {
	t.Helper()
	ctx := context.Background()
	_, err := f.m.Start(ctx, u)
	require.NoError(t, err)
	_, err = f.m.SelectCategory(ctx, u, "Electronics")
	require.NoError(t, err)
	_, err = f.m.SelectSubcategory(ctx, u, "Electronics", "Smartphones & Accessories")
	require.NoError(t, err)
}

func actions(t *testing.T, s storage.Store) []string {
	t.Helper()
	entries, err := s.RecentActions(0)
	require.NoError(t, err)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e.Action
	}
	return out
}

func TestFullFlow(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res, err := f.m.Start(ctx, seller)
	require.NoError(t, err)
	cats, ok := res.(ShowCategories)
	require.True(t, ok, "got %T", res)
	assert.NotEmpty(t, cats.Categories)

	res, err = f.m.SelectCategory(ctx, seller, "electronics")
	require.NoError(t, err)
	subs := res.(ShowSubcategories)
	assert.Equal(t, "Electronics", subs.Category.Name)

	res, err = f.m.SelectSubcategory(ctx, seller, "Electronics", "Smartphones & Accessories")
	require.NoError(t, err)
	assert.Equal(t, AskProductName{Category: "Electronics", Subcategory: "Smartphones & Accessories"}, res)

	res, err = f.m.HandleText(ctx, seller, "  Samsung Galaxy S21 Ultra 256GB ")
	require.NoError(t, err)
	conf, ok := res.(AwaitConfirmation)
	require.True(t, ok, "got %T", res)
	brand, _ := conf.Extracted.Attributes.Get("Brand")
	assert.Equal(t, "Samsung", brand)
	assert.Equal(t, StateConfirmation, f.state(t, seller))

	require.Len(t, f.ext.calls, 1)
	assert.Equal(t, "Samsung Galaxy S21 Ultra 256GB", f.ext.calls[0].ProductName)
	assert.Contains(t, f.ext.calls[0].Attributes, "Storage Capacity")

	res, err = f.m.Confirm(ctx, seller)
	require.NoError(t, err)
	assert.IsType(t, AskDescription{}, res)

	res, err = f.m.HandleText(ctx, seller, "Condition 9/10, always kept in a case.")
	require.NoError(t, err)
	ask := res.(AskPrice)
	assert.EqualValues(t, 600, ask.Suggestion.MaxPrice)

	res, err = f.m.HandleText(ctx, seller, "649.99")
	require.NoError(t, err)
	created, ok := res.(ListingCreated)
	require.True(t, ok, "got %T", res)

	l := created.Listing
	assert.Equal(t, 649.99, l.Price)
	assert.Equal(t, listing.StatusActive, l.Status)
	assert.Equal(t, "ana", l.Username)
	assert.Equal(t, "Condition 9/10, always kept in a case.", l.Description)
	assert.Equal(t, "Samsung Galaxy S21 Ultra 256GB", l.Title)
	assert.Equal(t, "/exports/"+l.ID+".json", created.ExportPath)
	assert.Equal(t, "", f.state(t, seller), "session must be gone")

	stored, err := f.store.GetListing(l.ID)
	require.NoError(t, err)
	assert.Equal(t, 649.99, stored.Price)

	assert.Equal(t, []string{
		ActionStarted, ActionCategorySelected, ActionSubcategoryChosen, ActionProductNameEntered,
		ActionDataExtracted, ActionConfirmed, ActionDescriptionEntered, ActionCompleted,
	}, actions(t, f.store))
}

func TestStart_AlreadyActive(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.toProductInput(t, seller)

	res, err := f.m.Start(ctx, seller)
	require.NoError(t, err)
	active, ok := res.(AlreadyActive)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, StateProductInput, active.Summary.State)
	assert.Equal(t, "Smartphones & Accessories", active.Summary.Subcategory)
	assert.Equal(t, StateProductInput, f.state(t, seller), "session must not be overwritten")
}

func TestStart_EmptyCatalog(t *testing.T) {
	store, err := storage.OpenFile(t.TempDir())
	require.NoError(t, err)
	empty, _ := catalog.Load("/does/not/exist.json")
	m := New(empty, store, &fakeExtractor{}, Options{})

	res, err := m.Start(context.Background(), seller)
	require.NoError(t, err)
	assert.Equal(t, NoCategories{}, res)
	_, err = store.GetSession(seller.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBack(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.m.Start(ctx, seller)

	_, err := f.m.Back(ctx, seller)
	assert.ErrorIs(t, err, ErrStaleAction, "back is only offered from subcategories")

	f.m.SelectCategory(ctx, seller, "Fashion")
	res, err := f.m.Back(ctx, seller)
	require.NoError(t, err)
	assert.IsType(t, ShowCategories{}, res)
	assert.Equal(t, StateCategorySelection, f.state(t, seller))

	rec, _ := f.store.GetSession(seller.ID)
	assert.Empty(t, rec.Category)
}

func TestSelections_Invalid(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.m.SelectCategory(ctx, seller, "Electronics")
	assert.ErrorIs(t, err, ErrNoSession)

	f.m.Start(ctx, seller)
	_, err = f.m.SelectCategory(ctx, seller, "Spaceships")
	assert.ErrorIs(t, err, ErrUnknownSelection)

	_, err = f.m.SelectSubcategory(ctx, seller, "Electronics", "Smartphones & Accessories")
	assert.ErrorIs(t, err, ErrStaleAction, "subcategory before category")

	f.m.SelectCategory(ctx, seller, "Electronics")
	_, err = f.m.SelectSubcategory(ctx, seller, "Electronics", "Rockets")
	assert.ErrorIs(t, err, ErrUnknownSelection)

	_, err = f.m.SelectSubcategory(ctx, seller, "Fashion", "Shoes")
	assert.ErrorIs(t, err, ErrStaleAction, "subcategory of another category")

	_, err = f.m.Confirm(ctx, seller)
	assert.ErrorIs(t, err, ErrStaleAction)
	assert.Equal(t, StateSubcategorySelection, f.state(t, seller))
}

func TestProductName_TooShort(t *testing.T) {
	f := newFixture(t, Options{})
	f.toProductInput(t, seller)

	for _, name := range []string{"", "  ", "ab", " é1 "} {
		res, err := f.m.HandleText(context.Background(), seller, name)
		require.NoError(t, err)
		assert.Equal(t, ProductNameTooShort{}, res, "name %q", name)
		assert.Equal(t, StateProductInput, f.state(t, seller))
	}
	assert.Empty(t, f.ext.calls)
}

func TestProductName_ExtractionFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.ext.result = listing.Extracted{Success: false, Error: "API request failed: Status 502. Response: bad gateway..."}
	f.toProductInput(t, seller)

	res, err := f.m.SubmitProductName(context.Background(), seller, "Galaxy S21")
	require.NoError(t, err)
	failed, ok := res.(ExtractionFailed)
	require.True(t, ok, "got %T", res)
	assert.Contains(t, failed.Extracted.Error, "502")
	assert.Equal(t, StateProductInput, f.state(t, seller))

	rec, _ := f.store.GetSession(seller.ID)
	assert.Empty(t, rec.ProductName)
	assert.Nil(t, rec.Extracted)
}

func TestProductName_CancelledDuringExtraction(t *testing.T) {
	f := newFixture(t, Options{})
	f.toProductInput(t, seller)
	f.ext.during = func() {
		res, err := f.m.Cancel(context.Background(), seller)
		require.NoError(t, err)
		require.Equal(t, Cancelled{}, res)
	}

	res, err := f.m.SubmitProductName(context.Background(), seller, "Galaxy S21")
	require.NoError(t, err)
	assert.Equal(t, Discarded{}, res)
	assert.Equal(t, "", f.state(t, seller), "completed extraction must not resurrect the session")
}

func TestProductName_RestartedDuringExtraction(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.toProductInput(t, seller)
	f.ext.during = func() {
		f.m.Cancel(ctx, seller)
		f.m.Start(ctx, seller)
	}

	res, err := f.m.SubmitProductName(ctx, seller, "Galaxy S21")
	require.NoError(t, err)
	assert.Equal(t, Discarded{}, res)
	assert.Equal(t, StateCategorySelection, f.state(t, seller))
}

func TestProcessing_TextIsHeld(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.toProductInput(t, seller)

	var held Result
	f.ext.during = func() {
		var err error
		held, err = f.m.HandleText(ctx, seller, "hello?")
		require.NoError(t, err)
	}
	f.m.SubmitProductName(ctx, seller, "Galaxy S21")
	assert.Equal(t, StillProcessing{ProductName: "Galaxy S21"}, held)
}

func TestProcessing_AbandonedSessionRecovers(t *testing.T) {
	clock := time.Now()
	f := newFixture(t, Options{
		Now:               func() time.Time { return clock },
		ProcessingTimeout: time.Minute,
	})
	ctx := context.Background()
	f.toProductInput(t, seller)

	// A restart mid-extraction leaves the session stuck in processing.
	_, err := f.store.UpdateSession(seller.ID, func(rec *storage.SessionRecord) error {
		rec.State = StateProcessing
		rec.ProductName = "Galaxy S21"
		return nil
	})
	require.NoError(t, err)

	res, err := f.m.HandleText(ctx, seller, "hello?")
	require.NoError(t, err)
	assert.Equal(t, StillProcessing{ProductName: "Galaxy S21"}, res)
	assert.Equal(t, StateProcessing, f.state(t, seller))

	clock = clock.Add(2 * time.Minute)
	res, err = f.m.HandleText(ctx, seller, "hello?")
	require.NoError(t, err)
	assert.Equal(t, ProcessingInterrupted{ProductName: "Galaxy S21"}, res)
	assert.Equal(t, StateProductInput, f.state(t, seller))
	assert.Contains(t, actions(t, f.store), ActionInterrupted)

	res, err = f.m.HandleText(ctx, seller, "Galaxy S21")
	require.NoError(t, err)
	assert.IsType(t, AwaitConfirmation{}, res)
}

func TestReject(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.toProductInput(t, seller)
	f.m.SubmitProductName(ctx, seller, "Galaxy S21")

	res, err := f.m.Reject(ctx, seller)
	require.NoError(t, err)
	assert.Equal(t, AskProductName{Category: "Electronics", Subcategory: "Smartphones & Accessories", Retry: true}, res)

	rec, _ := f.store.GetSession(seller.ID)
	assert.Equal(t, StateProductInput, rec.State)
	assert.Nil(t, rec.Extracted, "extracted data must be discarded")
}

func TestDescription_Bounds(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.toProductInput(t, seller)
	f.m.SubmitProductName(ctx, seller, "Galaxy S21")
	f.m.Confirm(ctx, seller)

	for _, text := range []string{"too short", string(make([]rune, 501))} {
		res, err := f.m.SubmitDescription(ctx, seller, text)
		require.NoError(t, err)
		assert.IsType(t, DescriptionInvalid{}, res)
		assert.Equal(t, StateDescriptionInput, f.state(t, seller))
	}

	res, err := f.m.SubmitDescription(ctx, seller, "exactly10!")
	require.NoError(t, err)
	assert.IsType(t, AskPrice{}, res)
	assert.Equal(t, StatePriceInput, f.state(t, seller))
}

func TestSkipDescription(t *testing.T) {
	f := newFixture(t, Options{SkipDescription: true})
	ctx := context.Background()
	f.toProductInput(t, seller)
	f.m.SubmitProductName(ctx, seller, "Galaxy S21")

	res, err := f.m.Confirm(ctx, seller)
	require.NoError(t, err)
	assert.IsType(t, AskPrice{}, res)

	res, err = f.m.SubmitPrice(ctx, seller, "500")
	require.NoError(t, err)
	created := res.(ListingCreated)
	assert.Equal(t, "Model-written copy.", created.Listing.Description)
}

func TestSubmitPrice_Invalid(t *testing.T) {
	f := newFixture(t, Options{SkipDescription: true})
	ctx := context.Background()

	_, err := f.m.SubmitPrice(ctx, seller, "100")
	assert.ErrorIs(t, err, ErrNoSession)

	f.toProductInput(t, seller)
	f.m.SubmitProductName(ctx, seller, "Galaxy S21")
	f.m.Confirm(ctx, seller)

	for _, text := range []string{"0", "1000001", "abc", "-", "..."} {
		res, err := f.m.SubmitPrice(ctx, seller, text)
		require.NoError(t, err)
		assert.Equal(t, PriceInvalid{}, res, "input %q", text)
	}
	assert.Equal(t, StatePriceInput, f.state(t, seller))
	assert.Empty(t, f.exp.exported)
}

func TestSubmitPrice_ExportFailureKeepsListing(t *testing.T) {
	exp := &fakeExporter{err: errors.New("disk full")}
	f := newFixture(t, Options{SkipDescription: true, Exporter: exp})
	ctx := context.Background()
	f.toProductInput(t, seller)
	f.m.SubmitProductName(ctx, seller, "Galaxy S21")
	f.m.Confirm(ctx, seller)

	res, err := f.m.SubmitPrice(ctx, seller, "300")
	require.NoError(t, err)
	created := res.(ListingCreated)
	assert.Empty(t, created.ExportPath)
	assert.Len(t, exp.exported, 1)

	_, err = f.store.GetListing(created.Listing.ID)
	assert.NoError(t, err)
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"299.99", 299.99, true},
		{"0", 0, false},
		{"1000001", 0, false},
		{"1000000", 1_000_000, true},
		{"abc", 0, false},
		{"150,50", 150.50, true},
		{"about 80 lei", 80, true},
		{"$1,200.00", 0, false},
		{"0.01", 0.01, true},
	}
	for _, tt := range tests {
		got, ok := ParsePrice(tt.in)
		assert.Equal(t, tt.ok, ok, "ParsePrice(%q) ok", tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, "ParsePrice(%q)", tt.in)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res, err := f.m.Cancel(ctx, seller)
	require.NoError(t, err)
	assert.Equal(t, NothingToCancel{}, res)

	f.toProductInput(t, seller)
	res, err = f.m.Cancel(ctx, seller)
	require.NoError(t, err)
	assert.Equal(t, Cancelled{}, res)
	assert.Equal(t, "", f.state(t, seller))

	entries, _ := f.store.RecentActions(1)
	require.Len(t, entries, 1)
	assert.Equal(t, ActionCancelled, entries[0].Action)
	assert.Equal(t, StateProductInput, entries[0].Details["state"])
}

func TestStatusAndMyListings(t *testing.T) {
	f := newFixture(t, Options{SkipDescription: true})
	ctx := context.Background()

	_, err := f.m.Status(ctx, seller)
	assert.ErrorIs(t, err, ErrNoSession)

	f.toProductInput(t, seller)
	f.m.SubmitProductName(ctx, seller, "Galaxy S21")
	res, err := f.m.Status(ctx, seller)
	require.NoError(t, err)
	sum := res.(StatusSummary).Summary
	assert.True(t, sum.HasExtraction)
	assert.Equal(t, 0.92, sum.Confidence)
	assert.Equal(t, "Galaxy S21", sum.ProductName)

	f.m.Confirm(ctx, seller)
	f.m.SubmitPrice(ctx, seller, "400")

	res, err = f.m.MyListings(ctx, seller, 0)
	require.NoError(t, err)
	assert.Len(t, res.(Listings).Listings, 1)
}

func TestHandleText_ExpectButtons(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.m.HandleText(ctx, seller, "hi")
	assert.ErrorIs(t, err, ErrNoSession)

	f.m.Start(ctx, seller)
	res, err := f.m.HandleText(ctx, seller, "Electronics")
	require.NoError(t, err)
	assert.Equal(t, ExpectButtons{State: StateCategorySelection}, res)
}

// TestRandomOperations applies random operation sequences and checks that
// cancel always clears the session and at most one session exists.
func TestRandomOperations(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	r := rand.New(rand.NewSource(3))

	ops := []func() (Result, error){
		func() (Result, error) { return f.m.Start(ctx, seller) },
		func() (Result, error) { return f.m.SelectCategory(ctx, seller, "Electronics") },
		func() (Result, error) {
			return f.m.SelectSubcategory(ctx, seller, "Electronics", "Smartphones & Accessories")
		},
		func() (Result, error) { return f.m.Back(ctx, seller) },
		func() (Result, error) { return f.m.HandleText(ctx, seller, "Galaxy S21") },
		func() (Result, error) { return f.m.HandleText(ctx, seller, "x") },
		func() (Result, error) { return f.m.Confirm(ctx, seller) },
		func() (Result, error) { return f.m.Reject(ctx, seller) },
		func() (Result, error) { return f.m.HandleText(ctx, seller, "A detailed description.") },
		func() (Result, error) { return f.m.HandleText(ctx, seller, "250") },
	}

	for i := range 300 {
		res, err := ops[r.Intn(len(ops))]()
		if err != nil && !errors.Is(err, ErrNoSession) && !errors.Is(err, ErrStaleAction) {
			t.Fatalf("step %d: unexpected error %v", i, err)
		}
		if st := f.state(t, seller); st != "" {
			rec, err := f.store.GetSession(seller.ID)
			require.NoError(t, err)
			_, err = decodeStep(rec)
			require.NoError(t, err, "step %d left an illegal record after %T", i, res)
		}
		if r.Intn(10) == 0 {
			_, err := f.m.Cancel(ctx, seller)
			require.NoError(t, err)
			require.Equal(t, "", f.state(t, seller))
		}
	}
}

func TestDecodeStep_RejectsIllegalRecords(t *testing.T) {
	ext := &listing.Extracted{Success: true}
	bad := []storage.SessionRecord{
		{State: StateCategorySelection, Extracted: ext},
		{State: StateCategorySelection, Category: "Electronics"},
		{State: StateSubcategorySelection},
		{State: StateProductInput, Category: "Electronics"},
		{State: StateProductInput, Category: "Electronics", Subcategory: "TV & Audio", Extracted: ext},
		{State: StateProcessing, Category: "Electronics", Subcategory: "TV & Audio"},
		{State: StateConfirmation, Category: "Electronics", Subcategory: "TV & Audio", ProductName: "LG C1"},
		{State: StateDescriptionInput, Category: "E", Subcategory: "T", ProductName: "LG", Extracted: ext, Description: "early"},
		{State: "completed"},
	}
	for _, rec := range bad {
		_, err := decodeStep(rec)
		var ire *InvalidRecordError
		assert.ErrorAs(t, err, &ire, "record %+v", rec)
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	ext := samsung()
	steps := []Step{
		CategorySelection{},
		SubcategorySelection{Category: "Fashion"},
		ProductInput{Category: "Fashion", Subcategory: "Shoes"},
		Processing{Category: "Fashion", Subcategory: "Shoes", ProductName: "Nike Air Max"},
		PriceInput{Category: "Fashion", Subcategory: "Shoes", ProductName: "Nike Air Max", Extracted: ext, Description: "Worn twice."},
	}
	for _, s := range steps {
		rec := storage.SessionRecord{UserID: 1, UpdatedAt: time.Now()}
		encodeStep(s, &rec)
		got, err := decodeStep(rec)
		require.NoError(t, err)
		assert.Equal(t, s.State(), got.State())
		assert.Equal(t, summarize(s), summarize(got))
	}
}

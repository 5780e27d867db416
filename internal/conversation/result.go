package conversation

import (
	"github.com/kalambet/bazar/internal/catalog"
	"github.com/kalambet/bazar/internal/listing"
)

// Result is the outcome of one machine operation, rendered by the dialogue layer.
type Result interface {
	result()
}

// Summary describes a live session.
type Summary struct {
	State         string
	Category      string
	Subcategory   string
	ProductName   string
	HasExtraction bool
	Confidence    float64
}

type (
	ShowCategories struct {
		Categories []catalog.Category
	}
	ShowSubcategories struct {
		Category catalog.Category
	}
	AskProductName struct {
		Category    string
		Subcategory string
		Retry       bool
	}
	ProductNameTooShort struct{}
	// AwaitConfirmation carries a successful extraction for the user to review.
	AwaitConfirmation struct {
		Extracted listing.Extracted
	}
	// ExtractionFailed means the session went back to product input.
	ExtractionFailed struct {
		Extracted listing.Extracted
	}
	AskDescription struct {
		ProductName string
		Category    string
		Subcategory string
	}
	DescriptionInvalid struct {
		Length int
	}
	AskPrice struct {
		ProductName string
		Suggestion  listing.PriceSuggestion
		Description string
	}
	PriceInvalid   struct{}
	ListingCreated struct {
		Listing    listing.Listing
		ExportPath string
	}
	Cancelled       struct{}
	NothingToCancel struct{}
	AlreadyActive   struct {
		Summary Summary
	}
	StatusSummary struct {
		Summary Summary
	}
	NoCategories struct{}
	Listings     struct {
		Listings []listing.Listing
	}
	StillProcessing struct {
		ProductName string
	}
	// ProcessingInterrupted means an extraction never finished and the user
	// must send the product name again.
	ProcessingInterrupted struct {
		ProductName string
	}
	// Discarded means an extraction finished after its session was cancelled
	// or moved on.
	Discarded     struct{}
	ExpectButtons struct {
		State string
	}
)

func (ShowCategories) result()        {}
func (ShowSubcategories) result()     {}
func (AskProductName) result()        {}
func (ProductNameTooShort) result()   {}
func (AwaitConfirmation) result()     {}
func (ExtractionFailed) result()      {}
func (AskDescription) result()        {}
func (DescriptionInvalid) result()    {}
func (AskPrice) result()              {}
func (PriceInvalid) result()          {}
func (ListingCreated) result()        {}
func (Cancelled) result()             {}
func (NothingToCancel) result()       {}
func (AlreadyActive) result()         {}
func (StatusSummary) result()         {}
func (NoCategories) result()          {}
func (Listings) result()              {}
func (StillProcessing) result()       {}
func (ProcessingInterrupted) result() {}
func (Discarded) result()             {}
func (ExpectButtons) result()         {}

func summarize(s Step) Summary {
	var sum Summary
	sum.State = s.State()
	switch s := s.(type) {
	case SubcategorySelection:
		sum.Category = s.Category
	case ProductInput:
		sum.Category, sum.Subcategory = s.Category, s.Subcategory
	case Processing:
		sum.Category, sum.Subcategory, sum.ProductName = s.Category, s.Subcategory, s.ProductName
	case Confirmation:
		sum.Category, sum.Subcategory, sum.ProductName = s.Category, s.Subcategory, s.ProductName
		sum.HasExtraction, sum.Confidence = true, s.Extracted.Confidence
	case DescriptionInput:
		sum.Category, sum.Subcategory, sum.ProductName = s.Category, s.Subcategory, s.ProductName
		sum.HasExtraction, sum.Confidence = true, s.Extracted.Confidence
	case PriceInput:
		sum.Category, sum.Subcategory, sum.ProductName = s.Category, s.Subcategory, s.ProductName
		sum.HasExtraction, sum.Confidence = true, s.Extracted.Confidence
	}
	return sum
}

// rejection vetoes a session update and yields a result instead of an error.
type rejection struct {
	result Result
}

func (r *rejection) Error() string { return "rejected" }

package conversation

import (
	"fmt"

	"github.com/kalambet/bazar/internal/listing"
	"github.com/kalambet/bazar/internal/storage"
)

// Stored state names.
const (
	StateCategorySelection    = "category_selection"
	StateSubcategorySelection = "subcategory_selection"
	StateProductInput         = "product_input"
	StateProcessing           = "processing_product"
	StateConfirmation         = "confirmation"
	StateDescriptionInput     = "description_input"
	StatePriceInput           = "price_input"
)

// Step is the current position of a session in the listing flow. Each variant
// carries only the data collected up to that point.
type Step interface {
	State() string
	step()
}

type CategorySelection struct{}

type SubcategorySelection struct {
	Category string
}

type ProductInput struct {
	Category    string
	Subcategory string
}

type Processing struct {
	Category    string
	Subcategory string
	ProductName string
}

type Confirmation struct {
	Category    string
	Subcategory string
	ProductName string
	Extracted   listing.Extracted
}

type DescriptionInput struct {
	Category    string
	Subcategory string
	ProductName string
	Extracted   listing.Extracted
}

type PriceInput struct {
	Category    string
	Subcategory string
	ProductName string
	Extracted   listing.Extracted
	Description string
}

func (CategorySelection) State() string    { return StateCategorySelection }
func (SubcategorySelection) State() string { return StateSubcategorySelection }
func (ProductInput) State() string         { return StateProductInput }
func (Processing) State() string           { return StateProcessing }
func (Confirmation) State() string         { return StateConfirmation }
func (DescriptionInput) State() string     { return StateDescriptionInput }
func (PriceInput) State() string           { return StatePriceInput }

func (CategorySelection) step()    {}
func (SubcategorySelection) step() {}
func (ProductInput) step()         {}
func (Processing) step()           {}
func (Confirmation) step()         {}
func (DescriptionInput) step()     {}
func (PriceInput) step()           {}

// InvalidRecordError reports a stored session whose fields do not fit its state.
type InvalidRecordError struct {
	UserID int64
	State  string
	Reason string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid session for user %d in state %q: %s", e.UserID, e.State, e.Reason)
}

// decodeStep converts a stored record into its step, rejecting records with
// missing or out-of-place fields.
func decodeStep(rec storage.SessionRecord) (Step, error) {
	bad := func(reason string) (Step, error) {
		return nil, &InvalidRecordError{UserID: rec.UserID, State: rec.State, Reason: reason}
	}
	has := struct{ cat, sub, name, ext, desc bool }{
		rec.Category != "", rec.Subcategory != "", rec.ProductName != "", rec.Extracted != nil, rec.Description != "",
	}

	switch rec.State {
	case StateCategorySelection:
		if has.cat || has.sub || has.name || has.ext || has.desc {
			return bad("selection data present before a category is chosen")
		}
		return CategorySelection{}, nil
	case StateSubcategorySelection:
		if !has.cat {
			return bad("missing category")
		}
		if has.sub || has.name || has.ext || has.desc {
			return bad("data present beyond the category")
		}
		return SubcategorySelection{Category: rec.Category}, nil
	case StateProductInput:
		if !has.cat || !has.sub {
			return bad("missing category or subcategory")
		}
		if has.name || has.ext || has.desc {
			return bad("product data present before a product name is entered")
		}
		return ProductInput{Category: rec.Category, Subcategory: rec.Subcategory}, nil
	case StateProcessing:
		if !has.cat || !has.sub || !has.name {
			return bad("missing category, subcategory or product name")
		}
		if has.ext || has.desc {
			return bad("extraction data present while processing")
		}
		return Processing{Category: rec.Category, Subcategory: rec.Subcategory, ProductName: rec.ProductName}, nil
	case StateConfirmation, StateDescriptionInput:
		if !has.cat || !has.sub || !has.name || !has.ext {
			return bad("missing extraction data")
		}
		if has.desc {
			return bad("description present before it is requested")
		}
		if rec.State == StateConfirmation {
			return Confirmation{rec.Category, rec.Subcategory, rec.ProductName, *rec.Extracted}, nil
		}
		return DescriptionInput{rec.Category, rec.Subcategory, rec.ProductName, *rec.Extracted}, nil
	case StatePriceInput:
		if !has.cat || !has.sub || !has.name || !has.ext {
			return bad("missing extraction data")
		}
		return PriceInput{rec.Category, rec.Subcategory, rec.ProductName, *rec.Extracted, rec.Description}, nil
	}
	return bad("unknown state")
}

// encodeStep writes s into rec, clearing every field s does not carry.
func encodeStep(s Step, rec *storage.SessionRecord) {
	rec.State = s.State()
	rec.Category, rec.Subcategory, rec.ProductName, rec.Description = "", "", "", ""
	rec.Extracted = nil

	switch s := s.(type) {
	case CategorySelection:
	case SubcategorySelection:
		rec.Category = s.Category
	case ProductInput:
		rec.Category, rec.Subcategory = s.Category, s.Subcategory
	case Processing:
		rec.Category, rec.Subcategory, rec.ProductName = s.Category, s.Subcategory, s.ProductName
	case Confirmation:
		rec.Category, rec.Subcategory, rec.ProductName = s.Category, s.Subcategory, s.ProductName
		rec.Extracted = extractedPtr(s.Extracted)
	case DescriptionInput:
		rec.Category, rec.Subcategory, rec.ProductName = s.Category, s.Subcategory, s.ProductName
		rec.Extracted = extractedPtr(s.Extracted)
	case PriceInput:
		rec.Category, rec.Subcategory, rec.ProductName = s.Category, s.Subcategory, s.ProductName
		rec.Extracted = extractedPtr(s.Extracted)
		rec.Description = s.Description
	}
}

func extractedPtr(e listing.Extracted) *listing.Extracted {
	e.Attributes = e.Attributes.Clone()
	return &e
}

package listing

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Amount is a price that tolerates model output such as "$300" or "1,200".
type Amount float64

var amountPattern = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

func (a *Amount) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*a = Amount(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*a = 0
		return nil
	}
	m := amountPattern.FindString(s)
	if m == "" {
		*a = 0
		return nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		*a = 0
		return nil
	}
	*a = Amount(f)
	return nil
}

// PriceSuggestion is the model's estimate of a fair price range. All fields are
// zero when no estimate was produced.
type PriceSuggestion struct {
	MinPrice  Amount `json:"min_price"`
	MaxPrice  Amount `json:"max_price"`
	Currency  string `json:"currency,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// IsZero reports whether the suggestion carries no range.
func (p PriceSuggestion) IsZero() bool {
	return p.MinPrice == 0 && p.MaxPrice == 0
}

// Copy is the human-facing listing text.
type Copy struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Extracted is one interpretation of a product produced by an extractor.
type Extracted struct {
	Success         bool            `json:"success"`
	ProductName     string          `json:"product_name"`
	Category        string          `json:"category"`
	Subcategory     string          `json:"subcategory"`
	Attributes      Attributes      `json:"attributes"`
	Confidence      float64         `json:"confidence"`
	PriceSuggestion PriceSuggestion `json:"price_suggestion"`
	Listing         Copy            `json:"listing"`
	Error           string          `json:"error,omitempty"`
	Note            string          `json:"note,omitempty"`
}

// Status is the lifecycle state of a persisted listing.
type Status string

const (
	StatusActive   Status = "active"
	StatusSold     Status = "sold"
	StatusInactive Status = "inactive"
)

// ParseStatus validates s as a listing status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusActive, StatusSold, StatusInactive:
		return st, nil
	}
	return "", fmt.Errorf("invalid listing status %q (want active, sold or inactive)", s)
}

// Listing is a completed product-for-sale record.
type Listing struct {
	ID              string          `json:"id"`
	UserID          int64           `json:"user_id"`
	Username        string          `json:"username,omitempty"`
	Category        string          `json:"category"`
	Subcategory     string          `json:"subcategory"`
	ProductName     string          `json:"product_name"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Attributes      Attributes      `json:"attributes"`
	Confidence      float64         `json:"confidence"`
	PriceSuggestion PriceSuggestion `json:"price_suggestion"`
	Price           float64         `json:"price"`
	Status          Status          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Package export writes completed listings as standalone JSON documents for
// hand-off to other marketplaces.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/kalambet/bazar/internal/listing"
)

// Version is written into every export.
const Version = "1.0"

// Info describes the export itself.
type Info struct {
	ExportedAt    time.Time `json:"exported_at"`
	UserID        int64     `json:"user_id"`
	ListingID     string    `json:"listing_id"`
	ExportVersion string    `json:"export_version"`
}

// Body is the exported listing.
type Body struct {
	Title           string                  `json:"title"`
	ProductName     string                  `json:"product_name"`
	Category        string                  `json:"category"`
	Subcategory     string                  `json:"subcategory"`
	Attributes      listing.Attributes      `json:"attributes"`
	PriceSuggestion listing.PriceSuggestion `json:"price_suggestion"`
	Confidence      float64                 `json:"confidence"`
	FinalPrice      float64                 `json:"final_price"`
	Description     string                  `json:"description"`
}

// Document is the on-disk export format.
type Document struct {
	ExportInfo Info `json:"export_info"`
	Listing    Body `json:"listing"`
}

// Exporter writes listings into Dir.
type Exporter struct {
	Dir string
	now func() time.Time
}

// New returns an exporter writing to dir. The directory is created on first export.
func New(dir string) *Exporter {
	return &Exporter{Dir: dir, now: time.Now}
}

// Export writes l and returns the path of the created file.
func (e *Exporter) Export(l listing.Listing) (string, error) {
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}
	now := e.now()
	doc := Document{
		ExportInfo: Info{
			ExportedAt:    now,
			UserID:        l.UserID,
			ListingID:     l.ID,
			ExportVersion: Version,
		},
		Listing: Body{
			Title:           l.Title,
			ProductName:     l.ProductName,
			Category:        l.Category,
			Subcategory:     l.Subcategory,
			Attributes:      l.Attributes,
			PriceSuggestion: l.PriceSuggestion,
			Confidence:      l.Confidence,
			FinalPrice:      l.Price,
			Description:     l.Description,
		},
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encoding export: %w", err)
	}

	name := fmt.Sprintf("listing_%d_%s_%s.json", l.UserID, CleanName(l.ProductName), now.Format("20060102_150405"))
	path := filepath.Join(e.Dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("writing export: %w", err)
	}
	return path, nil
}

// CleanName reduces a product name to a short lowercase filename fragment.
func CleanName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' {
			b.WriteRune(r)
		}
	}
	clean := strings.ToLower(strings.ReplaceAll(strings.TrimRight(b.String(), " "), " ", "_"))
	if runes := []rune(clean); len(runes) > 30 {
		clean = string(runes[:30])
	}
	if clean == "" {
		return "unknown_product"
	}
	return clean
}

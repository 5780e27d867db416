package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kalambet/bazar/internal/listing"
	"github.com/kalambet/bazar/internal/metrics"
)

var knownBrands = []string{
	"Apple", "Samsung", "Xiaomi", "Huawei", "Google", "OnePlus", "Sony", "LG", "Nokia", "Motorola",
	"Lenovo", "HP", "Dell", "Asus", "Acer", "MSI", "Microsoft", "Canon", "Nikon", "Fujifilm",
	"Bosch", "Makita", "Philips", "Nike", "Adidas", "Puma", "Casio", "Seiko", "Nintendo", "Trek",
	"Giant", "Michelin", "Continental", "IKEA", "JBL", "Bose",
}

var knownColors = []string{"black", "white", "silver", "gold", "blue", "red", "green", "gray", "grey", "pink", "purple"}

var (
	storagePattern = regexp.MustCompile(`(?i)\b(\d+)\s?(GB|TB)\b`)
	ramPattern     = regexp.MustCompile(`(?i)\b(\d+)\s?GB\s?RAM\b`)
	screenPattern  = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s?(?:"|inch|inches|in)\b`)
)

var priceBands = map[string][2]float64{
	"electronics":      {80, 650},
	"home & garden":    {20, 300},
	"fashion":          {10, 150},
	"auto & moto":      {30, 400},
	"sports & leisure": {25, 500},
}

// Mock is an offline extractor that recognizes common brands and specs in the
// product name. It is meant for development and demos without model access.
type Mock struct {
	Currency string
}

// Extract interprets req from the product name alone.
func (m Mock) Extract(ctx context.Context, req Request) listing.Extracted {
	start := time.Now()
	res := m.extract(req)
	metrics.ObserveExtraction(Outcome(res), time.Since(start), res.Confidence)
	return res
}

func (m Mock) extract(req Request) listing.Extracted {
	name := strings.TrimSpace(req.ProductName)
	found := listing.NewAttributes()

	brand := detectBrand(name)
	if brand != "" {
		found.Set("Brand", brand)
	}
	storage := ""
	if sm := storagePattern.FindStringSubmatch(name); sm != nil && !ramPattern.MatchString(name) {
		storage = sm[1] + strings.ToUpper(sm[2])
		found.Set("Storage Capacity", storage)
	}
	if rm := ramPattern.FindStringSubmatch(name); rm != nil {
		found.Set("RAM", rm[1]+"GB")
	}
	if sm := screenPattern.FindStringSubmatch(name); sm != nil {
		found.Set("Screen Size", sm[1]+" inches")
	}
	if c := detectColor(name); c != "" {
		found.Set("Color", c)
	}
	if model := modelName(name, brand); model != "" {
		found.Set("Model", model)
	}
	found.Set("Product Type", productType(req.Subcategory))

	attrs := listing.NewAttributes()
	for _, want := range req.Attributes {
		v := listing.NotFound
		for key, val := range found.All() {
			if strings.EqualFold(key, want) || strings.Contains(strings.ToLower(want), strings.ToLower(key)) {
				v = val
				break
			}
		}
		attrs.Set(want, v)
	}
	attrs = Validate(attrs, req.Attributes)

	res := listing.Extracted{
		Success:     true,
		ProductName: name,
		Category:    req.Category,
		Subcategory: req.Subcategory,
		Attributes:  attrs,
		Confidence:  Score(attrs),
		Listing: listing.Copy{
			Title:       name,
			Description: fmt.Sprintf("Used %s in good working condition. Listed in %s.", name, req.Subcategory),
		},
	}
	if band, ok := priceBands[strings.ToLower(req.Category)]; ok {
		currency := m.Currency
		if currency == "" {
			currency = defaultCurrency
		}
		res.PriceSuggestion = listing.PriceSuggestion{
			MinPrice:  listing.Amount(band[0]),
			MaxPrice:  listing.Amount(band[1]),
			Currency:  currency,
			Reasoning: "typical used-market range for the category",
		}
	}
	return res
}

func detectBrand(name string) string {
	lower := strings.ToLower(name)
	for _, b := range knownBrands {
		lb := strings.ToLower(b)
		if lower == lb || strings.HasPrefix(lower, lb+" ") || strings.Contains(lower, " "+lb+" ") || strings.HasSuffix(lower, " "+lb) {
			return b
		}
	}
	return ""
}

func detectColor(name string) string {
	for _, w := range strings.Fields(strings.ToLower(name)) {
		for _, c := range knownColors {
			if w == c {
				return strings.ToUpper(c[:1]) + c[1:]
			}
		}
	}
	return ""
}

func modelName(name, brand string) string {
	model := name
	if brand != "" && len(model) >= len(brand) && strings.EqualFold(model[:len(brand)], brand) {
		model = model[len(brand):]
	}
	model = storagePattern.ReplaceAllString(model, "")
	return strings.Join(strings.Fields(model), " ")
}

func productType(subcategory string) string {
	s := strings.ToLower(subcategory)
	switch {
	case strings.Contains(s, "smartphone"):
		return "Smartphone"
	case strings.Contains(s, "laptop"):
		return "Laptop"
	case strings.Contains(s, "bicycle"):
		return "Bicycle"
	case strings.Contains(s, "shoe"):
		return "Shoes"
	}
	if subcategory == "" {
		return listing.NotFound
	}
	return subcategory
}

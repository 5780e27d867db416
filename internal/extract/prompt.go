package extract

import (
	"fmt"
	"strings"

	"github.com/kalambet/bazar/internal/listing"
	"github.com/kalambet/bazar/internal/llm"
)

const systemPrompt = "You are a product information extraction expert. " +
	"You identify products from short marketplace titles and return their technical attributes, " +
	"a realistic second-hand price range and listing copy. Always respond with valid JSON only."

// BuildMessages returns the system and user messages for one extraction.
func BuildMessages(req Request, currency string) []llm.Message {
	if currency == "" {
		currency = defaultCurrency
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Product name: %s\n", req.ProductName)
	fmt.Fprintf(&b, "Category: %s\n", req.Category)
	fmt.Fprintf(&b, "Subcategory: %s\n\n", req.Subcategory)

	if len(req.Attributes) > 0 {
		b.WriteString("Determine the following attributes for this product:\n")
		for _, a := range req.Attributes {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	} else {
		b.WriteString("Determine the most relevant technical attributes for this product.\n")
	}

	fmt.Fprintf(&b, `
Rules:
1. Use the attribute names exactly as listed above as keys in "attributes".
2. If an attribute cannot be determined from the product name or your knowledge of the product, use "%s".
3. Do not invent attributes that are not listed unless they are essential to identify the product.
4. "price_suggestion" is a realistic used-market range in %s; use 0 for both bounds if you cannot estimate it.
5. "listing.title" is a short marketplace title, at most 80 characters.
6. "listing.description" is 2-3 sentences describing the product for a buyer.

Respond with exactly one JSON object in this format:
{
  "attributes": {
    "Attribute Name": "value"
  },
  "price_suggestion": {
    "min_price": 0,
    "max_price": 0,
    "currency": "%s",
    "reasoning": "short explanation"
  },
  "listing": {
    "title": "...",
    "description": "..."
  }
}`, listing.NotFound, currency, currency)

	return []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}
}

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/bazar/internal/listing"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, fmt.Sprintf(format, args...))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+fmt.Sprintf(format, args...)))
}

// writeListingRow prints one listing as a single summary line.
func writeListingRow(w io.Writer, l listing.Listing) {
	status := string(l.Status)
	switch l.Status {
	case listing.StatusActive:
		status = colorize(colorGreen, status)
	case listing.StatusSold:
		status = colorize(colorYellow, status)
	default:
		status = colorize(colorDim, status)
	}
	fmt.Fprintf(w, "%s  %-8s %10.2f  %s  %s\n",
		l.ID, status, l.Price, l.CreatedAt.Local().Format("2006-01-02"), l.ProductName)
}

// writeListingDetail prints every field of a listing.
func writeListingDetail(w io.Writer, l listing.Listing) {
	fmt.Fprintf(w, "%s\n", colorize(colorBold, l.Title))
	fmt.Fprintf(w, "  id:          %s\n", l.ID)
	fmt.Fprintf(w, "  seller:      %s (%d)\n", l.Username, l.UserID)
	fmt.Fprintf(w, "  category:    %s / %s\n", l.Category, l.Subcategory)
	fmt.Fprintf(w, "  product:     %s\n", l.ProductName)
	fmt.Fprintf(w, "  price:       %.2f\n", l.Price)
	if !l.PriceSuggestion.IsZero() {
		fmt.Fprintf(w, "  suggested:   %v - %v %s\n", l.PriceSuggestion.MinPrice, l.PriceSuggestion.MaxPrice, l.PriceSuggestion.Currency)
	}
	fmt.Fprintf(w, "  status:      %s\n", l.Status)
	fmt.Fprintf(w, "  confidence:  %.0f%%\n", l.Confidence*100)
	fmt.Fprintf(w, "  created:     %s\n", l.CreatedAt.Local().Format("2006-01-02 15:04"))
	if l.Attributes.Len() > 0 {
		fmt.Fprintln(w, "  attributes:")
		for _, p := range l.Attributes.Pairs() {
			fmt.Fprintf(w, "    %s: %s\n", p.Name, p.Value)
		}
	}
	if d := strings.TrimSpace(l.Description); d != "" {
		fmt.Fprintf(w, "\n%s\n", d)
	}
}

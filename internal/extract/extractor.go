// Package extract turns a free-text product name into structured listing data
// by asking a language model and interpreting its semi-structured reply.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/bazar/internal/listing"
	"github.com/kalambet/bazar/internal/llm"
	"github.com/kalambet/bazar/internal/metrics"
)

const (
	defaultTemperature = 0.3
	defaultMaxTokens   = 1000
	defaultCurrency    = "USD"

	// FallbackConfidence is assigned when attributes were scraped from broken JSON.
	FallbackConfidence = 0.5
	fallbackNote       = "fallback extraction used: model JSON could not be parsed"
	emptyContentError  = "Empty response content from API"
)

// Completer is the model call the extractor depends on.
type Completer interface {
	Complete(ctx context.Context, req llm.ChatRequest) (string, error)
}

// Request describes the product to interpret.
type Request struct {
	ProductName string
	Category    string
	Subcategory string
	Attributes  []string
}

// Options tunes generation. Zero values select defaults.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Currency    string
	Logger      *slog.Logger
}

// Client extracts attributes through a hosted model.
type Client struct {
	llm    Completer
	opts   Options
	logger *slog.Logger
}

// New creates a Client calling c.
func New(c Completer, opts Options) *Client {
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Currency == "" {
		opts.Currency = defaultCurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{llm: c, opts: opts, logger: logger}
}

// Extract interprets req. It never fails outright: transport and parse
// problems are reported through the Success and Error fields.
func (c *Client) Extract(ctx context.Context, req Request) listing.Extracted {
	start := time.Now()
	res := c.extract(ctx, req)
	metrics.ObserveExtraction(Outcome(res), time.Since(start), res.Confidence)
	return res
}

func (c *Client) extract(ctx context.Context, req Request) listing.Extracted {
	res := listing.Extracted{
		ProductName: req.ProductName,
		Category:    req.Category,
		Subcategory: req.Subcategory,
	}

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	content, err := c.llm.Complete(ctx, llm.ChatRequest{
		Model:       c.opts.Model,
		Messages:    BuildMessages(req, c.opts.Currency),
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	})
	if err != nil {
		c.logger.Warn("extraction request failed", "product", req.ProductName, "error", err)
		res.Error = err.Error()
		return res
	}
	if strings.TrimSpace(content) == "" {
		c.logger.Warn("extraction returned empty content", "product", req.ProductName)
		res.Error = emptyContentError
		return res
	}

	return Interpret(res, content, req.Attributes, c.logger)
}

// Interpret fills res from raw model content. It is shared by every extractor
// that produces model-like text.
func Interpret(res listing.Extracted, content string, expected []string, logger *slog.Logger) listing.Extracted {
	if logger == nil {
		logger = slog.Default()
	}

	rep, perr := parseReply(isolateJSON(content))
	if perr != nil {
		attrs, ferr := manualExtract(content, expected)
		if ferr != nil {
			logger.Warn("extraction fallback failed", "product", res.ProductName, "parse_error", perr, "error", ferr)
			res.Error = fmt.Sprintf("JSON parse failed and fallback extraction failed: %v | %v", perr, ferr)
			return res
		}
		logger.Info("model JSON unparseable, used fallback extraction", "product", res.ProductName, "error", perr)
		res.Success = true
		res.Attributes = Validate(attrs, expected)
		res.Confidence = FallbackConfidence
		res.Note = fallbackNote
		res.Listing.Title = res.ProductName
		return res
	}

	switch r := rep.(type) {
	case envelope:
		res.PriceSuggestion = r.price
		res.Listing = r.copy
	case attributesOnly:
		// No price suggestion or copy in this shape.
	}

	res.Success = true
	res.Attributes = Validate(rep.attributes(), expected)
	res.Confidence = Score(res.Attributes)
	res.Listing.Title = strings.TrimSpace(res.Listing.Title)
	res.Listing.Description = strings.TrimSpace(res.Listing.Description)
	if res.Listing.Title == "" {
		res.Listing.Title = res.ProductName
	}
	return res
}

// Outcome classifies a result for metrics and logs.
func Outcome(res listing.Extracted) string {
	switch {
	case !res.Success:
		return "failure"
	case res.Note != "":
		return "fallback"
	default:
		return "success"
	}
}

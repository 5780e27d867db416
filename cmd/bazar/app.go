package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kalambet/bazar/internal/catalog"
	"github.com/kalambet/bazar/internal/config"
	"github.com/kalambet/bazar/internal/conversation"
	"github.com/kalambet/bazar/internal/dialogue"
	"github.com/kalambet/bazar/internal/export"
	"github.com/kalambet/bazar/internal/extract"
	"github.com/kalambet/bazar/internal/llm"
	"github.com/kalambet/bazar/internal/storage"
)

// app is the wired application shared by serve, chat and extract.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	store      storage.Store
	catalog    *catalog.Catalog
	extractor  conversation.Extractor
	machine    *conversation.Machine
	dispatcher *dialogue.Dispatcher
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadCatalog reads the configured catalog. A missing file selects the
// built-in categories; an invalid one leaves the catalog empty so the bot
// reports that no categories are available.
func loadCatalog(path string, logger *slog.Logger) *catalog.Catalog {
	cat, err := catalog.Load(path)
	if err == nil {
		logger.Info("catalog loaded", "path", path, "categories", len(cat.Categories()))
		return cat
	}
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("catalog file not found, using built-in categories", "path", path)
		return catalog.Default()
	}
	logger.Error("catalog is invalid, no categories available", "path", path, "error", err)
	return cat
}

func newExtractor(cfg config.LLMConfig, logger *slog.Logger) (conversation.Extractor, error) {
	if cfg.Provider == "mock" {
		logger.Warn("using offline mock extractor")
		return extract.Mock{Currency: cfg.Currency}, nil
	}
	client, err := llm.NewClient(cfg.APIKey,
		llm.WithBaseURL(cfg.BaseURL),
		llm.WithTimeout(cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("creating LLM client: %w", err)
	}
	return extract.New(client, extract.Options{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
		Currency:    cfg.Currency,
		Logger:      logger,
	}), nil
}

func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := storage.Open(cfg.Storage.Backend, cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	ext, err := newExtractor(cfg.LLM, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	cat := loadCatalog(cfg.Catalog.Path, logger)

	opts := conversation.Options{
		SkipDescription:   !cfg.Flow.DescriptionStep,
		Logger:            logger,
		ProcessingTimeout: cfg.LLM.Timeout + 30*time.Second,
	}
	if cfg.Export.Enabled {
		opts.Exporter = export.New(cfg.Export.Dir)
	}
	m := conversation.New(cat, store, ext, opts)

	return &app{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		catalog:    cat,
		extractor:  ext,
		machine:    m,
		dispatcher: dialogue.NewDispatcher(m, logger),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"


	"github.com/kalambet/bazar/internal/dialogue"
)

// Handler processes one inbound event, replying through chat.
type Handler interface {
	Handle(ctx context.Context, chat dialogue.Chat, in dialogue.Inbound) error
}

// Options configure a Bot.
type Options struct {
	Token          string
	BaseURL        string
	PollTimeoutSec int
	// Workers bounds how many handlers run at once across all users.
	Workers    int
	OffsetFile string
	Client     *http.Client
	Logger     *slog.Logger
}

// Bot long-polls for updates and feeds them to a Handler.
type Bot struct {
	client      *Client
	handler     Handler
	pollTimeout int
	workers     int
	offsetFile  string
	logger      *slog.Logger
}

// NewBot validates opts and returns a Bot.
func NewBot(opts Options, h Handler) (*Bot, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("telegram token is required")
	}
	if h == nil {
		return nil, errors.New("telegram handler is required")
	}
	b := &Bot{
		handler:     h,
		pollTimeout: opts.PollTimeoutSec,
		workers:     opts.Workers,
		offsetFile:  opts.OffsetFile,
		logger:      opts.Logger,
	}
	if b.pollTimeout <= 0 {
		b.pollTimeout = 30
	}
	if b.workers <= 0 {
		b.workers = 4
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	hc := opts.Client
	if hc == nil {
		hc = &http.Client{Timeout: time.Duration(b.pollTimeout+15) * time.Second}
	}
	b.client = NewClient(opts.Token, opts.BaseURL, hc)
	return b, nil
}

// Client returns the API client the bot replies with.
func (b *Bot) Client() *Client { return b.client }

// Run polls until ctx is cancelled. Only a corrupt offset file stops it early.
// Polling never waits for handlers: updates are queued per user and the
// offset advances once they are queued.
func (b *Bot) Run(ctx context.Context) error {
	offset, err := loadOffset(b.offsetFile)
	if err != nil {
		return err
	}
	b.logger.Info("telegram bot started", "poll_timeout", b.pollTimeout, "workers", b.workers, "offset", offset)

	q := newQueues(b.workers, b.serve)
	defer q.wait()

	backoff := 2 * time.Second
	for {
		if ctx.Err() != nil {
			b.logger.Info("telegram bot stopping")
			return nil
		}

		updates, next, err := b.client.getUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			b.logger.Warn("getUpdates failed", "error", err, "retry_in", backoff)
			if sleepOrCancel(ctx, backoff) != nil {
				continue
			}
			backoff = min(backoff*2, 15*time.Second)
			continue
		}
		backoff = 2 * time.Second

		b.dispatch(ctx, q, updates)

		if next > offset {
			offset = next
			if err := saveOffset(b.offsetFile, offset); err != nil {
				b.logger.Warn("saving telegram offset failed", "error", err)
			}
		}
	}
}

// dispatch queues a batch. Callback queries that carry nothing to handle are
// still acknowledged so the client stops its spinner.
func (b *Bot) dispatch(ctx context.Context, q *queues, updates []update) {
	for _, u := range updates {
		in, cbID, ok := toInbound(u)
		if !ok {
			if cbID != "" {
				if err := b.client.answerCallback(ctx, cbID); err != nil {
					b.logger.Warn("answerCallbackQuery failed", "error", err)
				}
			}
			continue
		}
		q.push(ctx, job{in: in, callbackID: cbID})
	}
}

func (b *Bot) serve(ctx context.Context, j job) {
	if j.callbackID != "" {
		if err := b.client.answerCallback(ctx, j.callbackID); err != nil {
			b.logger.Warn("answerCallbackQuery failed", "user_id", j.in.UserID, "error", err)
		}
	}
	if err := b.handler.Handle(ctx, b.client, j.in); err != nil {
		b.logger.Error("handling update failed", "user_id", j.in.UserID, "error", err)
	}
}

// toInbound converts an update. It also returns the callback query id to
// acknowledge, if any.
func toInbound(u update) (dialogue.Inbound, string, bool) {
	switch {
	case u.CallbackQuery != nil:
		cq := u.CallbackQuery
		if cq.Message == nil || cq.Data == "" {
			return dialogue.Inbound{}, cq.ID, false
		}
		return dialogue.Inbound{
			UserID:       cq.From.ID,
			ChatID:       cq.Message.Chat.ID,
			Username:     displayName(cq.From),
			CallbackData: cq.Data,
			MessageID:    dialogue.MessageID(cq.Message.MessageID),
		}, cq.ID, true
	case u.Message != nil:
		m := u.Message
		if m.Chat.ID == 0 || strings.TrimSpace(m.Text) == "" {
			return dialogue.Inbound{}, "", false
		}
		in := dialogue.Inbound{UserID: m.Chat.ID, ChatID: m.Chat.ID, Text: m.Text}
		if m.From != nil {
			in.UserID = m.From.ID
			in.Username = displayName(*m.From)
		}
		return in, "", true
	}
	return dialogue.Inbound{}, "", false
}

func displayName(u user) string {
	if u.Username != "" {
		return u.Username
	}
	return u.FirstName
}

func sleepOrCancel(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func loadOffset(path string) (int64, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading telegram offset file: %w", err)
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return 0, nil
	}
	offset, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing telegram offset: %w", err)
	}
	return max(offset, 0), nil
}

func saveOffset(path string, offset int64) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating telegram offset dir: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.FormatInt(offset, 10)+"\n"), 0o644)
}

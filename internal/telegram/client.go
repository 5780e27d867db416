// Package telegram connects the dialogue layer to the Telegram Bot API using
// long polling.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/bazar/internal/dialogue"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// maxRunes keeps messages under the 4096 character API limit.
const maxRunes = 3500

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result"`
}

type update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *message       `json:"message,omitempty"`
	CallbackQuery *callbackQuery `json:"callback_query,omitempty"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	From      *user  `json:"from,omitempty"`
	Chat      chat   `json:"chat"`
	Text      string `json:"text"`
}

type user struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

type chat struct {
	ID int64 `json:"id"`
}

type callbackQuery struct {
	ID      string   `json:"id"`
	From    user     `json:"from"`
	Message *message `json:"message,omitempty"`
	Data    string   `json:"data"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      int64        `json:"chat_id"`
	Text        string       `json:"text"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type editMessageRequest struct {
	ChatID      int64        `json:"chat_id"`
	MessageID   int64        `json:"message_id"`
	Text        string       `json:"text"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

type answerCallbackRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
}

// APIError is a failed Bot API call.
type APIError struct {
	Method      string
	Status      int
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("telegram %s failed (http %d)", e.Method, e.Status)
	}
	return fmt.Sprintf("telegram %s failed (http %d): %s", e.Method, e.Status, e.Description)
}

// Client calls Bot API methods. It implements dialogue.Chat.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a Client. An empty baseURL uses DefaultBaseURL and a nil
// hc gets a client with a 60s timeout.
func NewClient(token, baseURL string, hc *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{baseURL: baseURL, token: strings.TrimSpace(token), http: hc}
}

func (c *Client) call(ctx context.Context, method string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading %s response: %w", method, err)
	}
	var res apiResponse
	if err := json.Unmarshal(data, &res); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{Method: method, Status: resp.StatusCode, Description: compactError(string(data))}
		}
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !res.OK {
		return &APIError{Method: method, Status: resp.StatusCode, Description: res.Description}
	}
	if out != nil && len(res.Result) > 0 {
		if err := json.Unmarshal(res.Result, out); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) getUpdates(ctx context.Context, offset int64, timeoutSec int) ([]update, int64, error) {
	var updates []update
	err := c.call(ctx, "getUpdates", getUpdatesRequest{
		Offset:         offset,
		Timeout:        timeoutSec,
		AllowedUpdates: []string{"message", "callback_query"},
	}, &updates)
	if err != nil {
		return nil, offset, err
	}
	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return updates, next, nil
}

func markup(kb [][]dialogue.KeyButton) *replyMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]inlineButton, 0, len(kb))
	for _, row := range kb {
		r := make([]inlineButton, 0, len(row))
		for _, b := range row {
			r = append(r, inlineButton{Text: b.Text, CallbackData: b.Data})
		}
		rows = append(rows, r)
	}
	return &replyMarkup{InlineKeyboard: rows}
}

// Send delivers msg, splitting long text. The keyboard goes on the last part,
// whose id is returned.
func (c *Client) Send(ctx context.Context, chatID int64, msg dialogue.Message) (dialogue.MessageID, error) {
	parts := splitMessage(msg.Text, maxRunes)
	if len(parts) == 0 {
		parts = []string{"…"}
	}
	var sent message
	for i, p := range parts {
		req := sendMessageRequest{ChatID: chatID, Text: p}
		if i == len(parts)-1 {
			req.ReplyMarkup = markup(msg.Keyboard)
		}
		if err := c.call(ctx, "sendMessage", req, &sent); err != nil {
			return 0, err
		}
	}
	return dialogue.MessageID(sent.MessageID), nil
}

// Edit replaces message id. Text beyond the size limit is sent as follow-up
// messages.
func (c *Client) Edit(ctx context.Context, chatID int64, id dialogue.MessageID, msg dialogue.Message) error {
	parts := splitMessage(msg.Text, maxRunes)
	if len(parts) > 1 {
		if err := c.edit(ctx, chatID, id, dialogue.Message{Text: parts[0]}); err != nil {
			return err
		}
		_, err := c.Send(ctx, chatID, dialogue.Message{Text: strings.Join(parts[1:], "\n"), Keyboard: msg.Keyboard})
		return err
	}
	return c.edit(ctx, chatID, id, msg)
}

func (c *Client) edit(ctx context.Context, chatID int64, id dialogue.MessageID, msg dialogue.Message) error {
	err := c.call(ctx, "editMessageText", editMessageRequest{
		ChatID:      chatID,
		MessageID:   int64(id),
		Text:        msg.Text,
		ReplyMarkup: markup(msg.Keyboard),
	}, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified") {
		return nil
	}
	return err
}

func (c *Client) answerCallback(ctx context.Context, id string) error {
	return c.call(ctx, "answerCallbackQuery", answerCallbackRequest{CallbackQueryID: id}, nil)
}

func splitMessage(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 {
		limit = maxRunes
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var out []string
	for start := 0; start < len(runes); {
		end := start + limit
		if end >= len(runes) {
			out = append(out, strings.TrimSpace(string(runes[start:])))
			break
		}
		split := end
		for i := end; i > start+(limit/2); i-- {
			if runes[i-1] == '\n' {
				split = i
				break
			}
		}
		if chunk := strings.TrimSpace(string(runes[start:split])); chunk != "" {
			out = append(out, chunk)
		}
		start = split
	}
	return out
}

func compactError(raw string) string {
	raw = strings.Join(strings.Fields(raw), " ")
	if raw == "" {
		return "unknown error"
	}
	if len(raw) > 300 {
		return raw[:297] + "..."
	}
	return raw
}

package dialogue

import (
	"context"
	"fmt"
	"sync"
)

// Recorder is an in-memory Chat that keeps every message it is given. It
// backs the event endpoint of the admin API and the console REPL.
type Recorder struct {
	mu     sync.Mutex
	nextID MessageID
	sent   []Sent
}

// Sent is one recorded delivery. Edited is true when the message replaced an
// earlier one.
type Sent struct {
	ID      MessageID `json:"id"`
	ChatID  int64     `json:"chat_id"`
	Edited  bool      `json:"edited"`
	Message Message   `json:"message"`
}

func (r *Recorder) Send(ctx context.Context, chatID int64, msg Message) (MessageID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.sent = append(r.sent, Sent{ID: r.nextID, ChatID: chatID, Message: msg})
	return r.nextID, nil
}

func (r *Recorder) Edit(ctx context.Context, chatID int64, id MessageID, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id <= 0 || id > r.nextID {
		return fmt.Errorf("message %d not found", id)
	}
	r.sent = append(r.sent, Sent{ID: id, ChatID: chatID, Edited: true, Message: msg})
	return nil
}

// Messages returns everything recorded so far.
func (r *Recorder) Messages() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Last returns the most recent delivery.
func (r *Recorder) Last() (Sent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return Sent{}, false
	}
	return r.sent[len(r.sent)-1], true
}

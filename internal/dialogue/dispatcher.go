package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/bazar/internal/conversation"
	"github.com/kalambet/bazar/internal/metrics"
)

// Chat sends and edits messages in one conversation.
type Chat interface {
	Send(ctx context.Context, chatID int64, msg Message) (MessageID, error)
	Edit(ctx context.Context, chatID int64, id MessageID, msg Message) error
}

// Dispatcher routes decoded events to the conversation machine.
type Dispatcher struct {
	machine *conversation.Machine
	logger  *slog.Logger
}

// NewDispatcher returns a Dispatcher for m. A nil logger uses slog.Default().
func NewDispatcher(m *conversation.Machine, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{machine: m, logger: logger}
}

// Handle processes one inbound event. Only delivery failures are returned;
// operation errors are answered in the chat.
func (d *Dispatcher) Handle(ctx context.Context, chat Chat, in Inbound) error {
	ev := Decode(in)
	metrics.ObserveEvent(ev.Kind())
	u := conversation.User{ID: in.UserID, Name: in.Username}
	if u.Name == "" {
		u.Name = fmt.Sprintf("User_%d", in.UserID)
	}

	switch ev := ev.(type) {
	case Command:
		return d.command(ctx, chat, in, u, ev)
	case Button:
		msg := d.button(ctx, u, ev.Action)
		if in.MessageID != 0 {
			err := chat.Edit(ctx, in.ChatID, in.MessageID, msg)
			if err == nil {
				return nil
			}
			d.logger.Warn("editing origin message failed, sending instead", "user_id", u.ID, "error", err)
		}
		_, err := chat.Send(ctx, in.ChatID, msg)
		return err
	case Text:
		return d.text(ctx, chat, in, u, ev.Body)
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, chat Chat, chatID int64, msg Message) error {
	_, err := chat.Send(ctx, chatID, msg)
	return err
}

func (d *Dispatcher) command(ctx context.Context, chat Chat, in Inbound, u conversation.User, c Command) error {
	var (
		res conversation.Result
		err error
	)
	switch c.Name {
	case CmdStart, CmdHelp:
		return d.send(ctx, chat, in.ChatID, Welcome())
	case CmdSell, CmdSellRo:
		res, err = d.machine.Start(ctx, u)
	case CmdCancel:
		res, err = d.machine.Cancel(ctx, u)
	case CmdStatus:
		res, err = d.machine.Status(ctx, u)
	case CmdMyListings:
		res, err = d.machine.MyListings(ctx, u, conversation.DefaultListingsLimit)
	default:
		return d.send(ctx, chat, in.ChatID, UnknownCommand(c.Name))
	}
	return d.send(ctx, chat, in.ChatID, d.outcome(u, "/"+c.Name, res, err))
}

func (d *Dispatcher) button(ctx context.Context, u conversation.User, a Action) Message {
	var (
		res conversation.Result
		err error
	)
	switch a := a.(type) {
	case ChooseCategory:
		res, err = d.machine.SelectCategory(ctx, u, a.Category)
	case ChooseSubcategory:
		res, err = d.machine.SelectSubcategory(ctx, u, a.Category, a.Subcategory)
	case BackToCategories:
		res, err = d.machine.Back(ctx, u)
	case CancelListing:
		res, err = d.machine.Cancel(ctx, u)
	case ConfirmProduct:
		res, err = d.machine.Confirm(ctx, u)
	case RejectProduct:
		res, err = d.machine.Reject(ctx, u)
	default:
		return Stale()
	}
	return d.outcome(u, "button", res, err)
}

// text handles free text. A product name gets an interim "analyzing"
// message that is replaced by the outcome.
func (d *Dispatcher) text(ctx context.Context, chat Chat, in Inbound, u conversation.User, body string) error {
	name := strings.TrimSpace(body)
	if d.expectsProductName(ctx, u) && utf8.RuneCountInString(name) >= conversation.MinProductNameLength {
		id, err := chat.Send(ctx, in.ChatID, Analyzing(name))
		if err != nil {
			return err
		}
		res, err := d.machine.SubmitProductName(ctx, u, name)
		msg := d.outcome(u, "product_name", res, err)
		if err := chat.Edit(ctx, in.ChatID, id, msg); err != nil {
			d.logger.Warn("editing analyzing message failed, sending instead", "user_id", u.ID, "error", err)
			return d.send(ctx, chat, in.ChatID, msg)
		}
		return nil
	}
	res, err := d.machine.HandleText(ctx, u, body)
	return d.send(ctx, chat, in.ChatID, d.outcome(u, "text", res, err))
}

func (d *Dispatcher) expectsProductName(ctx context.Context, u conversation.User) bool {
	res, err := d.machine.Status(ctx, u)
	if err != nil {
		return false
	}
	s, ok := res.(conversation.StatusSummary)
	return ok && s.Summary.State == conversation.StateProductInput
}

// outcome renders a result or maps an operation error to a reply.
func (d *Dispatcher) outcome(u conversation.User, op string, res conversation.Result, err error) Message {
	switch {
	case err == nil:
		return Render(res)
	case errors.Is(err, conversation.ErrNoSession):
		return NoSession()
	case errors.Is(err, conversation.ErrStaleAction):
		return Stale()
	case errors.Is(err, conversation.ErrUnknownSelection):
		return UnknownSelection()
	}
	d.logger.Error("operation failed", "user_id", u.ID, "op", op, "error", err)
	return Failure()
}

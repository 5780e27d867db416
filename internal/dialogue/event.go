// Package dialogue turns chat events into conversation operations and renders
// the results as chat messages with inline buttons.
package dialogue

import (
	"fmt"
	"strings"
)

// Inbound is a transport-neutral chat event. CallbackData is set for button
// presses, Text for typed messages. MessageID is the message a button was
// attached to.
type Inbound struct {
	UserID       int64
	ChatID       int64
	Username     string
	Text         string
	CallbackData string
	MessageID    MessageID
}

// Event is a decoded inbound event.
type Event interface {
	Kind() string
	event()
}

// Command is a slash command such as /sell.
type Command struct {
	Name string
	Args string
}

// Button is a pressed inline button.
type Button struct {
	Action Action
}

// Text is free text typed by the user.
type Text struct {
	Body string
}

func (Command) Kind() string { return "command" }
func (Button) Kind() string  { return "button" }
func (Text) Kind() string    { return "text" }

func (Command) event() {}
func (Button) event()  {}
func (Text) event()    {}

// Command names.
const (
	CmdStart      = "start"
	CmdHelp       = "help"
	CmdSell       = "sell"
	CmdSellRo     = "plaseaza_anunt"
	CmdCancel     = "cancel"
	CmdStatus     = "status"
	CmdMyListings = "my_listings"
)

// Decode classifies in. Button data takes precedence over text.
func Decode(in Inbound) Event {
	if in.CallbackData != "" {
		a, err := DecodeAction(in.CallbackData)
		if err != nil {
			return Button{Action: Unknown{Data: in.CallbackData}}
		}
		return Button{Action: a}
	}
	text := strings.TrimSpace(in.Text)
	if strings.HasPrefix(text, "/") {
		name, args, _ := strings.Cut(text[1:], " ")
		if at := strings.IndexByte(name, '@'); at >= 0 {
			name = name[:at]
		}
		return Command{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}
	}
	return Text{Body: in.Text}
}

// Action is what a button asks for.
type Action interface {
	action()
}

type (
	ChooseCategory struct {
		Category string
	}
	ChooseSubcategory struct {
		Category    string
		Subcategory string
	}
	BackToCategories struct{}
	CancelListing    struct{}
	ConfirmProduct   struct{}
	RejectProduct    struct{}
	// Unknown is button data this version does not understand.
	Unknown struct {
		Data string
	}
)

func (ChooseCategory) action()    {}
func (ChooseSubcategory) action() {}
func (BackToCategories) action()  {}
func (CancelListing) action()     {}
func (ConfirmProduct) action()    {}
func (RejectProduct) action()     {}
func (Unknown) action()           {}

const (
	prefixCategory    = "cat_"
	prefixSubcategory = "subcat_"
	dataBack          = "back_to_categories"
	dataCancel        = "cancel_listing"
	dataConfirm       = "confirm_product"
	dataReject        = "reject_product"
)

var (
	escaper   = strings.NewReplacer("%", "%25", "_", "%5F")
	unescaper = strings.NewReplacer("%5F", "_", "%25", "%")
)

// EncodeAction returns the button payload for a. Category names are escaped
// so a subcategory payload splits unambiguously at its first raw underscore.
func EncodeAction(a Action) string {
	switch a := a.(type) {
	case ChooseCategory:
		return prefixCategory + escaper.Replace(a.Category)
	case ChooseSubcategory:
		return prefixSubcategory + escaper.Replace(a.Category) + "_" + a.Subcategory
	case BackToCategories:
		return dataBack
	case CancelListing:
		return dataCancel
	case ConfirmProduct:
		return dataConfirm
	case RejectProduct:
		return dataReject
	case Unknown:
		return a.Data
	}
	return ""
}

// DecodeAction parses a button payload produced by EncodeAction.
func DecodeAction(data string) (Action, error) {
	switch data {
	case dataBack:
		return BackToCategories{}, nil
	case dataCancel:
		return CancelListing{}, nil
	case dataConfirm:
		return ConfirmProduct{}, nil
	case dataReject:
		return RejectProduct{}, nil
	}
	if rest, ok := strings.CutPrefix(data, prefixSubcategory); ok {
		cat, sub, ok := strings.Cut(rest, "_")
		if !ok || cat == "" || sub == "" {
			return nil, fmt.Errorf("malformed subcategory payload %q", data)
		}
		return ChooseSubcategory{Category: unescaper.Replace(cat), Subcategory: sub}, nil
	}
	if rest, ok := strings.CutPrefix(data, prefixCategory); ok {
		if rest == "" {
			return nil, fmt.Errorf("malformed category payload %q", data)
		}
		return ChooseCategory{Category: unescaper.Replace(rest)}, nil
	}
	return nil, fmt.Errorf("unknown button payload %q", data)
}

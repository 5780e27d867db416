package dialogue

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kalambet/bazar/internal/catalog"
	"github.com/kalambet/bazar/internal/conversation"
	"github.com/kalambet/bazar/internal/listing"
)

// MessageID identifies a sent message within a chat.
type MessageID int64

// KeyButton is one inline keyboard button.
type KeyButton struct {
	Text string `json:"text"`
	Data string `json:"data"`
}

// Message is an outgoing chat message. Keyboard rows are rendered top to bottom.
type Message struct {
	Text     string        `json:"text"`
	Keyboard [][]KeyButton `json:"keyboard,omitempty"`
}

func button(text string, a Action) KeyButton {
	return KeyButton{Text: text, Data: EncodeAction(a)}
}

var cancelRow = []KeyButton{button("🚫 Cancel", CancelListing{})}

const welcomeText = "👋 Welcome to bazar!\n\n" +
	"I help you list used products for sale. Pick a category, tell me the product " +
	"name and I will fill in the details and suggest a price.\n\n" +
	"Commands:\n" +
	"/sell - create a new listing\n" +
	"/status - show the listing in progress\n" +
	"/my_listings - show your recent listings\n" +
	"/cancel - cancel the listing in progress"

// Welcome is the reply to /start and /help.
func Welcome() Message { return Message{Text: welcomeText} }

// Analyzing is shown while extraction runs.
func Analyzing(productName string) Message {
	return Message{Text: "🔍 Analyzing product...\n\n🏷️ Product: " + productName +
		"\n\n⏳ Please wait while I extract product information..."}
}

// Failure is the generic reply for unexpected errors.
func Failure() Message {
	return Message{Text: "❌ Something went wrong. Please try again."}
}

// NoSession is the reply when an operation needs a session.
func NoSession() Message {
	return Message{Text: "ℹ️ No active listing session. Use /sell to start one!"}
}

// Stale is the reply to a button that no longer applies.
func Stale() Message {
	return Message{Text: "⌛ That button is no longer active. Use /status to see where you are."}
}

// UnknownSelection is the reply to a category or subcategory missing from the catalog.
func UnknownSelection() Message {
	return Message{Text: "❓ That category is not available anymore. Use /cancel and start again with /sell."}
}

// UnknownCommand is the reply to an unrecognized slash command.
func UnknownCommand(name string) Message {
	return Message{Text: "❓ Unknown command /" + name + ".\n\n" + welcomeText}
}

// Render turns a machine result into a message.
func Render(res conversation.Result) Message {
	switch r := res.(type) {
	case conversation.ShowCategories:
		return categoryMenu(r.Categories)
	case conversation.ShowSubcategories:
		return subcategoryMenu(r.Category)
	case conversation.AskProductName:
		return askProductName(r)
	case conversation.ProductNameTooShort:
		return Message{Text: fmt.Sprintf("❌ Product name is too short. Please enter at least %d characters.",
			conversation.MinProductNameLength)}
	case conversation.AwaitConfirmation:
		return confirmationCard(r.Extracted)
	case conversation.ExtractionFailed:
		msg := r.Extracted.Error
		if msg == "" {
			msg = "Unknown error"
		}
		return Message{
			Text:     "❌ Unable to extract product information\n\nError: " + msg + "\n\nPlease try entering a more specific product name.",
			Keyboard: [][]KeyButton{cancelRow},
		}
	case conversation.AskDescription:
		return Message{
			Text: "📝 Write your description\n\n" +
				"🏷️ Product: " + r.ProductName + "\n" +
				"📁 Category: " + r.Category + " → " + r.Subcategory + "\n\n" +
				"✍️ Please describe your item:\n" +
				"• Condition (e.g. 8/10, excellent, good)\n" +
				"• How long you have used it\n" +
				"• Anything buyers should know\n\n" +
				fmt.Sprintf("Between %d and %d characters.", conversation.MinDescriptionLength, conversation.MaxDescriptionLength),
			Keyboard: [][]KeyButton{cancelRow},
		}
	case conversation.DescriptionInvalid:
		if r.Length < conversation.MinDescriptionLength {
			return Message{Text: fmt.Sprintf("❌ Description is too short (%d characters). Please write at least %d.",
				r.Length, conversation.MinDescriptionLength)}
		}
		return Message{Text: fmt.Sprintf("❌ Description is too long (%d characters). Please keep it under %d.",
			r.Length, conversation.MaxDescriptionLength)}
	case conversation.AskPrice:
		return askPrice(r)
	case conversation.PriceInvalid:
		return Message{Text: "❌ Invalid price. Please enter a number between 0 and 1,000,000 (e.g. 299.99)."}
	case conversation.ListingCreated:
		return listingCreated(r)
	case conversation.Cancelled:
		return Message{Text: "🚫 Listing cancelled\n\nYou can start a new one anytime with /sell."}
	case conversation.NothingToCancel:
		return Message{Text: "ℹ️ No active listing session to cancel."}
	case conversation.AlreadyActive:
		return Message{Text: "❗ You already have an active listing session!\n\n" + summaryText(r.Summary) +
			"\n\nUse /cancel to cancel it or /status to see your progress."}
	case conversation.StatusSummary:
		return Message{Text: summaryText(r.Summary)}
	case conversation.NoCategories:
		return Message{Text: "❌ No categories are available right now. Please try again later."}
	case conversation.Listings:
		return listingsText(r.Listings)
	case conversation.StillProcessing:
		return Message{Text: "⏳ Still analyzing " + r.ProductName + ". Please wait a moment, or /cancel to stop."}
	case conversation.ProcessingInterrupted:
		return Message{
			Text:     "⚠️ The analysis of " + r.ProductName + " was interrupted.\n\nPlease send the product name again, or /cancel to stop.",
			Keyboard: [][]KeyButton{cancelRow},
		}
	case conversation.Discarded:
		return Message{Text: "ℹ️ The analysis finished after the session changed and was discarded."}
	case conversation.ExpectButtons:
		return Message{Text: "👆 Please use the buttons above, or /cancel to stop."}
	}
	return Failure()
}

func categoryMenu(cats []catalog.Category) Message {
	var rows [][]KeyButton
	for i := 0; i < len(cats); i += 2 {
		row := []KeyButton{button("📁 "+cats[i].Name, ChooseCategory{Category: cats[i].Name})}
		if i+1 < len(cats) {
			row = append(row, button("📁 "+cats[i+1].Name, ChooseCategory{Category: cats[i+1].Name}))
		}
		rows = append(rows, row)
	}
	rows = append(rows, cancelRow)
	return Message{Text: "🛍️ Create a new listing\n\nPlease select a category:", Keyboard: rows}
}

func subcategoryMenu(cat catalog.Category) Message {
	var rows [][]KeyButton
	for _, s := range cat.Subcategories {
		rows = append(rows, []KeyButton{
			button("📂 "+s.Name, ChooseSubcategory{Category: cat.Name, Subcategory: s.Name}),
		})
	}
	rows = append(rows, []KeyButton{button("⬅️ Back", BackToCategories{}), button("🚫 Cancel", CancelListing{})})
	return Message{Text: "📁 Category: " + cat.Name + "\n\nPlease select a subcategory:", Keyboard: rows}
}

func askProductName(r conversation.AskProductName) Message {
	var b strings.Builder
	if r.Retry {
		b.WriteString("🔄 Let's try again.\n\n")
	}
	b.WriteString("📁 Category: " + r.Category + "\n")
	b.WriteString("📂 Subcategory: " + r.Subcategory + "\n\n")
	if r.Retry {
		b.WriteString("🏷️ Please enter the product name again (be more specific):")
	} else {
		b.WriteString("🏷️ Please enter the product name/model:\n(Be as specific as possible, e.g. \"iPhone 13 Pro Max 256GB\")")
	}
	return Message{Text: b.String(), Keyboard: [][]KeyButton{cancelRow}}
}

// ConfidenceEmoji grades a confidence score.
func ConfidenceEmoji(c float64) string {
	switch {
	case c >= 0.7:
		return "🟢"
	case c >= 0.4:
		return "🟡"
	}
	return "🔴"
}

func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func priceRange(p listing.PriceSuggestion) string {
	s := fmt.Sprintf("%.0f - %.0f", float64(p.MinPrice), float64(p.MaxPrice))
	if p.Currency != "" {
		s += " " + p.Currency
	}
	return s
}

func attributeLines(b *strings.Builder, attrs listing.Attributes) {
	if attrs.Len() == 0 {
		b.WriteString("No attributes extracted\n")
		return
	}
	for name, value := range attrs.All() {
		b.WriteString("• " + name + ": " + value + "\n")
	}
}

func confirmationCard(e listing.Extracted) Message {
	var b strings.Builder
	title := e.Listing.Title
	if title == "" {
		title = e.ProductName
	}
	desc := e.Listing.Description
	if desc == "" {
		desc = "No description provided"
	}
	b.WriteString("🎯 Complete listing generated\n\n")
	b.WriteString("📝 Title: " + title + "\n\n")
	b.WriteString("📄 Description:\n" + desc + "\n\n")
	b.WriteString("🏷️ Product: " + e.ProductName + "\n")
	b.WriteString("📁 Category: " + e.Category + "\n")
	b.WriteString("📂 Subcategory: " + e.Subcategory + "\n")
	fmt.Fprintf(&b, "%s Confidence: %.0f%%\n\n", ConfidenceEmoji(e.Confidence), e.Confidence*100)
	if e.PriceSuggestion.MaxPrice > 0 {
		b.WriteString("💰 Suggested price: " + priceRange(e.PriceSuggestion) + "\n")
		if e.PriceSuggestion.Reasoning != "" {
			b.WriteString(e.PriceSuggestion.Reasoning + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("🔧 Attributes:\n")
	attributeLines(&b, e.Attributes)
	b.WriteString("\nIs this listing information correct?")
	return Message{
		Text: b.String(),
		Keyboard: [][]KeyButton{
			{button("✅ Yes, continue", ConfirmProduct{}), button("❌ No, re-enter", RejectProduct{})},
			cancelRow,
		},
	}
}

func askPrice(r conversation.AskPrice) Message {
	var b strings.Builder
	if r.Description != "" {
		b.WriteString("✅ Description saved:\n\n" + r.Description + "\n\n")
	}
	b.WriteString("💰 Set your price\n\n🏷️ Product: " + r.ProductName + "\n")
	if r.Suggestion.MaxPrice > 0 {
		b.WriteString("\n💡 Suggested price range: " + priceRange(r.Suggestion) + "\n")
		if r.Suggestion.Reasoning != "" {
			b.WriteString(r.Suggestion.Reasoning + "\n")
		}
	}
	b.WriteString("\nPlease enter your asking price (numbers only, e.g. 299.99):")
	return Message{Text: b.String(), Keyboard: [][]KeyButton{cancelRow}}
}

func listingCreated(r conversation.ListingCreated) Message {
	l := r.Listing
	var b strings.Builder
	b.WriteString("🎉 Listing created successfully!\n\n")
	b.WriteString("🆔 Listing ID: " + l.ID + "\n\n")
	b.WriteString("📝 Title: " + l.Title + "\n\n")
	if l.Description != "" {
		b.WriteString("📄 Description:\n" + l.Description + "\n\n")
	}
	b.WriteString("🏷️ Product: " + l.ProductName + "\n")
	b.WriteString("📁 Category: " + l.Category + "\n")
	b.WriteString("📂 Subcategory: " + l.Subcategory + "\n")
	b.WriteString("💰 Price: " + formatMoney(l.Price) + "\n\n")
	b.WriteString("🔧 Product attributes:\n")
	attributeLines(&b, l.Attributes)
	b.WriteString("\n✅ Saved!")
	if r.ExportPath != "" {
		b.WriteString("\n📄 Exported to: " + filepath.Base(r.ExportPath))
	}
	return Message{Text: b.String()}
}

func stateLabel(state string) string {
	words := strings.Fields(strings.ReplaceAll(state, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func summaryText(s conversation.Summary) string {
	var b strings.Builder
	b.WriteString("📋 Current listing session\n")
	b.WriteString("📁 Category: " + orDefault(s.Category, "Not selected") + "\n")
	b.WriteString("📂 Subcategory: " + orDefault(s.Subcategory, "Not selected") + "\n")
	b.WriteString("🏷️ Product: " + orDefault(s.ProductName, "Not entered") + "\n")
	b.WriteString("🔄 Status: " + stateLabel(s.State))
	if s.HasExtraction {
		fmt.Fprintf(&b, "\n🎯 Data confidence: %.0f%%", s.Confidence*100)
	}
	return b.String()
}

func listingsText(ls []listing.Listing) Message {
	if len(ls) == 0 {
		return Message{Text: "📭 You haven't created any listings yet!"}
	}
	var b strings.Builder
	b.WriteString("📋 Your recent listings:\n")
	for _, l := range ls {
		emoji := "🔴"
		if l.Status == listing.StatusActive {
			emoji = "🟢"
		}
		fmt.Fprintf(&b, "\n%s #%s - %s\n💰 %s | 📁 %s | %s\n📅 %s\n",
			emoji, l.ID, l.ProductName, formatMoney(l.Price), l.Category, l.Status, l.CreatedAt.Format("2006-01-02"))
	}
	return Message{Text: strings.TrimRight(b.String(), "\n")}
}

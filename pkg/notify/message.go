package notify

import (
	"fmt"

	"github.com/sellerwatch/sellerwatch/pkg/badge"
)

// Message is a Slack chat.postMessage payload: Block Kit blocks plus a
// plain-text fallback for clients that cannot render blocks.
type Message struct {
	Channel string  `json:"channel"`
	Text    string  `json:"text"`
	Blocks  []Block `json:"blocks,omitempty"`
}

type Block struct {
	Type     string      `json:"type"`
	Text     *TextObject `json:"text,omitempty"`
	Elements []Element   `json:"elements,omitempty"`
}

type TextObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Element is either a context mrkdwn entry (Text is the literal string)
// or an actions button (Text is a *TextObject, plus URL and Style).
type Element struct {
	Type  string      `json:"type"`
	Text  interface{} `json:"text,omitempty"`
	URL   string      `json:"url,omitempty"`
	Style string      `json:"style,omitempty"`
}

// BuildMessage formats a badge transition as a Slack alert. The title may
// be empty, in which case a synthetic product label is used.
func BuildMessage(tr badge.Transition, title string) Message {
	var emoji, action string
	switch tr.Kind {
	case badge.KindGained:
		emoji, action = "🎉", "GAINED"
	case badge.KindLost:
		emoji, action = "⚠️", "LOST"
	default:
		emoji, action = "📊", "RANK CHANGE"
	}

	if title == "" {
		title = "Product " + tr.ASIN
	}

	mainText := fmt.Sprintf(
		"%s *BEST SELLER ALERT!*\n\n*ASIN:* `%s`\n*Product:* %s\n*Status:* %s Best Seller badge\n*Category:* %s\n%s*Time:* %s",
		emoji, tr.ASIN, title, action, tr.CategoryName,
		rankLine(tr),
		tr.DetectedAt.UTC().Format("2006-01-02 15:04:05 UTC"),
	)

	blocks := []Block{
		{
			Type: "section",
			Text: &TextObject{Type: "mrkdwn", Text: mainText},
		},
		{
			Type: "context",
			Elements: []Element{
				{Type: "mrkdwn", Text: fmt.Sprintf("Category ID: `%s`", tr.CategoryID)},
			},
		},
		{
			Type: "actions",
			Elements: []Element{
				{
					Type:  "button",
					Text:  &TextObject{Type: "plain_text", Text: "View on Amazon"},
					URL:   "https://amazon.com/dp/" + tr.ASIN,
					Style: "primary",
				},
				{
					Type: "button",
					Text: &TextObject{Type: "plain_text", Text: "Keepa Chart"},
					URL:  "https://keepa.com/#!product/1-" + tr.ASIN,
				},
			},
		},
	}

	return Message{
		Text:   "Best Seller Alert: " + tr.ASIN,
		Blocks: blocks,
	}
}

// rankLine renders the rank movement: "new" when the item had no prior
// rank in the category, "unranked" when it dropped out entirely.
func rankLine(tr badge.Transition) string {
	before := "new"
	if tr.RankBefore > 0 {
		before = fmt.Sprintf("#%d", tr.RankBefore)
	}
	after := "unranked"
	if tr.RankAfter > 0 {
		after = fmt.Sprintf("#%d", tr.RankAfter)
	}
	return fmt.Sprintf("*Rank Change:* %s → %s\n", before, after)
}

package schema

import (
	"encoding/json"
	"fmt"

	"github.com/ndm-tool/ndm/internal/notion"
)

// PlainRichText builds a minimal rich text array from a plain string.
func PlainRichText(text string) []notion.RichText {
	return []notion.RichText{{Type: "text", Text: &notion.TextContent{Content: text}}}
}

// SanitizeRichText strips read-only fields so the array is accepted on write.
// Unknown segment types degrade to plain text.
func SanitizeRichText(items []notion.RichText) []notion.RichText {
	out := make([]notion.RichText, 0, len(items))
	for _, item := range items {
		out = append(out, sanitizeRichTextItem(item))
	}
	return out
}

func sanitizeRichTextItem(item notion.RichText) notion.RichText {
	var clean notion.RichText
	switch item.Type {
	case "text":
		content := item.PlainText
		var link json.RawMessage
		if item.Text != nil {
			content = item.Text.Content
			link = item.Text.Link
		}
		clean = notion.RichText{Type: "text", Text: &notion.TextContent{Content: content, Link: link}}
	case "equation":
		expr := ""
		if item.Equation != nil {
			expr = item.Equation.Expression
		}
		clean = notion.RichText{Type: "equation", Equation: &notion.Equation{Expression: expr}}
	default:
		clean = notion.RichText{Type: "text", Text: &notion.TextContent{Content: item.PlainText}}
	}
	clean.Annotations = item.Annotations
	return clean
}

// DatabaseTitle returns a writable title for the destination copy, falling
// back to a generated one when the source title is empty.
func DatabaseTitle(db *notion.Database) []notion.RichText {
	clean := SanitizeRichText(db.Title)
	if len(clean) > 0 {
		return clean
	}
	fallback := db.ID
	if fallback == "" {
		fallback = "Duplicated Database"
	}
	return PlainRichText(fmt.Sprintf("Duplicated %s", fallback))
}

type iconPayload struct {
	Type     string               `json:"type"`
	Emoji    string               `json:"emoji,omitempty"`
	External *notion.ExternalFile `json:"external,omitempty"`
}

// SanitizeIcon keeps emoji and external icons; uploaded file icons cannot be
// recreated in another account and are dropped.
func SanitizeIcon(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var icon iconPayload
	if err := json.Unmarshal(raw, &icon); err != nil {
		return nil
	}
	switch icon.Type {
	case "emoji":
		if icon.Emoji == "" {
			return nil
		}
		out, _ := json.Marshal(iconPayload{Type: "emoji", Emoji: icon.Emoji})
		return out
	case "external":
		if icon.External == nil || icon.External.URL == "" {
			return nil
		}
		out, _ := json.Marshal(iconPayload{Type: "external", External: icon.External})
		return out
	}
	return nil
}

// SanitizeCover keeps external covers only.
func SanitizeCover(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var cover iconPayload
	if err := json.Unmarshal(raw, &cover); err != nil {
		return nil
	}
	if cover.Type != "external" || cover.External == nil || cover.External.URL == "" {
		return nil
	}
	out, _ := json.Marshal(iconPayload{Type: "external", External: cover.External})
	return out
}

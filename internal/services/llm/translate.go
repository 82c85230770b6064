package llm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrIncompleteTranslation reports a batch answer that omitted items.
var ErrIncompleteTranslation = errors.New("translation response incomplete")

const translateSystemPrompt = `You are a professional subtitle translator. Translate EACH item independently into the target language.

Hard rules (must all be satisfied):
- Each id is self-contained. Never merge, borrow, anticipate, or repeat content from other ids.
- If an item is a fragment or mid-sentence, translate only that fragment. Do not complete the sentence.
- Preserve line breaks per item (use '\n' where shown).
- Do not output timings, only the translated text per id.
- Respect MAX_CHARS for each id when given; shorten politely if needed.
- Return strictly a JSON object mapping id to translated text. No extra commentary.`

const condenseSystemPrompt = `You condense subtitles while preserving meaning and tone for on-screen reading.
Return only the condensed text with line breaks kept. No commentary.`

// TranslationItem is one subtitle line submitted for translation. MaxChars
// is the reading speed budget of the line; zero means unlimited.
type TranslationItem struct {
	ID       int
	Text     string
	MaxChars int
}

func translatePrompt(sourceLang, targetLang string, items []TranslationItem) string {
	var b strings.Builder
	if sourceLang != "" {
		fmt.Fprintf(&b, "Source language: %s\n", sourceLang)
	}
	fmt.Fprintf(&b, "Target language: %s\n", targetLang)
	b.WriteString("Items:\n")
	for _, item := range items {
		fmt.Fprintf(&b, "- id=%d", item.ID)
		if item.MaxChars > 0 {
			fmt.Fprintf(&b, ", MAX_CHARS=%d", item.MaxChars)
		}
		fmt.Fprintf(&b, "\n<<<\n%s\n>>>\n", strings.ReplaceAll(item.Text, "\r\n", "\n"))
	}
	b.WriteString("Output JSON like:\n{\n  \"1\": \"...\",\n  \"2\": \"...\"\n}")
	return b.String()
}

// TranslateBatch translates items and returns the answers keyed by id.
// Every submitted id must be answered. Errors carry the failure category
// the orchestrator retries on.
func (c *Client) TranslateBatch(ctx context.Context, sourceLang, targetLang string, items []TranslationItem) (map[int]string, error) {
	if len(items) == 0 {
		return map[int]string{}, nil
	}
	if strings.TrimSpace(targetLang) == "" {
		return nil, classify("translate", &APIError{StatusCode: 400, Message: "target language required"})
	}
	req := c.jsonRequest(translateSystemPrompt, translatePrompt(sourceLang, targetLang, items))
	content, err := c.complete(ctx, req)
	if err != nil {
		return nil, classify("translate", err)
	}
	answers, err := parseAnswers(content, items)
	return answers, classify("translate", err)
}

// Condense asks the model to shorten text to at most maxChars characters.
// The answer is truncated if the model overshoots.
func (c *Client) Condense(ctx context.Context, text string, maxChars int) (string, error) {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text, nil
	}
	prompt := fmt.Sprintf("Condense the following subtitle to at most %d characters (inclusive).\n"+
		"Keep it natural and readable. Maintain line breaks ('\\n') where they help readability.\n\n<<<\n%s\n>>>",
		maxChars, text)
	content, err := c.complete(ctx, completionRequest{
		Model:     c.cfg.Model,
		Messages:  []message{{Role: "system", Content: condenseSystemPrompt}, {Role: "user", Content: prompt}},
		MaxTokens: 512,
	})
	if err != nil {
		return "", classify("condense", err)
	}
	content = strings.TrimSpace(content)
	if runes := []rune(content); len(runes) > maxChars {
		content = strings.TrimSpace(string(runes[:maxChars]))
	}
	return content, nil
}

func parseAnswers(content string, items []TranslationItem) (map[int]string, error) {
	var raw map[string]any
	if err := decodeJSON(content, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIncompleteTranslation, err)
	}
	out := make(map[int]string, len(raw))
	for key, value := range raw {
		id, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || value == nil {
			continue
		}
		if text, ok := value.(string); ok {
			out[id] = strings.TrimSpace(text)
		} else {
			out[id] = strings.TrimSpace(fmt.Sprint(value))
		}
	}
	var missing []string
	for _, item := range items {
		if out[item.ID] == "" && strings.TrimSpace(item.Text) != "" {
			missing = append(missing, strconv.Itoa(item.ID))
		}
	}
	if len(missing) > 0 {
		return out, fmt.Errorf("%w: missing ids %s", ErrIncompleteTranslation, strings.Join(missing, ","))
	}
	return out, nil
}

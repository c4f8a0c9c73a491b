package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	"pptx-translator/internal/types"
)

// DefaultSystemPrompt is used when the backend settings do not supply one
const DefaultSystemPrompt = "You are a translation engine. Return only translations, preserving placeholders and numbering. Do not add explanations."

// buildUserPrompt renders the batch as a JSON item list with the glossary and
// deck context in front of it. The response contract is
// {"translations": [{"id": "...", "text": "..."}]}.
func buildUserPrompt(req BatchRequest) (string, error) {
	items, err := json.Marshal(req.Segments)
	if err != nil {
		return "", fmt.Errorf("failed to encode batch items: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Translate each item from %s to %s. ", req.SourceOrAuto(), req.TargetLang)
	sb.WriteString(`Return JSON: {"translations": [{"id": "...", "text": "<translated>"} ...]} `)
	sb.WriteString("Do not drop or reorder items. Preserve placeholders and numbering. ")
	sb.WriteString("Only respond with valid JSON and nothing else.\n")
	if strings.TrimSpace(req.Context) != "" {
		sb.WriteString("Context: ")
		sb.WriteString(req.Context)
		sb.WriteString("\n")
	}
	sb.WriteString(formatGlossary(req.Glossary))
	sb.WriteString("\nItems: ")
	sb.Write(items)
	return sb.String(), nil
}

// formatGlossary renders usable glossary pairs; entries missing either side are skipped
func formatGlossary(glossary []types.GlossaryEntry) string {
	var pairs []string
	for _, e := range glossary {
		if strings.TrimSpace(e.Source) == "" || strings.TrimSpace(e.Target) == "" {
			continue
		}
		pairs = append(pairs, fmt.Sprintf("'%s' -> '%s'", e.Source, e.Target))
	}
	if len(pairs) == 0 {
		return ""
	}
	return "Glossary (must use these translations): " + strings.Join(pairs, "; ") + "\n"
}

type translationsPayload struct {
	Translations []json.RawMessage `json:"translations"`
}

// parseTranslations decodes the engine response into an id -> text map. Code
// fences and text around the JSON object are tolerated; items without an id or
// text are ignored.
func parseTranslations(content string) (map[string]string, error) {
	s := stripCodeFence(strings.TrimSpace(content))

	var payload translationsPayload
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		i, j := strings.Index(s, "{"), strings.LastIndex(s, "}")
		if i < 0 || j <= i {
			return nil, fmt.Errorf("response is not JSON: %s", abbreviate(s, 200))
		}
		if err := json.Unmarshal([]byte(s[i:j+1]), &payload); err != nil {
			return nil, fmt.Errorf("response is not JSON: %w", err)
		}
	}
	if payload.Translations == nil {
		return nil, fmt.Errorf("response missing 'translations' list")
	}

	out := make(map[string]string, len(payload.Translations))
	for _, raw := range payload.Translations {
		var item map[string]interface{}
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		id, okID := item["id"]
		text, okText := item["text"]
		if !okID || !okText || id == nil || text == nil {
			continue
		}
		out[scalarString(id)] = scalarString(text)
	}
	return out, nil
}

func scalarString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func stripCodeFence(s string) string {
	idx := strings.Index(s, "```")
	if idx < 0 {
		return s
	}
	rest := strings.TrimPrefix(s[idx+3:], "json")
	if j := strings.Index(rest, "```"); j >= 0 {
		return strings.TrimSpace(rest[:j])
	}
	return s
}

func abbreviate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

package pptx

import (
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"pptx-translator/internal/logger"
)

const (
	profileKeywords  = 20
	glossaryKeywords = 50
)

// DeckProfile 演示文稿概要, used as extra context for the engine
type DeckProfile struct {
	Title         string   `json:"title,omitempty"`
	SectionTitles []string `json:"section_titles"`
	Keywords      []string `json:"keywords"`
	Summary       string   `json:"summary,omitempty"`
}

// ContextString renders the profile as context lines; empty fields are left out
func (p *DeckProfile) ContextString() string {
	if p == nil {
		return ""
	}
	var lines []string
	if p.Title != "" {
		lines = append(lines, "Deck title: "+p.Title)
	}
	if len(p.SectionTitles) > 0 {
		lines = append(lines, "Sections: "+strings.Join(head(p.SectionTitles, 10), "; "))
	}
	if len(p.Keywords) > 0 {
		lines = append(lines, "Frequent terms: "+strings.Join(head(p.Keywords, 15), ", "))
	}
	if p.Summary != "" {
		lines = append(lines, "Summary: "+p.Summary)
	}
	return strings.Join(lines, "\n")
}

// CombineContext joins the user's context and the profile with a blank line
func CombineContext(userContext string, profile *DeckProfile) string {
	var sections []string
	if userContext != "" {
		sections = append(sections, userContext)
	}
	if text := profile.ContextString(); text != "" {
		sections = append(sections, text)
	}
	return strings.Join(sections, "\n\n")
}

type shapeText struct {
	title bool
	text  string
}

type spXML struct {
	NvSpPr struct {
		NvPr struct {
			Ph *struct {
				Type string `xml:"type,attr"`
			} `xml:"ph"`
		} `xml:"nvPr"`
	} `xml:"nvSpPr"`
	TxBody *struct {
		Paragraphs []struct {
			Runs []struct {
				T string `xml:"t"`
			} `xml:"r"`
			Fields []struct {
				T string `xml:"t"`
			} `xml:"fld"`
		} `xml:"p"`
	} `xml:"txBody"`
}

// BuildDeckProfile reads the slide titles and the text of every slide shape.
// A deck that cannot be read yields an empty profile.
func BuildDeckProfile(deck *Deck) *DeckProfile {
	profile := &DeckProfile{SectionTitles: []string{}, Keywords: []string{}}
	if deck == nil {
		return profile
	}

	var texts []string
	for _, slide := range deck.Slides {
		shapes, err := slideShapeTexts(filepath.Join(deck.Root, filepath.FromSlash(slide.Path)))
		if err != nil {
			logger.Warn("cannot read slide for deck profile", logger.String("slide", slide.Path), logger.Err(err))
			continue
		}
		titled := false
		for _, s := range shapes {
			texts = append(texts, s.text)
			if !s.title || titled {
				continue
			}
			title := strings.TrimSpace(s.text)
			if title == "" {
				continue
			}
			titled = true
			if profile.Title == "" {
				profile.Title = title
			}
			profile.SectionTitles = append(profile.SectionTitles, title)
		}
	}

	profile.Keywords = TopKeywords(texts, profileKeywords)
	if len(profile.SectionTitles) > 0 {
		profile.Summary = strings.Join(head(profile.SectionTitles, 5), "; ")
	}
	return profile
}

// slideShapeTexts returns the text of every p:sp in the slide, paragraphs
// joined by newlines
func slideShapeTexts(path string) ([]shapeText, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	var out []shapeText
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Space != nsP || start.Name.Local != "sp" {
			continue
		}
		var sp spXML
		if err := dec.DecodeElement(&sp, &start); err != nil {
			return nil, err
		}
		if sp.TxBody == nil {
			continue
		}
		paragraphs := make([]string, 0, len(sp.TxBody.Paragraphs))
		for _, p := range sp.TxBody.Paragraphs {
			var sb strings.Builder
			for _, r := range p.Runs {
				sb.WriteString(r.T)
			}
			for _, f := range p.Fields {
				sb.WriteString(f.T)
			}
			paragraphs = append(paragraphs, sb.String())
		}
		title := false
		if ph := sp.NvSpPr.NvPr.Ph; ph != nil {
			title = ph.Type == "title" || ph.Type == "ctrTitle"
		}
		out = append(out, shapeText{title: title, text: strings.Join(paragraphs, "\n")})
	}
}

// TopKeywords counts the lower-cased alphanumeric tokens longer than two
// characters and returns the n most frequent. Ties keep first-seen order.
func TopKeywords(texts []string, n int) []string {
	lower := cases.Lower(language.Und)
	counts := make(map[string]int)
	var order []string
	for _, text := range texts {
		for _, tok := range tokenize(text) {
			key := lower.String(tok)
			if _, ok := counts[key]; !ok {
				order = append(order, key)
			}
			counts[key]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	return head(order, n)
}

func tokenize(text string) []string {
	var (
		tokens []string
		start  = -1
	)
	flush := func(end int) {
		if start >= 0 {
			if tok := text[start:end]; utf8.RuneCountInString(tok) > 2 {
				tokens = append(tokens, tok)
			}
			start = -1
		}
	}
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(text))
	return tokens
}

// WriteGlossarySuggestion writes a source,target,notes CSV seeded with the
// most frequent terms of the units
func WriteGlossarySuggestion(path string, units []*TranslatableUnit) ([]string, error) {
	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.SourceText
	}
	terms := TopKeywords(texts, glossaryKeywords)

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"source", "target", "notes"}); err != nil {
		return nil, err
	}
	for _, term := range terms {
		if err := w.Write([]string{term, "", ""}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return terms, f.Close()
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

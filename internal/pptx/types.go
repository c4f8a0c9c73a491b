// Package pptx translates PowerPoint packages in place: it extracts the text runs
// of slides, notes, masters and layouts, sends them through a translation engine,
// writes the results back into the same XML nodes and repacks the archive.
package pptx

import (
	"fmt"
	"time"

	"pptx-translator/internal/ocr"
)

// ImageTextContext marks units that were recognized inside a picture
const ImageTextContext = "image_text"

// TranslatableUnit 一个待翻译的文本节点
type TranslatableUnit struct {
	// ID is unique within a run ("t1", "t2", ...) and is the only join key
	ID string `json:"id"`
	// Location is diagnostic only, e.g. "ppt/slides/slide1.xml::a:t[3]"
	Location   string  `json:"location"`
	SourceText string  `json:"source"`
	Translated *string `json:"translated,omitempty"`
	Context    string  `json:"context,omitempty"`
}

// SetTranslation records the translation once. Later calls are ignored and
// return false.
func (u *TranslatableUnit) SetTranslation(text string) bool {
	if u.Translated != nil {
		return false
	}
	u.Translated = &text
	return true
}

// Translation returns the translated text, if any
func (u *TranslatableUnit) Translation() (string, bool) {
	if u.Translated == nil {
		return "", false
	}
	return *u.Translated, true
}

// TextOrSource returns the translation, or the source text when there is none
func (u *TranslatableUnit) TextOrSource() string {
	if u.Translated != nil && *u.Translated != "" {
		return *u.Translated
	}
	return u.SourceText
}

// ImageRegion 图片中识别出的文字区域
type ImageRegion struct {
	SlideIndex     int
	ShapeIndex     int
	ImageName      string
	BBox           ocr.BBox
	SourceText     string
	TranslatedText string
	UnitID         string
}

// IDGenerator hands out run-unique unit ids. One generator is shared by text
// extraction and image recognition so their ids never collide.
type IDGenerator struct {
	n int
}

// Next returns the next id
func (g *IDGenerator) Next() string {
	g.n++
	return fmt.Sprintf("t%d", g.n)
}

// Issued returns how many ids have been handed out
func (g *IDGenerator) Issued() int {
	return g.n
}

// RunMetadata is embedded into the output package's custom properties
type RunMetadata struct {
	RunID      string
	SourceLang string
	TargetLang string
	Backend    string
	Profile    string
	Timestamp  time.Time
}

// Properties returns the metadata as ordered name/value pairs
func (m RunMetadata) Properties() []Property {
	src := m.SourceLang
	if src == "" {
		src = "auto"
	}
	return []Property{
		{Name: "run_id", Value: m.RunID},
		{Name: "source_lang", Value: src},
		{Name: "target_lang", Value: m.TargetLang},
		{Name: "backend", Value: m.Backend},
		{Name: "profile", Value: m.Profile},
		{Name: "timestamp_utc", Value: m.Timestamp.UTC().Format(time.RFC3339Nano)},
	}
}

// Property is one custom document property
type Property struct {
	Name  string
	Value string
}

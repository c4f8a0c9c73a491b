// Package ocr recognizes text regions inside slide pictures.
package ocr

import (
	"context"
	"sort"
	"strings"

	"pptx-translator/internal/types"
)

// BBox is a rectangle in the source bitmap's pixel space
type BBox struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ImageInput 一张待识别的幻灯片图片
type ImageInput struct {
	SlideIndex int
	ShapeIndex int
	ImageName  string
	Data       []byte
	WidthPx    int
	HeightPx   int
}

// Region 识别出的文字区域
type Region struct {
	SlideIndex int
	ShapeIndex int
	ImageName  string
	BBox       BBox
	Text       string
	Confidence float64
}

// Config is passed through to the recognizer on every call
type Config struct {
	// Lang is the recognizer language, e.g. "eng" or "eng+deu"
	Lang string `json:"lang" yaml:"lang" toml:"lang"`
	// TesseractConfig holds extra command-line options such as "--psm 6"
	TesseractConfig string `json:"tesseract_config" yaml:"tesseract_config" toml:"tesseract_config"`
	// MinConfidence drops words below this confidence (0-100); 0 keeps everything
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence" toml:"min_confidence"`
	// Binary overrides the recognizer executable path
	Binary string `json:"binary" yaml:"binary" toml:"binary"`
}

// Recognizer returns the non-empty text regions found in each image.
// Region coordinates are in the pixel space of the image they came from.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, images []ImageInput, cfg Config) ([]Region, error)
}

// Constructor builds a recognizer; it fails when the recognizer is not available
type Constructor func(cfg Config) (Recognizer, error)

var registry = map[string]Constructor{
	"tesseract":   newTesseractRecognizer,
	"pytesseract": newTesseractRecognizer,
}

func newTesseractRecognizer(cfg Config) (Recognizer, error) {
	t, err := NewTesseract(cfg)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Names returns the registered recognizer names
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the recognizer registered under name
func New(name string, cfg Config) (Recognizer, error) {
	ctor, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, types.NewAppErrorWithDetails(
			types.ErrConfig,
			"unknown image OCR backend",
			name+" (available: "+strings.Join(Names(), ", ")+")",
			nil,
		)
	}
	return ctor(cfg)
}

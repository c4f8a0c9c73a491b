package pptx

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"pptx-translator/internal/logger"
	"pptx-translator/internal/ocr"
	"pptx-translator/internal/translator"
	"pptx-translator/internal/types"
)

// Options 翻译流程选项
type Options struct {
	IncludeNotes      bool
	IncludeMasters    bool
	DryRun            bool
	Dedupe            bool
	TranslateImages   bool
	MaxBatchChars     int
	Concurrency       int
	RequestsPerSecond float64
	// Profile is recorded in the run metadata (fast, balanced, quality)
	Profile        string
	QAReportPath   string
	QAReportFormat string
	QAThreshold    float64
	OCR            ocr.Config
}

// DefaultOptions returns the balanced defaults
func DefaultOptions() Options {
	return Options{
		IncludeNotes:   true,
		IncludeMasters: true,
		Dedupe:         true,
		MaxBatchChars:  DefaultMaxBatchChars,
		Concurrency:    1,
		Profile:        "balanced",
		QAReportFormat: QAFormatJSON,
		QAThreshold:    DefaultQAThreshold,
	}
}

// Job describes one file to translate
type Job struct {
	InputPath string
	// OutputPath defaults to <stem>.<lang>.<run id>.pptx next to the input
	OutputPath string
	SourceLang string
	TargetLang string
	Glossary   []types.GlossaryEntry
	Context    string
	RunID      string
	// GlossaryOutPath, when set, writes a glossary suggestion and stops before translating
	GlossaryOutPath    string
	DeckProfileOutPath string
}

// Result 一次翻译运行的结果
type Result struct {
	RunID      string
	OutputPath string
	// Written is false for dry runs, glossary generation and decks without text
	Written         bool
	Units           []*TranslatableUnit
	Regions         []*ImageRegion
	Missing         []string
	Profile         *DeckProfile
	GlossaryTerms   []string
	OverlaysApplied int
	OverlaysSkipped int
	QAReport        *QAReport
	Stats           DispatchStats
}

// Translator runs the whole pipeline for a file: unpack, extract, translate,
// reinject, overlay, embed metadata, repack and report
type Translator struct {
	engine     translator.Engine
	recognizer ocr.Recognizer
	opts       Options
	now        func() time.Time
}

// NewTranslator creates a pipeline. recognizer may be nil when images are not translated.
func NewTranslator(engine translator.Engine, recognizer ocr.Recognizer, opts Options) *Translator {
	if opts.MaxBatchChars <= 0 {
		opts.MaxBatchChars = DefaultMaxBatchChars
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.QAThreshold <= 0 {
		opts.QAThreshold = DefaultQAThreshold
	}
	return &Translator{
		engine:     engine,
		recognizer: recognizer,
		opts:       opts,
		now:        time.Now,
	}
}

// TranslateFile translates job.InputPath. Every mutation happens in a
// temporary copy of the package; the output file is created in one step at
// the end, so a failed run leaves no output behind.
func (t *Translator) TranslateFile(ctx context.Context, job Job) (*Result, error) {
	if job.TargetLang == "" {
		return nil, types.NewAppError(types.ErrConfig, "target language is required", nil)
	}
	if err := ValidateInput(job.InputPath); err != nil {
		return nil, err
	}

	runID := job.RunID
	if runID == "" {
		runID = GenerateRunID()
	}
	output := job.OutputPath
	if output == "" {
		output = SanitizeOutputPath(job.InputPath, "", job.TargetLang, runID, false)
	}
	result := &Result{RunID: runID, OutputPath: output}

	tmp, err := os.MkdirTemp("", "pptx-translate-*")
	if err != nil {
		return nil, types.NewAppError(types.ErrInternal, "cannot create working directory", err)
	}
	defer os.RemoveAll(tmp)

	if err := Unpack(job.InputPath, tmp); err != nil {
		return nil, err
	}

	deck, err := LoadDeck(tmp)
	if err != nil {
		logger.Warn("cannot read slide structure, deck profile and images are skipped", logger.Err(err))
		deck = &Deck{Root: tmp}
	}

	result.Profile = BuildDeckProfile(deck)
	if job.DeckProfileOutPath != "" {
		if err := writeText(job.DeckProfileOutPath, result.Profile.ContextString()); err != nil {
			return nil, types.NewAppErrorWithDetails(types.ErrInternal, "cannot write deck profile", job.DeckProfileOutPath, err)
		}
		logger.Info("deck profile written", logger.String("path", job.DeckProfileOutPath))
	}
	engineContext := CombineContext(job.Context, result.Profile)

	ids := &IDGenerator{}
	doc, err := Extract(tmp, ExtractOptions{
		IncludeNotes:   t.opts.IncludeNotes,
		IncludeMasters: t.opts.IncludeMasters,
	}, ids)
	if err != nil {
		return nil, types.NewAppError(types.ErrInput, "cannot read document parts", err)
	}

	if job.GlossaryOutPath != "" {
		terms, err := WriteGlossarySuggestion(job.GlossaryOutPath, doc.Units)
		if err != nil {
			return nil, types.NewAppErrorWithDetails(types.ErrInternal, "cannot write glossary suggestion", job.GlossaryOutPath, err)
		}
		result.GlossaryTerms = terms
		logger.Info("glossary suggestion written",
			logger.String("path", job.GlossaryOutPath),
			logger.Int("terms", len(terms)))
		return result, nil
	}

	var images []ocr.ImageInput
	var imageUnits []*TranslatableUnit
	if t.opts.TranslateImages {
		images, result.Regions, imageUnits, err = t.recognize(ctx, deck, ids)
		if err != nil {
			return nil, err
		}
	}

	units := make([]*TranslatableUnit, 0, len(doc.Units)+len(imageUnits))
	units = append(units, doc.Units...)
	units = append(units, imageUnits...)
	result.Units = units
	if len(units) == 0 {
		logger.Info("no translatable content found", logger.String("input", job.InputPath))
		return result, nil
	}

	dispatcher := NewDispatcher(t.engine, t.opts.Concurrency, t.opts.RequestsPerSecond)
	missing, err := TranslateUnits(ctx, dispatcher, units, DispatchRequest{
		SourceLang:    job.SourceLang,
		TargetLang:    job.TargetLang,
		Glossary:      job.Glossary,
		Context:       engineContext,
		MaxBatchChars: t.opts.MaxBatchChars,
	}, t.opts.Dedupe)
	if err != nil {
		return nil, err
	}
	result.Missing = missing
	result.Stats = dispatcher.Stats()

	if t.opts.DryRun {
		logger.Info("dry run, no output written",
			logger.Int("units", len(units)),
			logger.Int("missing", len(missing)))
		return result, nil
	}

	written, err := doc.Inject()
	if err != nil {
		return nil, types.NewAppError(types.ErrInternal, "cannot write translations", err)
	}
	logger.Debug("translations injected", logger.Int("nodes", written))

	if len(result.Regions) > 0 {
		byID := make(map[string]*TranslatableUnit, len(imageUnits))
		for _, u := range imageUnits {
			byID[u.ID] = u
		}
		for _, r := range result.Regions {
			if u, ok := byID[r.UnitID]; ok {
				r.TranslatedText = u.TextOrSource()
			}
		}
		applied, skipped := ApplyOverlays(doc, deck, images, result.Regions, job.TargetLang)
		result.OverlaysApplied = applied
		result.OverlaysSkipped = len(skipped)
	}

	if err := doc.Flush(); err != nil {
		return nil, types.NewAppError(types.ErrInternal, "cannot save document parts", err)
	}

	meta := RunMetadata{
		RunID:      runID,
		SourceLang: job.SourceLang,
		TargetLang: job.TargetLang,
		Backend:    t.engine.Name(),
		Profile:    t.opts.Profile,
		Timestamp:  t.now(),
	}
	if err := WriteCustomProperties(tmp, meta.Properties()); err != nil {
		return nil, types.NewAppError(types.ErrInternal, "cannot embed run metadata", err)
	}

	if err := Repack(tmp, output); err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrInternal, "cannot write output file", output, err)
	}
	result.Written = true
	logger.Info("translated file written",
		logger.String("output", output),
		logger.String("run_id", runID),
		logger.Int("units", len(units)),
		logger.Int("missing", len(missing)))

	if t.opts.QAReportPath != "" {
		report := BuildQAReport(runID, units, t.opts.QAThreshold)
		if err := report.Write(t.opts.QAReportPath, t.opts.QAReportFormat); err != nil {
			return result, err
		}
		result.QAReport = report
		logger.Info("QA report written",
			logger.String("path", t.opts.QAReportPath),
			logger.Int("issues", report.IssuesCount))
	}
	return result, nil
}

// recognize runs the recognizer over the deck's pictures. An unavailable or
// failing recognizer only skips the image step; cancellation is fatal.
func (t *Translator) recognize(ctx context.Context, deck *Deck, ids *IDGenerator) ([]ocr.ImageInput, []*ImageRegion, []*TranslatableUnit, error) {
	if t.recognizer == nil {
		logger.Warn("image translation requested but no text recognizer is available, skipping images")
		return nil, nil, nil, nil
	}
	images := CollectImages(deck)
	regions, units, err := RecognizeImages(ctx, t.recognizer, t.opts.OCR, images, ids)
	if err != nil {
		if types.IsCode(err, types.ErrCancelled) || ctx.Err() != nil {
			return nil, nil, nil, types.NewAppError(types.ErrCancelled, "translation cancelled", err)
		}
		logger.Warn("text recognition failed, skipping images", logger.Err(err))
		return images, nil, nil, nil
	}
	return images, regions, units, nil
}

func writeText(path, text string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(text), 0644)
}

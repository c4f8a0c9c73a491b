package main

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"pptx-translator/internal/config"
	"pptx-translator/internal/logger"
	"pptx-translator/internal/ocr"
	"pptx-translator/internal/pptx"
	"pptx-translator/internal/translator"
	"pptx-translator/internal/types"
)

// cliFlags holds the raw command line values. They only override the config
// file when the flag was given explicitly.
type cliFlags struct {
	configPath     string
	output         string
	sourceLang     string
	targetLang     string
	backend        string
	backendConfig  string
	includeNotes   bool
	includeMasters bool
	noNotes        bool
	noMasters      bool
	dryRun         bool
	maxBatchChars  int
	logLevel       string
	logFile        string
	glossary       string
	context        string
	contextFile    string
	dedupeText     bool
	noDedupe       bool
	runID          string
	noRunID        bool
	profile        string
	concurrency    int
	rps            float64
	translateImgs  bool
	ocrBackend     string
	ocrConfig      string
	qaReport       string
	qaFormat       string
	qaThreshold    float64
	genGlossary    string
	deckProfileOut string
}

func newRootCmd() *cobra.Command {
	f := &cliFlags{}
	root := &cobra.Command{
		Use:   "pptx-translate <input.pptx>",
		Short: "Translate the text of a PowerPoint deck in place",
		Long: `pptx-translate translates slides, speaker notes, masters and layouts of a
.pptx file and writes a new deck with the original formatting kept.

Text inside pictures can be recognized with OCR and overlaid with the
translation (--translate-images).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(cmd, f, args[0])
		},
	}

	fl := root.Flags()
	root.PersistentFlags().StringVar(&f.configPath, "config", "", "config file (yaml, toml or json)")
	fl.StringVarP(&f.output, "output", "o", "", "output .pptx path (default: <input>.<lang>[.<run-id>].pptx)")
	fl.StringVar(&f.sourceLang, "source-lang", "", "source language code (auto-detect when empty)")
	fl.StringVar(&f.targetLang, "target-lang", "", "target language code, e.g. de or ja")
	fl.StringVar(&f.backend, "backend", config.DefaultBackend, "translation backend ("+strings.Join(translator.Names(), ", ")+")")
	fl.StringVar(&f.backendConfig, "backend-config", "", "backend settings file (json, yaml or toml)")
	fl.BoolVar(&f.includeNotes, "include-notes", true, "translate speaker notes")
	fl.BoolVar(&f.noNotes, "no-include-notes", false, "skip speaker notes")
	fl.BoolVar(&f.includeMasters, "include-masters", true, "translate slide masters and layouts")
	fl.BoolVar(&f.noMasters, "no-include-masters", false, "skip slide masters and layouts")
	fl.BoolVar(&f.dryRun, "dry-run", false, "print the translations as JSON without writing a deck")
	fl.IntVar(&f.maxBatchChars, "max-batch-chars", pptx.DefaultMaxBatchChars, "character budget per backend request")
	fl.StringVar(&f.logLevel, "log-level", config.DefaultLogLevel, "DEBUG, INFO, WARNING or ERROR")
	fl.StringVar(&f.logFile, "log-file", "", "also write logs to this file")
	fl.StringVar(&f.glossary, "glossary", "", "glossary file (.csv with source,target columns or .json list)")
	fl.StringVar(&f.context, "context", "", "free text describing the deck for the backend")
	fl.StringVar(&f.contextFile, "context-file", "", "read the context from a file (overrides --context)")
	fl.BoolVar(&f.dedupeText, "dedupe-text", true, "send each distinct text only once")
	fl.BoolVar(&f.noDedupe, "no-dedupe-text", false, "send every text run separately")
	fl.StringVar(&f.runID, "run-id", "", "run identifier recorded in the output (generated when empty)")
	fl.BoolVar(&f.noRunID, "no-run-id", false, "do not add the run id to the output file name")
	fl.StringVar(&f.profile, "profile", config.DefaultProfile, "fast, balanced or quality")
	fl.IntVar(&f.concurrency, "max-concurrent-requests", config.DefaultConcurrency, "parallel backend requests")
	fl.Float64Var(&f.rps, "requests-per-second", 0, "backend request rate limit (0 = unlimited)")
	fl.BoolVar(&f.translateImgs, "translate-images", false, "recognize and overlay text inside pictures")
	fl.StringVar(&f.ocrBackend, "image-ocr-backend", config.DefaultOCRBackend, "OCR backend ("+strings.Join(ocr.Names(), ", ")+")")
	fl.StringVar(&f.ocrConfig, "image-ocr-config", "", "OCR settings file (json, yaml or toml)")
	fl.StringVar(&f.qaReport, "qa-report", "", "write a QA report of suspicious translations")
	fl.StringVar(&f.qaFormat, "qa-report-format", pptx.QAFormatJSON, "json or markdown")
	fl.Float64Var(&f.qaThreshold, "qa-threshold-length-ratio", pptx.DefaultQAThreshold, "flag translations this many times longer than the source")
	fl.StringVar(&f.genGlossary, "generate-glossary", "", "write a glossary suggestion CSV and exit")
	fl.StringVar(&f.deckProfileOut, "deck-profile-out", "", "write the deck profile to this file")

	root.AddCommand(newVersionCmd(), newBackendsCmd(), newInitConfigCmd(f))
	return root
}

func runTranslate(cmd *cobra.Command, f *cliFlags, input string) error {
	cfg, err := buildConfig(cmd, f)
	if err != nil {
		return err
	}
	if err := initLogger(cfg); err != nil {
		return err
	}
	if err := cfg.ApplyProfile(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	engine, err := translator.New(cfg.Backend, cfg.BackendSettings)
	if err != nil {
		return err
	}
	if c, ok := engine.(io.Closer); ok {
		defer c.Close()
	}

	var recognizer ocr.Recognizer
	if cfg.TranslateImages {
		recognizer, err = ocr.New(cfg.ImageOCRBackend, cfg.OCR)
		if err != nil {
			if !types.IsCode(err, types.ErrRecognizer) {
				return err
			}
			logger.Warn("text recognizer unavailable, pictures are left untouched",
				logger.String("backend", cfg.ImageOCRBackend), logger.Err(err))
			recognizer = nil
		}
	}

	var glossary []types.GlossaryEntry
	if cfg.Glossary != "" {
		if glossary, err = config.LoadGlossary(cfg.Glossary); err != nil {
			return err
		}
	}
	deckContext, err := cfg.ResolveContext()
	if err != nil {
		return err
	}

	runID := f.runID
	if runID == "" {
		runID = pptx.GenerateRunID()
	}
	output := pptx.SanitizeOutputPath(input, f.output, cfg.TargetLang, runID, f.noRunID)

	opts := cfg.PipelineOptions()
	opts.DryRun = f.dryRun
	logger.Info("starting translation",
		logger.String("input", input),
		logger.String("target", cfg.TargetLang),
		logger.String("backend", engine.Name()),
		logger.String("profile", cfg.Profile),
		logger.String("runID", runID))

	result, err := pptx.NewTranslator(engine, recognizer, opts).TranslateFile(cmd.Context(), pptx.Job{
		InputPath:          input,
		OutputPath:         output,
		SourceLang:         cfg.SourceLang,
		TargetLang:         cfg.TargetLang,
		Glossary:           glossary,
		Context:            deckContext,
		RunID:              runID,
		GlossaryOutPath:    f.genGlossary,
		DeckProfileOutPath: f.deckProfileOut,
	})
	if err != nil {
		return err
	}

	switch {
	case f.genGlossary != "":
		cmd.Printf("Glossary suggestion with %d terms written to %s\n", len(result.GlossaryTerms), f.genGlossary)
	case f.dryRun:
		return writePreview(cmd.OutOrStdout(), result.Units)
	case result.Written:
		cmd.Printf("Translated %d text units, written to %s\n", len(result.Units), result.OutputPath)
		if len(result.Missing) > 0 {
			cmd.Printf("%d units kept their source text (missing translations)\n", len(result.Missing))
		}
	default:
		cmd.Println("No translatable text found, nothing written")
	}
	return nil
}

// buildConfig layers defaults, the config file and explicit flags
func buildConfig(cmd *cobra.Command, f *cliFlags) (*config.Config, error) {
	var cfg *config.Config
	if f.configPath != "" {
		loaded, err := config.LoadFile(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cm, err := config.NewConfigManager("")
		if err != nil {
			return nil, err
		}
		if err := cm.Load(); err != nil {
			return nil, err
		}
		cfg = cm.GetConfig()
	}

	changed := cmd.Flags().Changed
	setString := func(name string, dst *string, v string) {
		if changed(name) {
			*dst = v
		}
	}
	setString("source-lang", &cfg.SourceLang, f.sourceLang)
	setString("target-lang", &cfg.TargetLang, f.targetLang)
	setString("backend", &cfg.Backend, f.backend)
	setString("log-level", &cfg.LogLevel, f.logLevel)
	setString("log-file", &cfg.LogFile, f.logFile)
	setString("glossary", &cfg.Glossary, f.glossary)
	setString("context", &cfg.Context, f.context)
	setString("context-file", &cfg.ContextFile, f.contextFile)
	setString("profile", &cfg.Profile, f.profile)
	setString("image-ocr-backend", &cfg.ImageOCRBackend, f.ocrBackend)
	setString("qa-report", &cfg.QAReport, f.qaReport)
	setString("qa-report-format", &cfg.QAReportFormat, f.qaFormat)

	if changed("include-notes") {
		cfg.IncludeNotes = f.includeNotes
	}
	if f.noNotes {
		cfg.IncludeNotes = false
	}
	if changed("include-masters") {
		cfg.IncludeMasters = f.includeMasters
	}
	if f.noMasters {
		cfg.IncludeMasters = false
	}
	if changed("dedupe-text") {
		cfg.DedupeText = f.dedupeText
	}
	if f.noDedupe {
		cfg.DedupeText = false
	}
	if changed("translate-images") {
		cfg.TranslateImages = f.translateImgs
	}
	if changed("max-batch-chars") {
		cfg.MaxBatchChars = f.maxBatchChars
	}
	if changed("max-concurrent-requests") {
		cfg.MaxConcurrentRequests = f.concurrency
	}
	if changed("requests-per-second") {
		cfg.RequestsPerSecond = f.rps
	}
	if changed("qa-threshold-length-ratio") {
		cfg.QAThresholdLengthRatio = f.qaThreshold
	}

	if f.backendConfig != "" {
		settings, err := config.LoadBackendSettings(f.backendConfig)
		if err != nil {
			return nil, err
		}
		cfg.BackendSettings = settings
	}
	if f.ocrConfig != "" {
		ocrCfg, err := config.LoadOCRConfig(f.ocrConfig)
		if err != nil {
			return nil, err
		}
		cfg.OCR = ocrCfg
	}
	return cfg, nil
}

func initLogger(cfg *config.Config) error {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return types.NewAppError(types.ErrConfig, "invalid log level", err)
	}
	lc := logger.DefaultConfig()
	lc.Level = level
	lc.LogFilePath = cfg.LogFile
	if err := logger.Init(lc); err != nil {
		return types.NewAppErrorWithDetails(types.ErrConfig, "cannot open log file", cfg.LogFile, err)
	}
	return nil
}

type previewEntry struct {
	ID         string  `json:"id"`
	Location   string  `json:"location"`
	Source     string  `json:"source"`
	Translated *string `json:"translated"`
}

// writePreview prints the dry-run result as an indented JSON list
func writePreview(w io.Writer, units []*pptx.TranslatableUnit) error {
	preview := make([]previewEntry, 0, len(units))
	for _, u := range units {
		preview = append(preview, previewEntry{
			ID:         u.ID,
			Location:   u.Location,
			Source:     u.SourceText,
			Translated: u.Translated,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(preview)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("pptx-translate %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the translation and OCR backends",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("translation: %s\n", strings.Join(translator.Names(), ", "))
			cmd.Printf("ocr:         %s\n", strings.Join(ocr.Names(), ", "))
		},
	}
}

func newInitConfigCmd(f *cliFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cm, err := config.NewConfigManager(f.configPath)
			if err != nil {
				return err
			}
			if !force {
				if _, err := config.LoadFile(cm.GetConfigPath()); err == nil {
					return types.NewAppErrorWithDetails(types.ErrConfig, "config file already exists (use --force)", cm.GetConfigPath(), nil)
				}
			}
			cm.SetConfig(config.Default())
			if err := cm.Save(); err != nil {
				return err
			}
			cmd.Printf("Config written to %s\n", cm.GetConfigPath())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

// Package config provides configuration management for the pptx translator.
package config

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/language"
	"golang.org/x/text/transform"
	"gopkg.in/yaml.v3"

	"pptx-translator/internal/logger"
	"pptx-translator/internal/ocr"
	"pptx-translator/internal/pptx"
	"pptx-translator/internal/translator"
	"pptx-translator/internal/types"
)

const (
	// DefaultConfigFileName is the default configuration file name
	DefaultConfigFileName = "config.yaml"
	// DefaultBackend needs no credentials
	DefaultBackend = "dummy"
	// DefaultOCRBackend is the default text recognizer
	DefaultOCRBackend = "pytesseract"
	// DefaultProfile balances speed and quality
	DefaultProfile = "balanced"
	// DefaultConcurrency is the default number of concurrent translation requests
	DefaultConcurrency = 1
	DefaultLogLevel    = "INFO"
)

// Profiles
const (
	ProfileFast     = "fast"
	ProfileBalanced = "balanced"
	ProfileQuality  = "quality"
)

// Config 运行配置. Every field can be set in the config file and overridden on the command line.
type Config struct {
	SourceLang string `json:"source_lang" yaml:"source_lang" toml:"source_lang"`
	TargetLang string `json:"target_lang" yaml:"target_lang" toml:"target_lang"`

	Backend         string              `json:"backend" yaml:"backend" toml:"backend"`
	BackendSettings translator.Settings `json:"backend_settings" yaml:"backend_settings" toml:"backend_settings"`

	Profile               string  `json:"profile" yaml:"profile" toml:"profile"`
	IncludeNotes          bool    `json:"include_notes" yaml:"include_notes" toml:"include_notes"`
	IncludeMasters        bool    `json:"include_masters" yaml:"include_masters" toml:"include_masters"`
	DedupeText            bool    `json:"dedupe_text" yaml:"dedupe_text" toml:"dedupe_text"`
	MaxBatchChars         int     `json:"max_batch_chars" yaml:"max_batch_chars" toml:"max_batch_chars"`
	MaxConcurrentRequests int     `json:"max_concurrent_requests" yaml:"max_concurrent_requests" toml:"max_concurrent_requests"`
	RequestsPerSecond     float64 `json:"requests_per_second" yaml:"requests_per_second" toml:"requests_per_second"`

	TranslateImages bool       `json:"translate_images" yaml:"translate_images" toml:"translate_images"`
	ImageOCRBackend string     `json:"image_ocr_backend" yaml:"image_ocr_backend" toml:"image_ocr_backend"`
	OCR             ocr.Config `json:"ocr" yaml:"ocr" toml:"ocr"`

	Glossary    string `json:"glossary" yaml:"glossary" toml:"glossary"`
	Context     string `json:"context" yaml:"context" toml:"context"`
	ContextFile string `json:"context_file" yaml:"context_file" toml:"context_file"`

	QAReport               string  `json:"qa_report" yaml:"qa_report" toml:"qa_report"`
	QAReportFormat         string  `json:"qa_report_format" yaml:"qa_report_format" toml:"qa_report_format"`
	QAThresholdLengthRatio float64 `json:"qa_threshold_length_ratio" yaml:"qa_threshold_length_ratio" toml:"qa_threshold_length_ratio"`

	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFile  string `json:"log_file" yaml:"log_file" toml:"log_file"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Backend:                DefaultBackend,
		Profile:                DefaultProfile,
		IncludeNotes:           true,
		IncludeMasters:         true,
		DedupeText:             true,
		MaxBatchChars:          pptx.DefaultMaxBatchChars,
		MaxConcurrentRequests:  DefaultConcurrency,
		ImageOCRBackend:        DefaultOCRBackend,
		QAReportFormat:         pptx.QAFormatJSON,
		QAThresholdLengthRatio: pptx.DefaultQAThreshold,
		LogLevel:               DefaultLogLevel,
	}
}

// ConfigManager manages the configuration file
type ConfigManager struct {
	configPath string
	config     *Config
}

// NewConfigManager creates a new ConfigManager with the specified config path.
// If configPath is empty, it uses the default path in the user's config directory.
func NewConfigManager(configPath string) (*ConfigManager, error) {
	if configPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, types.NewAppError(types.ErrConfig, "failed to get user config directory", err)
		}
		configPath = filepath.Join(dir, "pptx-translate", DefaultConfigFileName)
	}
	logger.Debug("ConfigManager initialized", logger.String("configPath", configPath))
	return &ConfigManager{
		configPath: configPath,
		config:     Default(),
	}, nil
}

// Load reads the config file. A missing file leaves the defaults in place;
// a file that cannot be parsed is a configuration error.
func (m *ConfigManager) Load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("config file not found, using defaults", logger.String("path", m.configPath))
			m.config = Default()
			return nil
		}
		return types.NewAppErrorWithDetails(types.ErrConfig, "failed to read config file", m.configPath, err)
	}

	cfg := Default()
	if err := decode(m.configPath, data, cfg); err != nil {
		return types.NewAppErrorWithDetails(types.ErrConfig, "invalid config file", m.configPath, err)
	}
	m.config = cfg
	logger.Info("configuration loaded",
		logger.String("path", m.configPath),
		logger.String("backend", cfg.Backend),
		logger.String("profile", cfg.Profile))
	return nil
}

// Save writes the current configuration in the format given by the file extension
func (m *ConfigManager) Save() error {
	data, err := encode(m.configPath, m.GetConfig())
	if err != nil {
		return types.NewAppError(types.ErrConfig, "failed to marshal config", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return types.NewAppError(types.ErrConfig, "failed to create config directory", err)
	}
	// the file may hold API keys
	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return types.NewAppError(types.ErrConfig, "failed to write config file", err)
	}
	logger.Info("configuration saved", logger.String("path", m.configPath))
	return nil
}

// GetConfig returns the current configuration
func (m *ConfigManager) GetConfig() *Config {
	if m.config == nil {
		return Default()
	}
	return m.config
}

// SetConfig replaces the current configuration
func (m *ConfigManager) SetConfig(config *Config) {
	m.config = config
}

// GetConfigPath returns the path to the config file
func (m *ConfigManager) GetConfigPath() string {
	return m.configPath
}

// LoadFile reads a config file that must exist
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrConfig, "config file not found", path, err)
	}
	m := &ConfigManager{configPath: path}
	if err := m.Load(); err != nil {
		return nil, err
	}
	return m.GetConfig(), nil
}

func format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "json"
	}
}

func decode(path string, data []byte, v interface{}) error {
	switch format(path) {
	case "yaml":
		return yaml.Unmarshal(data, v)
	case "toml":
		return toml.Unmarshal(data, v)
	default:
		return json.Unmarshal(data, v)
	}
}

func encode(path string, v interface{}) ([]byte, error) {
	switch format(path) {
	case "yaml":
		return yaml.Marshal(v)
	case "toml":
		return toml.Marshal(v)
	default:
		return json.MarshalIndent(v, "", "  ")
	}
}

// ApplyProfile adjusts the run settings for the chosen profile: fast raises
// the batch size and concurrency and skips notes and masters; quality uses
// small batches and a single request at a time.
func (c *Config) ApplyProfile() error {
	switch strings.ToLower(c.Profile) {
	case ProfileFast:
		c.MaxBatchChars = max(c.MaxBatchChars, 6000)
		c.MaxConcurrentRequests = max(c.MaxConcurrentRequests, 4)
		c.IncludeNotes = false
		c.IncludeMasters = false
	case ProfileQuality:
		c.MaxBatchChars = min(c.MaxBatchChars, 2500)
		c.MaxConcurrentRequests = 1
	case ProfileBalanced, "":
	default:
		return types.NewAppErrorWithDetails(types.ErrConfig, "unknown profile", c.Profile+" (fast, balanced, quality)", nil)
	}
	c.Profile = strings.ToLower(c.Profile)
	if c.Profile == "" {
		c.Profile = ProfileBalanced
	}
	return nil
}

// Validate checks the values the pipeline depends on
func (c *Config) Validate() error {
	if c.TargetLang == "" {
		return types.NewAppError(types.ErrConfig, "target language is required", nil)
	}
	if _, err := language.Parse(c.TargetLang); err != nil {
		return types.NewAppErrorWithDetails(types.ErrConfig, "invalid target language", c.TargetLang, err)
	}
	if c.SourceLang != "" {
		if _, err := language.Parse(c.SourceLang); err != nil {
			return types.NewAppErrorWithDetails(types.ErrConfig, "invalid source language", c.SourceLang, err)
		}
	}
	if c.MaxBatchChars < 1 {
		return types.NewAppErrorWithDetails(types.ErrConfig, "max batch chars must be positive", fmt.Sprint(c.MaxBatchChars), nil)
	}
	if c.MaxConcurrentRequests < 1 {
		return types.NewAppErrorWithDetails(types.ErrConfig, "max concurrent requests must be positive", fmt.Sprint(c.MaxConcurrentRequests), nil)
	}
	if c.RequestsPerSecond < 0 {
		return types.NewAppErrorWithDetails(types.ErrConfig, "requests per second must not be negative", fmt.Sprint(c.RequestsPerSecond), nil)
	}
	switch strings.ToLower(c.QAReportFormat) {
	case pptx.QAFormatJSON, pptx.QAFormatMarkdown:
	default:
		return types.NewAppErrorWithDetails(types.ErrConfig, "unknown QA report format", c.QAReportFormat, nil)
	}
	if c.QAThresholdLengthRatio <= 0 {
		return types.NewAppErrorWithDetails(types.ErrConfig, "QA threshold must be positive", fmt.Sprint(c.QAThresholdLengthRatio), nil)
	}
	return nil
}

// PipelineOptions converts the configuration into pipeline options
func (c *Config) PipelineOptions() pptx.Options {
	return pptx.Options{
		IncludeNotes:      c.IncludeNotes,
		IncludeMasters:    c.IncludeMasters,
		Dedupe:            c.DedupeText,
		TranslateImages:   c.TranslateImages,
		MaxBatchChars:     c.MaxBatchChars,
		Concurrency:       c.MaxConcurrentRequests,
		RequestsPerSecond: c.RequestsPerSecond,
		Profile:           c.Profile,
		QAReportPath:      c.QAReport,
		QAReportFormat:    strings.ToLower(c.QAReportFormat),
		QAThreshold:       c.QAThresholdLengthRatio,
		OCR:               c.OCR,
	}
}

// ResolveContext returns the context text. A context file wins over inline context.
func (c *Config) ResolveContext() (string, error) {
	if c.ContextFile == "" {
		return c.Context, nil
	}
	data, err := readText(c.ContextFile)
	if err != nil {
		return "", types.NewAppErrorWithDetails(types.ErrInput, "cannot read context file", c.ContextFile, err)
	}
	return data, nil
}

// LoadBackendSettings reads engine settings from a JSON, YAML or TOML file
func LoadBackendSettings(path string) (translator.Settings, error) {
	var s translator.Settings
	data, err := os.ReadFile(path)
	if err != nil {
		return s, types.NewAppErrorWithDetails(types.ErrConfig, "cannot read backend config", path, err)
	}
	if err := decode(path, data, &s); err != nil {
		return s, types.NewAppErrorWithDetails(types.ErrConfig, "invalid backend config", path, err)
	}
	return s, nil
}

// LoadOCRConfig reads recognizer settings from a JSON, YAML or TOML file
func LoadOCRConfig(path string) (ocr.Config, error) {
	var cfg ocr.Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, types.NewAppErrorWithDetails(types.ErrConfig, "cannot read OCR config", path, err)
	}
	if err := decode(path, data, &cfg); err != nil {
		return cfg, types.NewAppErrorWithDetails(types.ErrConfig, "invalid OCR config", path, err)
	}
	return cfg, nil
}

// LoadGlossary reads a glossary: a CSV file with source and target columns,
// or a JSON array of {"source", "target"} objects. Rows missing either side
// are skipped.
func LoadGlossary(path string) ([]types.GlossaryEntry, error) {
	text, err := readText(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewAppErrorWithDetails(types.ErrInput, "glossary file not found", path, err)
		}
		return nil, types.NewAppErrorWithDetails(types.ErrInput, "cannot read glossary", path, err)
	}

	var entries []types.GlossaryEntry
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		entries, err = parseGlossaryCSV(text)
	} else {
		entries, err = parseGlossaryJSON(text)
	}
	if err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrConfig, "invalid glossary", path, err)
	}
	logger.Debug("glossary loaded", logger.String("path", path), logger.Int("entries", len(entries)))
	return entries, nil
}

func parseGlossaryCSV(text string) ([]types.GlossaryEntry, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	srcCol, ok := col["source"]
	if !ok {
		return nil, fmt.Errorf("missing source column")
	}
	tgtCol, ok := col["target"]
	if !ok {
		return nil, fmt.Errorf("missing target column")
	}
	notesCol, hasNotes := col["notes"]

	var entries []types.GlossaryEntry
	for {
		row, err := r.Read()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		field := func(i int) string {
			if i < len(row) {
				return row[i]
			}
			return ""
		}
		e := types.GlossaryEntry{Source: field(srcCol), Target: field(tgtCol)}
		if hasNotes {
			e.Notes = field(notesCol)
		}
		if e.Source == "" || e.Target == "" {
			continue
		}
		entries = append(entries, e)
	}
}

func parseGlossaryJSON(text string) ([]types.GlossaryEntry, error) {
	var raw []map[string]interface{}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("expected a JSON list of {source,target} objects: %w", err)
	}
	var entries []types.GlossaryEntry
	for _, item := range raw {
		src, _ := item["source"].(string)
		tgt, _ := item["target"].(string)
		if src == "" || tgt == "" {
			continue
		}
		notes, _ := item["notes"].(string)
		entries = append(entries, types.GlossaryEntry{Source: src, Target: tgt, Notes: notes})
	}
	return entries, nil
}

// readText reads a UTF-8 text file. A byte order mark is dropped, and UTF-16
// files with a byte order mark are converted.
func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), decoder))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

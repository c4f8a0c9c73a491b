package pptx

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"pptx-translator/internal/types"
)

const (
	// DefaultQAThreshold flags translations at least 1.6 times as long as their source
	DefaultQAThreshold = 1.6

	qaPreviewRunes = 120
)

// QA report formats
const (
	QAFormatJSON     = "json"
	QAFormatMarkdown = "markdown"
)

// QAIssue is one flagged translation
type QAIssue struct {
	Location          string  `json:"location"`
	SourcePreview     string  `json:"source_preview"`
	TranslatedPreview string  `json:"translated_preview"`
	Reason            string  `json:"reason"`
	Ratio             float64 `json:"ratio"`
}

// QAReport lists the translations whose length ratio reached the threshold
type QAReport struct {
	RunID       string    `json:"run_id"`
	IssuesCount int       `json:"issues_count"`
	Issues      []QAIssue `json:"issues"`
}

// BuildQAReport checks every translated unit. Units without a translation
// are not checked.
func BuildQAReport(runID string, units []*TranslatableUnit, threshold float64) *QAReport {
	if threshold <= 0 {
		threshold = DefaultQAThreshold
	}
	reason := "length_ratio>" + formatThreshold(threshold)

	report := &QAReport{RunID: runID, Issues: []QAIssue{}}
	for _, u := range units {
		translated, ok := u.Translation()
		if !ok || translated == "" {
			continue
		}
		srcLen := utf8.RuneCountInString(u.SourceText)
		if srcLen < 1 {
			srcLen = 1
		}
		ratio := float64(utf8.RuneCountInString(translated)) / float64(srcLen)
		if ratio < threshold {
			continue
		}
		report.Issues = append(report.Issues, QAIssue{
			Location:          u.Location,
			SourcePreview:     preview(u.SourceText),
			TranslatedPreview: preview(translated),
			Reason:            reason,
			Ratio:             ratio,
		})
	}
	report.IssuesCount = len(report.Issues)
	return report
}

// Markdown renders the report as a numbered list
func (r *QAReport) Markdown() string {
	lines := []string{
		fmt.Sprintf("# QA Report (run_id=%s)", r.RunID),
		"",
		fmt.Sprintf("Issues: %d", len(r.Issues)),
		"",
	}
	for i, issue := range r.Issues {
		lines = append(lines, fmt.Sprintf("%d. %s - %s (ratio=%.2f)", i+1, issue.Location, issue.Reason, issue.Ratio))
	}
	return strings.Join(lines, "\n")
}

// Write stores the report at path in the given format ("json" or "markdown")
func (r *QAReport) Write(path, format string) error {
	var data []byte
	switch strings.ToLower(format) {
	case "", QAFormatJSON:
		var err error
		data, err = json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
	case QAFormatMarkdown, "md":
		data = []byte(r.Markdown())
	default:
		return types.NewAppErrorWithDetails(types.ErrConfig, "unknown QA report format", format, nil)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= qaPreviewRunes {
		return s
	}
	return string([]rune(s)[:qaPreviewRunes])
}

// formatThreshold prints whole numbers with one decimal ("2.0")
func formatThreshold(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

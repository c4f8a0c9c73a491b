package pptx

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateRunID returns a run id of the form 20240131-142501-a1b2 (UTC)
func GenerateRunID() string {
	return newRunID(time.Now())
}

func newRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return now.UTC().Format("20060102-150405") + "-" + suffix[len(suffix)-4:]
}

// SanitizeOutputPath derives the output path. Without an explicit output the
// file is written next to the input as <stem>.<lang>.pptx. Unless disabled,
// the run id is inserted before the .pptx extension (or appended when the
// output has another extension).
func SanitizeOutputPath(inputPath, userOutput, targetLang, runID string, noRunID bool) string {
	base := userOutput
	if base == "" {
		stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
		base = filepath.Join(filepath.Dir(inputPath), stem+"."+targetLang+".pptx")
	}
	if noRunID || runID == "" {
		return base
	}
	if strings.EqualFold(filepath.Ext(base), ".pptx") {
		stem := strings.TrimSuffix(filepath.Base(base), filepath.Ext(base))
		return filepath.Join(filepath.Dir(base), stem+"."+runID+".pptx")
	}
	return base + "." + runID
}

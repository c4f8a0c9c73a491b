package pptx

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pptx-translator/internal/types"
)

func qaUnits() []*TranslatableUnit {
	units := []*TranslatableUnit{
		{ID: "t1", Location: "ppt/slides/slide1.xml::a:t[0]", SourceText: "Hi"},
		{ID: "t2", Location: "ppt/slides/slide1.xml::a:t[1]", SourceText: "Revenue"},
		{ID: "t3", Location: "ppt/slides/slide1.xml::a:t[2]", SourceText: "Cost"},
		{ID: "t4", Location: "ppt/slides/slide1.xml::a:t[3]", SourceText: "Untranslated"},
		{ID: "t5", Location: "ppt/slides/slide1.xml::a:t[4]", SourceText: strings.Repeat("s", 100)},
	}
	units[0].SetTranslation("Hallo zusammen")
	units[1].SetTranslation("Umsatz")
	units[2].SetTranslation("Kostenx")
	units[4].SetTranslation(strings.Repeat("ü", 200))
	return units
}

func TestBuildQAReport(t *testing.T) {
	report := BuildQAReport("run-1", qaUnits(), 1.6)
	assert.Equal(t, "run-1", report.RunID)
	require.Equal(t, 3, report.IssuesCount)
	require.Len(t, report.Issues, 3)

	first := report.Issues[0]
	assert.Equal(t, "ppt/slides/slide1.xml::a:t[0]", first.Location)
	assert.Equal(t, "length_ratio>1.6", first.Reason)
	assert.InDelta(t, 7.0, first.Ratio, 1e-9)
	assert.Equal(t, "Hallo zusammen", first.TranslatedPreview)

	assert.InDelta(t, 1.75, report.Issues[1].Ratio, 1e-9)

	long := report.Issues[2]
	assert.Equal(t, 100, len([]rune(long.SourcePreview)))
	assert.Equal(t, 120, len([]rune(long.TranslatedPreview)))

	report = BuildQAReport("run-1", qaUnits(), 2)
	assert.Equal(t, 2, report.IssuesCount)
	assert.Equal(t, "length_ratio>2.0", report.Issues[0].Reason)
}

func TestQAReportWrite(t *testing.T) {
	dir := t.TempDir()
	report := BuildQAReport("run-1", qaUnits(), 1.6)

	jsonPath := filepath.Join(dir, "qa", "report.json")
	require.NoError(t, report.Write(jsonPath, "json"))
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "{\n  \"run_id\": \"run-1\",\n  \"issues_count\": 3,"))

	var decoded QAReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, *report, decoded)

	mdPath := filepath.Join(dir, "report.md")
	require.NoError(t, report.Write(mdPath, "markdown"))
	data, err = os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"# QA Report (run_id=run-1)",
		"",
		"Issues: 3",
		"",
		"1. ppt/slides/slide1.xml::a:t[0] - length_ratio>1.6 (ratio=7.00)",
		"2. ppt/slides/slide1.xml::a:t[2] - length_ratio>1.6 (ratio=1.75)",
		"3. ppt/slides/slide1.xml::a:t[4] - length_ratio>1.6 (ratio=2.00)",
	}, "\n"), string(data))

	err = report.Write(filepath.Join(dir, "report.html"), "html")
	assert.True(t, types.IsCode(err, types.ErrConfig))
}

func TestQAReportEmpty(t *testing.T) {
	report := BuildQAReport("run-2", nil, 0)
	data, err := json.Marshal(report)
	require.NoError(t, err)
	assert.JSONEq(t, `{"run_id":"run-2","issues_count":0,"issues":[]}`, string(data))
}

package pptx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCustomPropertiesNewPart(t *testing.T) {
	root := unpackSample(t)
	meta := RunMetadata{
		RunID:      "20240131-142501-a1b2",
		TargetLang: "de",
		Backend:    "dummy",
		Profile:    "balanced",
		Timestamp:  time.Date(2024, 1, 31, 14, 25, 1, 0, time.UTC),
	}
	require.NoError(t, WriteCustomProperties(root, meta.Properties()))

	data, err := os.ReadFile(filepath.Join(root, "docProps", "custom.xml"))
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `<Properties xmlns="`+nsCP+`" xmlns:vt="`+nsVT+`">`)
	assert.Contains(t, out, `<property fmtid="{D5CDD505-2E9C-101B-9397-08002B2CF9AE}" pid="2" name="run_id"><vt:lpwstr>20240131-142501-a1b2</vt:lpwstr></property>`)
	assert.Contains(t, out, `pid="7" name="timestamp_utc"><vt:lpwstr>2024-01-31T14:25:01Z</vt:lpwstr>`)

	props, err := ReadCustomProperties(root)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"run_id":        "20240131-142501-a1b2",
		"source_lang":   "auto",
		"target_lang":   "de",
		"backend":       "dummy",
		"profile":       "balanced",
		"timestamp_utc": "2024-01-31T14:25:01Z",
	}, props)

	types, err := os.ReadFile(filepath.Join(root, "[Content_Types].xml"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(types),
		`<Override PartName="/docProps/custom.xml" ContentType="`+customPropsContentType+`"/></Types>`))

	rels, err := os.ReadFile(filepath.Join(root, "_rels", ".rels"))
	require.NoError(t, err)
	assert.Contains(t, string(rels), `<Relationship Id="rId2" Type="`+customPropsRelType+`" Target="docProps/custom.xml"/></Relationships>`)

	// writing again updates in place and does not register twice
	require.NoError(t, WriteCustomProperties(root, []Property{{Name: "target_lang", Value: "fr"}}))
	props, err = ReadCustomProperties(root)
	require.NoError(t, err)
	assert.Equal(t, "fr", props["target_lang"])
	assert.Len(t, props, 6)

	types2, err := os.ReadFile(filepath.Join(root, "[Content_Types].xml"))
	require.NoError(t, err)
	assert.Equal(t, string(types), string(types2))
}

func TestWriteCustomPropertiesExistingPart(t *testing.T) {
	root := unpackSample(t)
	existing := xmlHeader + `<Properties xmlns="` + nsCP + `" xmlns:vt="` + nsVT + `">` +
		`<property fmtid="{D5CDD505-2E9C-101B-9397-08002B2CF9AE}" pid="2" name="Owner"><vt:lpwstr>Finance</vt:lpwstr></property>` +
		`<property fmtid="{D5CDD505-2E9C-101B-9397-08002B2CF9AE}" pid="5" name="run_id"><vt:lpwstr>old</vt:lpwstr></property>` +
		`</Properties>`
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docProps"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docProps", "custom.xml"), []byte(existing), 0644))

	require.NoError(t, WriteCustomProperties(root, []Property{
		{Name: "run_id", Value: "new"},
		{Name: "backend", Value: "a < b"},
	}))

	data, err := os.ReadFile(filepath.Join(root, "docProps", "custom.xml"))
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `pid="2" name="Owner"><vt:lpwstr>Finance</vt:lpwstr>`)
	assert.Contains(t, out, `pid="5" name="run_id"><vt:lpwstr>new</vt:lpwstr>`)
	assert.Contains(t, out, `pid="6" name="backend"><vt:lpwstr>a &lt; b</vt:lpwstr>`)

	// the part existed, so content types stay as they were
	types, err := os.ReadFile(filepath.Join(root, "[Content_Types].xml"))
	require.NoError(t, err)
	assert.Equal(t, testContentTypes, string(types))
}

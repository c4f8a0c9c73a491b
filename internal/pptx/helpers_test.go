package pptx

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"pptx-translator/internal/logger"
	"pptx-translator/internal/ocr"
	"pptx-translator/internal/translator"
)

const xmlHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n"

const testContentTypes = xmlHeader + `<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
	`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
	`<Default Extension="xml" ContentType="application/xml"/>` +
	`<Default Extension="png" ContentType="image/png"/>` +
	`<Override PartName="/ppt/presentation.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.presentation.main+xml"/>` +
	`</Types>`

const testPackageRels = xmlHeader + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="ppt/presentation.xml"/>` +
	`</Relationships>`

const testPresentation = xmlHeader + `<p:presentation xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" ` +
	`xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" ` +
	`xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">` +
	`<p:sldIdLst><p:sldId id="256" r:id="rId2"/></p:sldIdLst>` +
	`<p:sldSz cx="9144000" cy="6858000"/></p:presentation>`

const testPresentationRels = xmlHeader + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideMaster" Target="slideMasters/slideMaster1.xml"/>` +
	`<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide" Target="slides/slide1.xml"/>` +
	`</Relationships>`

const testSlide = xmlHeader + `<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" ` +
	`xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" ` +
	`xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">` +
	`<p:cSld><p:spTree>` +
	`<p:nvGrpSpPr><p:cNvPr id="1" name=""/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr><p:grpSpPr/>` +
	`<p:sp><p:nvSpPr><p:cNvPr id="2" name="Title 1"/><p:cNvSpPr/><p:nvPr><p:ph type="title"/></p:nvPr></p:nvSpPr>` +
	`<p:spPr/><p:txBody><a:bodyPr/><a:lstStyle/><a:p><a:r><a:rPr lang="en-US" b="1" dirty="0"/><a:t>Quarterly Results</a:t></a:r></a:p></p:txBody></p:sp>` +
	`<p:sp><p:nvSpPr><p:cNvPr id="3" name="Content 2"/><p:cNvSpPr/><p:nvPr><p:ph idx="1"/></p:nvPr></p:nvSpPr>` +
	`<p:spPr/><p:txBody><a:bodyPr/><a:lstStyle/>` +
	`<a:p><a:r><a:rPr lang="en-US" sz="2400"/><a:t>Revenue &amp; growth</a:t></a:r><a:r><a:t></a:t></a:r></a:p>` +
	`<a:p><a:r><a:t>Quarterly Results</a:t></a:r></a:p></p:txBody></p:sp>` +
	`<p:pic><p:nvPicPr><p:cNvPr id="4" name="Picture 3"/><p:cNvPicPr/><p:nvPr/></p:nvPicPr>` +
	`<p:blipFill><a:blip r:embed="rId2"/><a:stretch><a:fillRect/></a:stretch></p:blipFill>` +
	`<p:spPr><a:xfrm><a:off x="0" y="0"/><a:ext cx="400" cy="300"/></a:xfrm><a:prstGeom prst="rect"><a:avLst/></a:prstGeom></p:spPr></p:pic>` +
	`</p:spTree></p:cSld></p:sld>`

const testSlideRels = xmlHeader + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideLayout" Target="../slideLayouts/slideLayout1.xml"/>` +
	`<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="../media/image1.png"/>` +
	`</Relationships>`

func textPart(root, text string) string {
	return xmlHeader + `<` + root + ` xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" ` +
		`xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">` +
		`<p:cSld><p:spTree><p:nvGrpSpPr><p:cNvPr id="1" name=""/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr><p:grpSpPr/>` +
		`<p:sp><p:nvSpPr><p:cNvPr id="2" name="Text"/><p:cNvSpPr/><p:nvPr/></p:nvSpPr><p:spPr/>` +
		`<p:txBody><a:bodyPr/><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp>` +
		`</p:spTree></p:cSld></` + root + `>`
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 10 {
		img.Set(x, 0, color.Black)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// samplePackageFiles returns the parts of a one-slide deck with notes, a
// master, a layout and an 800x600 picture shown at 400x300 EMU
func samplePackageFiles(t *testing.T) map[string][]byte {
	return map[string][]byte{
		"[Content_Types].xml":               []byte(testContentTypes),
		"_rels/.rels":                       []byte(testPackageRels),
		"ppt/presentation.xml":              []byte(testPresentation),
		"ppt/_rels/presentation.xml.rels":   []byte(testPresentationRels),
		"ppt/slides/slide1.xml":             []byte(testSlide),
		"ppt/slides/_rels/slide1.xml.rels":  []byte(testSlideRels),
		"ppt/notesSlides/notesSlide1.xml":   []byte(textPart("p:notes", "Speaker note")),
		"ppt/slideMasters/slideMaster1.xml": []byte(textPart("p:sldMaster", "Master text")),
		"ppt/slideLayouts/slideLayout1.xml": []byte(textPart("p:sldLayout", "Layout text")),
		"ppt/media/image1.png":              pngBytes(t, 800, 600),
		"docProps/app.xml":                  []byte(xmlHeader + `<Properties/>`),
	}
}

// writePackage zips files into dir/name and returns the archive path
func writePackage(t *testing.T, dir, name string, files map[string][]byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)

	zw := zip.NewWriter(f)
	for _, n := range names {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write(files[n])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return path
}

// unpackSample writes the sample deck into a fresh directory tree
func unpackSample(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for name, data := range samplePackageFiles(t) {
		target := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(target), 0755))
		require.NoError(t, os.WriteFile(target, data, 0644))
	}
	return root
}

// readEntries returns every file of a zip archive by name
func readEntries(t *testing.T, path string) map[string]string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	out := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = string(data)
	}
	return out
}

// captureLogs routes the global logger into a buffer for the duration of the test
func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	prev := logger.GetLogger()
	logger.SetGlobalLogger(logger.NewWriterLogger(buf, logger.LevelDebug))
	t.Cleanup(func() { logger.SetGlobalLogger(prev) })
	return buf
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeEngine is a scriptable translation engine
type fakeEngine struct {
	mu sync.Mutex
	// rejectAbove rejects batches with more characters than this as too large; 0 disables
	rejectAbove int
	// drop lists source texts whose ids are left out of the response
	drop map[string]bool
	// fail returns this error from every call when set
	fail  error
	calls [][]string
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) TranslateBatch(ctx context.Context, req translator.BatchRequest) (map[string]string, error) {
	ids := make([]string, len(req.Segments))
	for i, s := range req.Segments {
		ids[i] = s.ID
	}
	f.mu.Lock()
	f.calls = append(f.calls, ids)
	f.mu.Unlock()

	if f.fail != nil {
		return nil, f.fail
	}
	if f.rejectAbove > 0 && req.Chars() > f.rejectAbove {
		return nil, translator.NewSizeRejectedError(f.Name(), req.Chars(), nil)
	}
	out := make(map[string]string, len(req.Segments))
	for _, s := range req.Segments {
		if f.drop[s.Text] {
			continue
		}
		out[s.ID] = strings.ToUpper(s.Text)
	}
	return out, nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeRecognizer returns canned regions
type fakeRecognizer struct {
	regions []ocr.Region
	err     error
	seen    []ocr.ImageInput
}

func (f *fakeRecognizer) Name() string { return "fake" }

func (f *fakeRecognizer) Recognize(ctx context.Context, images []ocr.ImageInput, cfg ocr.Config) ([]ocr.Region, error) {
	f.seen = append(f.seen, images...)
	if f.err != nil {
		return nil, f.err
	}
	return f.regions, nil
}

func unitsOf(texts ...string) []*TranslatableUnit {
	ids := &IDGenerator{}
	units := make([]*TranslatableUnit, len(texts))
	for i, text := range texts {
		units[i] = &TranslatableUnit{ID: ids.Next(), Location: "test", SourceText: text}
	}
	return units
}

// readEntryNames returns the entry names of a zip archive in archive order
func readEntryNames(t *testing.T, path string) []string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	names := make([]string, len(zr.File))
	for i, f := range zr.File {
		names[i] = f.Name
	}
	return names
}

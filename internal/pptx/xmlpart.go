package pptx

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	nsA       = "http://schemas.openxmlformats.org/drawingml/2006/main"
	nsP       = "http://schemas.openxmlformats.org/presentationml/2006/main"
	nsR       = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
	nsCP      = "http://schemas.openxmlformats.org/officeDocument/2006/custom-properties"
	nsVT      = "http://schemas.openxmlformats.org/officeDocument/2006/docPropsVTypes"
	nsPkgRels = "http://schemas.openxmlformats.org/package/2006/relationships"
	nsTypes   = "http://schemas.openxmlformats.org/package/2006/content-types"
)

// TextNode addresses one <a:t> element of a part by byte range
type TextNode struct {
	// Index counts every a:t element of the part in document order, empty ones included
	Index int
	// Start and End delimit the element content in the raw part bytes
	Start int
	End   int
	Text  string
}

type edit struct {
	start int
	end   int
	text  string
	seq   int
}

// Part is one XML part of the package. The raw bytes are never re-serialized:
// text replacements and insertions are kept as pending edits and spliced into
// the original bytes by Bytes, so markup outside the edits is preserved as is.
type Part struct {
	// Path is slash-separated and relative to the package root
	Path string

	data     []byte
	nodes    []TextNode
	prefixes map[string]string
	rootName xml.Name
	rootEnd  int
	treeEnd  int
	maxID    int
	edits    []edit
}

// LoadPart reads and scans the part at rel below root
func LoadPart(root, rel string) (*Part, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}
	return ParsePart(rel, data)
}

// ParsePart scans raw part bytes for text nodes and structural offsets
func ParsePart(path string, data []byte) (*Part, error) {
	p := &Part{
		Path:     path,
		data:     data,
		prefixes: make(map[string]string),
		rootEnd:  -1,
		treeEnd:  -1,
	}
	if err := p.scan(); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return p, nil
}

func (p *Part) scan() error {
	dec := xml.NewDecoder(bytes.NewReader(p.data))

	var (
		depth int
		count int
		cur   *TextNode
		text  strings.Builder
	)
	for {
		before := int(dec.InputOffset())
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 {
				p.rootName = t.Name
				for _, attr := range t.Attr {
					switch {
					case attr.Name.Space == "xmlns":
						p.prefixes[attr.Value] = attr.Name.Local
					case attr.Name.Space == "" && attr.Name.Local == "xmlns":
						p.prefixes[attr.Value] = ""
					}
				}
			}
			if t.Name.Space == nsA && t.Name.Local == "t" {
				cur = &TextNode{Index: count, Start: int(dec.InputOffset())}
				count++
				text.Reset()
			}
			if t.Name.Local == "cNvPr" {
				for _, attr := range t.Attr {
					if attr.Name.Local == "id" {
						if id, err := strconv.Atoi(attr.Value); err == nil && id > p.maxID {
							p.maxID = id
						}
					}
				}
			}
		case xml.CharData:
			if cur != nil {
				text.Write(t)
			}
		case xml.EndElement:
			if cur != nil && t.Name.Space == nsA && t.Name.Local == "t" {
				cur.End = before
				cur.Text = text.String()
				p.nodes = append(p.nodes, *cur)
				cur = nil
			}
			if p.treeEnd < 0 && t.Name.Space == nsP && t.Name.Local == "spTree" {
				p.treeEnd = before
			}
			if depth == 1 {
				p.rootEnd = before
			}
			depth--
		}
	}
	return nil
}

// Nodes returns the text nodes in document order
func (p *Part) Nodes() []TextNode {
	return p.nodes
}

// Prefix returns the prefix the root element binds to namespace, if any
func (p *Part) Prefix(namespace string) (string, bool) {
	prefix, ok := p.prefixes[namespace]
	return prefix, ok
}

// NextShapeID reserves a drawing object id larger than any id in the part
func (p *Part) NextShapeID() int {
	p.maxID++
	return p.maxID
}

// SetText replaces the content of the text node with the given index
func (p *Part) SetText(index int, text string) error {
	for _, n := range p.nodes {
		if n.Index != index {
			continue
		}
		if n.Start == n.End && n.Start >= 2 && string(p.data[n.Start-2:n.Start]) == "/>" {
			return fmt.Errorf("%s: a:t[%d] is self-closing", p.Path, index)
		}
		var buf bytes.Buffer
		if err := xml.EscapeText(&buf, []byte(text)); err != nil {
			return err
		}
		for i := range p.edits {
			if p.edits[i].start == n.Start && p.edits[i].end == n.End && n.End > n.Start {
				p.edits[i].text = buf.String()
				return nil
			}
		}
		p.addEdit(n.Start, n.End, buf.String())
		return nil
	}
	return fmt.Errorf("%s: no text node a:t[%d]", p.Path, index)
}

// InsertBeforeTreeEnd inserts markup as the last child of the part's shape tree
func (p *Part) InsertBeforeTreeEnd(markup string) error {
	if p.treeEnd < 0 {
		return fmt.Errorf("%s: no shape tree", p.Path)
	}
	p.addEdit(p.treeEnd, p.treeEnd, markup)
	return nil
}

// InsertBeforeRootEnd inserts markup as the last child of the root element
func (p *Part) InsertBeforeRootEnd(markup string) error {
	if p.rootEnd < 0 {
		return fmt.Errorf("%s: no root element", p.Path)
	}
	p.addEdit(p.rootEnd, p.rootEnd, markup)
	return nil
}

func (p *Part) addEdit(start, end int, text string) {
	p.edits = append(p.edits, edit{start: start, end: end, text: text, seq: len(p.edits)})
}

// Modified reports whether the part has pending edits
func (p *Part) Modified() bool {
	return len(p.edits) > 0
}

// Bytes returns the part with all pending edits applied in a single pass
func (p *Part) Bytes() []byte {
	if len(p.edits) == 0 {
		return p.data
	}
	edits := make([]edit, len(p.edits))
	copy(edits, p.edits)
	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].start != edits[j].start {
			return edits[i].start < edits[j].start
		}
		return edits[i].seq < edits[j].seq
	})

	var out bytes.Buffer
	out.Grow(len(p.data) + 256)
	pos := 0
	for _, e := range edits {
		if e.start < pos {
			continue
		}
		out.Write(p.data[pos:e.start])
		out.WriteString(e.text)
		pos = e.end
	}
	out.Write(p.data[pos:])
	return out.Bytes()
}

// Save writes the edited part below root. Unmodified parts are left untouched.
func (p *Part) Save(root string) error {
	if !p.Modified() {
		return nil
	}
	dst := filepath.Join(root, filepath.FromSlash(p.Path))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, p.Bytes(), 0644)
}

// qualify returns the element name for local in namespace, using the root's
// prefix when one is declared. The second result is the xmlns attribute to
// add on the inserted element when the namespace is not declared.
func (p *Part) qualify(namespace, fallbackPrefix, local string) (string, string) {
	if prefix, ok := p.prefixes[namespace]; ok {
		if prefix == "" {
			return local, ""
		}
		return prefix + ":" + local, ""
	}
	return fallbackPrefix + ":" + local, fmt.Sprintf(` xmlns:%s="%s"`, fallbackPrefix, namespace)
}

func escapeAttr(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

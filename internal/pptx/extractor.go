package pptx

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"pptx-translator/internal/logger"
)

// PartCategory is one family of XML parts that can carry text
type PartCategory struct {
	Dir    string
	Prefix string
}

var (
	slideParts  = PartCategory{Dir: "ppt/slides", Prefix: "slide"}
	notesParts  = PartCategory{Dir: "ppt/notesSlides", Prefix: "notesSlide"}
	masterParts = PartCategory{Dir: "ppt/slideMasters", Prefix: "slideMaster"}
	layoutParts = PartCategory{Dir: "ppt/slideLayouts", Prefix: "slideLayout"}
)

// ExtractOptions selects the optional part families
type ExtractOptions struct {
	IncludeNotes   bool
	IncludeMasters bool
}

// DiscoverParts lists the text-bearing parts below root in processing order:
// slides, then notes, then masters and layouts. Missing families are skipped.
func DiscoverParts(root string, opts ExtractOptions) ([]string, error) {
	categories := []PartCategory{slideParts}
	if opts.IncludeNotes {
		categories = append(categories, notesParts)
	}
	if opts.IncludeMasters {
		categories = append(categories, masterParts, layoutParts)
	}

	var parts []string
	for _, c := range categories {
		found, err := listCategory(root, c)
		if err != nil {
			return nil, err
		}
		parts = append(parts, found...)
	}
	return parts, nil
}

func listCategory(root string, c PartCategory) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(c.Dir)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(c.Prefix) + `(\d*)\.xml$`)

	var names []string
	for _, e := range entries {
		if e.IsDir() || !pattern.MatchString(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sortNatural(names)

	out := make([]string, len(names))
	for i, n := range names {
		out[i] = path.Join(c.Dir, n)
	}
	return out, nil
}

var trailingNumber = regexp.MustCompile(`(\d+)\.xml$`)

// sortNatural orders "slide2.xml" before "slide10.xml"
func sortNatural(names []string) {
	num := func(s string) int {
		m := trailingNumber.FindStringSubmatch(s)
		if m == nil {
			return -1
		}
		n, _ := strconv.Atoi(m[1])
		return n
	}
	sort.SliceStable(names, func(i, j int) bool {
		ni, nj := num(names[i]), num(names[j])
		if ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})
}

type binding struct {
	part *Part
	node int
	unit *TranslatableUnit
}

// Document holds the scanned parts of an unpacked package and the units
// bound to their text nodes
type Document struct {
	Root  string
	Units []*TranslatableUnit

	parts    []*Part
	byPath   map[string]*Part
	bindings []binding
}

// Extract scans the selected parts below root and creates one unit per
// non-empty text node, drawing ids from ids
func Extract(root string, opts ExtractOptions, ids *IDGenerator) (*Document, error) {
	paths, err := DiscoverParts(root, opts)
	if err != nil {
		return nil, fmt.Errorf("discover parts: %w", err)
	}

	doc := &Document{Root: root, byPath: make(map[string]*Part)}
	for _, rel := range paths {
		part, err := LoadPart(root, rel)
		if err != nil {
			return nil, err
		}
		doc.parts = append(doc.parts, part)
		doc.byPath[rel] = part

		for _, n := range part.Nodes() {
			if n.Text == "" {
				continue
			}
			u := &TranslatableUnit{
				ID:         ids.Next(),
				Location:   fmt.Sprintf("%s::a:t[%d]", rel, n.Index),
				SourceText: n.Text,
			}
			doc.Units = append(doc.Units, u)
			doc.bindings = append(doc.bindings, binding{part: part, node: n.Index, unit: u})
		}
	}

	logger.Info("extracted text units",
		logger.Int("parts", len(doc.parts)),
		logger.Int("units", len(doc.Units)))
	return doc, nil
}

// Part returns the scanned part at rel, loading it on first use
func (d *Document) Part(rel string) (*Part, error) {
	if p, ok := d.byPath[rel]; ok {
		return p, nil
	}
	p, err := LoadPart(d.Root, rel)
	if err != nil {
		return nil, err
	}
	d.parts = append(d.parts, p)
	d.byPath[rel] = p
	return p, nil
}

// Inject writes every unit's translation into its text node. Units without a
// translation keep their original text.
func (d *Document) Inject() (int, error) {
	written := 0
	for _, b := range d.bindings {
		text, ok := b.unit.Translation()
		if !ok {
			continue
		}
		if err := b.part.SetText(b.node, text); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// Flush saves every modified part back into the unpacked tree
func (d *Document) Flush() error {
	for _, p := range d.parts {
		if err := p.Save(d.Root); err != nil {
			return fmt.Errorf("write %s: %w", p.Path, err)
		}
	}
	return nil
}

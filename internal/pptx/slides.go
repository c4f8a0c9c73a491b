package pptx

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const presentationPart = "ppt/presentation.xml"

// shapeElements are the spTree children that count as shapes
var shapeElements = map[string]bool{
	"sp":           true,
	"grpSp":        true,
	"graphicFrame": true,
	"cxnSp":        true,
	"pic":          true,
	"contentPart":  true,
}

// Relationship is one entry of a .rels part
type Relationship struct {
	ID         string `xml:"Id,attr"`
	Type       string `xml:"Type,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr"`
}

type relationshipsXML struct {
	Relationships []Relationship `xml:"Relationship"`
}

// Picture is a top-level picture shape of a slide
type Picture struct {
	// ShapeIndex is the picture's position among the shape children of the slide's tree
	ShapeIndex int
	ID         int
	Name       string
	EmbedID    string
	// MediaPath is the package path of the embedded image, "" when unresolved
	MediaPath string
	X, Y      int64
	CX, CY    int64
	FillRGB   string
}

// Slide is one slide in presentation order
type Slide struct {
	Index    int
	Path     string
	Pictures []Picture
}

// Picture returns the picture at shapeIndex
func (s *Slide) Picture(shapeIndex int) (*Picture, bool) {
	for i := range s.Pictures {
		if s.Pictures[i].ShapeIndex == shapeIndex {
			return &s.Pictures[i], true
		}
	}
	return nil, false
}

// Deck is the slide structure of an unpacked package
type Deck struct {
	Root   string
	Slides []Slide
}

// LoadDeck reads the slide order from the presentation part and the pictures
// of every slide. Without a presentation part the slide parts are taken in
// file order.
func LoadDeck(root string) (*Deck, error) {
	paths, err := slideOrder(root)
	if err != nil {
		return nil, err
	}

	deck := &Deck{Root: root}
	for i, p := range paths {
		pics, err := loadPictures(root, p)
		if err != nil {
			return nil, fmt.Errorf("read pictures of %s: %w", p, err)
		}
		deck.Slides = append(deck.Slides, Slide{Index: i, Path: p, Pictures: pics})
	}
	return deck, nil
}

// Slide returns the slide at index
func (d *Deck) Slide(index int) (*Slide, bool) {
	if index < 0 || index >= len(d.Slides) {
		return nil, false
	}
	return &d.Slides[index], true
}

func slideOrder(root string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(presentationPart)))
	if err != nil {
		if os.IsNotExist(err) {
			return listCategory(root, slideParts)
		}
		return nil, err
	}

	var pres struct {
		SlideIDs []struct {
			RID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
		} `xml:"sldIdLst>sldId"`
	}
	if err := xml.Unmarshal(data, &pres); err != nil {
		return nil, fmt.Errorf("parse %s: %w", presentationPart, err)
	}
	rels, err := readRelationships(root, presentationPart)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, s := range pres.SlideIDs {
		rel, ok := rels[s.RID]
		if !ok {
			continue
		}
		target := resolveTarget(presentationPart, rel.Target)
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(target))); err != nil {
			continue
		}
		out = append(out, target)
	}
	return out, nil
}

// relsPath returns the relationships part of a part, e.g.
// ppt/slides/slide1.xml -> ppt/slides/_rels/slide1.xml.rels
func relsPath(part string) string {
	return path.Join(path.Dir(part), "_rels", path.Base(part)+".rels")
}

// readRelationships returns the relationships of part keyed by id; a missing
// .rels part yields an empty map
func readRelationships(root, part string) (map[string]Relationship, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(relsPath(part))))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Relationship{}, nil
		}
		return nil, err
	}
	var rels relationshipsXML
	if err := xml.Unmarshal(data, &rels); err != nil {
		return nil, fmt.Errorf("parse %s: %w", relsPath(part), err)
	}
	out := make(map[string]Relationship, len(rels.Relationships))
	for _, r := range rels.Relationships {
		out[r.ID] = r
	}
	return out, nil
}

// resolveTarget resolves a relationship target against the source part's folder
func resolveTarget(source, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(path.Clean(target), "/")
	}
	return path.Clean(path.Join(path.Dir(source), target))
}

type picXML struct {
	NvPicPr struct {
		CNvPr struct {
			ID   int    `xml:"id,attr"`
			Name string `xml:"name,attr"`
		} `xml:"cNvPr"`
	} `xml:"nvPicPr"`
	BlipFill struct {
		Blip struct {
			Embed string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships embed,attr"`
		} `xml:"blip"`
	} `xml:"blipFill"`
	SpPr struct {
		Xfrm struct {
			Off struct {
				X int64 `xml:"x,attr"`
				Y int64 `xml:"y,attr"`
			} `xml:"off"`
			Ext struct {
				CX int64 `xml:"cx,attr"`
				CY int64 `xml:"cy,attr"`
			} `xml:"ext"`
		} `xml:"xfrm"`
		SolidFill struct {
			SrgbClr struct {
				Val string `xml:"val,attr"`
			} `xml:"srgbClr"`
		} `xml:"solidFill"`
	} `xml:"spPr"`
}

// loadPictures walks the direct children of the slide's shape tree, counting
// shapes and decoding the picture shapes among them
func loadPictures(root, slidePath string) ([]Picture, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(slidePath)))
	if err != nil {
		return nil, err
	}
	rels, err := readRelationships(root, slidePath)
	if err != nil {
		return nil, err
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		pics       []Picture
		inTree     bool
		shapeIndex int
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if !inTree {
				if t.Name.Space == nsP && t.Name.Local == "spTree" {
					inTree = true
				}
				continue
			}
			if !shapeElements[t.Name.Local] {
				if err := dec.Skip(); err != nil {
					return nil, err
				}
				continue
			}
			if t.Name.Local != "pic" {
				shapeIndex++
				if err := dec.Skip(); err != nil {
					return nil, err
				}
				continue
			}

			var px picXML
			if err := dec.DecodeElement(&px, &t); err != nil {
				return nil, err
			}
			pic := Picture{
				ShapeIndex: shapeIndex,
				ID:         px.NvPicPr.CNvPr.ID,
				Name:       px.NvPicPr.CNvPr.Name,
				EmbedID:    px.BlipFill.Blip.Embed,
				X:          px.SpPr.Xfrm.Off.X,
				Y:          px.SpPr.Xfrm.Off.Y,
				CX:         px.SpPr.Xfrm.Ext.CX,
				CY:         px.SpPr.Xfrm.Ext.CY,
				FillRGB:    strings.ToUpper(px.SpPr.SolidFill.SrgbClr.Val),
			}
			if rel, ok := rels[pic.EmbedID]; ok && !strings.EqualFold(rel.TargetMode, "External") {
				pic.MediaPath = resolveTarget(slidePath, rel.Target)
			}
			pics = append(pics, pic)
			shapeIndex++
		case xml.EndElement:
			if inTree && t.Name.Space == nsP && t.Name.Local == "spTree" {
				return pics, nil
			}
		}
	}
	return pics, nil
}

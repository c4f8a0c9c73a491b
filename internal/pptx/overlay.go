package pptx

import (
	"fmt"
	"math"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"pptx-translator/internal/logger"
	"pptx-translator/internal/ocr"
	"pptx-translator/internal/types"
)

// OverlayNamePrefix starts the name of every inserted overlay shape
const OverlayNamePrefix = "pptx_translate_overlay_"

const defaultOverlayFill = "FFFFFF"

// Geometry is a shape rectangle in EMU
type Geometry struct {
	X, Y   int64
	CX, CY int64
}

// ComputeOverlay maps a bbox in image pixels onto the slide, given the
// picture's frame in EMU and the image's pixel size. The overlay is never
// smaller than a quarter of the picture's width or 15% of its height.
func ComputeOverlay(pic Picture, imgW, imgH int, bbox ocr.BBox) (Geometry, error) {
	if imgW <= 0 || imgH <= 0 {
		return Geometry{}, fmt.Errorf("image has no pixel size (%dx%d)", imgW, imgH)
	}
	if pic.CX <= 0 || pic.CY <= 0 {
		return Geometry{}, fmt.Errorf("picture has no extent")
	}
	scaleX := float64(pic.CX) / float64(imgW)
	scaleY := float64(pic.CY) / float64(imgH)

	width := math.Max(float64(bbox.Width)*scaleX, float64(pic.CX)*0.25)
	height := math.Max(float64(bbox.Height)*scaleY, float64(pic.CY)*0.15)
	return Geometry{
		X:  pic.X + int64(float64(bbox.Left)*scaleX),
		Y:  pic.Y + int64(float64(bbox.Top)*scaleY),
		CX: int64(width),
		CY: int64(height),
	}, nil
}

// contrastColor returns black or white, whichever reads better on fill
func contrastColor(fill string) string {
	c, err := colorful.Hex("#" + fill)
	if err != nil {
		return "000000"
	}
	l, _, _ := c.Lab()
	if l > 0.5 {
		return "000000"
	}
	return "FFFFFF"
}

// overlayMarkup renders an opaque text box for the slide part
func overlayMarkup(part *Part, id int, name string, g Geometry, fill, text, lang string) string {
	el := func(ns, prefix, local string) (string, string) { return part.qualify(ns, prefix, local) }
	sp, spNS := el(nsP, "p", "sp")
	_, aNS := el(nsA, "a", "t")
	p := func(local string) string { n, _ := el(nsP, "p", local); return n }
	a := func(local string) string { n, _ := el(nsA, "a", local); return n }

	textColor := contrastColor(fill)

	var sb strings.Builder
	fmt.Fprintf(&sb, `<%s%s%s>`, sp, spNS, aNS)
	fmt.Fprintf(&sb, `<%s>`, p("nvSpPr"))
	fmt.Fprintf(&sb, `<%s id="%d" name="%s"/>`, p("cNvPr"), id, escapeAttr(name))
	fmt.Fprintf(&sb, `<%s txBox="1"/>`, p("cNvSpPr"))
	fmt.Fprintf(&sb, `<%s/>`, p("nvPr"))
	fmt.Fprintf(&sb, `</%s>`, p("nvSpPr"))

	fmt.Fprintf(&sb, `<%s>`, p("spPr"))
	fmt.Fprintf(&sb, `<%s><%s x="%d" y="%d"/><%s cx="%d" cy="%d"/></%s>`,
		a("xfrm"), a("off"), g.X, g.Y, a("ext"), g.CX, g.CY, a("xfrm"))
	fmt.Fprintf(&sb, `<%s prst="rect"><%s/></%s>`, a("prstGeom"), a("avLst"), a("prstGeom"))
	fmt.Fprintf(&sb, `<%s><%s val="%s"/></%s>`, a("solidFill"), a("srgbClr"), fill, a("solidFill"))
	fmt.Fprintf(&sb, `</%s>`, p("spPr"))

	fmt.Fprintf(&sb, `<%s>`, p("txBody"))
	fmt.Fprintf(&sb, `<%s wrap="square" rtlCol="0"><%s/></%s>`, a("bodyPr"), a("normAutofit"), a("bodyPr"))
	fmt.Fprintf(&sb, `<%s/>`, a("lstStyle"))
	fmt.Fprintf(&sb, `<%s><%s>`, a("p"), a("r"))
	fmt.Fprintf(&sb, `<%s lang="%s" dirty="0"><%s><%s val="%s"/></%s></%s>`,
		a("rPr"), escapeAttr(lang), a("solidFill"), a("srgbClr"), textColor, a("solidFill"), a("rPr"))
	fmt.Fprintf(&sb, `<%s>%s</%s>`, a("t"), escapeAttr(text), a("t"))
	fmt.Fprintf(&sb, `</%s></%s>`, a("r"), a("p"))
	fmt.Fprintf(&sb, `</%s>`, p("txBody"))
	fmt.Fprintf(&sb, `</%s>`, sp)
	return sb.String()
}

// ApplyOverlays adds a translated text box over every recognized region.
// Regions whose picture no longer resolves are skipped with a warning; the
// skipped placements are returned. Running this twice on the same package adds
// a second set of overlays.
func ApplyOverlays(doc *Document, deck *Deck, images []ocr.ImageInput, regions []*ImageRegion, lang string) (int, []error) {
	var (
		applied int
		skipped []error
	)
	skip := func(r *ImageRegion, reason string, cause error) {
		err := types.NewAppErrorWithDetails(types.ErrOverlayPlacement, "overlay skipped",
			fmt.Sprintf("slide %d shape %d (%s): %s", r.SlideIndex, r.ShapeIndex, r.ImageName, reason), cause)
		logger.Warn("overlay skipped", logger.Err(err))
		skipped = append(skipped, err)
	}

	for _, r := range regions {
		slide, ok := deck.Slide(r.SlideIndex)
		if !ok {
			skip(r, "slide not found", nil)
			continue
		}
		pic, ok := slide.Picture(r.ShapeIndex)
		if !ok {
			skip(r, "shape is not a picture", nil)
			continue
		}
		imgW, imgH := imageSize(images, r.SlideIndex, r.ShapeIndex)
		geom, err := ComputeOverlay(*pic, imgW, imgH, r.BBox)
		if err != nil {
			skip(r, "cannot scale region", err)
			continue
		}
		part, err := doc.Part(slide.Path)
		if err != nil {
			skip(r, "cannot load slide", err)
			continue
		}

		text := r.TranslatedText
		if text == "" {
			text = r.SourceText
		}
		fill := pic.FillRGB
		if fill == "" {
			fill = defaultOverlayFill
		}

		markup := overlayMarkup(part, part.NextShapeID(), OverlayNamePrefix+r.ImageName, geom, fill, text, lang)
		if err := part.InsertBeforeTreeEnd(markup); err != nil {
			skip(r, "slide has no shape tree", err)
			continue
		}
		applied++
	}
	if applied > 0 {
		logger.Info("image overlays applied", logger.Int("count", applied), logger.Int("skipped", len(skipped)))
	}
	return applied, skipped
}

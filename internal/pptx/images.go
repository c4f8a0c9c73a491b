package pptx

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"pptx-translator/internal/logger"
	"pptx-translator/internal/ocr"
)

// CollectImages reads the embedded image of every picture in the deck and
// decodes its pixel dimensions. Pictures whose media cannot be read or whose
// format has no decoder (EMF, SVG, ...) are skipped.
func CollectImages(deck *Deck) []ocr.ImageInput {
	var inputs []ocr.ImageInput
	for _, slide := range deck.Slides {
		for _, pic := range slide.Pictures {
			if pic.MediaPath == "" {
				continue
			}
			data, err := os.ReadFile(filepath.Join(deck.Root, filepath.FromSlash(pic.MediaPath)))
			if err != nil {
				logger.Warn("cannot read picture media",
					logger.String("slide", slide.Path),
					logger.String("media", pic.MediaPath),
					logger.Err(err))
				continue
			}
			cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
			if err != nil {
				logger.Debug("skipping picture with unsupported image format",
					logger.String("media", pic.MediaPath),
					logger.Err(err))
				continue
			}

			name := path.Base(pic.MediaPath)
			if name == "" || name == "." {
				name = fmt.Sprintf("image%d_%d", slide.Index, pic.ShapeIndex)
			}
			inputs = append(inputs, ocr.ImageInput{
				SlideIndex: slide.Index,
				ShapeIndex: pic.ShapeIndex,
				ImageName:  name,
				Data:       data,
				WidthPx:    cfg.Width,
				HeightPx:   cfg.Height,
			})
			logger.Debug("picture collected",
				logger.String("media", pic.MediaPath),
				logger.String("format", format),
				logger.Int("width", cfg.Width),
				logger.Int("height", cfg.Height))
		}
	}
	return inputs
}

// RecognizeImages runs the recognizer over the images and turns every region
// into a unit with the next id from ids
func RecognizeImages(ctx context.Context, rec ocr.Recognizer, cfg ocr.Config, images []ocr.ImageInput, ids *IDGenerator) ([]*ImageRegion, []*TranslatableUnit, error) {
	if len(images) == 0 {
		return nil, nil, nil
	}
	found, err := rec.Recognize(ctx, images, cfg)
	if err != nil {
		return nil, nil, err
	}

	var (
		regions []*ImageRegion
		units   []*TranslatableUnit
	)
	for _, r := range found {
		if r.Text == "" {
			continue
		}
		id := ids.Next()
		units = append(units, &TranslatableUnit{
			ID:         id,
			Location:   fmt.Sprintf("slide%d_img%d_bbox", r.SlideIndex, r.ShapeIndex),
			SourceText: r.Text,
			Context:    ImageTextContext,
		})
		regions = append(regions, &ImageRegion{
			SlideIndex: r.SlideIndex,
			ShapeIndex: r.ShapeIndex,
			ImageName:  r.ImageName,
			BBox:       r.BBox,
			SourceText: r.Text,
			UnitID:     id,
		})
	}
	logger.Info("recognized image text",
		logger.Int("images", len(images)),
		logger.Int("regions", len(regions)))
	return regions, units, nil
}

// imageSize returns the pixel size of the image, recorded at collection time
func imageSize(images []ocr.ImageInput, slideIndex, shapeIndex int) (int, int) {
	for _, img := range images {
		if img.SlideIndex == slideIndex && img.ShapeIndex == shapeIndex {
			return img.WidthPx, img.HeightPx
		}
	}
	return 0, 0
}

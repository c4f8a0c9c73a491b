package ocr

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"pptx-translator/internal/logger"
	"pptx-translator/internal/types"
)

// DefaultTesseractTimeout bounds a single tesseract invocation
const DefaultTesseractTimeout = 2 * time.Minute

// runFunc executes binary with args, feeding stdin, and returns stdout
type runFunc func(ctx context.Context, stdin []byte, binary string, args ...string) ([]byte, error)

// Tesseract runs the tesseract CLI once per image and parses its TSV output
type Tesseract struct {
	binary  string
	timeout time.Duration
	run     runFunc
}

// NewTesseract locates the tesseract binary. A missing binary is reported as a
// recognizer error so the caller can skip the image step.
func NewTesseract(cfg Config) (*Tesseract, error) {
	binary := cfg.Binary
	if binary == "" {
		binary = "tesseract"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrRecognizer, "tesseract is not available", binary, err)
	}
	return &Tesseract{binary: path, timeout: DefaultTesseractTimeout, run: runCommand}, nil
}

func (t *Tesseract) Name() string { return "tesseract" }

// Recognize runs tesseract on every image. Images that tesseract cannot read are
// logged and skipped; a cancelled context aborts the whole call.
func (t *Tesseract) Recognize(ctx context.Context, images []ImageInput, cfg Config) ([]Region, error) {
	args := []string{"stdin", "stdout"}
	if cfg.Lang != "" {
		args = append(args, "-l", cfg.Lang)
	}
	args = append(args, strings.Fields(cfg.TesseractConfig)...)
	args = append(args, "tsv")

	var regions []Region
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, types.NewAppError(types.ErrCancelled, "recognition cancelled", err)
		}

		runCtx, cancel := context.WithTimeout(ctx, t.timeout)
		out, err := t.run(runCtx, img.Data, t.binary, args...)
		cancel()
		if err != nil {
			logger.Warn("tesseract failed on image, skipping",
				logger.String("image", img.ImageName),
				logger.Int("slide", img.SlideIndex),
				logger.Err(err))
			continue
		}

		words, err := parseTSV(out)
		if err != nil {
			logger.Warn("unreadable tesseract output, skipping image",
				logger.String("image", img.ImageName),
				logger.Err(err))
			continue
		}
		for _, w := range words {
			if cfg.MinConfidence > 0 && w.Confidence < cfg.MinConfidence {
				continue
			}
			regions = append(regions, Region{
				SlideIndex: img.SlideIndex,
				ShapeIndex: img.ShapeIndex,
				ImageName:  img.ImageName,
				BBox:       w.BBox,
				Text:       w.Text,
				Confidence: w.Confidence,
			})
		}
		logger.Debug("image recognized",
			logger.String("image", img.ImageName),
			logger.Int("words", len(words)))
	}
	return regions, nil
}

type tsvWord struct {
	BBox       BBox
	Text       string
	Confidence float64
}

// parseTSV reads tesseract's TSV layout:
// level page_num block_num par_num line_num word_num left top width height conf text.
// Rows with blank text are dropped.
func parseTSV(data []byte) ([]tsvWord, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var words []tsvWord
	header := true
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if header {
			header = false
			if strings.HasPrefix(line, "level") {
				continue
			}
		}
		if line == "" {
			continue
		}
		cols := strings.SplitN(line, "\t", 12)
		if len(cols) < 12 {
			continue
		}
		text := strings.TrimSpace(cols[11])
		if text == "" {
			continue
		}

		var nums [4]int
		for i := 0; i < 4; i++ {
			n, err := strconv.Atoi(strings.TrimSpace(cols[6+i]))
			if err != nil {
				return nil, fmt.Errorf("bad geometry %q: %w", cols[6+i], err)
			}
			nums[i] = n
		}
		conf, _ := strconv.ParseFloat(strings.TrimSpace(cols[10]), 64)

		words = append(words, tsvWord{
			BBox:       BBox{Left: nums[0], Top: nums[1], Width: nums[2], Height: nums[3]},
			Text:       text,
			Confidence: conf,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return words, nil
}

func runCommand(ctx context.Context, stdin []byte, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	hideWindow(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("tesseract timed out: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

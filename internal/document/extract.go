package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// Below this many characters the embedded text layer is treated as missing
// and OCR output is used on its own.
const minTextLayerChars = 50

var ErrNoText = errors.New("no text could be extracted")

type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, path string) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}

// PopplerExtractor reads the PDF text layer with pdftotext and, when
// pdftoppm and tesseract are installed, OCRs each rendered page as well.
type PopplerExtractor struct {
	pdftotext string
	pdftoppm  string
	tesseract string
	lang      string
}

// NewPopplerExtractor locates the tools on PATH. A missing OCR toolchain only
// disables OCR.
func NewPopplerExtractor() *PopplerExtractor {
	e := &PopplerExtractor{lang: "eng"}
	e.pdftotext, _ = exec.LookPath("pdftotext")
	e.pdftoppm, _ = exec.LookPath("pdftoppm")
	e.tesseract, _ = exec.LookPath("tesseract")

	if e.pdftotext == "" {
		log.Warn().Msg("pdftotext not found: PDF text layer extraction disabled")
	}
	if !e.ocrAvailable() {
		log.Warn().Msg("pdftoppm or tesseract not found: OCR disabled")
	}
	return e
}

func (e *PopplerExtractor) ocrAvailable() bool {
	return e.pdftoppm != "" && e.tesseract != ""
}

func (e *PopplerExtractor) Extract(ctx context.Context, path string) (string, error) {
	var text string
	var textErr error
	if e.pdftotext != "" {
		text, textErr = run(ctx, e.pdftotext, "-layout", path, "-")
		if textErr != nil {
			log.Warn().Err(textErr).Str("path", path).Msg("pdftotext failed")
		}
	}

	var ocr string
	if e.ocrAvailable() {
		var err error
		ocr, err = e.ocr(ctx, path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("OCR failed, skipping")
		}
	}

	log.Info().
		Str("path", filepath.Base(path)).
		Int("textChars", len(text)).
		Int("ocrChars", len(ocr)).
		Msg("pdf extracted")

	return combine(text, ocr, textErr)
}

func combine(text, ocr string, textErr error) (string, error) {
	switch {
	case strings.TrimSpace(text) == "" && strings.TrimSpace(ocr) == "":
		if textErr != nil {
			return "", textErr
		}
		return "", ErrNoText
	case len(strings.TrimSpace(text)) < minTextLayerChars && strings.TrimSpace(ocr) != "":
		return ocr, nil
	case ocr == "":
		return text, nil
	default:
		return text + "\n" + ocr, nil
	}
}

func (e *PopplerExtractor) ocr(ctx context.Context, path string) (string, error) {
	dir, err := os.MkdirTemp("", "pdf-ocr-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	if _, err := run(ctx, e.pdftoppm, "-r", "200", "-png", path, filepath.Join(dir, "page")); err != nil {
		return "", fmt.Errorf("render pages: %w", err)
	}

	pages, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil {
		return "", err
	}
	sort.Slice(pages, func(i, j int) bool {
		if len(pages[i]) != len(pages[j]) {
			return len(pages[i]) < len(pages[j])
		}
		return pages[i] < pages[j]
	})

	var b strings.Builder
	for i, page := range pages {
		out, err := run(ctx, e.tesseract, page, "stdout", "-l", e.lang)
		if err != nil {
			return b.String(), fmt.Errorf("ocr page %d: %w", i+1, err)
		}
		fmt.Fprintf(&b, "Page %d:\n%s\n\n", i+1, out)
	}
	return b.String(), nil
}

func run(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("%s: %w", filepath.Base(name), err)
		}
		return "", fmt.Errorf("%s: %w: %s", filepath.Base(name), err, msg)
	}
	return stdout.String(), nil
}

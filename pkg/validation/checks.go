package validation

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/ledongthuc/pdf"
	_ "golang.org/x/image/webp"

	"github.com/anggasct/admitflow"
	"github.com/anggasct/admitflow/pkg/config"
)

// Legibility and portrait limits for the heuristic checks
const (
	MinLegibleLong  = 600
	MinLegibleShort = 380
	MinPhotoWidth   = 300
	MinPhotoRatio   = 1.20
	MaxPhotoRatio   = 1.45
)

// Input is what a heuristic check sees
type Input struct {
	Document *admitflow.Document
	Kind     admitflow.DocumentKind
	Ext      string
	Raw      []byte
	Config   config.ValidationConfig
}

// Check is a pluggable kind-specific heuristic
type Check interface {
	Name() string
	Reason() Reason
	// Applies reports whether the check inspects this kind and format
	Applies(kind admitflow.DocumentKind, ext string) bool
	// Enabled reports whether configuration turns the check on
	Enabled(cfg config.ValidationConfig) bool
	// Run returns false and a note when the document fails
	Run(ctx context.Context, in Input) (bool, string, error)
}

// disabled stands in for a check that configuration turns off. It keeps
// the wrapped check's name and scope and always passes.
type disabled struct{ Check }

func (disabled) Run(context.Context, Input) (bool, string, error) {
	return true, "", nil
}

// resolve swaps every check cfg turns off for its disabled stand-in
func resolve(checks []Check, cfg config.ValidationConfig) []Check {
	out := make([]Check, len(checks))
	for i, check := range checks {
		if check.Enabled(cfg) {
			out[i] = check
		} else {
			out[i] = disabled{check}
		}
	}
	return out
}

// TextExtractor pulls the text layer out of a PDF
type TextExtractor interface {
	ExtractText(data []byte) (string, error)
}

// TextExtractorFunc adapts a function to TextExtractor
type TextExtractorFunc func(data []byte) (string, error)

func (f TextExtractorFunc) ExtractText(data []byte) (string, error) {
	return f(data)
}

// PDFTextExtractor reads the text layer with ledongthuc/pdf
type PDFTextExtractor struct{}

// ExtractText concatenates the plain text of every page. Malformed files
// that make the parser panic are reported as errors.
func (PDFTextExtractor) ExtractText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to create PDF reader: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(pageText)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func decodeImage(raw []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
}

// identityLegibility stands in for OCR on identity scans: the image must
// decode and be large enough to read
type identityLegibility struct{}

func (identityLegibility) Name() string   { return "ocr.identity" }
func (identityLegibility) Reason() Reason { return ReasonOCRCheckFailed }

func (identityLegibility) Applies(kind admitflow.DocumentKind, ext string) bool {
	return kind.Category() == admitflow.CategoryIdentity
}

func (identityLegibility) Enabled(cfg config.ValidationConfig) bool { return cfg.OCREnabled }

func (identityLegibility) Run(ctx context.Context, in Input) (bool, string, error) {
	img, err := decodeImage(in.Raw)
	if err != nil {
		return false, "identity scan could not be decoded", nil
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	long, short := w, h
	if h > w {
		long, short = h, w
	}
	if long < MinLegibleLong || short < MinLegibleShort {
		return false, fmt.Sprintf("identity scan %dx%d below legible %dx%d", w, h, MinLegibleLong, MinLegibleShort), nil
	}
	return true, "", nil
}

// academicTextLayer stands in for OCR on academic PDFs: the PDF must carry
// extractable text. Word documents cannot be inspected and pass.
type academicTextLayer struct {
	extractor TextExtractor
}

func (academicTextLayer) Name() string   { return "ocr.academic" }
func (academicTextLayer) Reason() Reason { return ReasonOCRCheckFailed }

func (academicTextLayer) Applies(kind admitflow.DocumentKind, ext string) bool {
	return kind.Category() == admitflow.CategoryAcademic
}

func (academicTextLayer) Enabled(cfg config.ValidationConfig) bool { return cfg.OCREnabled }

func (c academicTextLayer) Run(ctx context.Context, in Input) (bool, string, error) {
	if in.Ext != ".pdf" {
		return true, "", nil
	}
	text, err := c.extractor.ExtractText(in.Raw)
	if err != nil {
		return false, "pdf text layer unreadable", nil
	}
	if strings.TrimSpace(text) == "" {
		return false, "pdf has no text layer", nil
	}
	return true, "", nil
}

// watermark looks for an issuing-authority keyword in diplomas and certificates
type watermark struct {
	extractor TextExtractor
}

func (watermark) Name() string   { return "watermark" }
func (watermark) Reason() Reason { return ReasonWatermarkNotFound }

func (watermark) Applies(kind admitflow.DocumentKind, ext string) bool {
	return kind == admitflow.KindDiploma || kind == admitflow.KindCertificate
}

func (watermark) Enabled(cfg config.ValidationConfig) bool { return cfg.WatermarkEnabled }

func (c watermark) Run(ctx context.Context, in Input) (bool, string, error) {
	if in.Ext != ".pdf" {
		return true, "", nil
	}
	text, err := c.extractor.ExtractText(in.Raw)
	if err != nil {
		return false, "pdf text layer unreadable", nil
	}
	lower := strings.ToLower(text)
	for _, keyword := range in.Config.WatermarkKeywords {
		if keyword != "" && strings.Contains(lower, strings.ToLower(keyword)) {
			return true, "", nil
		}
	}
	return false, "no watermark keyword found", nil
}

// photoRatio checks that the portrait has passport-photo proportions
type photoRatio struct{}

func (photoRatio) Name() string   { return "photo.ratio" }
func (photoRatio) Reason() Reason { return ReasonPhotoRatioInvalid }

func (photoRatio) Applies(kind admitflow.DocumentKind, ext string) bool {
	return kind == admitflow.KindPhoto
}

func (photoRatio) Enabled(cfg config.ValidationConfig) bool { return cfg.PhotoCheckEnabled }

func (photoRatio) Run(ctx context.Context, in Input) (bool, string, error) {
	img, err := decodeImage(in.Raw)
	if err != nil {
		return false, "photo could not be decoded", nil
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w < MinPhotoWidth {
		return false, fmt.Sprintf("photo width %d below %d", w, MinPhotoWidth), nil
	}
	ratio := float64(h) / float64(w)
	if ratio < MinPhotoRatio || ratio > MaxPhotoRatio {
		return false, fmt.Sprintf("photo ratio %.2f outside %.2f-%.2f", ratio, MinPhotoRatio, MaxPhotoRatio), nil
	}
	return true, "", nil
}

package config

import (
	"context"
	"strings"

	"github.com/anggasct/admitflow"
)

// BytesPerMB converts the configured megabyte ceiling to bytes
const BytesPerMB = 1 << 20

// ValidationConfig drives the document validation pipeline
type ValidationConfig struct {
	ImageExtensions    []string `validate:"min=1,dive,startswith=."`
	DocumentExtensions []string `validate:"min=1,dive,startswith=."`
	MaxFileSizeMB      float64  `validate:"gt=0"`

	OCREnabled        bool
	PhotoCheckEnabled bool
	WatermarkEnabled  bool
	WatermarkKeywords []string `validate:"required_if=WatermarkEnabled true,dive,required"`
}

// DefaultValidation returns the built-in allow-lists and limits
func DefaultValidation() ValidationConfig {
	return ValidationConfig{
		ImageExtensions:    []string{".jpg", ".jpeg", ".png", ".webp"},
		DocumentExtensions: []string{".pdf", ".doc", ".docx"},
		MaxFileSizeMB:      5,
		WatermarkKeywords:  []string{"official", "certified", "registrar"},
	}
}

// MaxFileSizeBytes is the size ceiling in bytes. A file of exactly this
// size is accepted.
func (c ValidationConfig) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB * BytesPerMB)
}

// AllowedExtensions returns the allow-list for a document kind
func (c ValidationConfig) AllowedExtensions(kind admitflow.DocumentKind) []string {
	switch {
	case kind.Category().IsImage():
		return c.ImageExtensions
	case kind.Category() == admitflow.CategoryAcademic:
		return c.DocumentExtensions
	default:
		return nil
	}
}

// Allows reports whether ext is on the allow-list for kind
func (c ValidationConfig) Allows(kind admitflow.DocumentKind, ext string) bool {
	ext = strings.ToLower(ext)
	for _, allowed := range c.AllowedExtensions(kind) {
		if allowed == ext {
			return true
		}
	}
	return false
}

// Validate checks the configuration
func (c ValidationConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return admitflow.NewConfigurationError("validation", describe(err))
	}
	return nil
}

// Source supplies validation settings. It is consulted once per validation
// call so operators can change the settings without a restart.
type Source interface {
	ValidationConfig(ctx context.Context) (ValidationConfig, error)
}

// Static is a fixed Source
type Static ValidationConfig

// ValidationConfig returns the fixed configuration
func (s Static) ValidationConfig(ctx context.Context) (ValidationConfig, error) {
	return ValidationConfig(s), nil
}

// EnvSource reads validation settings from the environment on every call
type EnvSource struct{}

// ValidationConfig re-reads and validates the environment
func (EnvSource) ValidationConfig(ctx context.Context) (ValidationConfig, error) {
	cfg := loadValidation()
	if err := cfg.Validate(); err != nil {
		return ValidationConfig{}, err
	}
	return cfg, nil
}

func loadValidation() ValidationConfig {
	def := DefaultValidation()
	return ValidationConfig{
		ImageExtensions:    normalizeExtensions(getList("IMAGE_EXTENSIONS", def.ImageExtensions)),
		DocumentExtensions: normalizeExtensions(getList("DOCUMENT_EXTENSIONS", def.DocumentExtensions)),
		MaxFileSizeMB:      getFloat("MAX_FILE_SIZE_MB", def.MaxFileSizeMB),
		OCREnabled:         getBool("OCR_ENABLED", def.OCREnabled),
		PhotoCheckEnabled:  getBool("PHOTO_CHECK_ENABLED", def.PhotoCheckEnabled),
		WatermarkEnabled:   getBool("WATERMARK_ENABLED", def.WatermarkEnabled),
		WatermarkKeywords:  getList("WATERMARK_KEYWORDS", def.WatermarkKeywords),
	}
}

// normalizeExtensions accepts "pdf" as well as ".pdf"
func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}

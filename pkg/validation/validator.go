package validation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/anggasct/admitflow"
	"github.com/anggasct/admitflow/pkg/config"
	"github.com/anggasct/admitflow/pkg/store"
)

// OwnerLookup finds which application first claimed a content hash
type OwnerLookup interface {
	ContentOwner(ctx context.Context, hash string) (applicationID string, found bool, err error)
}

// Validator runs the pipeline: format and size, content sniffing, duplicate
// detection, then the kind-specific heuristics
type Validator struct {
	source config.Source
	owners OwnerLookup
	checks []Check
	logger *slog.Logger
}

// Option configures a Validator
type Option func(*Validator)

// WithLogger sets the logger used for bypassed checks
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

// WithTextExtractor replaces the PDF text extractor used by the OCR and
// watermark checks
func WithTextExtractor(extractor TextExtractor) Option {
	return func(v *Validator) { v.checks = defaultChecks(extractor) }
}

// WithChecks appends extra heuristics
func WithChecks(checks ...Check) Option {
	return func(v *Validator) { v.checks = append(v.checks, checks...) }
}

// New creates a validator. owners may be nil, which disables duplicate detection.
func New(source config.Source, owners OwnerLookup, opts ...Option) *Validator {
	if source == nil {
		source = config.Static(config.DefaultValidation())
	}
	v := &Validator{
		source: source,
		owners: owners,
		checks: defaultChecks(PDFTextExtractor{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func defaultChecks(extractor TextExtractor) []Check {
	return []Check{
		identityLegibility{},
		academicTextLayer{extractor: extractor},
		watermark{extractor: extractor},
		photoRatio{},
	}
}

// Validate inspects one document. raw is the stored content; its hash is
// recomputed and compared with the one recorded at upload. The returned
// error is reserved for infrastructure failures; document problems are
// reported through the outcome.
func (v *Validator) Validate(ctx context.Context, doc *admitflow.Document, raw []byte, kind admitflow.DocumentKind) (Outcome, error) {
	out := Outcome{DocumentID: doc.ID}

	cfg, err := v.source.ValidationConfig(ctx)
	if err != nil {
		return out, err
	}

	ext := normalizeExt(doc.FileType)
	if ext == "" {
		ext = store.Extension(doc.Name)
	}

	// format and size are checked together and stop the pipeline
	if !kind.Valid() || !cfg.Allows(kind, ext) {
		out.add(ReasonInvalidFormat, fmt.Sprintf("%q not allowed for %s", ext, kind))
	}
	size := int64(doc.FileSizeMB * config.BytesPerMB)
	if raw != nil {
		size = int64(len(raw))
	}
	if limit := cfg.MaxFileSizeBytes(); size > limit {
		out.add(ReasonSizeExceeded, fmt.Sprintf("%d bytes exceeds %d", size, limit))
	}
	if len(out.Reasons) > 0 {
		return out, nil
	}

	if raw != nil && !matchesExtension(mimetype.Detect(raw), ext) {
		out.add(ReasonContentTypeMismatch, fmt.Sprintf("content sniffed as %s", mimetype.Detect(raw).String()))
	}

	hash := doc.ContentHash
	if raw != nil {
		hash = store.HashBytes(raw)
		if doc.ContentHash != "" && doc.ContentHash != hash {
			out.add(ReasonContentHashMismatch, "stored content does not match recorded hash "+doc.ContentHash)
		}
	}

	if v.owners != nil && hash != "" {
		owner, found, err := v.owners.ContentOwner(ctx, hash)
		if err != nil {
			return out, err
		}
		if found && owner != doc.ApplicationID {
			out.add(ReasonDuplicateContent, "content already submitted by application "+owner)
		}
	}

	in := Input{Document: doc, Kind: kind, Ext: ext, Raw: raw, Config: cfg}
	for _, check := range resolve(v.checks, cfg) {
		if !check.Applies(kind, ext) {
			continue
		}
		if _, off := check.(disabled); off {
			out.Bypassed = append(out.Bypassed, check.Name())
			v.logger.Debug("validation check bypassed",
				slog.String("document_id", doc.ID),
				slog.String("check", check.Name()))
		}
		ok, note, err := check.Run(ctx, in)
		if err != nil {
			return out, err
		}
		if !ok {
			out.add(check.Reason(), note)
		}
	}

	out.Passed = !out.hasHard()
	return out, nil
}

// MissingDocuments is the outcome for an application with nothing uploaded
func MissingDocuments(applicationID string) Outcome {
	out := Outcome{DocumentID: ""}
	out.add(ReasonMissingDocuments, "application "+applicationID+" has no documents")
	return out
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// matchesExtension walks the detected type and its parents looking for one
// that agrees with the declared extension
func matchesExtension(detected *mimetype.MIME, ext string) bool {
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	for m := detected; m != nil; m = m.Parent() {
		if m.Extension() == ext {
			return true
		}
	}
	return false
}

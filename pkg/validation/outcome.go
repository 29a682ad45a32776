// Package validation runs uploaded documents through the integrity and
// fraud-detection pipeline.
package validation

import "strings"

// Reason is a machine readable validation failure
type Reason string

const (
	ReasonInvalidFormat       Reason = "INVALID_FORMAT"
	ReasonSizeExceeded        Reason = "SIZE_EXCEEDED"
	ReasonContentTypeMismatch Reason = "CONTENT_TYPE_MISMATCH"
	ReasonDuplicateContent    Reason = "DUPLICATE_CONTENT"
	ReasonOCRCheckFailed      Reason = "OCR_CHECK_FAILED"
	ReasonWatermarkNotFound   Reason = "WATERMARK_NOT_FOUND"
	ReasonPhotoRatioInvalid   Reason = "PHOTO_RATIO_INVALID"
	ReasonMissingDocuments    Reason = "MISSING_DOCUMENTS"
	ReasonContentHashMismatch Reason = "CONTENT_HASH_MISMATCH"
)

// Hard reports whether the reason fails validation on its own. Soft reasons
// are surfaced to reviewers but do not block pre-validation.
func (r Reason) Hard() bool {
	switch r {
	case ReasonContentTypeMismatch, ReasonDuplicateContent:
		return false
	default:
		return true
	}
}

// Outcome is the result of validating one document
type Outcome struct {
	DocumentID string
	Passed     bool
	Reasons    []Reason
	// Bypassed lists heuristic checks that applied but are disabled
	Bypassed []string
	// Notes carries human readable detail for reviewers
	Notes []string
}

func (o *Outcome) add(r Reason, note string) {
	o.Reasons = append(o.Reasons, r)
	if note != "" {
		o.Notes = append(o.Notes, note)
	}
}

func (o *Outcome) hasHard() bool {
	for _, r := range o.Reasons {
		if r.Hard() {
			return true
		}
	}
	return false
}

// Has reports whether the outcome contains r
func (o Outcome) Has(r Reason) bool {
	for _, got := range o.Reasons {
		if got == r {
			return true
		}
	}
	return false
}

// HardReasons returns only the blocking reasons
func (o Outcome) HardReasons() []Reason {
	var out []Reason
	for _, r := range o.Reasons {
		if r.Hard() {
			out = append(out, r)
		}
	}
	return out
}

// Strings returns the reasons as plain strings
func (o Outcome) Strings() []string {
	return ReasonStrings(o.Reasons)
}

// Summary renders reasons, notes and bypassed checks for the document's OCR notes
func (o Outcome) Summary() string {
	var parts []string
	if len(o.Reasons) > 0 {
		parts = append(parts, strings.Join(o.Strings(), ", "))
	}
	parts = append(parts, o.Notes...)
	if len(o.Bypassed) > 0 {
		parts = append(parts, "bypassed: "+strings.Join(o.Bypassed, ", "))
	}
	return strings.Join(parts, "; ")
}

// ReasonStrings converts reasons to strings
func ReasonStrings(reasons []Reason) []string {
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = string(r)
	}
	return out
}

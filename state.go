package admitflow

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of an Application
type Status string

const (
	// StatusPreValidation is the entry state; automated checks have not run yet
	StatusPreValidation Status = "PRE_VALIDATION"
	// StatusManualReview means pre-validation passed and a reviewer is assigned
	StatusManualReview Status = "MANUAL_REVIEW"
	// StatusUnderReview means individual documents are being decided
	StatusUnderReview Status = "UNDER_REVIEW"
	// StatusAgentValidated means the reviewing agent signed off
	StatusAgentValidated Status = "AGENT_VALIDATED"
	// StatusChangesRequested waits for the candidate to resubmit
	StatusChangesRequested Status = "CHANGES_REQUESTED"
	// StatusApproved is terminal
	StatusApproved Status = "APPROVED"
	// StatusRejected is terminal
	StatusRejected Status = "REJECTED"
	// StatusPending waits for the candidate to correct a rejected document
	StatusPending Status = "PENDING"
	// StatusBlocked flags an application that cannot progress without an operator
	StatusBlocked Status = "BLOCKED"
)

var allStatuses = []Status{
	StatusPreValidation,
	StatusManualReview,
	StatusUnderReview,
	StatusAgentValidated,
	StatusChangesRequested,
	StatusApproved,
	StatusRejected,
	StatusPending,
	StatusBlocked,
}

// AllStatuses returns every status in declaration order
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a stored or user-supplied value into a Status
func ParseStatus(value string) (Status, error) {
	candidate := Status(strings.ToUpper(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == candidate {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown application status %q", value)
}

// String returns the status name
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition may leave s
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if known == s {
			return true
		}
	}
	return false
}

// ValidationStatus is the review state of a single Document
type ValidationStatus string

const (
	ValidationPending   ValidationStatus = "PENDING"
	ValidationValidated ValidationStatus = "VALIDATED"
	ValidationRejected  ValidationStatus = "REJECTED"
)

// DocumentKind identifies what a document is supposed to contain.
// The kind drives the allowed formats and the heuristic checks.
type DocumentKind string

const (
	KindIDCardFront DocumentKind = "ID_CARD_FRONT"
	KindIDCardBack  DocumentKind = "ID_CARD_BACK"
	KindPassport    DocumentKind = "PASSPORT"
	KindPhoto       DocumentKind = "PHOTO"
	KindDiploma     DocumentKind = "DIPLOMA"
	KindCertificate DocumentKind = "CERTIFICATE"
	KindTranscript  DocumentKind = "TRANSCRIPT"
)

// KindCategory groups document kinds that share format rules
type KindCategory int

const (
	// CategoryUnknown is returned for unrecognised kinds
	CategoryUnknown KindCategory = iota
	// CategoryIdentity covers identity scans; image formats only
	CategoryIdentity
	// CategoryPhoto covers the applicant's portrait; image formats only
	CategoryPhoto
	// CategoryAcademic covers diplomas, certificates and transcripts; document formats only
	CategoryAcademic
)

// Category returns the format category of the kind
func (k DocumentKind) Category() KindCategory {
	switch k {
	case KindIDCardFront, KindIDCardBack, KindPassport:
		return CategoryIdentity
	case KindPhoto:
		return CategoryPhoto
	case KindDiploma, KindCertificate, KindTranscript:
		return CategoryAcademic
	default:
		return CategoryUnknown
	}
}

// Valid reports whether k is a known kind
func (k DocumentKind) Valid() bool {
	return k.Category() != CategoryUnknown
}

// IsImage reports whether documents of this kind must be images
func (c KindCategory) IsImage() bool {
	return c == CategoryIdentity || c == CategoryPhoto
}

// ProfileSection names one of the required profile sections that feed the
// completion rate
type ProfileSection string

const (
	SectionPersonalInfo      ProfileSection = "PERSONAL_INFO"
	SectionContactInfo       ProfileSection = "CONTACT_INFO"
	SectionAcademicHistory   ProfileSection = "ACADEMIC_HISTORY"
	SectionTargetInstitution ProfileSection = "TARGET_INSTITUTION"
)

// RequiredSections returns the sections a complete profile must contain
func RequiredSections() []ProfileSection {
	return []ProfileSection{
		SectionPersonalInfo,
		SectionContactInfo,
		SectionAcademicHistory,
		SectionTargetInstitution,
	}
}

// Valid reports whether p is one of the required sections
func (p ProfileSection) Valid() bool {
	for _, s := range RequiredSections() {
		if s == p {
			return true
		}
	}
	return false
}

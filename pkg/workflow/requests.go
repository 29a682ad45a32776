package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/anggasct/admitflow"
	"github.com/anggasct/admitflow/pkg/validation"
)

// ErrInvalidRequest is wrapped by every request validation failure
var ErrInvalidRequest = errors.New("invalid request")

// RejectedUploadError is returned when a document added after
// pre-validation fails a hard check. Nothing is stored.
type RejectedUploadError struct {
	Name    string
	Outcome validation.Outcome
}

func (e *RejectedUploadError) Error() string {
	return fmt.Sprintf("document '%s' rejected: %s", e.Name, strings.Join(e.Outcome.Strings(), ", "))
}

// Unwrap makes the error match ErrInvalidRequest
func (e *RejectedUploadError) Unwrap() error {
	return ErrInvalidRequest
}

// Upload is one file sent by the candidate
type Upload struct {
	Name    string                 `validate:"required,max=255"`
	Kind    admitflow.DocumentKind `validate:"required,document_kind"`
	Content []byte                 `validate:"required,min=1"`
	// Replaces names an existing document this upload supersedes
	Replaces string
}

// SubmitRequest creates a new application
type SubmitRequest struct {
	CandidateID       string                     `validate:"required"`
	TargetInstitution string                     `validate:"required"`
	Specialization    string                     `validate:"omitempty,max=255"`
	ProfileSections   []admitflow.ProfileSection `validate:"dive,profile_section"`
	Documents         []Upload                   `validate:"dive"`
}

// Decision carries who made an explicit review decision and why
type Decision struct {
	Actor   string `validate:"required"`
	Comment string
	Reasons []string
}

var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("document_kind", func(fl validator.FieldLevel) bool {
		return admitflow.DocumentKind(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("profile_section", func(fl validator.FieldLevel) bool {
		return admitflow.ProfileSection(fl.Field().String()).Valid()
	})
	return v
}

func validateRequest(req any) error {
	err := requestValidator.Struct(req)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		parts := make([]string, 0, len(errs))
		for _, fe := range errs {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(parts, "; "))
	}
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}

func activeApplication(candidateID string) error {
	return fmt.Errorf("candidate '%s': %w", candidateID, admitflow.ErrActiveApplication)
}

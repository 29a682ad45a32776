package admitflow

import "time"

// Application is a single candidate's admission submission and its review
// lifecycle. It owns its documents.
type Application struct {
	ID                string
	CandidateID       string
	Status            Status
	CompletionRate    float64
	TargetInstitution string
	Specialization    string
	ProfileSections   []ProfileSection
	SubmissionDate    time.Time
	LastUpdated       time.Time

	// AssignedReviewer is empty until the MANUAL_REVIEW transition
	AssignedReviewer string

	// BlockedReason and BlockedSince flag an application that could not
	// progress, e.g. because no reviewer was available
	BlockedReason string
	BlockedSince  *time.Time

	Documents []Document
	History   []StatusChange

	// Version is bumped by the repository on every committed update
	Version int
}

// Document is one uploaded file tied to an Application
type Document struct {
	ID               string
	ApplicationID    string
	Name             string
	Kind             DocumentKind
	FileType         string
	FileSizeMB       float64
	ContentHash      string
	FilePath         string
	ValidationStatus ValidationStatus
	OCRNotes         string
	Reasons          []string
	CreatedAt        time.Time
}

// StatusChange is one entry in an application's audit trail
type StatusChange struct {
	From    Status
	To      Status
	Event   string
	Actor   string
	Comment string
	Reasons []string
	At      time.Time
}

// Candidate is the applicant identity as seen by the workflow
type Candidate struct {
	ID    string
	Name  string
	Email string
	Phone string
}

// Agent is a reviewer identity. Only agents with the reviewer capability are
// eligible for assignment.
type Agent struct {
	ID       string
	Name     string
	Email    string
	Reviewer bool
}

// Clone returns a deep copy of the application
func (a *Application) Clone() *Application {
	if a == nil {
		return nil
	}
	out := *a
	if a.ProfileSections != nil {
		out.ProfileSections = append([]ProfileSection(nil), a.ProfileSections...)
	}
	if a.BlockedSince != nil {
		since := *a.BlockedSince
		out.BlockedSince = &since
	}
	if a.Documents != nil {
		out.Documents = make([]Document, len(a.Documents))
		for i, d := range a.Documents {
			out.Documents[i] = d.clone()
		}
	}
	if a.History != nil {
		out.History = make([]StatusChange, len(a.History))
		for i, h := range a.History {
			h.Reasons = append([]string(nil), h.Reasons...)
			out.History[i] = h
		}
	}
	return &out
}

func (d Document) clone() Document {
	if d.Reasons != nil {
		d.Reasons = append([]string(nil), d.Reasons...)
	}
	return d
}

// Document returns a pointer into the application's documents
func (a *Application) Document(id string) (*Document, bool) {
	for i := range a.Documents {
		if a.Documents[i].ID == id {
			return &a.Documents[i], true
		}
	}
	return nil, false
}

// DocumentByHash finds a document of this application with the given content hash
func (a *Application) DocumentByHash(hash string) (*Document, bool) {
	for i := range a.Documents {
		if a.Documents[i].ContentHash == hash {
			return &a.Documents[i], true
		}
	}
	return nil, false
}

// HasSection reports whether the profile section was submitted
func (a *Application) HasSection(section ProfileSection) bool {
	for _, s := range a.ProfileSections {
		if s == section {
			return true
		}
	}
	return false
}

// ClearBlock removes the blocked flag
func (a *Application) ClearBlock() {
	a.BlockedReason = ""
	a.BlockedSince = nil
}

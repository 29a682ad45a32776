package repository

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"

	"github.com/anggasct/admitflow"
)

type applicationRecord struct {
	ID                string `gorm:"primaryKey;type:text"`
	CandidateID       string `gorm:"type:text;not null;index"`
	Status            string `gorm:"type:text;not null;index"`
	CompletionRate    float64
	TargetInstitution string         `gorm:"type:text"`
	Specialization    string         `gorm:"type:text"`
	ProfileSections   pq.StringArray `gorm:"type:text[]"`
	SubmissionDate    time.Time
	LastUpdated       time.Time
	AssignedReviewer  string `gorm:"type:text"`
	BlockedReason     string `gorm:"type:text"`
	BlockedSince      *time.Time
	Version           int `gorm:"not null;default:1"`

	Documents []documentRecord     `gorm:"foreignKey:ApplicationID;constraint:OnDelete:CASCADE"`
	History   []statusChangeRecord `gorm:"foreignKey:ApplicationID;constraint:OnDelete:CASCADE"`
}

func (applicationRecord) TableName() string { return "applications" }

type documentRecord struct {
	ID               string `gorm:"primaryKey;type:text"`
	ApplicationID    string `gorm:"type:text;not null;index"`
	Position         int    `gorm:"not null"`
	Name             string `gorm:"type:text"`
	Kind             string `gorm:"type:text;not null"`
	FileType         string `gorm:"type:text"`
	FileSizeMB       float64
	ContentHash      string `gorm:"type:text;index"`
	FilePath         string `gorm:"type:text"`
	ValidationStatus string `gorm:"type:text;not null"`
	OCRNotes         string `gorm:"type:text"`
	Reasons          pq.StringArray `gorm:"type:text[]"`
	CreatedAt        time.Time
}

func (documentRecord) TableName() string { return "documents" }

type statusChangeRecord struct {
	ID            uint   `gorm:"primaryKey"`
	ApplicationID string `gorm:"type:text;not null;index"`
	Seq           int    `gorm:"not null"`
	FromStatus    string `gorm:"type:text"`
	ToStatus      string `gorm:"type:text;not null"`
	Event         string `gorm:"type:text"`
	Actor         string `gorm:"type:text"`
	Details       datatypes.JSON
	At            time.Time
}

func (statusChangeRecord) TableName() string { return "status_changes" }

type changeDetails struct {
	Comment string   `json:"comment,omitempty"`
	Reasons []string `json:"reasons,omitempty"`
}

type contentClaimRecord struct {
	Hash          string `gorm:"primaryKey;type:text"`
	ApplicationID string `gorm:"type:text;not null;index"`
	ClaimedAt     time.Time
}

func (contentClaimRecord) TableName() string { return "content_claims" }

func toApplicationRecord(app *admitflow.Application) applicationRecord {
	sections := make(pq.StringArray, len(app.ProfileSections))
	for i, s := range app.ProfileSections {
		sections[i] = string(s)
	}
	rec := applicationRecord{
		ID:                app.ID,
		CandidateID:       app.CandidateID,
		Status:            string(app.Status),
		CompletionRate:    app.CompletionRate,
		TargetInstitution: app.TargetInstitution,
		Specialization:    app.Specialization,
		ProfileSections:   sections,
		SubmissionDate:    app.SubmissionDate,
		LastUpdated:       app.LastUpdated,
		AssignedReviewer:  app.AssignedReviewer,
		BlockedReason:     app.BlockedReason,
		BlockedSince:      app.BlockedSince,
		Version:           app.Version,
	}
	for i, d := range app.Documents {
		rec.Documents = append(rec.Documents, toDocumentRecord(app.ID, i, d))
	}
	for i, h := range app.History {
		rec.History = append(rec.History, toStatusChangeRecord(app.ID, i, h))
	}
	return rec
}

func toDocumentRecord(appID string, position int, d admitflow.Document) documentRecord {
	return documentRecord{
		ID:               d.ID,
		ApplicationID:    appID,
		Position:         position,
		Name:             d.Name,
		Kind:             string(d.Kind),
		FileType:         d.FileType,
		FileSizeMB:       d.FileSizeMB,
		ContentHash:      d.ContentHash,
		FilePath:         d.FilePath,
		ValidationStatus: string(d.ValidationStatus),
		OCRNotes:         d.OCRNotes,
		Reasons:          pq.StringArray(d.Reasons),
		CreatedAt:        d.CreatedAt,
	}
}

func toStatusChangeRecord(appID string, seq int, h admitflow.StatusChange) statusChangeRecord {
	details, _ := json.Marshal(changeDetails{Comment: h.Comment, Reasons: h.Reasons})
	return statusChangeRecord{
		ApplicationID: appID,
		Seq:           seq,
		FromStatus:    string(h.From),
		ToStatus:      string(h.To),
		Event:         h.Event,
		Actor:         h.Actor,
		Details:       datatypes.JSON(details),
		At:            h.At,
	}
}

func (r applicationRecord) toDomain() *admitflow.Application {
	app := &admitflow.Application{
		ID:                r.ID,
		CandidateID:       r.CandidateID,
		Status:            admitflow.Status(r.Status),
		CompletionRate:    r.CompletionRate,
		TargetInstitution: r.TargetInstitution,
		Specialization:    r.Specialization,
		SubmissionDate:    r.SubmissionDate.UTC(),
		LastUpdated:       r.LastUpdated.UTC(),
		AssignedReviewer:  r.AssignedReviewer,
		BlockedReason:     r.BlockedReason,
		Version:           r.Version,
	}
	for _, s := range r.ProfileSections {
		app.ProfileSections = append(app.ProfileSections, admitflow.ProfileSection(s))
	}
	if r.BlockedSince != nil {
		since := r.BlockedSince.UTC()
		app.BlockedSince = &since
	}
	for _, d := range r.Documents {
		app.Documents = append(app.Documents, admitflow.Document{
			ID:               d.ID,
			ApplicationID:    d.ApplicationID,
			Name:             d.Name,
			Kind:             admitflow.DocumentKind(d.Kind),
			FileType:         d.FileType,
			FileSizeMB:       d.FileSizeMB,
			ContentHash:      d.ContentHash,
			FilePath:         d.FilePath,
			ValidationStatus: admitflow.ValidationStatus(d.ValidationStatus),
			OCRNotes:         d.OCRNotes,
			Reasons:          []string(d.Reasons),
			CreatedAt:        d.CreatedAt.UTC(),
		})
	}
	for _, h := range r.History {
		var details changeDetails
		_ = json.Unmarshal(h.Details, &details)
		app.History = append(app.History, admitflow.StatusChange{
			From:    admitflow.Status(h.FromStatus),
			To:      admitflow.Status(h.ToStatus),
			Event:   h.Event,
			Actor:   h.Actor,
			Comment: details.Comment,
			Reasons: details.Reasons,
			At:      h.At.UTC(),
		})
	}
	return app
}

type candidateRecord struct {
	ID    string `gorm:"primaryKey;type:text"`
	Name  string `gorm:"type:text"`
	Email string `gorm:"type:text"`
	Phone string `gorm:"type:text"`
}

func (candidateRecord) TableName() string { return "candidates" }

type agentRecord struct {
	ID       string `gorm:"primaryKey;type:text"`
	Name     string `gorm:"type:text"`
	Email    string `gorm:"type:text"`
	Reviewer bool   `gorm:"not null;default:false;index"`
}

func (agentRecord) TableName() string { return "agents" }

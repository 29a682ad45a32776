package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/anggasct/admitflow"
)

// GormDirectory serves candidates and agents from the candidates and agents
// tables
type GormDirectory struct {
	db *gorm.DB
}

// NewGormDirectory wraps an open, migrated connection
func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

// SaveCandidate upserts a candidate
func (d *GormDirectory) SaveCandidate(ctx context.Context, c admitflow.Candidate) error {
	rec := candidateRecord{ID: c.ID, Name: c.Name, Email: c.Email, Phone: c.Phone}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	if err != nil {
		return admitflow.NewStorageError("save candidate", c.ID, err)
	}
	return nil
}

// SaveAgent upserts an agent
func (d *GormDirectory) SaveAgent(ctx context.Context, a admitflow.Agent) error {
	rec := agentRecord{ID: a.ID, Name: a.Name, Email: a.Email, Reviewer: a.Reviewer}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	if err != nil {
		return admitflow.NewStorageError("save agent", a.ID, err)
	}
	return nil
}

func (d *GormDirectory) Candidate(ctx context.Context, id string) (admitflow.Candidate, error) {
	var rec candidateRecord
	err := d.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return admitflow.Candidate{}, admitflow.NewNotFoundError("candidate", id)
	}
	if err != nil {
		return admitflow.Candidate{}, admitflow.NewStorageError("get candidate", id, err)
	}
	return admitflow.Candidate{ID: rec.ID, Name: rec.Name, Email: rec.Email, Phone: rec.Phone}, nil
}

func (d *GormDirectory) Agent(ctx context.Context, id string) (admitflow.Agent, error) {
	var rec agentRecord
	err := d.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return admitflow.Agent{}, admitflow.NewNotFoundError("agent", id)
	}
	if err != nil {
		return admitflow.Agent{}, admitflow.NewStorageError("get agent", id, err)
	}
	return admitflow.Agent{ID: rec.ID, Name: rec.Name, Email: rec.Email, Reviewer: rec.Reviewer}, nil
}

func (d *GormDirectory) EligibleAgents(ctx context.Context) ([]admitflow.Agent, error) {
	var recs []agentRecord
	if err := d.db.WithContext(ctx).Where("reviewer = ?", true).Order("id").Find(&recs).Error; err != nil {
		return nil, admitflow.NewStorageError("list agents", "", err)
	}
	out := make([]admitflow.Agent, len(recs))
	for i, rec := range recs {
		out[i] = admitflow.Agent{ID: rec.ID, Name: rec.Name, Email: rec.Email, Reviewer: rec.Reviewer}
	}
	return out, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/anggasct/admitflow"
)

const (
	uniqueViolation          = "23505"
	activeCandidateIndexName = "idx_applications_active_candidate"
)

// Open connects to PostgreSQL through gorm's pgx driver
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the schema
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&applicationRecord{},
		&documentRecord{},
		&statusChangeRecord{},
		&contentClaimRecord{},
		&candidateRecord{},
		&agentRecord{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// one open application per candidate
	stmt := fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS %s ON applications (candidate_id) WHERE status NOT IN ('%s', '%s')",
		activeCandidateIndexName, admitflow.StatusApproved, admitflow.StatusRejected)
	if err := db.Exec(stmt).Error; err != nil {
		return fmt.Errorf("failed to create active candidate index: %w", err)
	}
	return nil
}

// GormRepository stores applications in PostgreSQL. Updates lock the row
// with SELECT ... FOR UPDATE and check the version before writing.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository wraps an open connection. Call Migrate first.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func (r *GormRepository) Create(ctx context.Context, app *admitflow.Application) error {
	rec := toApplicationRecord(app)
	rec.Version = 1

	err := r.db.WithContext(ctx).Create(&rec).Error
	switch {
	case err == nil:
		app.Version = 1
		return nil
	case isUniqueViolation(err, activeCandidateIndexName):
		return activeApplicationError(app.CandidateID)
	case isUniqueViolation(err, ""):
		return alreadyExistsError(app.ID)
	default:
		return admitflow.NewStorageError("create application", app.ID, err)
	}
}

func preloaded(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Documents", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("seq") })
}

func (r *GormRepository) Get(ctx context.Context, id string) (*admitflow.Application, error) {
	var rec applicationRecord
	err := preloaded(r.db.WithContext(ctx)).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, admitflow.NewNotFoundError("application", id)
	}
	if err != nil {
		return nil, admitflow.NewStorageError("get application", id, err)
	}
	return rec.toDomain(), nil
}

func (r *GormRepository) Update(ctx context.Context, id string, mutate MutateFunc) (*admitflow.Application, error) {
	var updated *admitflow.Application

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec applicationRecord
		err := preloaded(tx.Clauses(clause.Locking{Strength: "UPDATE"})).First(&rec, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return admitflow.NewNotFoundError("application", id)
		}
		if err != nil {
			return admitflow.NewStorageError("lock application", id, err)
		}

		app := rec.toDomain()
		expected := app.Version
		historyBefore := len(app.History)

		if err := mutate(app); err != nil {
			return err
		}
		if app.Version != expected {
			return &admitflow.ConcurrentModificationError{ApplicationID: id, Expected: expected, Actual: app.Version}
		}
		app.ID = id
		app.Version = expected + 1

		next := toApplicationRecord(app)
		res := tx.Model(&applicationRecord{}).
			Where("id = ? AND version = ?", id, expected).
			Updates(map[string]any{
				"status":             next.Status,
				"completion_rate":    next.CompletionRate,
				"target_institution": next.TargetInstitution,
				"specialization":     next.Specialization,
				"profile_sections":   next.ProfileSections,
				"submission_date":    next.SubmissionDate,
				"last_updated":       next.LastUpdated,
				"assigned_reviewer":  next.AssignedReviewer,
				"blocked_reason":     next.BlockedReason,
				"blocked_since":      next.BlockedSince,
				"version":            next.Version,
			})
		if res.Error != nil {
			return admitflow.NewStorageError("update application", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return &admitflow.ConcurrentModificationError{ApplicationID: id, Expected: expected, Actual: -1}
		}

		keep := make([]string, 0, len(next.Documents))
		for _, d := range next.Documents {
			keep = append(keep, d.ID)
		}
		stale := tx.Where("application_id = ?", id)
		if len(keep) > 0 {
			stale = stale.Where("id NOT IN ?", keep)
		}
		if err := stale.Delete(&documentRecord{}).Error; err != nil {
			return admitflow.NewStorageError("remove documents", id, err)
		}

		if len(next.Documents) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).Create(&next.Documents).Error
			if err != nil {
				return admitflow.NewStorageError("save documents", id, err)
			}
		}

		// history is append-only
		if len(next.History) > historyBefore {
			added := next.History[historyBefore:]
			if err := tx.Create(&added).Error; err != nil {
				return admitflow.NewStorageError("append history", id, err)
			}
		}

		updated = app
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *GormRepository) FindActiveByCandidate(ctx context.Context, candidateID string) (*admitflow.Application, error) {
	var rec applicationRecord
	err := preloaded(r.db.WithContext(ctx)).
		Where("candidate_id = ? AND status NOT IN ?", candidateID,
			[]string{string(admitflow.StatusApproved), string(admitflow.StatusRejected)}).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, admitflow.NewNotFoundError("active application for candidate", candidateID)
	}
	if err != nil {
		return nil, admitflow.NewStorageError("find active application", candidateID, err)
	}
	return rec.toDomain(), nil
}

func (r *GormRepository) ListByStatus(ctx context.Context, status admitflow.Status) ([]*admitflow.Application, error) {
	var recs []applicationRecord
	err := preloaded(r.db.WithContext(ctx)).
		Where("status = ?", string(status)).
		Order("id").
		Find(&recs).Error
	if err != nil {
		return nil, admitflow.NewStorageError("list applications", string(status), err)
	}
	out := make([]*admitflow.Application, len(recs))
	for i, rec := range recs {
		out[i] = rec.toDomain()
	}
	return out, nil
}

// ClaimContent inserts the claim and lets the primary key decide the owner
func (r *GormRepository) ClaimContent(ctx context.Context, hash, applicationID string) error {
	db := r.db.WithContext(ctx)
	claim := contentClaimRecord{Hash: hash, ApplicationID: applicationID, ClaimedAt: time.Now().UTC()}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&claim).Error; err != nil {
		return admitflow.NewStorageError("claim content", hash, err)
	}

	owner, found, err := r.ContentOwner(ctx, hash)
	if err != nil {
		return err
	}
	if found && owner != applicationID {
		return &admitflow.DuplicateContentError{Hash: hash, OwnerApplicationID: owner, ApplicationID: applicationID}
	}
	return nil
}

func (r *GormRepository) ContentOwner(ctx context.Context, hash string) (string, bool, error) {
	var claim contentClaimRecord
	err := r.db.WithContext(ctx).First(&claim, "hash = ?", hash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, admitflow.NewStorageError("content owner", hash, err)
	}
	return claim.ApplicationID, true, nil
}

func (r *GormRepository) ReleaseContent(ctx context.Context, hash, applicationID string) error {
	err := r.db.WithContext(ctx).
		Where("hash = ? AND application_id = ?", hash, applicationID).
		Delete(&contentClaimRecord{}).Error
	if err != nil {
		return admitflow.NewStorageError("release content", hash, err)
	}
	return nil
}

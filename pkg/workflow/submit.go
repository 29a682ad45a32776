package workflow

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/anggasct/admitflow"
	"github.com/anggasct/admitflow/pkg/config"
	"github.com/anggasct/admitflow/pkg/store"
)

// intake tracks blobs and content claims written on behalf of one request so
// they can be undone when the request fails
type intake struct {
	objects []store.Object
	claimed []string
}

// storeAll writes every upload in parallel. If any write fails the ones
// that succeeded are deleted and the first error is returned.
func (s *Service) storeAll(ctx context.Context, uploads []Upload) ([]store.Object, error) {
	objects := make([]store.Object, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	for i, up := range uploads {
		g.Go(func() error {
			obj, err := s.documents.Store(gctx, up.Content, up.Name)
			if err != nil {
				return err
			}
			objects[i] = obj
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var written []store.Object
		for _, obj := range objects {
			if obj.Path != "" {
				written = append(written, obj)
			}
		}
		s.discard(ctx, "", &intake{objects: written})
		return nil, err
	}
	return objects, nil
}

// claim records ownership of hash. Another application owning it is not an
// error here; validation flags it later.
func (s *Service) claim(ctx context.Context, in *intake, hash, applicationID string) error {
	owner, found, err := s.repo.ContentOwner(ctx, hash)
	if err != nil {
		return err
	}
	if found && owner != applicationID {
		return nil
	}
	err = s.repo.ClaimContent(ctx, hash, applicationID)
	if errors.Is(err, admitflow.ErrDuplicateContent) {
		return nil
	}
	if err != nil {
		return err
	}
	if !found {
		in.claimed = append(in.claimed, hash)
	}
	return nil
}

// discard deletes blobs and releases claims. It runs even when ctx is done.
func (s *Service) discard(ctx context.Context, applicationID string, in *intake) {
	ctx = context.WithoutCancel(ctx)
	for _, obj := range in.objects {
		if err := s.documents.Delete(ctx, obj.Path); err != nil {
			s.logger.ErrorContext(ctx, "failed to delete orphaned document",
				slog.String("path", obj.Path),
				slog.String("error", err.Error()))
		}
	}
	for _, hash := range in.claimed {
		if err := s.repo.ReleaseContent(ctx, hash, applicationID); err != nil {
			s.logger.ErrorContext(ctx, "failed to release content claim",
				slog.String("application_id", applicationID),
				slog.String("error", err.Error()))
		}
	}
}

func (s *Service) newDocument(applicationID string, up Upload, obj store.Object) admitflow.Document {
	return admitflow.Document{
		ID:               s.newID(),
		ApplicationID:    applicationID,
		Name:             up.Name,
		Kind:             up.Kind,
		FileType:         store.Extension(up.Name),
		FileSizeMB:       float64(obj.Size) / config.BytesPerMB,
		ContentHash:      obj.Hash,
		FilePath:         obj.Path,
		ValidationStatus: admitflow.ValidationPending,
		CreatedAt:        s.clock.Now(),
	}
}

// Submit creates an application in PRE_VALIDATION with all uploads stored.
// Nothing is persisted when any upload fails to store.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*admitflow.Application, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	active, err := s.repo.FindActiveByCandidate(ctx, req.CandidateID)
	switch {
	case err == nil:
		s.logger.WarnContext(ctx, "candidate already has an active application",
			slog.String("candidate_id", req.CandidateID),
			slog.String("application_id", active.ID))
		return nil, activeApplication(req.CandidateID)
	case !errors.Is(err, admitflow.ErrNotFound):
		return nil, err
	}

	objects, err := s.storeAll(ctx, req.Documents)
	if err != nil {
		s.logger.ErrorContext(ctx, "document upload failed",
			slog.String("candidate_id", req.CandidateID),
			slog.String("error", err.Error()))
		return nil, err
	}

	app := &admitflow.Application{
		ID:                s.newID(),
		CandidateID:       req.CandidateID,
		TargetInstitution: req.TargetInstitution,
		Specialization:    req.Specialization,
		ProfileSections:   dedupeSections(req.ProfileSections),
	}
	in := &intake{}
	for i, up := range req.Documents {
		obj := objects[i]
		if _, dup := app.DocumentByHash(obj.Hash); dup {
			// same bytes twice in one batch: keep the first
			in.objects = append(in.objects, obj)
			continue
		}
		app.Documents = append(app.Documents, s.newDocument(app.ID, up, obj))
	}
	duplicates := in.objects
	in.objects = nil

	rollback := func() {
		in.objects = append(in.objects, duplicates...)
		for _, d := range app.Documents {
			in.objects = append(in.objects, store.Object{Path: d.FilePath})
		}
		s.discard(ctx, app.ID, in)
	}

	for _, d := range app.Documents {
		if err := s.claim(ctx, in, d.ContentHash, app.ID); err != nil {
			rollback()
			return nil, err
		}
	}
	app.CompletionRate = s.completion.ScoreApplication(app)

	submitted := admitflow.NewEvent(admitflow.EventSubmitted).WithActor(req.CandidateID)
	result := s.machine.ApplyStart(ctx, app, submitted)
	if result.Error != nil {
		rollback()
		return nil, result.Error
	}
	if err := s.repo.Create(ctx, app); err != nil {
		rollback()
		s.logFailure(ctx, app.ID, admitflow.EventSubmitted, err)
		return nil, err
	}
	s.discard(ctx, app.ID, &intake{objects: duplicates})
	s.machine.Announce(ctx, app, submitted, result.PreviousState, result.CurrentState)

	s.logger.InfoContext(ctx, "application submitted",
		slog.String("application_id", app.ID),
		slog.String("candidate_id", app.CandidateID),
		slog.Int("documents", len(app.Documents)),
		slog.Float64("completion_rate", app.CompletionRate))
	s.publish(ctx, app, app.History[len(app.History)-1])
	return app.Clone(), nil
}

var addDocumentStates = map[admitflow.Status]bool{
	admitflow.StatusPreValidation:    true,
	admitflow.StatusChangesRequested: true,
	admitflow.StatusPending:          true,
}

// AddDocument uploads one more document. Uploading bytes the application
// already holds returns the application unchanged. When Replaces is set the
// named document is dropped in the same update. Outside PRE_VALIDATION the
// upload is validated on the spot: hard failures are refused with
// *RejectedUploadError and soft reasons are recorded on the document.
func (s *Service) AddDocument(ctx context.Context, applicationID string, up Upload) (*admitflow.Application, error) {
	if err := validateRequest(up); err != nil {
		return nil, err
	}

	current, err := s.repo.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if err := checkCanAddDocument(current, up); err != nil {
		return nil, err
	}
	hash := store.HashBytes(up.Content)
	if _, exists := current.DocumentByHash(hash); exists {
		return current, nil
	}

	obj, err := s.documents.Store(ctx, up.Content, up.Name)
	if err != nil {
		return nil, err
	}
	in := &intake{objects: []store.Object{obj}}
	if err := s.claim(ctx, in, obj.Hash, applicationID); err != nil {
		s.discard(ctx, applicationID, in)
		return nil, err
	}

	doc := s.newDocument(applicationID, up, obj)
	screened := current.Status != admitflow.StatusPreValidation
	if screened {
		outcome, err := s.validator.Validate(ctx, &doc, up.Content, up.Kind)
		if err == nil && !outcome.Passed {
			err = &RejectedUploadError{Name: up.Name, Outcome: outcome}
		}
		if err != nil {
			s.discard(ctx, applicationID, in)
			s.logFailure(ctx, applicationID, "add_document", err)
			return nil, err
		}
		doc.Reasons = outcome.Strings()
		doc.OCRNotes = outcome.Summary()
	}

	var replaced admitflow.Document
	unchanged := false
	updated, err := s.repo.Update(ctx, applicationID, func(app *admitflow.Application) error {
		if err := checkCanAddDocument(app, up); err != nil {
			return err
		}
		if !screened && app.Status != admitflow.StatusPreValidation {
			// pre-validation already ran; this upload was never checked
			return &admitflow.ConcurrentModificationError{
				ApplicationID: applicationID,
				Expected:      current.Version,
				Actual:        app.Version,
			}
		}
		if _, exists := app.DocumentByHash(obj.Hash); exists {
			unchanged = true
			return nil
		}
		if up.Replaces != "" {
			for i, d := range app.Documents {
				if d.ID == up.Replaces {
					replaced = d
					app.Documents = append(app.Documents[:i], app.Documents[i+1:]...)
					break
				}
			}
		}
		app.Documents = append(app.Documents, doc)
		app.CompletionRate = s.completion.ScoreApplication(app)
		app.LastUpdated = s.clock.Now()
		return nil
	})
	if err != nil || unchanged {
		if unchanged {
			// a concurrent upload of the same bytes won; its claim stays
			in.claimed = nil
		}
		s.discard(ctx, applicationID, in)
		if err != nil {
			s.logFailure(ctx, applicationID, "add_document", err)
			return nil, err
		}
		return updated, nil
	}

	if replaced.ID != "" {
		released := &intake{objects: []store.Object{{Path: replaced.FilePath}}}
		if _, stillUsed := updated.DocumentByHash(replaced.ContentHash); !stillUsed {
			released.claimed = []string{replaced.ContentHash}
		}
		s.discard(ctx, applicationID, released)
	}

	s.logger.InfoContext(ctx, "document added",
		slog.String("application_id", applicationID),
		slog.String("kind", string(up.Kind)),
		slog.String("replaces", up.Replaces),
		slog.Float64("completion_rate", updated.CompletionRate))
	return updated, nil
}

func checkCanAddDocument(app *admitflow.Application, up Upload) error {
	if !addDocumentStates[app.Status] {
		return &admitflow.TransitionError{
			Code:   admitflow.ErrCodeTransitionNotAllowed,
			From:   app.Status,
			Event:  "add_document",
			Reason: "documents cannot be added in this state",
		}
	}
	if up.Replaces != "" {
		if _, ok := app.Document(up.Replaces); !ok {
			return admitflow.NewNotFoundError("document", up.Replaces)
		}
	}
	return nil
}

func dedupeSections(sections []admitflow.ProfileSection) []admitflow.ProfileSection {
	seen := make(map[admitflow.ProfileSection]bool, len(sections))
	var out []admitflow.ProfileSection
	for _, s := range sections {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

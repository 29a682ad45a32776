package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anggasct/admitflow"
	"github.com/anggasct/admitflow/pkg/assignment"
	"github.com/anggasct/admitflow/pkg/completion"
	"github.com/anggasct/admitflow/pkg/config"
	"github.com/anggasct/admitflow/pkg/identity"
	"github.com/anggasct/admitflow/pkg/notify"
	"github.com/anggasct/admitflow/pkg/repository"
	"github.com/anggasct/admitflow/pkg/store"
	"github.com/anggasct/admitflow/pkg/validation"
)

var testNow = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

var fakePDF = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")

type collector struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (c *collector) Enqueue(msg notify.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *collector) Messages() []notify.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notify.Message(nil), c.msgs...)
}

func (c *collector) Last() notify.Message {
	msgs := c.Messages()
	if len(msgs) == 0 {
		return notify.Message{}
	}
	return msgs[len(msgs)-1]
}

type harness struct {
	svc  *Service
	repo *repository.MemoryRepository
	docs *store.MemoryStore
	dir  *identity.StaticDirectory
	pub  *collector
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%d", n.Add(1)) }
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		repo: repository.NewMemoryRepository(),
		docs: store.NewMemoryStore(),
		dir:  identity.NewStaticDirectory(admitflow.Agent{ID: "agent-1", Name: "Ana", Reviewer: true}),
		pub:  &collector{},
	}
	h.dir.PutCandidate(admitflow.Candidate{ID: "cand-1", Name: "Budi", Email: "budi@example.com"})
	h.dir.PutCandidate(admitflow.Candidate{ID: "cand-2", Name: "Citra"})

	logger := quietLogger()
	base := []Option{
		WithLogger(logger),
		WithClock(admitflow.FixedClock(testNow)),
		WithIDGenerator(sequentialIDs()),
	}
	svc, err := New(Dependencies{
		Repository: h.repo,
		Documents:  h.docs,
		Validator:  validation.New(config.Static(config.DefaultValidation()), h.repo, validation.WithLogger(logger)),
		Assigner:   assignment.NewPolicy(h.dir, assignment.WithLogger(logger)),
		Directory:  h.dir,
		Publisher:  h.pub,
	}, append(base, opts...)...)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func pngBytes(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.Gray{Y: shade})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func pdfBytes(label string) []byte {
	return append(append([]byte(nil), fakePDF...), []byte("% "+label+"\n")...)
}

func fullProfile() []admitflow.ProfileSection {
	return admitflow.RequiredSections()
}

func validRequest(t *testing.T, candidateID string) SubmitRequest {
	return SubmitRequest{
		CandidateID:       candidateID,
		TargetInstitution: "Universitas Indonesia",
		Specialization:    "Informatics",
		ProfileSections:   fullProfile(),
		Documents: []Upload{
			{Name: "id-front.png", Kind: admitflow.KindIDCardFront, Content: pngBytes(t, 640, 400, 10)},
			{Name: "diploma.pdf", Kind: admitflow.KindDiploma, Content: pdfBytes(candidateID)},
		},
	}
}

func decision(actor string, reasons ...string) Decision {
	return Decision{Actor: actor, Reasons: reasons}
}

// inReview submits and pre-validates an application for cand-1
func inReview(t *testing.T, h *harness) *admitflow.Application {
	t.Helper()
	ctx := context.Background()
	app, err := h.svc.Submit(ctx, validRequest(t, "cand-1"))
	require.NoError(t, err)
	report, err := h.svc.PerformPreValidation(ctx, app.ID)
	require.NoError(t, err)
	require.Equal(t, admitflow.StatusManualReview, report.Status)
	got, err := h.svc.Get(ctx, app.ID)
	require.NoError(t, err)
	return got
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Dependencies{})
	assert.ErrorIs(t, err, admitflow.ErrInvalidConfiguration)
}

func TestSubmitAndPreValidate_HappyPath(t *testing.T) {
	h := newHarness(t, WithCompletion(completion.New(completion.Weights{
		SectionPoints:      10,
		DocumentPoints:     30,
		MaxScoredDocuments: 2,
	})))
	ctx := context.Background()

	app, err := h.svc.Submit(ctx, validRequest(t, "cand-1"))
	require.NoError(t, err)
	assert.Equal(t, admitflow.StatusPreValidation, app.Status)
	assert.Equal(t, 100.0, app.CompletionRate)
	assert.Equal(t, testNow, app.SubmissionDate)
	require.Len(t, app.Documents, 2)
	for _, d := range app.Documents {
		assert.Equal(t, admitflow.ValidationPending, d.ValidationStatus)
		assert.NotEmpty(t, d.ContentHash)
	}
	assert.Equal(t, 2, h.docs.Len())
	require.Len(t, h.pub.Messages(), 1)
	assert.Equal(t, "Application received", h.pub.Last().Title)

	report, err := h.svc.PerformPreValidation(ctx, app.ID)
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Equal(t, admitflow.StatusManualReview, report.Status)
	assert.Equal(t, "agent-1", report.Reviewer)
	assert.Empty(t, report.Reasons)
	assert.Len(t, report.Outcomes, 2)

	got, err := h.svc.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, admitflow.StatusManualReview, got.Status)
	assert.Equal(t, "agent-1", got.AssignedReviewer)
	assert.Equal(t, 100.0, got.CompletionRate)
	require.Len(t, got.History, 2)
	assert.Equal(t, admitflow.EventPreValidationPassed, got.History[1].Event)
	assert.Equal(t, SystemActor, got.History[1].Actor)

	msgs := h.pub.Messages()
	require.Len(t, msgs, 2)
	last := msgs[1]
	assert.Equal(t, "cand-1", last.RecipientID)
	assert.Equal(t, "Application in review", last.Title)
	assert.Equal(t, notify.SeverityInfo, last.Severity)
	assert.Equal(t, "budi@example.com", last.Email)
	assert.Contains(t, last.HTML, "Dear Budi")
}

func TestSubmit_DefaultWeights(t *testing.T) {
	h := newHarness(t)
	app, err := h.svc.Submit(context.Background(), validRequest(t, "cand-1"))
	require.NoError(t, err)
	assert.Equal(t, 70.0, app.CompletionRate)
}

func TestPreValidation_OversizedDocumentRejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := validRequest(t, "cand-1")
	req.Documents[1].Content = append(pdfBytes("big"), make([]byte, 6*1024*1024)...)
	app, err := h.svc.Submit(ctx, req)
	require.NoError(t, err)

	report, err := h.svc.PerformPreValidation(ctx, app.ID)
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.Equal(t, admitflow.StatusRejected, report.Status)
	assert.Equal(t, []string{string(validation.ReasonSizeExceeded)}, report.Reasons)

	got, err := h.svc.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, admitflow.StatusRejected, got.Status)
	assert.Empty(t, got.AssignedReviewer)

	diploma := got.Documents[1]
	assert.Equal(t, admitflow.ValidationRejected, diploma.ValidationStatus)
	assert.Contains(t, diploma.Reasons, string(validation.ReasonSizeExceeded))
	assert.Contains(t, diploma.OCRNotes, "SIZE_EXCEEDED")
	assert.Equal(t, admitflow.ValidationPending, got.Documents[0].ValidationStatus)

	last := got.History[len(got.History)-1]
	assert.Equal(t, admitflow.EventPreValidationFailed, last.Event)
	assert.Equal(t, []string{"SIZE_EXCEEDED"}, last.Reasons)

	assert.Equal(t, "Application rejected", h.pub.Last().Title)
	assert.Contains(t, h.pub.Last().Body, "SIZE_EXCEEDED")
}

func TestPreValidation_NoDocuments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := validRequest(t, "cand-1")
	req.Documents = nil

	app, err := h.svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 40.0, app.CompletionRate)

	report, err := h.svc.PerformPreValidation(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, admitflow.StatusRejected, report.Status)
	assert.Equal(t, []string{string(validation.ReasonMissingDocuments)}, report.Reasons)
}

func TestPreValidation_NoEligibleAgent(t *testing.T) {
	h := newHarness(t)
	h.dir.RemoveAgent("agent-1")
	h.dir.PutAgent(admitflow.Agent{ID: "agent-2", Reviewer: false})
	ctx := context.Background()

	app, err := h.svc.Submit(ctx, validRequest(t, "cand-1"))
	require.NoError(t, err)

	report, err := h.svc.PerformPreValidation(ctx, app.ID)
	assert.Nil(t, report)
	var noAgent *admitflow.NoEligibleAgentError
	require.ErrorAs(t, err, &noAgent)
	assert.Equal(t, app.ID, noAgent.ApplicationID)

	got, err := h.svc.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, admitflow.StatusPreValidation, got.Status)
	assert.Empty(t, got.AssignedReviewer)
	assert.Equal(t, admitflow.BlockedNoEligibleAgent, got.BlockedReason)
	require.NotNil(t, got.BlockedSince)
	assert.Equal(t, testNow, *got.BlockedSince)
	assert.Len(t, got.History, 1)
	assert.Len(t, h.pub.Messages(), 1, "only the submission acknowledgement")

	t.Run("block keeps the reason and unblock clears it", func(t *testing.T) {
		blocked, err := h.svc.Block(ctx, app.ID, "")
		require.NoError(t, err)
		assert.Equal(t, admitflow.StatusBlocked, blocked.Status)
		assert.Equal(t, admitflow.BlockedNoEligibleAgent, blocked.BlockedReason)
		assert.Equal(t, "Application on hold", h.pub.Last().Title)

		unblocked, err := h.svc.Unblock(ctx, app.ID, decision("admin-1"))
		require.NoError(t, err)
		assert.Equal(t, admitflow.StatusPreValidation, unblocked.Status)
		assert.Empty(t, unblocked.BlockedReason)
		assert.Nil(t, unblocked.BlockedSince)
	})

	t.Run("a reviewer joining unblocks the next run", func(t *testing.T) {
		h.dir.PutAgent(admitflow.Agent{ID: "agent-3", Reviewer: true})
		report, err := h.svc.PerformPreValidation(ctx, app.ID)
		require.NoError(t, err)
		assert.Equal(t, "agent-3", report.Reviewer)
	})
}

func TestPreValidation_MissingBlobLeavesStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	app, err := h.svc.Submit(ctx, validRequest(t, "cand-1"))
	require.NoError(t, err)
	require.NoError(t, h.docs.Delete(ctx, app.Documents[0].FilePath))

	_, err = h.svc.PerformPreValidation(ctx, app.ID)
	assert.ErrorIs(t, err, admitflow.ErrNotFound)

	got, err := h.svc.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, admitflow.StatusPreValidation, got.Status)
	assert.Equal(t, app.Version, got.Version)
}

func TestPreValidation_WrongStatus(t *testing.T) {
	h := newHarness(t)
	app := inReview(t, h)

	_, err := h.svc.PerformPreValidation(context.Background(), app.ID)
	var te *admitflow.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, admitflow.StatusManualReview, te.From)
}

func TestSubmit_StorageFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.docs.FailWrite = func(name string) error {
		if name == "diploma.pdf" {
			return errors.New("bucket unavailable")
		}
		return nil
	}
	ctx := context.Background()

	_, err := h.svc.Submit(ctx, validRequest(t, "cand-1"))
	require.ErrorIs(t, err, admitflow.ErrStorage)
	assert.Equal(t, 0, h.docs.Len())
	assert.Empty(t, h.pub.Messages())

	_, err = h.repo.FindActiveByCandidate(ctx, "cand-1")
	assert.ErrorIs(t, err, admitflow.ErrNotFound)

	h.docs.FailWrite = nil
	_, err = h.svc.Submit(ctx, validRequest(t, "cand-1"))
	assert.NoError(t, err, "claims from the failed attempt were released")
}

func TestSubmit_ActiveApplication(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Submit(ctx, validRequest(t, "cand-1"))
	require.NoError(t, err)
	_, err = h.svc.Submit(ctx, validRequest(t, "cand-1"))
	assert.ErrorIs(t, err, admitflow.ErrActiveApplication)
	assert.Equal(t, 2, h.docs.Len())
}

func TestSubmit_AfterTerminalStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	app := inReview(t, h)

	_, err := h.svc.Reject(ctx, app.ID, decision("admin-1", "incomplete transcript"))
	require.NoError(t, err)

	req := validRequest(t, "cand-1")
	req.Documents[1].Content = pdfBytes("second attempt")
	_, err = h.svc.Submit(ctx, req)
	assert.NoError(t, err)
}

func TestSubmit_InvalidRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
	}{
		{"missing candidate", func(r *SubmitRequest) { r.CandidateID = "" }},
		{"missing institution", func(r *SubmitRequest) { r.TargetInstitution = "" }},
		{"unknown section", func(r *SubmitRequest) { r.ProfileSections = append(r.ProfileSections, "hobbies") }},
		{"unknown kind", func(r *SubmitRequest) { r.Documents[0].Kind = "selfie" }},
		{"empty upload", func(r *SubmitRequest) { r.Documents[1].Content = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest(t, "cand-1")
			tt.mutate(&req)
			_, err := h.svc.Submit(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Equal(t, 0, h.docs.Len())
}

func TestSubmit_DuplicateContent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.Submit(ctx, validRequest(t, "cand-1"))
	require.NoError(t, err)

	t.Run("same bytes twice in one batch are stored once", func(t *testing.T) {
		req := validRequest(t, "cand-2")
		req.Documents = append(req.Documents, Upload{
			Name: "copy.pdf", Kind: admitflow.KindDiploma, Content: req.Documents[1].Content,
		})
		app, err := h.svc.Submit(ctx, req)
		require.NoError(t, err)
		assert.Len(t, app.Documents, 2)
		assert.Equal(t, 4, h.docs.Len())
	})

	t.Run("bytes owned by another application are flagged", func(t *testing.T) {
		h.dir.PutCandidate(admitflow.Candidate{ID: "cand-3"})
		req := validRequest(t, "cand-3")
		req.Documents[1].Content = pdfBytes("cand-1")
		app, err := h.svc.Submit(ctx, req)
		require.NoError(t, err)

		owner, found, err := h.repo.ContentOwner(ctx, app.Documents[1].ContentHash)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, first.ID, owner)

		report, err := h.svc.PerformPreValidation(ctx, app.ID)
		require.NoError(t, err)
		assert.Equal(t, admitflow.StatusManualReview, report.Status)

		got, err := h.svc.Get(ctx, app.ID)
		require.NoError(t, err)
		assert.Contains(t, got.Documents[1].Reasons, string(validation.ReasonDuplicateContent))
		assert.Equal(t, admitflow.ValidationPending, got.Documents[1].ValidationStatus)
	})
}

func TestExplicitTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("agent validation then final approval", func(t *testing.T) {
		h := newHarness(t)
		app := inReview(t, h)

		got, err := h.svc.ValidateByAgent(ctx, app.ID, decision("agent-1"))
		require.NoError(t, err)
		assert.Equal(t, admitflow.StatusAgentValidated, got.Status)

		got, err = h.svc.FinalApprove(ctx, app.ID, Decision{Actor: "admin-1", Comment: "welcome"})
		require.NoError(t, err)
		assert.Equal(t, admitflow.StatusApproved, got.Status)
		assert.Equal(t, "welcome", got.History[len(got.History)-1].Comment)
		assert.Equal(t, "Application approved", h.pub.Last().Title)
		assert.Equal(t, notify.SeveritySuccess, h.pub.Last().Severity)
	})

	t.Run("invalid transition leaves the application untouched", func(t *testing.T) {
		h := newHarness(t)
		app := inReview(t, h)
		sent := len(h.pub.Messages())

		_, err := h.svc.FinalApprove(ctx, app.ID, decision("admin-1"))
		var te *admitflow.TransitionError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, admitflow.ErrCodeTransitionNotAllowed, te.Code)
		assert.ErrorIs(t, err, admitflow.ErrInvalidTransition)

		got, err := h.svc.Get(ctx, app.ID)
		require.NoError(t, err)
		assert.Equal(t, admitflow.StatusManualReview, got.Status)
		assert.Equal(t, app.Version, got.Version)
		assert.Len(t, h.pub.Messages(), sent)
	})

	t.Run("decision without actor", func(t *testing.T) {
		h := newHarness(t)
		app := inReview(t, h)
		_, err := h.svc.ValidateByAgent(ctx, app.ID, Decision{})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("terminal status accepts nothing", func(t *testing.T) {
		h := newHarness(t)
		app := inReview(t, h)
		_, err := h.svc.Reject(ctx, app.ID, decision("admin-1", "fraud"))
		require.NoError(t, err)
		assert.Contains(t, h.pub.Last().Body, "fraud")

		_, err = h.svc.Unblock(ctx, app.ID, decision("admin-1"))
		assert.ErrorIs(t, err, admitflow.ErrInvalidTransition)
		_, err = h.svc.Block(ctx, app.ID, "")
		assert.ErrorIs(t, err, admitflow.ErrInvalidTransition)
	})

	t.Run("request changes and resubmit", func(t *testing.T) {
		h := newHarness(t)
		app := inReview(t, h)

		got, err := h.svc.RequestChanges(ctx, app.ID, decision("agent-1", "blurry photo"))
		require.NoError(t, err)
		assert.Equal(t, admitflow.StatusChangesRequested, got.Status)
		assert.Equal(t, []string{"blurry photo"}, got.History[len(got.History)-1].Reasons)
		assert.Equal(t, notify.SeverityWarning, h.pub.Last().Severity)

		got, err = h.svc.Resubmit(ctx, app.ID, decision("cand-1"))
		require.NoError(t, err)
		assert.Equal(t, admitflow.StatusPreValidation, got.Status)
		assert.Empty(t, got.AssignedReviewer)
		assert.Equal(t, "Application resubmitted", h.pub.Last().Title)

		report, err := h.svc.PerformPreValidation(ctx, app.ID)
		require.NoError(t, err)
		assert.Equal(t, admitflow.StatusManualReview, report.Status)
	})

	t.Run("block uses the given reason", func(t *testing.T) {
		h := newHarness(t)
		app, err := h.svc.Submit(ctx, validRequest(t, "cand-1"))
		require.NoError(t, err)

		got, err := h.svc.Block(ctx, app.ID, "")
		require.NoError(t, err)
		assert.Equal(t, admitflow.BlockedStalled, got.BlockedReason)

		h2 := newHarness(t)
		app2, err := h2.svc.Submit(ctx, validRequest(t, "cand-1"))
		require.NoError(t, err)
		got, err = h2.svc.Block(ctx, app2.ID, "MANUAL_HOLD")
		require.NoError(t, err)
		assert.Equal(t, "MANUAL_HOLD", got.BlockedReason)
	})
}

func TestDecideDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("reviewing then validating every document approves", func(t *testing.T) {
		h := newHarness(t)
		app := inReview(t, h)

		got, err := h.svc.DecideDocument(ctx, app.ID, app.Documents[0].ID, admitflow.ValidationValidated, "legible", "agent-1")
		require.NoError(t, err)
		assert.Equal(t, admitflow.StatusUnderReview, got.Status)
		assert.Equal(t, "legible", got.Documents[0].OCRNotes)

		got, err = h.svc.DecideDocument(ctx, app.ID, app.Documents[1].ID, admitflow.ValidationValidated, "", "agent-1")
		require.NoError(t, err)
		assert.Equal(t, admitflow.StatusApproved, got.Status)
		assert.Equal(t, admitflow.EventDocumentsValidated, got.History[len(got.History)-1].Event)
	})

	t.Run("rejection moves to pending and a replacement recovers", func(t *testing.T) {
		h := newHarness(t)
		app := inReview(t, h)
		photo, diploma := app.Documents[0], app.Documents[1]

		got, err := h.svc.DecideDocument(ctx, app.ID, photo.ID, admitflow.ValidationRejected, "cropped", "agent-1")
		require.NoError(t, err)
		assert.Equal(t, admitflow.StatusPending, got.Status)
		assert.Equal(t, "Document rejected", h.pub.Last().Title)

		got, err = h.svc.AddDocument(ctx, app.ID, Upload{
			Name:     "id-front-2.png",
			Kind:     admitflow.KindIDCardFront,
			Content:  pngBytes(t, 640, 400, 200),
			Replaces: photo.ID,
		})
		require.NoError(t, err)
		require.Len(t, got.Documents, 2)
		_, stillThere := got.Document(photo.ID)
		assert.False(t, stillThere)
		_, err = h.docs.Read(ctx, photo.FilePath)
		assert.ErrorIs(t, err, admitflow.ErrNotFound)
		_, found, err := h.repo.ContentOwner(ctx, photo.ContentHash)
		require.NoError(t, err)
		assert.False(t, found)

		sent := len(h.pub.Messages())
		got, err = h.svc.DecideDocument(ctx, app.ID, diploma.ID, admitflow.ValidationValidated, "", "agent-1")
		require.NoError(t, err)
		assert.Equal(t, admitflow.StatusPending, got.Status, "a pending document keeps the case open")
		assert.Len(t, h.pub.Messages(), sent, "recorded without a status change")

		replacement := got.Documents[1]
		got, err = h.svc.DecideDocument(ctx, app.ID, replacement.ID, admitflow.ValidationValidated, "", "agent-1")
		require.NoError(t, err)
		assert.Equal(t, admitflow.StatusApproved, got.Status)
	})

	t.Run("agent-validated waits for final approval", func(t *testing.T) {
		h := newHarness(t)
		app := inReview(t, h)
		_, err := h.svc.ValidateByAgent(ctx, app.ID, decision("agent-1"))
		require.NoError(t, err)

		for _, d := range app.Documents {
			got, err := h.svc.DecideDocument(ctx, app.ID, d.ID, admitflow.ValidationValidated, "", "agent-1")
			require.NoError(t, err)
			assert.Equal(t, admitflow.StatusAgentValidated, got.Status)
		}

		got, err := h.svc.FinalApprove(ctx, app.ID, decision("admin-1"))
		require.NoError(t, err)
		assert.Equal(t, admitflow.StatusApproved, got.Status)

		_, err = h.svc.DecideDocument(ctx, app.ID, app.Documents[0].ID, admitflow.ValidationRejected, "", "agent-1")
		assert.ErrorIs(t, err, admitflow.ErrInvalidTransition)
		after, err := h.svc.Get(ctx, app.ID)
		require.NoError(t, err)
		assert.Equal(t, admitflow.ValidationValidated, after.Documents[0].ValidationStatus)
	})

	t.Run("bad input", func(t *testing.T) {
		h := newHarness(t)
		app := inReview(t, h)

		_, err := h.svc.DecideDocument(ctx, app.ID, app.Documents[0].ID, admitflow.ValidationPending, "", "agent-1")
		assert.ErrorIs(t, err, ErrInvalidRequest)
		_, err = h.svc.DecideDocument(ctx, app.ID, app.Documents[0].ID, admitflow.ValidationValidated, "", " ")
		assert.ErrorIs(t, err, ErrInvalidRequest)
		_, err = h.svc.DecideDocument(ctx, app.ID, "missing", admitflow.ValidationValidated, "", "agent-1")
		assert.ErrorIs(t, err, admitflow.ErrNotFound)
	})
}

func TestAddDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("same bytes are idempotent", func(t *testing.T) {
		h := newHarness(t)
		app, err := h.svc.Submit(ctx, validRequest(t, "cand-1"))
		require.NoError(t, err)

		got, err := h.svc.AddDocument(ctx, app.ID, Upload{
			Name: "again.png", Kind: admitflow.KindIDCardFront, Content: pngBytes(t, 640, 400, 10),
		})
		require.NoError(t, err)
		assert.Len(t, got.Documents, 2)
		assert.Equal(t, app.Version, got.Version)
		assert.Equal(t, 2, h.docs.Len())
	})

	t.Run("new document updates completion", func(t *testing.T) {
		h := newHarness(t)
		app, err := h.svc.Submit(ctx, validRequest(t, "cand-1"))
		require.NoError(t, err)

		got, err := h.svc.AddDocument(ctx, app.ID, Upload{
			Name: "transcript.pdf", Kind: admitflow.KindTranscript, Content: pdfBytes("transcript"),
		})
		require.NoError(t, err)
		assert.Len(t, got.Documents, 3)
		assert.Equal(t, 85.0, got.CompletionRate)
		assert.Equal(t, ".pdf", got.Documents[2].FileType)
	})

	t.Run("refused while in review", func(t *testing.T) {
		h := newHarness(t)
		app := inReview(t, h)
		_, err := h.svc.AddDocument(ctx, app.ID, Upload{
			Name: "late.pdf", Kind: admitflow.KindCertificate, Content: pdfBytes("late"),
		})
		assert.ErrorIs(t, err, admitflow.ErrInvalidTransition)
		assert.Equal(t, 2, h.docs.Len())
	})

	t.Run("unknown replacement target", func(t *testing.T) {
		h := newHarness(t)
		app, err := h.svc.Submit(ctx, validRequest(t, "cand-1"))
		require.NoError(t, err)
		_, err = h.svc.AddDocument(ctx, app.ID, Upload{
			Name: "x.pdf", Kind: admitflow.KindCertificate, Content: pdfBytes("x"), Replaces: "nope",
		})
		assert.ErrorIs(t, err, admitflow.ErrNotFound)
	})
}

func TestAggregateEvent(t *testing.T) {
	doc := func(s admitflow.ValidationStatus) admitflow.Document {
		return admitflow.Document{ValidationStatus: s}
	}
	tests := []struct {
		name string
		docs []admitflow.Document
		want string
	}{
		{"none", nil, admitflow.EventDocumentReviewed},
		{"all validated", []admitflow.Document{doc(admitflow.ValidationValidated), doc(admitflow.ValidationValidated)}, admitflow.EventDocumentsValidated},
		{"some pending", []admitflow.Document{doc(admitflow.ValidationValidated), doc(admitflow.ValidationPending)}, admitflow.EventDocumentReviewed},
		{"any rejected", []admitflow.Document{doc(admitflow.ValidationValidated), doc(admitflow.ValidationRejected)}, admitflow.EventDocumentRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AggregateEvent(tt.docs))
		})
	}
}

func TestConcurrentDecisions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	app := inReview(t, h)

	var wg sync.WaitGroup
	for _, d := range app.Documents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.DecideDocument(ctx, app.ID, d.ID, admitflow.ValidationValidated, "", "agent-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := h.svc.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, admitflow.StatusApproved, got.Status)
	assert.Equal(t, app.Version+2, got.Version)
}

func TestPreValidatePending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.Submit(ctx, validRequest(t, "cand-1"))
	require.NoError(t, err)
	second, err := h.svc.Submit(ctx, validRequest(t, "cand-2"))
	require.NoError(t, err)

	moved, err := h.svc.PreValidatePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	for _, id := range []string{first.ID, second.ID} {
		got, err := h.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, admitflow.StatusManualReview, got.Status)
	}

	moved, err = h.svc.PreValidatePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)
}

func TestPreValidatePending_WaitsForReviewers(t *testing.T) {
	h := newHarness(t)
	h.dir.RemoveAgent("agent-1")
	ctx := context.Background()

	app, err := h.svc.Submit(ctx, validRequest(t, "cand-1"))
	require.NoError(t, err)

	moved, err := h.svc.PreValidatePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)

	got, err := h.svc.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, admitflow.StatusPreValidation, got.Status)
	assert.Equal(t, admitflow.BlockedNoEligibleAgent, got.BlockedReason)
}

func TestAddDocument_AfterPreValidation(t *testing.T) {
	ctx := context.Background()

	// pending reports an application for cand-1 whose diploma was rejected by
	// the reviewer, plus the application of cand-2 submitted before it
	pending := func(t *testing.T, h *harness) (app, other *admitflow.Application) {
		t.Helper()
		other, err := h.svc.Submit(ctx, validRequest(t, "cand-2"))
		require.NoError(t, err)
		app = inReview(t, h)
		got, err := h.svc.DecideDocument(ctx, app.ID, app.Documents[1].ID, admitflow.ValidationRejected, "blurry", "agent-1")
		require.NoError(t, err)
		require.Equal(t, admitflow.StatusPending, got.Status)
		return got, other
	}

	t.Run("replacement with another application's bytes is flagged", func(t *testing.T) {
		h := newHarness(t)
		app, other := pending(t, h)

		got, err := h.svc.AddDocument(ctx, app.ID, Upload{
			Name:     "diploma.pdf",
			Kind:     admitflow.KindDiploma,
			Content:  pdfBytes("cand-2"),
			Replaces: app.Documents[1].ID,
		})
		require.NoError(t, err)
		require.Len(t, got.Documents, 2)

		replacement := got.Documents[1]
		assert.Equal(t, admitflow.ValidationPending, replacement.ValidationStatus)
		assert.Contains(t, replacement.Reasons, string(validation.ReasonDuplicateContent))
		assert.Contains(t, replacement.OCRNotes, other.ID)

		owner, found, err := h.repo.ContentOwner(ctx, replacement.ContentHash)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, other.ID, owner)
	})

	t.Run("hard failures are refused and nothing is kept", func(t *testing.T) {
		tests := []struct {
			name   string
			upload Upload
			reason validation.Reason
		}{
			{"oversized", Upload{
				Name: "diploma.pdf", Kind: admitflow.KindDiploma,
				Content: append(pdfBytes("big"), make([]byte, 6*1024*1024)...),
			}, validation.ReasonSizeExceeded},
			{"wrong format", Upload{
				Name: "diploma.exe", Kind: admitflow.KindDiploma,
				Content: []byte("MZ\x90\x00 not a diploma"),
			}, validation.ReasonInvalidFormat},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				h := newHarness(t)
				app, _ := pending(t, h)
				stored := h.docs.Len()

				up := tt.upload
				up.Replaces = app.Documents[1].ID
				_, err := h.svc.AddDocument(ctx, app.ID, up)
				assert.ErrorIs(t, err, ErrInvalidRequest)
				var rejected *RejectedUploadError
				require.ErrorAs(t, err, &rejected)
				assert.True(t, rejected.Outcome.Has(tt.reason))

				got, err := h.svc.Get(ctx, app.ID)
				require.NoError(t, err)
				assert.Equal(t, app.Version, got.Version)
				assert.Equal(t, app.Documents, got.Documents)
				assert.Equal(t, stored, h.docs.Len())
			})
		}
	})
}

// interleavedValidator runs hook during the first Validate call
type interleavedValidator struct {
	DocumentValidator
	fired atomic.Bool
	hook  func()
}

func (v *interleavedValidator) Validate(ctx context.Context, doc *admitflow.Document, raw []byte, kind admitflow.DocumentKind) (validation.Outcome, error) {
	if v.fired.CompareAndSwap(false, true) {
		v.hook()
	}
	return v.DocumentValidator.Validate(ctx, doc, raw, kind)
}

func TestPreValidation_DocumentAddedDuringRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	app, err := h.svc.Submit(ctx, validRequest(t, "cand-1"))
	require.NoError(t, err)

	var addErr error
	h.svc.validator = &interleavedValidator{
		DocumentValidator: h.svc.validator,
		hook: func() {
			_, addErr = h.svc.AddDocument(ctx, app.ID, Upload{
				Name: "setup.exe", Kind: admitflow.KindDiploma, Content: []byte("MZ\x90\x00 not a diploma"),
			})
		},
	}

	report, err := h.svc.PerformPreValidation(ctx, app.ID)
	require.NoError(t, addErr)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, admitflow.ErrConcurrentModification)

	got, err := h.svc.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, admitflow.StatusPreValidation, got.Status)
	assert.Empty(t, got.AssignedReviewer)
	require.Len(t, got.Documents, 3)
	for _, d := range got.Documents {
		assert.Empty(t, d.Reasons)
	}

	moved, err := h.svc.PreValidatePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	got, err = h.svc.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, admitflow.StatusRejected, got.Status)
	assert.Equal(t, []string{string(validation.ReasonInvalidFormat)}, got.History[len(got.History)-1].Reasons)
	assert.Equal(t, admitflow.ValidationRejected, got.Documents[2].ValidationStatus)
}

// rollbackRepository applies every update to a copy and then fails the commit
type rollbackRepository struct {
	*repository.MemoryRepository
}

func (r rollbackRepository) Update(ctx context.Context, id string, mutate repository.MutateFunc) (*admitflow.Application, error) {
	app, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(app); err != nil {
		return nil, err
	}
	return nil, admitflow.NewStorageError("update application", id, errors.New("connection reset"))
}

func TestObserversSeeCommittedTransitionsOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	app := inReview(t, h)

	obs := admitflow.NewTestObserver()
	h.svc.machine.AddObserver(obs)

	h.svc.repo = rollbackRepository{h.repo}
	_, err := h.svc.ValidateByAgent(ctx, app.ID, decision("agent-1"))
	assert.ErrorIs(t, err, admitflow.ErrStorage)
	_, err = h.svc.DecideDocument(ctx, app.ID, app.Documents[0].ID, admitflow.ValidationRejected, "", "agent-1")
	assert.ErrorIs(t, err, admitflow.ErrStorage)
	assert.Zero(t, obs.TransitionCount())

	h.svc.repo = h.repo
	_, err = h.svc.ValidateByAgent(ctx, app.ID, decision("agent-1"))
	require.NoError(t, err)
	require.Equal(t, 1, obs.TransitionCount())
	last := obs.LastTransition()
	assert.Equal(t, app.ID, last.ApplicationID)
	assert.Equal(t, admitflow.StatusManualReview, last.From)
	assert.Equal(t, admitflow.StatusAgentValidated, last.To)
}

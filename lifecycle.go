package admitflow

import "errors"

// BlockedNoEligibleAgent is the BlockedReason recorded when pre-validation
// passed but nobody could be assigned
const BlockedNoEligibleAgent = "NO_ELIGIBLE_AGENT"

// BlockedStalled is the default BlockedReason used by the block event
const BlockedStalled = "STALLED"

var errMissingReviewer = errors.New("prevalidation_passed requires a reviewer id")

// Lifecycle builds the application status lifecycle.
//
// Document-driven events (document_reviewed, documents_validated,
// document_rejected) and explicit agent or admin events share this graph, so
// the precedence between them is encoded in which edges exist: terminal
// states accept nothing, and AGENT_VALIDATED only reaches APPROVED through
// final_approve.
func Lifecycle() *Definition {
	return NewMachine("application").
		State(StatusPreValidation).Initial().
		OnEntry(clearReview).
		To(StatusManualReview).On(EventPreValidationPassed).
		WhenNamed("reviewer_assigned", hasReviewer).
		Do(assignReviewer).
		To(StatusRejected).On(EventPreValidationFailed).
		To(StatusPending).On(EventDocumentRejected).
		WhenNamed("any_document_rejected", anyDocumentRejected).
		To(StatusBlocked).On(EventBlock).Do(markBlocked).
		State(StatusManualReview).
		To(StatusAgentValidated).On(EventAgentValidate).
		To(StatusChangesRequested).On(EventRequestChanges).
		To(StatusRejected).On(EventAdminReject).
		To(StatusUnderReview).On(EventDocumentReviewed).
		To(StatusApproved).On(EventDocumentsValidated).
		WhenNamed("all_documents_validated", allDocumentsValidated).
		To(StatusPending).On(EventDocumentRejected).
		WhenNamed("any_document_rejected", anyDocumentRejected).
		State(StatusUnderReview).
		To(StatusRejected).On(EventAdminReject).
		To(StatusApproved).On(EventDocumentsValidated).
		WhenNamed("all_documents_validated", allDocumentsValidated).
		To(StatusPending).On(EventDocumentRejected).
		WhenNamed("any_document_rejected", anyDocumentRejected).
		State(StatusAgentValidated).
		To(StatusApproved).On(EventFinalApprove).
		To(StatusRejected).On(EventAdminReject).
		To(StatusPending).On(EventDocumentRejected).
		WhenNamed("any_document_rejected", anyDocumentRejected).
		State(StatusChangesRequested).
		To(StatusPreValidation).On(EventResubmit).
		To(StatusPending).On(EventDocumentRejected).
		WhenNamed("any_document_rejected", anyDocumentRejected).
		State(StatusPending).
		To(StatusApproved).On(EventDocumentsValidated).
		WhenNamed("all_documents_validated", allDocumentsValidated).
		State(StatusBlocked).
		To(StatusPreValidation).On(EventUnblock).
		To(StatusPending).On(EventDocumentRejected).
		WhenNamed("any_document_rejected", anyDocumentRejected).
		State(StatusApproved).Final().
		State(StatusRejected).Final().
		Build()
}

// ReviewerFromEvent extracts the reviewer id carried by a prevalidation_passed event
func ReviewerFromEvent(event *Event) string {
	if event == nil {
		return ""
	}
	id, _ := event.Data.(string)
	return id
}

func hasReviewer(ctx *Context) bool {
	return ReviewerFromEvent(ctx.Event()) != ""
}

func assignReviewer(ctx *Context) error {
	reviewer := ReviewerFromEvent(ctx.Event())
	if reviewer == "" {
		return errMissingReviewer
	}
	app := ctx.Application()
	app.AssignedReviewer = reviewer
	app.ClearBlock()
	return nil
}

// clearReview resets reviewer and blocked flags whenever a case re-enters
// pre-validation
func clearReview(ctx *Context) error {
	app := ctx.Application()
	app.AssignedReviewer = ""
	app.ClearBlock()
	return nil
}

func markBlocked(ctx *Context) error {
	app := ctx.Application()
	if app.BlockedReason == "" {
		app.BlockedReason = BlockedStalled
		if event := ctx.Event(); event != nil && len(event.Reasons) > 0 {
			app.BlockedReason = event.Reasons[0]
		}
	}
	if app.BlockedSince == nil {
		now := ctx.Now()
		app.BlockedSince = &now
	}
	return nil
}

func allDocumentsValidated(ctx *Context) bool {
	docs := ctx.Application().Documents
	if len(docs) == 0 {
		return false
	}
	for _, d := range docs {
		if d.ValidationStatus != ValidationValidated {
			return false
		}
	}
	return true
}

func anyDocumentRejected(ctx *Context) bool {
	for _, d := range ctx.Application().Documents {
		if d.ValidationStatus == ValidationRejected {
			return true
		}
	}
	return false
}

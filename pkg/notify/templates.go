package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anggasct/admitflow"
)

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif">
<p>Dear {{.Name}},</p>
<p>{{.Headline}}</p>
{{- if .Reasons}}
<ul>
{{- range .Reasons}}
<li>{{.}}</li>
{{- end}}
</ul>
{{- end}}
{{- if .Comment}}
<p><em>{{.Comment}}</em></p>
{{- end}}
<p>Application: {{.ApplicationID}}<br>Status: {{.Status}}</p>
</body>
</html>
`))

type emailData struct {
	Name          string
	Headline      string
	Reasons       []string
	Comment       string
	ApplicationID string
	Status        admitflow.Status
}

type statusCopy struct {
	title    string
	headline string
	severity Severity
}

var copyByStatus = map[admitflow.Status]statusCopy{
	admitflow.StatusPreValidation:    {"Application received", "We received your application and will check your documents shortly.", SeverityInfo},
	admitflow.StatusManualReview:     {"Application in review", "Your documents passed our automated checks and a reviewer has been assigned.", SeverityInfo},
	admitflow.StatusUnderReview:      {"Documents under review", "A reviewer has started deciding on your documents.", SeverityInfo},
	admitflow.StatusAgentValidated:   {"Application validated", "Your reviewer validated your application. A final decision follows.", SeverityInfo},
	admitflow.StatusChangesRequested: {"Changes requested", "Your reviewer asked for changes. Please update your application and resubmit.", SeverityWarning},
	admitflow.StatusPending:          {"Document rejected", "One or more documents were rejected. Please upload corrected versions.", SeverityWarning},
	admitflow.StatusApproved:         {"Application approved", "Congratulations, your application has been approved.", SeveritySuccess},
	admitflow.StatusRejected:         {"Application rejected", "We are sorry, your application has been rejected.", SeverityError},
	admitflow.StatusBlocked:          {"Application on hold", "Your application is on hold while our team looks into it.", SeverityWarning},
}

// Compose builds the message sent after change was committed on app
func Compose(app *admitflow.Application, change admitflow.StatusChange, candidate admitflow.Candidate) (Message, error) {
	c, ok := copyByStatus[change.To]
	if !ok {
		return Message{}, fmt.Errorf("no notification copy for status %s", change.To)
	}
	if change.To == admitflow.StatusPreValidation && change.From != "" {
		c.title = "Application resubmitted"
		c.headline = "Your application is back in our automated checks."
	}

	body := c.headline
	if len(change.Reasons) > 0 {
		body += " Reasons: " + strings.Join(change.Reasons, ", ") + "."
	}

	msg := Message{
		ID:            uuid.NewString(),
		ApplicationID: app.ID,
		RecipientID:   app.CandidateID,
		Email:         candidate.Email,
		Title:         c.title,
		Body:          body,
		Severity:      c.severity,
		CreatedAt:     change.At,
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	if candidate.Email != "" {
		name := strings.TrimSpace(candidate.Name)
		if name == "" {
			name = "candidate"
		}
		var buf bytes.Buffer
		err := emailTemplate.Execute(&buf, emailData{
			Name:          name,
			Headline:      c.headline,
			Reasons:       change.Reasons,
			Comment:       change.Comment,
			ApplicationID: app.ID,
			Status:        change.To,
		})
		if err != nil {
			return Message{}, fmt.Errorf("render email: %w", err)
		}
		msg.HTML = buf.String()
	}
	return msg, nil
}

package observers

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anggasct/admitflow"
)

type steppingClock struct {
	now time.Time
}

func (c *steppingClock) Now() time.Time { return c.now }

func (c *steppingClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newApplication() *admitflow.Application {
	return &admitflow.Application{ID: "app-1", CandidateID: "cand-1"}
}

func TestMetricsObserver(t *testing.T) {
	clock := &steppingClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	def := admitflow.Lifecycle()
	def.SetClock(clock)
	metrics := NewMetricsObserver()
	def.AddObserver(metrics)

	ctx := context.Background()
	app := newApplication()
	require.NoError(t, def.Start(ctx, app, nil).Error)

	clock.advance(2 * time.Hour)
	require.NoError(t, def.Fire(ctx, app, admitflow.NewEvent(admitflow.EventPreValidationPassed).WithData("agent-1")).Error)

	// no edge from MANUAL_REVIEW
	assert.Error(t, def.Fire(ctx, app, admitflow.NewEvent(admitflow.EventFinalApprove)).Error)

	clock.advance(30 * time.Minute)
	require.NoError(t, def.Fire(ctx, app, admitflow.NewEvent(admitflow.EventAgentValidate)).Error)

	assert.Equal(t, map[string]int{
		"START->PRE_VALIDATION":          1,
		"PRE_VALIDATION->MANUAL_REVIEW":  1,
		"MANUAL_REVIEW->AGENT_VALIDATED": 1,
	}, metrics.GetTransitionCounts())
	assert.Equal(t, 1, metrics.GetRejectionCounts()[admitflow.EventFinalApprove])
	assert.Equal(t, 1, metrics.GetEventCounts()[admitflow.EventAgentValidate])
	assert.Equal(t, 1, metrics.GetStatusEntryCounts()[admitflow.StatusManualReview])

	spent := metrics.GetStatusTimeSpent()
	assert.Equal(t, 2*time.Hour, spent[admitflow.StatusPreValidation])
	assert.Equal(t, 30*time.Minute, spent[admitflow.StatusManualReview])

	var out bytes.Buffer
	require.NoError(t, metrics.WritePrometheus(&out))
	text := out.String()
	assert.Contains(t, text, `admitflow_transitions_total{from="PRE_VALIDATION",to="MANUAL_REVIEW"} 1`)
	assert.Contains(t, text, `admitflow_events_rejected_total{event="final_approve"} 1`)
	assert.Contains(t, text, `admitflow_status_seconds_total{status="PRE_VALIDATION"} 7200`)
	assert.Contains(t, text, "admitflow_action_errors_total 0")

	metrics.Reset()
	assert.Empty(t, metrics.GetTransitionCounts())
	assert.Zero(t, metrics.GetErrorCount())
}

func TestMetricsObserver_GuardRefusalCountsAsRejection(t *testing.T) {
	def := admitflow.Lifecycle()
	metrics := NewMetricsObserver()
	def.AddObserver(metrics)

	app := newApplication()
	app.Status = admitflow.StatusPreValidation
	// the guard needs a reviewer id, so this is refused rather than failing
	result := def.Fire(context.Background(), app, admitflow.NewEvent(admitflow.EventPreValidationPassed))
	require.Error(t, result.Error)
	assert.Equal(t, 1, metrics.GetRejectionCounts()[admitflow.EventPreValidationPassed])
	assert.Zero(t, metrics.GetErrorCount())
}

func TestLoggingObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	def := admitflow.Lifecycle()
	obs := NewLoggingObserver(logger, LogInfo, "review")
	def.AddObserver(obs)

	ctx := context.Background()
	app := newApplication()
	app.Status = admitflow.StatusManualReview
	require.NoError(t, def.Fire(ctx, app, admitflow.NewEvent(admitflow.EventAgentValidate).WithActor("agent-1")).Error)
	require.Error(t, def.Fire(ctx, app, admitflow.NewEvent(admitflow.EventResubmit)).Error)

	out := buf.String()
	assert.Contains(t, out, "[review] Transition: MANUAL_REVIEW -> AGENT_VALIDATED on event: agent_validate")
	assert.Contains(t, out, "application_id=app-1")
	assert.Contains(t, out, "actor=agent-1")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "Event rejected")
	assert.NotContains(t, out, "Guard", "guard evaluations are debug only")

	t.Run("level filters", func(t *testing.T) {
		buf.Reset()
		obs.SetLevel(LogError)
		require.NoError(t, def.Fire(ctx, app, admitflow.NewEvent(admitflow.EventFinalApprove)).Error)
		assert.Empty(t, buf.String())
	})

	t.Run("custom formatter", func(t *testing.T) {
		buf.Reset()
		obs.SetLevel(LogInfo)
		obs.SetFormatter(func(level LogLevel, format string, args ...any) string {
			return "custom"
		})
		other := newApplication()
		other.Status = admitflow.StatusManualReview
		require.NoError(t, def.Fire(ctx, other, admitflow.NewEvent(admitflow.EventAdminReject)).Error)
		assert.True(t, strings.Contains(buf.String(), "[review] custom"))
	})
}

func TestNewDefaultLoggingObserver(t *testing.T) {
	obs := NewDefaultLoggingObserver()
	assert.Equal(t, LogInfo, obs.level)
	assert.Equal(t, "admitflow", obs.prefix)
}

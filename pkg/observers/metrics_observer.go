package observers

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anggasct/admitflow"
)

// MetricsObserver counts lifecycle activity across all applications
type MetricsObserver struct {
	statusEntries    map[admitflow.Status]int
	statusTimeSpent  map[admitflow.Status]time.Duration
	eventCounts      map[string]int
	transitionCounts map[string]int
	rejectionCounts  map[string]int
	errorCount       int
	mutex            sync.RWMutex
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	o := &MetricsObserver{}
	o.Reset()
	return o
}

// OnTransition records the transition and how long the application sat in
// the status it left, measured from its audit trail
func (o *MetricsObserver) OnTransition(from, to admitflow.Status, event *admitflow.Event, ctx *admitflow.Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.statusEntries[to]++
	o.eventCounts[event.Name]++
	o.transitionCounts[transitionKey(from, to)]++

	if ctx == nil || ctx.Application() == nil {
		return
	}
	history := ctx.Application().History
	if n := len(history); n >= 2 {
		if spent := history[n-1].At.Sub(history[n-2].At); spent > 0 {
			o.statusTimeSpent[from] += spent
		}
	}
}

// OnGuardEvaluation is a no-op
func (o *MetricsObserver) OnGuardEvaluation(from, to admitflow.Status, event *admitflow.Event, result bool, ctx *admitflow.Context) {
}

// OnEventRejected counts refused events by name
func (o *MetricsObserver) OnEventRejected(event *admitflow.Event, reason string, ctx *admitflow.Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.rejectionCounts[event.Name]++
}

// OnError counts action failures
func (o *MetricsObserver) OnError(err error, ctx *admitflow.Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.errorCount++
}

// OnActionExecution is a no-op
func (o *MetricsObserver) OnActionExecution(from, to admitflow.Status, event *admitflow.Event, ctx *admitflow.Context) {
}

func transitionKey(from, to admitflow.Status) string {
	if from == "" {
		from = "START"
	}
	return string(from) + "->" + string(to)
}

// GetStatusEntryCounts returns how many times each status was entered
func (o *MetricsObserver) GetStatusEntryCounts() map[admitflow.Status]int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	result := make(map[admitflow.Status]int, len(o.statusEntries))
	for status, count := range o.statusEntries {
		result[status] = count
	}
	return result
}

// GetStatusTimeSpent returns the accumulated dwell time per status
func (o *MetricsObserver) GetStatusTimeSpent() map[admitflow.Status]time.Duration {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	result := make(map[admitflow.Status]time.Duration, len(o.statusTimeSpent))
	for status, d := range o.statusTimeSpent {
		result[status] = d
	}
	return result
}

// GetEventCounts returns the number of times each event was applied
func (o *MetricsObserver) GetEventCounts() map[string]int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return copyCounts(o.eventCounts)
}

// GetTransitionCounts returns counts keyed "FROM->TO"
func (o *MetricsObserver) GetTransitionCounts() map[string]int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return copyCounts(o.transitionCounts)
}

// GetRejectionCounts returns refused events by name
func (o *MetricsObserver) GetRejectionCounts() map[string]int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return copyCounts(o.rejectionCounts)
}

// GetErrorCount returns the number of errors
func (o *MetricsObserver) GetErrorCount() int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return o.errorCount
}

// Reset resets all metrics
func (o *MetricsObserver) Reset() {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.statusEntries = make(map[admitflow.Status]int)
	o.statusTimeSpent = make(map[admitflow.Status]time.Duration)
	o.eventCounts = make(map[string]int)
	o.transitionCounts = make(map[string]int)
	o.rejectionCounts = make(map[string]int)
	o.errorCount = 0
}

// WritePrometheus writes the counters in the Prometheus text format
func (o *MetricsObserver) WritePrometheus(w io.Writer) error {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	ew := &errWriter{w: w}
	ew.printf("# TYPE admitflow_transitions_total counter\n")
	for _, key := range sortedKeys(o.transitionCounts) {
		from, to, _ := strings.Cut(key, "->")
		ew.printf("admitflow_transitions_total{from=%q,to=%q} %d\n", from, to, o.transitionCounts[key])
	}
	ew.printf("# TYPE admitflow_events_rejected_total counter\n")
	for _, key := range sortedKeys(o.rejectionCounts) {
		ew.printf("admitflow_events_rejected_total{event=%q} %d\n", key, o.rejectionCounts[key])
	}
	ew.printf("# TYPE admitflow_status_seconds_total counter\n")
	statuses := make([]string, 0, len(o.statusTimeSpent))
	for status := range o.statusTimeSpent {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		ew.printf("admitflow_status_seconds_total{status=%q} %g\n", status,
			o.statusTimeSpent[admitflow.Status(status)].Seconds())
	}
	ew.printf("# TYPE admitflow_action_errors_total counter\n")
	ew.printf("admitflow_action_errors_total %d\n", o.errorCount)
	return ew.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyCounts(m map[string]int) map[string]int {
	result := make(map[string]int, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

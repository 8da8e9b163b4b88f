package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	jobsSubmittedTotal  atomic.Uint64
	jobsStartedTotal    atomic.Uint64
	jobsCompletedTotal  atomic.Uint64
	jobsFailedTotal     atomic.Uint64
	jobsCancelledTotal  atomic.Uint64
	jobRetriesTotal     atomic.Uint64
	agentToolCallsTotal atomic.Uint64

	workerMessagesReceivedTotal  atomic.Uint64
	workerMessagesDiscardedTotal atomic.Uint64

	httpPanicsTotal      atomic.Uint64
	httpRateLimitedTotal atomic.Uint64

	jobDuration = newHistogram([]float64{1000, 5000, 15000, 30000, 60000, 120000, 300000, 600000, 1800000})
)

// AddJobsSubmitted adds n accepted submissions.
func AddJobsSubmitted(n int) {
	if n > 0 {
		jobsSubmittedTotal.Add(uint64(n))
	}
}

// IncJobsStarted increments the started counter.
func IncJobsStarted() {
	jobsStartedTotal.Add(1)
}

// IncJobsCompleted increments the completed counter.
func IncJobsCompleted() {
	jobsCompletedTotal.Add(1)
}

// IncJobsFailed increments the failed counter.
func IncJobsFailed() {
	jobsFailedTotal.Add(1)
}

// IncJobsCancelled increments the cancelled counter.
func IncJobsCancelled() {
	jobsCancelledTotal.Add(1)
}

// IncJobRetries counts whole-run retries.
func IncJobRetries() {
	jobRetriesTotal.Add(1)
}

// IncAgentToolCalls counts tool invocations requested by the model.
func IncAgentToolCalls() {
	agentToolCallsTotal.Add(1)
}

func IncWorkerMessagesReceived() {
	workerMessagesReceivedTotal.Add(1)
}

// IncWorkerMessagesDiscarded counts messages acknowledged without running.
func IncWorkerMessagesDiscarded() {
	workerMessagesDiscardedTotal.Add(1)
}

// IncHTTPPanics counts handler panics recovered by the router.
func IncHTTPPanics() {
	httpPanicsTotal.Add(1)
}

func IncHTTPRateLimited() {
	httpRateLimitedTotal.Add(1)
}

// ObserveJobDurationMs records a job duration in milliseconds.
func ObserveJobDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	jobDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "jobs_submitted_total", "Total analysis jobs submitted", jobsSubmittedTotal.Load())
	writeCounter(&buf, "jobs_started_total", "Total analysis jobs started", jobsStartedTotal.Load())
	writeCounter(&buf, "jobs_completed_total", "Total analysis jobs completed", jobsCompletedTotal.Load())
	writeCounter(&buf, "jobs_failed_total", "Total analysis jobs failed", jobsFailedTotal.Load())
	writeCounter(&buf, "jobs_cancelled_total", "Total analysis jobs cancelled", jobsCancelledTotal.Load())
	writeCounter(&buf, "job_retries_total", "Total whole-run retries", jobRetriesTotal.Load())
	writeCounter(&buf, "agent_tool_calls_total", "Total tool calls requested by the model", agentToolCallsTotal.Load())
	writeCounter(&buf, "worker_messages_received_total", "Total dispatch messages received", workerMessagesReceivedTotal.Load())
	writeCounter(&buf, "worker_messages_discarded_total", "Total dispatch messages dropped as unrecoverable", workerMessagesDiscardedTotal.Load())
	writeCounter(&buf, "http_panics_total", "Total recovered handler panics", httpPanicsTotal.Load())
	writeCounter(&buf, "http_rate_limited_total", "Total requests rejected by the rate limiter", httpRateLimitedTotal.Load())
	writeHistogram(&buf, "job_duration_ms", "Job duration in milliseconds", jobDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

package runtime

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	rpcerrors "github.com/northwind-crm/crmbus/internal/runtime/errors"
	jsoncodec "github.com/northwind-crm/crmbus/internal/runtime/jsoncodec"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// Handler kinds listed by the admin API.
const (
	HandlerKindRPC   = "rpc"
	HandlerKindEvent = "event"
)

// HandlerInfo describes one registered RPC handler or event subscriber.
type HandlerInfo struct {
	Name       string        `json:"name"`
	Kind       string        `json:"kind"`
	Queue      string        `json:"queue"`
	Pattern    string        `json:"pattern,omitempty"`
	EventType  string        `json:"event_type,omitempty"`
	Subscriber string        `json:"subscriber,omitempty"`
	Timeout    string        `json:"timeout_hint,omitempty"`
	Stats      *HandlerStats `json:"stats"`
}

type HandlerStats struct {
	mu sync.Mutex `json:"-"`

	MessagesProcessed   uint64    `json:"messages_processed"`
	MessagesFailed      uint64    `json:"messages_failed"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time `json:"last_processed_at"`
	InFlight            uint64    `json:"in_flight"`
	MaxInFlight         uint64    `json:"max_in_flight"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`

	latencyWindow    *latencyWindow    `json:"-"`
	throughputWindow *throughputWindow `json:"-"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
	TotalMessages    uint64  `json:"total_messages"`
}

type ErrorBreakdown struct {
	Validation uint64 `json:"validation"`
	NotFound   uint64 `json:"not_found"`
	Downstream uint64 `json:"downstream"`
	Handler    uint64 `json:"handler"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryNotFound   ErrorCategory = "not_found"
	ErrorCategoryDownstream ErrorCategory = "downstream"
	ErrorCategoryHandler    ErrorCategory = "handler"
	ErrorCategoryOther      ErrorCategory = "other"
)

// ErrorClassifier buckets handler errors for the admin statistics.
type ErrorClassifier func(error) ErrorCategory

func newHandlerStats() *HandlerStats {
	return &HandlerStats{
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
	}
}

func (h *HandlerStats) onStart() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.InFlight++
	if h.InFlight > h.MaxInFlight {
		h.MaxInFlight = h.InFlight
	}
}

func (h *HandlerStats) onFinish(duration time.Duration, err error, classifier ErrorClassifier) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.InFlight > 0 {
		h.InFlight--
	}

	h.MessagesProcessed++
	if err != nil {
		h.MessagesFailed++
	}
	h.TotalProcessingTime += int64(duration)
	h.LastProcessedAt = time.Now().UTC()

	if h.latencyWindow != nil {
		h.latencyWindow.Add(duration)
		snapshot := h.latencyWindow.Snapshot()
		snapshot.LastNs = int64(duration)
		snapshot.AverageNs = h.TotalProcessingTime / int64(h.MessagesProcessed)
		h.Latency = snapshot
	}

	if h.throughputWindow != nil {
		snapshot := h.throughputWindow.AddAndSnapshot(time.Now())
		h.Throughput.CurrentRPS = snapshot.CurrentRPS
		h.Throughput.WindowSeconds = snapshot.WindowSeconds
		h.Throughput.MessagesInWindow = uint64(snapshot.Count)
	}
	h.Throughput.TotalMessages = h.MessagesProcessed

	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	h.Errors.Record(classifier(err), err)
}

func (h *HandlerStats) MarshalJSON() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	type Alias HandlerStats
	return jsoncodec.Marshal((*Alias)(h))
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryValidation:
		e.Validation++
	case ErrorCategoryNotFound:
		e.NotFound++
	case ErrorCategoryDownstream:
		e.Downstream++
	case ErrorCategoryHandler:
		e.Handler++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.samples) == 0 {
		return
	}
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var metrics LatencyMetrics
	if lw == nil {
		return metrics
	}
	if lw.filled == 0 {
		metrics.LastNs = lw.last
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	metrics.LastNs = lw.last
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	if tw == nil {
		return throughputSnapshot{}
	}
	tw.samples = append(tw.samples, now)
	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		tw.samples = append(tw.samples[:0], tw.samples[idx:]...)
	}

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(count) / span.Seconds(),
	}
}

func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryDownstream
	}
	var rpcErr *rpcerrors.Error
	if !errors.As(err, &rpcErr) {
		return ErrorCategoryOther
	}
	switch rpcErr.Kind {
	case rpcerrors.KindValidation, rpcerrors.KindUnauthorized:
		return ErrorCategoryValidation
	case rpcerrors.KindNotFound:
		return ErrorCategoryNotFound
	case rpcerrors.KindTimeout, rpcerrors.KindTransport:
		return ErrorCategoryDownstream
	default:
		return ErrorCategoryHandler
	}
}

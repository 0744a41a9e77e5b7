package runtime

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/drblury/gnssflow/internal/runtime/consumer"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// QueueStats summarises what happened to deliveries from one queue.
type QueueStats struct {
	Queue         string            `json:"queue"`
	Received      uint64            `json:"received"`
	Acked         uint64            `json:"acked"`
	Dropped       uint64            `json:"dropped"`
	Poisoned      uint64            `json:"poisoned"`
	Requeued      uint64            `json:"requeued"`
	Rejected      uint64            `json:"rejected"`
	LastType      string            `json:"last_type,omitempty"`
	LastMessageAt *time.Time        `json:"last_message_at,omitempty"`
	ByType        map[string]uint64 `json:"by_type"`
	Latency       LatencyMetrics    `json:"latency"`
	Throughput    ThroughputMetrics `json:"throughput"`
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
}

type ReplyStats struct {
	Published uint64 `json:"published"`
	Abandoned uint64 `json:"abandoned"`
}

type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// PoolStats mirrors the parts of sql.DBStats operators look at.
type PoolStats struct {
	MaxOpen      int   `json:"max_open"`
	Open         int   `json:"open"`
	InUse        int   `json:"in_use"`
	Idle         int   `json:"idle"`
	WaitCount    int64 `json:"wait_count"`
	WaitDuration int64 `json:"wait_duration_ns"`
}

// StatusSnapshot is the document served at /api/status.
type StatusSnapshot struct {
	State      string        `json:"state"`
	Reconnects uint64        `json:"reconnects"`
	StartedAt  time.Time     `json:"started_at"`
	Queues     []QueueStats  `json:"queues"`
	Replies    ReplyStats    `json:"replies"`
	Pool       *PoolStats    `json:"pool,omitempty"`
	Resource   ResourceUsage `json:"resource"`
}

type queueTracker struct {
	stats      QueueStats
	latency    *latencyWindow
	throughput *throughputWindow
	total      int64
	settled    uint64
}

// Stats folds consumer events into per-queue counters. It implements
// consumer.Observer and is safe for concurrent use.
type Stats struct {
	mu         sync.Mutex
	state      consumer.State
	reconnects uint64
	queues     map[string]*queueTracker
	order      []string
	replies    ReplyStats
	startedAt  time.Time
	now        func() time.Time
	resources  *resourceTracker
}

// NewStats pre-registers queues so they show up before their first message.
func NewStats(queues []string) *Stats {
	s := &Stats{
		queues:    make(map[string]*queueTracker, len(queues)),
		now:       time.Now,
		resources: newResourceTracker(),
	}
	s.startedAt = s.now().UTC()
	for _, q := range queues {
		s.trackerLocked(q)
	}
	return s
}

func (s *Stats) trackerLocked(queue string) *queueTracker {
	t, ok := s.queues[queue]
	if !ok {
		t = &queueTracker{
			stats:      QueueStats{Queue: queue, ByType: make(map[string]uint64)},
			latency:    newLatencyWindow(latencySampleSize),
			throughput: newThroughputWindow(throughputWindowSize),
		}
		s.queues[queue] = t
		s.order = append(s.order, queue)
	}
	return t
}

func (s *Stats) StateChanged(state consumer.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Stats) Reconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
}

func (s *Stats) Received(queue string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackerLocked(queue).stats.Received++
}

func (s *Stats) Settled(queue, messageType string, outcome consumer.Outcome, took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.trackerLocked(queue)
	switch outcome {
	case consumer.OutcomeAcked:
		t.stats.Acked++
	case consumer.OutcomeDropped:
		t.stats.Dropped++
	case consumer.OutcomePoisoned:
		t.stats.Poisoned++
	case consumer.OutcomeRequeued:
		t.stats.Requeued++
	case consumer.OutcomeRejected:
		t.stats.Rejected++
	}
	if messageType != "" {
		t.stats.LastType = messageType
		t.stats.ByType[messageType]++
	}
	now := s.now().UTC()
	t.stats.LastMessageAt = &now

	t.settled++
	t.total += int64(took)
	t.latency.Add(took)
	snapshot := t.latency.Snapshot()
	snapshot.AverageNs = t.total / int64(t.settled)
	t.stats.Latency = snapshot

	tp := t.throughput.AddAndSnapshot(now)
	t.stats.Throughput = ThroughputMetrics{
		CurrentRPS:       tp.CurrentRPS,
		WindowSeconds:    tp.WindowSeconds,
		MessagesInWindow: uint64(tp.Count),
	}
}

func (s *Stats) Replied(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.replies.Published++
	} else {
		s.replies.Abandoned++
	}
}

// Snapshot returns a deep copy safe to serialise.
func (s *Stats) Snapshot() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := StatusSnapshot{
		State:      s.state.String(),
		Reconnects: s.reconnects,
		StartedAt:  s.startedAt,
		Queues:     make([]QueueStats, 0, len(s.order)),
		Replies:    s.replies,
		Resource:   s.resources.Snapshot(),
	}
	for _, q := range s.order {
		qs := s.queues[q].stats
		byType := make(map[string]uint64, len(qs.ByType))
		for k, v := range qs.ByType {
			byType[k] = v
		}
		qs.ByType = byType
		if qs.LastMessageAt != nil {
			at := *qs.LastMessageAt
			qs.LastMessageAt = &at
		}
		out.Queues = append(out.Queues, qs)
	}
	return out
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
	tw.cleanup(now)
	return tw.snapshot(now)
}

func (tw *throughputWindow) cleanup(now time.Time) {
	if len(tw.samples) == 0 {
		return
	}
	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		copy(tw.samples, tw.samples[idx:])
		tw.samples = tw.samples[:len(tw.samples)-idx]
	}
}

func (tw *throughputWindow) snapshot(now time.Time) throughputSnapshot {
	if len(tw.samples) == 0 {
		return throughputSnapshot{}
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

// observers fans consumer events out to several observers.
type observers []consumer.Observer

func (o observers) StateChanged(state consumer.State) {
	for _, obs := range o {
		obs.StateChanged(state)
	}
}

func (o observers) Reconnected() {
	for _, obs := range o {
		obs.Reconnected()
	}
}

func (o observers) Received(queue string) {
	for _, obs := range o {
		obs.Received(queue)
	}
}

func (o observers) Settled(queue, messageType string, outcome consumer.Outcome, took time.Duration) {
	for _, obs := range o {
		obs.Settled(queue, messageType, outcome, took)
	}
}

func (o observers) Replied(ok bool) {
	for _, obs := range o {
		obs.Replied(ok)
	}
}

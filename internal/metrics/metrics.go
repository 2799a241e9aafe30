// Package metrics provides Prometheus-style counters for ghostkeys.
//
// Every update is a single atomic operation so metrics can be recorded from
// the keyboard hook thread without taking a lock. There is no HTTP endpoint;
// registries are rendered to a writer on demand (shutdown, `ghostkeys
// simulate`).
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType represents the type of metric.
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	}
	return "untyped"
}

// Metric is implemented by every metric kind.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	writeSamples(w io.Writer)
	snapshot(into map[string]any)
	reset()
}

type desc struct {
	name string
	help string
}

func (d desc) Name() string { return d.name }
func (d desc) Help() string { return d.help }

// Counter is a monotonically increasing counter.
type Counter struct {
	desc
	value atomic.Uint64
}

// NewCounter creates an unregistered counter.
func NewCounter(name, help string) *Counter {
	return &Counter{desc: desc{name, help}}
}

func (c *Counter) Inc()             { c.value.Add(1) }
func (c *Counter) Add(v uint64)     { c.value.Add(v) }
func (c *Counter) Value() uint64    { return c.value.Load() }
func (c *Counter) Type() MetricType { return TypeCounter }

func (c *Counter) writeSamples(w io.Writer) {
	fmt.Fprintf(w, "%s %d\n", c.name, c.Value())
}

func (c *Counter) snapshot(into map[string]any) { into[c.name] = c.Value() }
func (c *Counter) reset()                       { c.value.Store(0) }

// Gauge is a value that can go up and down.
type Gauge struct {
	desc
	value atomic.Int64
}

// NewGauge creates an unregistered gauge.
func NewGauge(name, help string) *Gauge {
	return &Gauge{desc: desc{name, help}}
}

func (g *Gauge) Set(v int64)      { g.value.Store(v) }
func (g *Gauge) Inc()             { g.value.Add(1) }
func (g *Gauge) Dec()             { g.value.Add(-1) }
func (g *Gauge) Value() int64     { return g.value.Load() }
func (g *Gauge) Type() MetricType { return TypeGauge }

// SetBool stores 1 for true and 0 for false.
func (g *Gauge) SetBool(b bool) {
	if b {
		g.Set(1)
		return
	}
	g.Set(0)
}

func (g *Gauge) writeSamples(w io.Writer) {
	fmt.Fprintf(w, "%s %d\n", g.name, g.Value())
}

func (g *Gauge) snapshot(into map[string]any) { into[g.name] = g.Value() }
func (g *Gauge) reset()                       { g.value.Store(0) }

// LatencyBuckets are upper bounds in seconds suited to per-keystroke work,
// from 10µs to 100ms.
var LatencyBuckets = []float64{
	0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.1,
}

// Histogram tracks a distribution with fixed buckets. Each bucket, the
// count and the sum are separate atomics so Observe never locks.
type Histogram struct {
	desc
	bounds []float64
	counts []atomic.Uint64 // len(bounds)+1, last is +Inf
	count  atomic.Uint64
	sumBit atomic.Uint64 // float64 bits
}

// NewHistogram creates an unregistered histogram. nil buckets selects
// LatencyBuckets.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = LatencyBuckets
	}
	bounds := make([]float64, len(buckets))
	copy(bounds, buckets)
	sort.Float64s(bounds)
	return &Histogram{
		desc:   desc{name, help},
		bounds: bounds,
		counts: make([]atomic.Uint64, len(bounds)+1),
	}
}

func (h *Histogram) Type() MetricType { return TypeHistogram }

// Observe records v.
func (h *Histogram) Observe(v float64) {
	idx := sort.SearchFloat64s(h.bounds, v)
	h.counts[idx].Add(1)
	h.count.Add(1)
	for {
		old := h.sumBit.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if h.sumBit.CompareAndSwap(old, next) {
			return
		}
	}
}

// ObserveDuration records d in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Since records the time elapsed since start.
func (h *Histogram) Since(start time.Time) {
	h.ObserveDuration(time.Since(start))
}

func (h *Histogram) Count() uint64 { return h.count.Load() }
func (h *Histogram) Sum() float64  { return math.Float64frombits(h.sumBit.Load()) }

// Mean returns the mean of observed values.
func (h *Histogram) Mean() float64 {
	n := h.Count()
	if n == 0 {
		return 0
	}
	return h.Sum() / float64(n)
}

// Cumulative returns the cumulative count per bucket, +Inf last.
func (h *Histogram) Cumulative() []uint64 {
	out := make([]uint64, len(h.counts))
	var total uint64
	for i := range h.counts {
		total += h.counts[i].Load()
		out[i] = total
	}
	return out
}

// Quantile estimates the q-th quantile (0..1) by linear interpolation
// within the bucket that holds it.
func (h *Histogram) Quantile(q float64) float64 {
	cum := h.Cumulative()
	total := cum[len(cum)-1]
	if total == 0 {
		return 0
	}
	target := uint64(math.Ceil(float64(total) * q))
	if target == 0 {
		target = 1
	}
	for i, c := range cum {
		if c < target {
			continue
		}
		if i == len(h.bounds) {
			return h.bounds[len(h.bounds)-1]
		}
		lower, prev := 0.0, uint64(0)
		if i > 0 {
			lower, prev = h.bounds[i-1], cum[i-1]
		}
		upper := h.bounds[i]
		return lower + (upper-lower)*float64(target-prev)/float64(c-prev)
	}
	return h.bounds[len(h.bounds)-1]
}

func (h *Histogram) writeSamples(w io.Writer) {
	cum := h.Cumulative()
	for i, b := range h.bounds {
		fmt.Fprintf(w, "%s_bucket{le=\"%g\"} %d\n", h.name, b, cum[i])
	}
	fmt.Fprintf(w, "%s_bucket{le=\"+Inf\"} %d\n", h.name, cum[len(cum)-1])
	fmt.Fprintf(w, "%s_sum %g\n", h.name, h.Sum())
	fmt.Fprintf(w, "%s_count %d\n", h.name, h.Count())
}

func (h *Histogram) snapshot(into map[string]any) {
	into[h.name+"_count"] = h.Count()
	into[h.name+"_sum"] = h.Sum()
	into[h.name+"_mean"] = h.Mean()
	into[h.name+"_p99"] = h.Quantile(0.99)
}

func (h *Histogram) reset() {
	for i := range h.counts {
		h.counts[i].Store(0)
	}
	h.count.Store(0)
	h.sumBit.Store(0)
}

// Registry holds named metrics. Registration takes a lock; updates to
// registered metrics do not.
type Registry struct {
	namespace string

	mu      sync.RWMutex
	metrics map[string]Metric
}

// NewRegistry creates a registry whose metric names are prefixed with
// namespace.
func NewRegistry(namespace string) *Registry {
	return &Registry{
		namespace: namespace,
		metrics:   make(map[string]Metric),
	}
}

func (r *Registry) fullName(name string) string {
	if r.namespace == "" {
		return name
	}
	return r.namespace + "_" + name
}

func register[M Metric](r *Registry, name string, mk func(full string) M) M {
	full := r.fullName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.metrics[full]; ok {
		if m, ok := existing.(M); ok {
			return m
		}
		panic(fmt.Sprintf("metrics: %s already registered as %s", full, existing.Type()))
	}
	m := mk(full)
	r.metrics[full] = m
	return m
}

// Counter returns the counter called name, registering it on first use.
func (r *Registry) Counter(name, help string) *Counter {
	return register(r, name, func(full string) *Counter { return NewCounter(full, help) })
}

// Gauge returns the gauge called name, registering it on first use.
func (r *Registry) Gauge(name, help string) *Gauge {
	return register(r, name, func(full string) *Gauge { return NewGauge(full, help) })
}

// Histogram returns the histogram called name, registering it on first use.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	return register(r, name, func(full string) *Histogram { return NewHistogram(full, help, buckets) })
}

// Get returns a registered metric by its short name.
func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[r.fullName(name)]
}

func (r *Registry) sorted() []Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metric, 0, len(r.metrics))
	for _, m := range r.metrics {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// WritePrometheus writes every metric in Prometheus text exposition format,
// sorted by name.
func (r *Registry) WritePrometheus(w io.Writer) error {
	var sb strings.Builder
	for _, m := range r.sorted() {
		fmt.Fprintf(&sb, "# HELP %s %s\n", m.Name(), m.Help())
		fmt.Fprintf(&sb, "# TYPE %s %s\n", m.Name(), m.Type())
		m.writeSamples(&sb)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// Snapshot returns current values keyed by full metric name.
func (r *Registry) Snapshot() map[string]any {
	out := make(map[string]any)
	for _, m := range r.sorted() {
		m.snapshot(out)
	}
	return out
}

// WriteJSON writes Snapshot as indented JSON.
func (r *Registry) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r.Snapshot())
}

// Reset zeroes every registered metric.
func (r *Registry) Reset() {
	for _, m := range r.sorted() {
		m.reset()
	}
}

var defaultRegistry atomic.Pointer[Registry]

func init() {
	defaultRegistry.Store(NewRegistry("ghostkeys"))
}

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry.Load() }

// SetDefault replaces the process-wide registry.
func SetDefault(r *Registry) { defaultRegistry.Store(r) }

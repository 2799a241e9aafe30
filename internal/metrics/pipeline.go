package metrics

import "time"

// Pipeline holds the metrics recorded by the keyboard interception
// pipeline. All fields are safe to update from the hook thread.
type Pipeline struct {
	registry *Registry

	EventsTotal            *Counter
	PassedTotal            *Counter
	SuppressedTotal        *Counter
	ReplacedTotal          *Counter
	InjectedRunesTotal     *Counter
	InjectionFailuresTotal *Counter
	RecursionSkipsTotal    *Counter
	PassthroughTotal       *Counter
	AccentTimeoutsTotal    *Counter
	ModeChangesTotal       *Counter
	HookStartsTotal        *Counter

	HookRunning   *Gauge
	UptimeSeconds *Gauge

	ProcessingSeconds *Histogram

	started time.Time
}

// NewPipeline registers the pipeline metrics on registry, or on Default
// when registry is nil.
func NewPipeline(registry *Registry) *Pipeline {
	if registry == nil {
		registry = Default()
	}
	return &Pipeline{
		registry: registry,

		EventsTotal:            registry.Counter("key_events_total", "Keydown events seen by the hook"),
		PassedTotal:            registry.Counter("key_passed_total", "Events forwarded unchanged while active"),
		SuppressedTotal:        registry.Counter("key_suppressed_total", "Events blocked without output (dead-key triggers)"),
		ReplacedTotal:          registry.Counter("key_replaced_total", "Events blocked and replaced by injected characters"),
		InjectedRunesTotal:     registry.Counter("injected_runes_total", "Characters synthesized"),
		InjectionFailuresTotal: registry.Counter("injection_failures_total", "Dropped keystrokes caused by injection failures"),
		RecursionSkipsTotal:    registry.Counter("recursion_skips_total", "Self-injected events forwarded without mapping"),
		PassthroughTotal:       registry.Counter("passthrough_events_total", "Events forwarded because the mode was passthrough"),
		AccentTimeoutsTotal:    registry.Counter("accent_timeouts_total", "Pending accents flushed by timeout"),
		ModeChangesTotal:       registry.Counter("mode_changes_total", "Operation mode changes observed by the hook"),
		HookStartsTotal:        registry.Counter("hook_starts_total", "Successful hook installations"),

		HookRunning:   registry.Gauge("hook_running", "1 while the keyboard hook is installed"),
		UptimeSeconds: registry.Gauge("uptime_seconds", "Seconds since the pipeline metrics were created"),

		ProcessingSeconds: registry.Histogram("key_processing_seconds", "Time spent handling one keydown, injection included", LatencyBuckets),

		started: time.Now(),
	}
}

// Registry returns the registry the metrics live in.
func (p *Pipeline) Registry() *Registry { return p.registry }

// UpdateUptime refreshes UptimeSeconds.
func (p *Pipeline) UpdateUptime() {
	p.UptimeSeconds.Set(int64(time.Since(p.started).Seconds()))
}

// Package health reports whether the remapper is doing its job: the hook is
// installed, the mode flag is readable and injection keeps working.
//
// Checks run concurrently with a per-check timeout and panic recovery. The
// result is printed by the console controller and logged at shutdown.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ghostkeys/internal/metrics"
	"ghostkeys/internal/state"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	Status      Status
	Message     string
	LastChecked time.Time
	Duration    time.Duration
}

// Check is a function that performs a health check.
type Check func(ctx context.Context) CheckResult

// Component represents a health-checkable component.
type Component struct {
	Name     string
	Critical bool // failure makes the overall status unhealthy
	Check    Check
	Timeout  time.Duration
}

// DefaultTimeout bounds a check registered without one.
const DefaultTimeout = time.Second

// Checker manages health checks.
type Checker struct {
	mu         sync.RWMutex
	components map[string]*Component
	results    map[string]CheckResult
	startTime  time.Time
}

// NewChecker creates a new Checker.
func NewChecker() *Checker {
	return &Checker{
		components: make(map[string]*Component),
		results:    make(map[string]CheckResult),
		startTime:  time.Now(),
	}
}

// Register registers a health check component.
func (c *Checker) Register(component *Component) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if component.Timeout <= 0 {
		component.Timeout = DefaultTimeout
	}
	c.components[component.Name] = component
	c.results[component.Name] = CheckResult{Status: StatusUnknown}
}

// RegisterFunc registers a simple health check function.
func (c *Checker) RegisterFunc(name string, critical bool, check Check) {
	c.Register(&Component{Name: name, Critical: critical, Check: check})
}

// Check runs all registered health checks.
func (c *Checker) Check(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	components := make([]*Component, 0, len(c.components))
	for _, comp := range c.components {
		components = append(components, comp)
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(components))
	var (
		wg    sync.WaitGroup
		resMu sync.Mutex
	)
	for _, comp := range components {
		wg.Add(1)
		go func(comp *Component) {
			defer wg.Done()
			result := runCheck(ctx, comp)

			resMu.Lock()
			results[comp.Name] = result
			resMu.Unlock()

			c.mu.Lock()
			c.results[comp.Name] = result
			c.mu.Unlock()
		}(comp)
	}
	wg.Wait()
	return results
}

func runCheck(ctx context.Context, comp *Component) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	start := time.Now()
	resCh := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- CheckResult{
					Status:  StatusUnhealthy,
					Message: fmt.Sprintf("check panicked: %v", r),
				}
			}
		}()
		resCh <- comp.Check(checkCtx)
	}()

	var result CheckResult
	select {
	case result = <-resCh:
	case <-checkCtx.Done():
		result = CheckResult{
			Status:  StatusUnhealthy,
			Message: "check timed out: " + checkCtx.Err().Error(),
		}
	}
	result.LastChecked = start
	result.Duration = time.Since(start)
	return result
}

// GetResult returns the last result for a component.
func (c *Checker) GetResult(name string) (CheckResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result, ok := c.results[name]
	return result, ok
}

// OverallStatus returns the aggregated health status of the last run.
func (c *Checker) OverallStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hasUnknown := false
	hasDegraded := false
	for name, result := range c.results {
		comp := c.components[name]
		if comp == nil {
			continue
		}
		switch result.Status {
		case StatusUnhealthy:
			if comp.Critical {
				return StatusUnhealthy
			}
			hasDegraded = true
		case StatusDegraded:
			hasDegraded = true
		case StatusUnknown:
			if comp.Critical {
				hasUnknown = true
			}
		}
	}

	if hasUnknown {
		return StatusUnknown
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// Uptime is the time since the checker was created.
func (c *Checker) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Report runs the checks and renders one line for the overall status
// followed by one line per component, sorted by name.
func (c *Checker) Report(ctx context.Context) []string {
	results := c.Check(ctx)

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names)+1)
	lines = append(lines, fmt.Sprintf("health: %s (up %s)", c.OverallStatus(), c.Uptime().Truncate(time.Second)))
	for _, name := range names {
		r := results[name]
		line := fmt.Sprintf("  %s: %s", name, r.Status)
		if r.Message != "" {
			line += " - " + r.Message
		}
		lines = append(lines, line)
	}
	return lines
}

// Runner is the part of an interceptor the hook check needs.
type Runner interface {
	IsRunning() bool
	Name() string
}

// HookCheck is healthy while the keyboard hook is installed.
func HookCheck(r Runner) Check {
	return func(context.Context) CheckResult {
		if !r.IsRunning() {
			return CheckResult{Status: StatusUnhealthy, Message: r.Name() + " hook not installed"}
		}
		return CheckResult{Status: StatusHealthy, Message: r.Name()}
	}
}

// ModeCheck is healthy while the shared mode flag holds a valid mode.
func ModeCheck(modes state.ModeSource) Check {
	return func(context.Context) CheckResult {
		m, err := modes.Mode()
		if err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
		}
		return CheckResult{Status: StatusHealthy, Message: m.String()}
	}
}

// InjectionCheck is degraded once any keystroke was dropped because
// injection failed.
func InjectionCheck(p *metrics.Pipeline) Check {
	return func(context.Context) CheckResult {
		failed := p.InjectionFailuresTotal.Value()
		injected := p.InjectedRunesTotal.Value()
		if failed > 0 {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%d dropped keystrokes, %d characters injected", failed, injected),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d characters injected", injected)}
	}
}

// Package health runs readiness checks against the transfers store.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is the health of one check or of the whole registry.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name     string         `json:"name" yaml:"name"`
	Status   Status         `json:"status" yaml:"status"`
	Message  string         `json:"message,omitempty" yaml:"message,omitempty"`
	Error    string         `json:"error,omitempty" yaml:"error,omitempty"`
	Duration time.Duration  `json:"duration" yaml:"duration"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Checker reports the health of one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Registry runs a set of checkers concurrently.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds c, replacing any checker with the same name.
func (r *Registry) Register(c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[c.Name()] = c
}

// Report is the aggregate of every check, ordered by name.
type Report struct {
	Status   Status        `json:"status" yaml:"status"`
	Checks   []CheckResult `json:"checks" yaml:"checks"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Healthy reports whether every check passed.
func (r Report) Healthy() bool {
	return r.Status == StatusHealthy
}

// Check runs every registered checker. The report is unhealthy when any
// check is unhealthy and degraded when any is degraded.
func (r *Registry) Check(ctx context.Context) Report {
	r.mu.RLock()
	checkers := make([]Checker, 0, len(r.checkers))
	for _, c := range r.checkers {
		checkers = append(checkers, c)
	}
	r.mu.RUnlock()

	start := time.Now()
	results := make([]CheckResult, len(checkers))
	var grp errgroup.Group
	for i, c := range checkers {
		grp.Go(func() error {
			began := time.Now()
			res := c.Check(ctx)
			res.Name = c.Name()
			res.Duration = time.Since(began)
			results[i] = res
			return nil
		})
	}
	_ = grp.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	status := StatusHealthy
	for _, res := range results {
		switch {
		case res.Status == StatusUnhealthy:
			status = StatusUnhealthy
		case res.Status == StatusDegraded && status == StatusHealthy:
			status = StatusDegraded
		}
	}
	return Report{Status: status, Checks: results, Duration: time.Since(start)}
}

// Package health reports whether a database process is alive and able to
// serve, for load balancers and orchestrators.
package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// NewChecker creates a checker with no checks.
func NewChecker() *Checker {
	return &Checker{
		started:     time.Now(),
		checks:      make(map[string]CheckFunc),
		readyChecks: make(map[string]CheckFunc),
		liveChecks:  make(map[string]CheckFunc),
	}
}

// Register adds a check to the general health report.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// RegisterReadiness adds a check to the readiness probe.
func (c *Checker) RegisterReadiness(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readyChecks[name] = fn
}

// RegisterLiveness adds a check to the liveness probe.
func (c *Checker) RegisterLiveness(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.liveChecks[name] = fn
}

// Check runs the general checks.
func (c *Checker) Check() Response {
	return c.run(func(c *Checker) map[string]CheckFunc { return c.checks })
}

// Readiness runs the readiness checks.
func (c *Checker) Readiness() Response {
	return c.run(func(c *Checker) map[string]CheckFunc { return c.readyChecks })
}

// Liveness runs the liveness checks.
func (c *Checker) Liveness() Response {
	return c.run(func(c *Checker) map[string]CheckFunc { return c.liveChecks })
}

func (c *Checker) run(pick func(*Checker) map[string]CheckFunc) Response {
	c.mu.RLock()
	defer c.mu.RUnlock()

	resp := Response{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]Check),
		Uptime:    time.Since(c.started),
	}
	for name, fn := range pick(c) {
		start := time.Now()
		check := fn()
		check.Duration = time.Since(start)
		check.LastChecked = start
		if check.Name == "" {
			check.Name = name
		}
		resp.Checks[name] = check

		switch {
		case check.Status == StatusUnhealthy:
			resp.Status = StatusUnhealthy
		case check.Status == StatusDegraded && resp.Status != StatusUnhealthy:
			resp.Status = StatusDegraded
		}
	}
	return resp
}

// Handler serves the general report. Degraded still answers 200.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := c.Check()
		status := http.StatusOK
		if resp.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

// ReadinessHandler serves the readiness probe: anything short of healthy
// answers 503.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeProbe(w, c.Readiness())
	}
}

// LivenessHandler serves the liveness probe.
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeProbe(w, c.Liveness())
	}
}

func writeProbe(w http.ResponseWriter, resp Response) {
	status := http.StatusOK
	if resp.Status != StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

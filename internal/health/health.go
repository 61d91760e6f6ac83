// Package health probes the relay's stores and upstream for readiness reporting.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Kind classifies a probe. Database failures make the relay unhealthy; upstream
// failures only degrade it.
type Kind string

const (
	KindDatabase Kind = "database"
	KindHTTP     Kind = "http"
)

// Pinger is implemented by the SQL-backed stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probe is one named check.
type Probe struct {
	Name  string
	Kind  Kind
	Check func(ctx context.Context) error
}

// Component is the result of one probe.
type Component struct {
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Report is the overall result of a check run.
type Report struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

// Config holds checker timeouts.
type Config struct {
	Timeout        time.Duration
	MaxDBLatency   time.Duration
	HTTPClient     *http.Client
	MaxParallelism int
}

// Checker runs probes concurrently and remembers the last report.
type Checker struct {
	probes       []Probe
	timeout      time.Duration
	maxDBLatency time.Duration
	httpClient   *http.Client
	parallelism  int

	mu   sync.RWMutex
	last *Report
}

// New creates a checker with no probes.
func New(cfg Config) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxDBLatency <= 0 {
		cfg.MaxDBLatency = 100 * time.Millisecond
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if cfg.MaxParallelism <= 0 {
		cfg.MaxParallelism = 4
	}
	return &Checker{
		timeout:      cfg.Timeout,
		maxDBLatency: cfg.MaxDBLatency,
		httpClient:   cfg.HTTPClient,
		parallelism:  cfg.MaxParallelism,
	}
}

// AddDatabase registers a database probe. A nil pinger is ignored.
func (c *Checker) AddDatabase(name string, p Pinger) {
	if p == nil {
		return
	}
	c.probes = append(c.probes, Probe{Name: name, Kind: KindDatabase, Check: p.Ping})
}

// AddEndpoint registers a reachability probe for baseURL. Any HTTP response counts as
// reachable.
func (c *Checker) AddEndpoint(name, baseURL string) {
	if baseURL == "" {
		return
	}
	c.probes = append(c.probes, Probe{Name: name, Kind: KindHTTP, Check: func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}})
}

// Add registers an arbitrary probe.
func (c *Checker) Add(p Probe) { c.probes = append(c.probes, p) }

// Check runs every probe and returns the overall report.
func (c *Checker) Check(ctx context.Context) Report {
	components := make([]Component, len(c.probes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for i, p := range c.probes {
		g.Go(func() error {
			components[i] = c.run(gctx, p)
			return nil
		})
	}
	_ = g.Wait()
	sort.SliceStable(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	report := summarize(components)
	c.mu.Lock()
	c.last = &report
	c.mu.Unlock()
	return report
}

// Last returns the most recent report, or a healthy empty one before the first run.
func (c *Checker) Last() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return Report{Status: StatusHealthy, Timestamp: time.Now()}
	}
	return *c.last
}

func (c *Checker) run(ctx context.Context, p Probe) Component {
	comp := Component{Name: p.Name, Kind: p.Kind, Timestamp: time.Now()}
	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := p.Check(pctx)
	latency := time.Since(start)
	comp.LatencyMS = latency.Milliseconds()

	switch {
	case err != nil && p.Kind == KindDatabase:
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "unreachable"
	case err != nil:
		comp.Status = StatusDegraded
		comp.Error = err.Error()
		comp.Message = "unreachable"
	case p.Kind == KindDatabase && latency > c.maxDBLatency:
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("high latency: %v", latency)
	default:
		comp.Status = StatusHealthy
		comp.Message = "ok"
	}
	return comp
}

func summarize(components []Component) Report {
	overall := StatusHealthy
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	return Report{Status: overall, Timestamp: time.Now(), Components: components}
}

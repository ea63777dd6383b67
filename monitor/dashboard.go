package monitor

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultMetricsCacheTTL is how long a pulled snapshot is reused.
const DefaultMetricsCacheTTL = 300 * time.Second

// PanelSource supplies the metrics of one dashboard panel.
type PanelSource func(ctx context.Context) map[string]float64

// Threshold maps a metric to a severity. Ascending means higher values
// are worse (error rates); descending covers scores where lower is worse.
type Threshold struct {
	Metric    string
	Warning   float64
	Critical  float64
	Ascending bool
}

// Metric is one dashboard value with its derived severity.
type Metric struct {
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Severity string  `json:"severity"`
}

// Panel groups related metrics.
type Panel struct {
	Title   string   `json:"title"`
	Metrics []Metric `json:"metrics"`
}

// Dashboard is the composed layout.
type Dashboard struct {
	Title       string    `json:"title"`
	GeneratedAt time.Time `json:"generated_at"`
	Panels      []Panel   `json:"panels"`
}

// Aggregator pulls panel sources, caches the merged snapshot, and renders
// the dashboard layout. It also feeds the alert engine's rule loop.
type Aggregator struct {
	Title    string
	CacheTTL time.Duration

	mu         sync.Mutex
	order      []string
	sources    map[string]PanelSource
	thresholds map[string]Threshold
	cached     map[string]map[string]float64
	cachedAt   time.Time
	now        func() time.Time
}

func NewAggregator(title string) *Aggregator {
	return &Aggregator{
		Title:      title,
		CacheTTL:   DefaultMetricsCacheTTL,
		sources:    make(map[string]PanelSource),
		thresholds: make(map[string]Threshold),
		now:        time.Now,
	}
}

// RegisterPanel adds a named panel backed by a source.
func (a *Aggregator) RegisterPanel(title string, source PanelSource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.sources[title]; !exists {
		a.order = append(a.order, title)
	}
	a.sources[title] = source
}

// SetThreshold attaches a severity threshold to one metric.
func (a *Aggregator) SetThreshold(t Threshold) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.thresholds[t.Metric] = t
}

// ClearCache forces the next read to pull fresh metrics.
func (a *Aggregator) ClearCache() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cached = nil
}

// Snapshot returns the merged metric map across all panels, cached for
// CacheTTL.
func (a *Aggregator) Snapshot(ctx context.Context) map[string]float64 {
	panels := a.collect(ctx)
	merged := make(map[string]float64)
	for _, metrics := range panels {
		for name, value := range metrics {
			merged[name] = value
		}
	}
	return merged
}

// Render composes the dashboard layout from the cached snapshot.
func (a *Aggregator) Render(ctx context.Context) *Dashboard {
	panels := a.collect(ctx)

	a.mu.Lock()
	order := append([]string(nil), a.order...)
	a.mu.Unlock()

	dash := &Dashboard{Title: a.Title, GeneratedAt: a.now()}
	for _, title := range order {
		metrics := panels[title]
		names := make([]string, 0, len(metrics))
		for name := range metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		panel := Panel{Title: title, Metrics: make([]Metric, 0, len(names))}
		for _, name := range names {
			panel.Metrics = append(panel.Metrics, Metric{
				Name:     name,
				Value:    metrics[name],
				Severity: a.severityFor(name, metrics[name]),
			})
		}
		dash.Panels = append(dash.Panels, panel)
	}
	return dash
}

// collect returns per-panel metrics, pulling sources only when the cache
// has expired.
func (a *Aggregator) collect(ctx context.Context) map[string]map[string]float64 {
	a.mu.Lock()
	ttl := a.CacheTTL
	if ttl <= 0 {
		ttl = DefaultMetricsCacheTTL
	}
	if a.cached != nil && a.now().Sub(a.cachedAt) < ttl {
		cached := a.cached
		a.mu.Unlock()
		return cached
	}
	order := append([]string(nil), a.order...)
	sources := make(map[string]PanelSource, len(a.sources))
	for title, src := range a.sources {
		sources[title] = src
	}
	a.mu.Unlock()

	fresh := make(map[string]map[string]float64, len(order))
	for _, title := range order {
		fresh[title] = sources[title](ctx)
	}

	a.mu.Lock()
	a.cached = fresh
	a.cachedAt = a.now()
	a.mu.Unlock()
	return fresh
}

func (a *Aggregator) severityFor(name string, value float64) string {
	a.mu.Lock()
	t, ok := a.thresholds[name]
	a.mu.Unlock()
	if !ok {
		return "normal"
	}
	if t.Ascending {
		switch {
		case value >= t.Critical:
			return string(SeverityCritical)
		case value >= t.Warning:
			return string(SeverityWarning)
		}
		return "normal"
	}
	switch {
	case value <= t.Critical:
		return string(SeverityCritical)
	case value <= t.Warning:
		return string(SeverityWarning)
	}
	return "normal"
}

// Package monitor is the monitoring core: the alert rule loop, periodic
// health checks, notification channels, and the dashboard aggregator.
package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openkokkai/billtracker/observability"
)

// DefaultEvaluationInterval is the rule loop tick.
const DefaultEvaluationInterval = 300 * time.Second

// Severity of a rule and its alerts.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertRule is one evaluated condition. ConditionExpr is a CEL predicate
// over the numeric metrics of the dashboard snapshot, e.g.
// "fetch_failure_rate > 0.5".
type AlertRule struct {
	RuleID                  string   `json:"rule_id"`
	AlertType               string   `json:"alert_type"`
	ConditionExpr           string   `json:"condition_expr"`
	Threshold               float64  `json:"threshold"`
	Severity                Severity `json:"severity"`
	EvaluationWindowSeconds int      `json:"evaluation_window_seconds"`
	NotificationChannels    []string `json:"notification_channels"`
	Enabled                 bool     `json:"enabled"`
	CooldownSeconds         int      `json:"cooldown_seconds"`
}

// Alert is one triggered instance of a rule.
type Alert struct {
	AlertID        string         `json:"alert_id"`
	RuleID         string         `json:"rule_id"`
	AlertType      string         `json:"alert_type"`
	Severity       Severity       `json:"severity"`
	Message        string         `json:"message"`
	Details        map[string]any `json:"details,omitempty"`
	TriggeredAt    time.Time      `json:"triggered_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string         `json:"acknowledged_by,omitempty"`
}

// MetricsSource supplies the numeric snapshot the rules evaluate over.
type MetricsSource func(ctx context.Context) map[string]float64

// Engine runs the rule-evaluation loop. Rules fire at most once per
// cooldown window; alerts auto-resolve on the first tick where their
// condition no longer holds. All alert state is mutated only by the loop.
type Engine struct {
	Interval time.Duration

	mu          sync.Mutex
	rules       map[string]*AlertRule
	active      map[string]*Alert
	history     []*Alert
	cooldownEnd map[string]time.Time

	source    MetricsSource
	notifiers map[string]Notifier
	pred      predicateEngine
	now       func() time.Time
}

func NewEngine(source MetricsSource, notifiers ...Notifier) *Engine {
	e := &Engine{
		Interval:    DefaultEvaluationInterval,
		rules:       make(map[string]*AlertRule),
		active:      make(map[string]*Alert),
		cooldownEnd: make(map[string]time.Time),
		source:      source,
		notifiers:   make(map[string]Notifier),
		now:         time.Now,
	}
	for _, n := range notifiers {
		e.notifiers[n.Name()] = n
	}
	return e
}

// AddRule registers or replaces a rule.
func (e *Engine) AddRule(rule *AlertRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.RuleID] = rule
}

func (e *Engine) RemoveRule(ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rules, ruleID)
}

// Run evaluates rules until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	interval := e.Interval
	if interval <= 0 {
		interval = DefaultEvaluationInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.EvaluateOnce(ctx)
		}
	}
}

type firedAlert struct {
	alert    *Alert
	channels []string
}

// EvaluateOnce runs a single tick: evaluate every enabled rule against the
// current snapshot, trigger new alerts outside their cooldown, and resolve
// active alerts whose condition cleared.
func (e *Engine) EvaluateOnce(ctx context.Context) {
	metrics := e.source(ctx)
	now := e.now()

	e.mu.Lock()
	triggered := make(map[string]bool)
	var fired []firedAlert
	for _, rule := range e.rules {
		if !rule.Enabled {
			continue
		}
		hold, err := e.pred.eval(rule.ConditionExpr, metrics)
		if err != nil {
			log.Printf("monitor: rule %s: %v", rule.RuleID, err)
			continue
		}
		if !hold {
			continue
		}
		key := rule.RuleID + "\x00" + rule.AlertType
		triggered[key] = true
		if now.Before(e.cooldownEnd[key]) {
			continue
		}
		alert := &Alert{
			AlertID:   uuid.NewString(),
			RuleID:    rule.RuleID,
			AlertType: rule.AlertType,
			Severity:  rule.Severity,
			Message:   rule.AlertType + ": " + rule.ConditionExpr,
			Details: map[string]any{
				"condition": rule.ConditionExpr,
				"threshold": rule.Threshold,
			},
			TriggeredAt: now,
		}
		e.active[key] = alert
		e.history = append(e.history, alert)
		e.cooldownEnd[key] = now.Add(time.Duration(rule.CooldownSeconds) * time.Second)
		observability.AlertsTriggered.WithLabelValues(string(rule.Severity)).Inc()
		fired = append(fired, firedAlert{alert: alert, channels: rule.NotificationChannels})
	}

	for key, alert := range e.active {
		if triggered[key] {
			continue
		}
		t := now
		alert.ResolvedAt = &t
		delete(e.active, key)
	}
	observability.AlertsActive.Set(float64(len(e.active)))
	e.mu.Unlock()

	for _, f := range fired {
		e.dispatch(ctx, f.alert, f.channels)
	}
}

// dispatch sends the alert to the log channel plus the rule's channels.
// Failures log and continue; they never block evaluation.
func (e *Engine) dispatch(ctx context.Context, alert *Alert, channels []string) {
	names := append([]string{"log"}, channels...)
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		n, ok := e.notifiers[name]
		if !ok {
			continue
		}
		if err := n.Notify(ctx, alert); err != nil {
			observability.NotificationFailures.WithLabelValues(name).Inc()
			log.Printf("monitor: notify %s for alert %s: %v", name, alert.AlertID, err)
		}
	}
}

// ActiveAlerts returns a snapshot of unresolved alerts.
func (e *Engine) ActiveAlerts() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Alert, 0, len(e.active))
	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// History returns up to limit alerts, oldest first. A non-positive limit
// returns everything.
func (e *Engine) History(limit int) []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	alerts := e.history
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[len(alerts)-limit:]
	}
	out := make([]*Alert, len(alerts))
	for i, a := range alerts {
		cp := *a
		out[i] = &cp
	}
	return out
}

// Acknowledge marks an alert in history as acknowledged.
func (e *Engine) Acknowledge(alertID, by string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range e.history {
		if a.AlertID == alertID {
			t := e.now()
			a.AcknowledgedAt = &t
			a.AcknowledgedBy = by
			return true
		}
	}
	return false
}

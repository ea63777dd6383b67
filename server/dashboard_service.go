package main

import (
	"context"

	"github.com/openkokkai/billtracker/cache"
	"github.com/openkokkai/billtracker/monitor"
	"github.com/openkokkai/billtracker/store"
	"github.com/openkokkai/billtracker/taskqueue"
)

// buildAggregator wires the dashboard panels over the store, queue, cache,
// health checker, and the pipeline's audit feed. The same aggregator feeds
// /api/dashboard, the websocket stream, and the alert engine's metric
// snapshot.
func buildAggregator(st store.Store, queue *taskqueue.Queue, members *cache.MemberCache,
	health *monitor.HealthChecker, pipeline *Pipeline) *monitor.Aggregator {
	agg := monitor.NewAggregator("国会法案トラッカー")

	agg.RegisterPanel("bills", func(ctx context.Context) map[string]float64 {
		bills, err := st.ListBills(ctx, nil, 0)
		if err != nil {
			return map[string]float64{"bill_store_errors": 1}
		}
		out := map[string]float64{"bills_total": float64(len(bills))}
		var qualitySum float64
		for _, b := range bills {
			out["bills_status_"+string(b.Status)]++
			qualitySum += b.DataQualityScore
		}
		if len(bills) > 0 {
			out["avg_quality_score"] = qualitySum / float64(len(bills))
		}
		return out
	})

	agg.RegisterPanel("queue", func(_ context.Context) map[string]float64 {
		out := make(map[string]float64)
		for priority, stats := range queue.QueueStats() {
			out["queue_depth_"+string(priority)] = float64(stats.Length)
			out["queue_failed_"+string(priority)] = float64(stats.Failed)
		}
		return out
	})

	agg.RegisterPanel("cache", func(ctx context.Context) map[string]float64 {
		out := map[string]float64{"cache_degraded": 0}
		stats, err := members.Stats(ctx)
		if err != nil {
			out["cache_degraded"] = 1
			return out
		}
		if stats.Degraded {
			out["cache_degraded"] = 1
		}
		out["cache_keys_total"] = float64(stats.TotalKeys)
		return out
	})

	agg.RegisterPanel("health", func(_ context.Context) map[string]float64 {
		out := make(map[string]float64)
		for name, result := range health.Results() {
			v := 0.0
			if result.Success {
				v = 1
			}
			out["health_"+name] = v
		}
		return out
	})

	agg.RegisterPanel("quality", pipeline.QualityMetrics)

	agg.SetThreshold(monitor.Threshold{Metric: "queue_depth_urgent", Warning: 50, Critical: 200, Ascending: true})
	agg.SetThreshold(monitor.Threshold{Metric: "audit_overall_score", Warning: 0.7, Critical: 0.5, Ascending: false})
	agg.SetThreshold(monitor.Threshold{Metric: "cache_degraded", Warning: 1, Critical: 1, Ascending: true})
	agg.SetThreshold(monitor.Threshold{Metric: "avg_quality_score", Warning: 0.7, Critical: 0.5, Ascending: false})

	return agg
}

// defaultAlertRules are the rules installed at startup. Operators can add
// more through the engine before Run.
func defaultAlertRules() []*monitor.AlertRule {
	return []*monitor.AlertRule{
		{
			RuleID:               "cache-degraded",
			AlertType:            "cache_degraded",
			ConditionExpr:        "cache_degraded >= 1.0",
			Severity:             monitor.SeverityCritical,
			NotificationChannels: []string{"email", "slack"},
			Enabled:              true,
			CooldownSeconds:      1800,
		},
		{
			RuleID:               "quality-floor",
			AlertType:            "low_data_quality",
			ConditionExpr:        "avg_quality_score < 0.5 && bills_total > 0.0",
			Severity:             monitor.SeverityWarning,
			NotificationChannels: []string{"email"},
			Enabled:              true,
			CooldownSeconds:      3600,
		},
		{
			RuleID:               "queue-backlog",
			AlertType:            "queue_backlog",
			ConditionExpr:        "queue_depth_urgent > 200.0",
			Severity:             monitor.SeverityWarning,
			NotificationChannels: []string{"slack"},
			Enabled:              true,
			CooldownSeconds:      1800,
		},
	}
}

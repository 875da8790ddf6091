package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var moderationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automoderate_moderations_total",
	Help: "number of content items moderated, by final decision",
}, []string{"decision"})

var moderationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "automoderate_moderation_duration_seconds",
	Help:    "duration of a full moderation call",
	Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
})

var ruleMatches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automoderate_rule_matches_total",
	Help: "number of rule matches, by rule type",
}, []string{"rule_type"})

var aiCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automoderate_ai_calls_total",
	Help: "number of AI backend calls, by kind and outcome",
}, []string{"kind", "outcome"})

var resultCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automoderate_result_cache_requests_total",
	Help: "result cache lookups, by result",
}, []string{"result"})

var resultCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "automoderate_result_cache_size",
	Help: "number of entries in the in-process result cache",
})

package stats

import "github.com/prometheus/client_golang/prometheus"

// Collector adapts Stats to prometheus.Collector so a host application can
// scrape Recovery Stats alongside its own metrics (§12.1).
type Collector struct {
	stats *Stats

	totalOps      *prometheus.Desc
	successOps    *prometheus.Desc
	failedOps     *prometheus.Desc
	retriedOps    *prometheus.Desc
	errorCategory *prometheus.Desc
	avgRetryCount *prometheus.Desc
	avgRetryDelay *prometheus.Desc
	breakerTrips  *prometheus.Desc
	budgetExhaust *prometheus.Desc
	deadLetters   *prometheus.Desc
}

// NewCollector wraps s for Prometheus registration.
func NewCollector(s *Stats) *Collector {
	ns := "syncengine"
	return &Collector{
		stats:         s,
		totalOps:      prometheus.NewDesc(ns+"_operations_total", "Total sync operations attempted.", nil, nil),
		successOps:    prometheus.NewDesc(ns+"_operations_success_total", "Successful sync operations.", nil, nil),
		failedOps:     prometheus.NewDesc(ns+"_operations_failed_total", "Failed sync operations.", nil, nil),
		retriedOps:    prometheus.NewDesc(ns+"_operations_retried_total", "Operations that required at least one retry.", nil, nil),
		errorCategory: prometheus.NewDesc(ns+"_errors_by_category_total", "Classifier error counts by category.", []string{"category"}, nil),
		avgRetryCount: prometheus.NewDesc(ns+"_average_retry_count", "Average retries per retried operation.", nil, nil),
		avgRetryDelay: prometheus.NewDesc(ns+"_average_retry_delay_ms", "Average backoff delay in milliseconds.", nil, nil),
		breakerTrips:  prometheus.NewDesc(ns+"_circuit_breaker_trips_total", "Circuit breaker CLOSED->OPEN transitions.", nil, nil),
		budgetExhaust: prometheus.NewDesc(ns+"_retry_budget_exhaustion_total", "Retry budget exhaustion events.", nil, nil),
		deadLetters:   prometheus.NewDesc(ns+"_dead_letters_total", "Operations moved to the dead-letter queue.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalOps
	ch <- c.successOps
	ch <- c.failedOps
	ch <- c.retriedOps
	ch <- c.errorCategory
	ch <- c.avgRetryCount
	ch <- c.avgRetryDelay
	ch <- c.breakerTrips
	ch <- c.budgetExhaust
	ch <- c.deadLetters
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.totalOps, prometheus.CounterValue, float64(snap.TotalOperations))
	ch <- prometheus.MustNewConstMetric(c.successOps, prometheus.CounterValue, float64(snap.SuccessfulOperations))
	ch <- prometheus.MustNewConstMetric(c.failedOps, prometheus.CounterValue, float64(snap.FailedOperations))
	ch <- prometheus.MustNewConstMetric(c.retriedOps, prometheus.CounterValue, float64(snap.RetriedOperations))
	for category, count := range snap.ErrorsByCategory {
		ch <- prometheus.MustNewConstMetric(c.errorCategory, prometheus.CounterValue, float64(count), string(category))
	}
	ch <- prometheus.MustNewConstMetric(c.avgRetryCount, prometheus.GaugeValue, snap.AverageRetryCount)
	ch <- prometheus.MustNewConstMetric(c.avgRetryDelay, prometheus.GaugeValue, snap.AverageRetryDelayMs)
	ch <- prometheus.MustNewConstMetric(c.breakerTrips, prometheus.CounterValue, float64(snap.CircuitBreakerTrips))
	ch <- prometheus.MustNewConstMetric(c.budgetExhaust, prometheus.CounterValue, float64(snap.RetryBudgetExhausted))
	ch <- prometheus.MustNewConstMetric(c.deadLetters, prometheus.CounterValue, float64(snap.DeadLetterCount))
}

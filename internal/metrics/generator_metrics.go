package metrics

import "github.com/prometheus/client_golang/prometheus"

// GeneratorMetrics is a Prometheus collector set named after the
// generator's in-process Statistics counters. The generator keeps its own
// Statistics and does not call the Record methods, so these series move
// only when a caller records into them.
type GeneratorMetrics struct {
	updatesGenerated   prometheus.Counter
	tradesGenerated    prometheus.Counter
	quotesGenerated    prometheus.Counter
	snapshotsGenerated prometheus.Counter
	tradesSkipped      prometheus.Counter
}

// NewGeneratorMetrics creates and registers the generator collector set.
func NewGeneratorMetrics(registry *prometheus.Registry) *GeneratorMetrics {
	m := &GeneratorMetrics{
		updatesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_generator_updates_generated_total",
			Help: "Total number of synthetic quote/trade updates generated.",
		}),
		tradesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_generator_trades_generated_total",
			Help: "Total number of synthetic trades generated.",
		}),
		quotesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_generator_quotes_generated_total",
			Help: "Total number of synthetic quote updates generated.",
		}),
		snapshotsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_generator_snapshots_generated_total",
			Help: "Total number of book snapshots generated.",
		}),
		tradesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_generator_trades_skipped_total",
			Help: "Total number of trade draws skipped for lack of a two-sided market.",
		}),
	}

	registry.MustRegister(
		m.updatesGenerated,
		m.tradesGenerated,
		m.quotesGenerated,
		m.snapshotsGenerated,
		m.tradesSkipped,
	)

	return m
}

// RecordUpdate increments the update counter and, depending on isTrade,
// either the trade or quote counter.
func (m *GeneratorMetrics) RecordUpdate(isTrade bool) {
	m.updatesGenerated.Inc()
	if isTrade {
		m.tradesGenerated.Inc()
	} else {
		m.quotesGenerated.Inc()
	}
}

// RecordSnapshot increments the snapshot counter.
func (m *GeneratorMetrics) RecordSnapshot() {
	m.snapshotsGenerated.Inc()
}

// RecordTradeSkipped increments the skipped-trade counter.
func (m *GeneratorMetrics) RecordTradeSkipped() {
	m.tradesSkipped.Inc()
}

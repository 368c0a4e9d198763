package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BatchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainpay_batches_created_total",
		Help: "Batches created by the batch builder",
	})

	MigrationsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainpay_migrations_processed_total",
		Help: "Migration saga outcomes",
	}, []string{"outcome"}) // completed, failed, rolled_back, retried

	JournalEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainpay_journal_entries_total",
		Help: "Journal entries applied",
	}, []string{"direction"})

	ConfirmationsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainpay_confirmations_in_flight",
		Help: "Migrations currently awaiting on-chain confirmation",
	})
)

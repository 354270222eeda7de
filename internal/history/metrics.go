package history

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_history_hits_total",
		Help: "Fingerprint lookups that found an entry",
	})

	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_history_misses_total",
		Help: "Fingerprint lookups that found nothing",
	})

	cacheInsertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_history_inserts_total",
		Help: "Entries stored by a first insert",
	})

	cacheDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_history_duplicates_total",
		Help: "Inserts discarded because the fingerprint was already present",
	})

	cacheIntegrityFaultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_history_integrity_faults_total",
		Help: "Duplicate inserts whose payload differed from the stored entry",
	})

	decodeSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_history_decode_skipped_total",
		Help: "Persisted entries skipped because they failed to decode",
	})
)

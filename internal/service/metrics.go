// metrics.go — Prometheus-метрики конвейера миграции.
//
//   - archive_migrator_files_ingested_total — регистрации файлов по источнику и исходу
//   - archive_migrator_transitions_total — переходы состояний леджера
//   - archive_migrator_step_duration_seconds — длительность шагов download/analyze/upload
//   - archive_migrator_workers_in_flight — занятые воркеры
//   - archive_migrator_batch_runs_total — прогоны RunBatch по результату
package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	filesIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archive_migrator_files_ingested_total",
		Help: "Количество регистраций файлов в леджере",
	}, []string{"origin", "outcome"}) // outcome: accepted, duplicate, rejected

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archive_migrator_transitions_total",
		Help: "Количество переходов состояний в леджере",
	}, []string{"to"})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "archive_migrator_step_duration_seconds",
		Help:    "Длительность шагов конвейера",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 0.05s … ~410s
	}, []string{"step"})

	workersInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "archive_migrator_workers_in_flight",
		Help: "Количество воркеров, обрабатывающих файл",
	})

	batchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archive_migrator_batch_runs_total",
		Help: "Количество прогонов конвейера",
	}, []string{"result"}) // result: ok, error
)

package queue

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Queue collectors, registered on the default registry and labelled by task kind.
var (
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "toko",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Ready tasks waiting per kind, sampled when queue stats are requested.",
	}, []string{"kind"})
	QueueProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toko",
		Subsystem: "queue",
		Name:      "processed_total",
		Help:      "Task deliveries by kind and outcome: ok, retry or dead.",
	}, []string{"kind", "status"})
	QueueDLQSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "toko",
		Subsystem: "queue",
		Name:      "dlq_size",
		Help:      "Dead-lettered tasks per kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(QueueDepth, QueueProcessedTotal, QueueDLQSize)
}

// SyncDLQGauge sets QueueDLQSize from the persisted DLQ, e.g. after a restart.
func SyncDLQGauge(ctx context.Context, store Store) error {
	if store == nil {
		return ErrStoreUnavailable
	}
	sizes, err := store.QueueDlqSizeByKind(ctx)
	if err != nil {
		return err
	}
	for kind, size := range sizes {
		QueueDLQSize.WithLabelValues(queueLabel(kind)).Set(float64(size))
	}
	return nil
}

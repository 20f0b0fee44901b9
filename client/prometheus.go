package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var prometheusOperationsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "gatt_operations_total",
	Help: "Total number of submitted operations",
})

var prometheusOperationsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "gatt_operations_active",
	Help: "Number of queued and in-flight operations",
})

var prometheusOperationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "gatt_operation_duration_seconds",
	Help:    "Duration of operations from admission to terminal resolution",
	Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
})

var prometheusOperationTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "gatt_operation_timeouts_total",
	Help: "Total number of operations resolved by timeout",
})

var prometheusOperationsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "gatt_operations_cancelled_total",
	Help: "Total number of operations cancelled by the caller",
})

var prometheusDisconnectFlushedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "gatt_disconnect_flushed_operations_total",
	Help: "Total number of operations failed by a disconnect flush",
})

var prometheusNotificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "gatt_notifications_total",
	Help: "Total number of received unsolicited notifications",
})

var prometheusNotificationsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "gatt_notifications_dropped_total",
	Help: "Total number of notifications dropped due to slow subscribers",
})

var prometheusLongWriteRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "gatt_long_write_chunk_retries_total",
	Help: "Total number of retried long-write chunks",
})

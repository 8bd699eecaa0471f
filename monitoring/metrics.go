package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	reservationOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_operations_total",
			Help: "Total reservation operations",
		},
		[]string{"operation", "status"},
	)

	sagaOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_saga_outcomes_total",
			Help: "Terminal purchase saga outcomes",
		},
		[]string{"outcome"},
	)

	chargeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payment_charge_duration_seconds",
			Help:    "Duration of payment gateway charges",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	activeReservations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_reservations_total",
			Help: "Current number of active reservations",
		},
	)

	orphanedSagas = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orphaned_sagas_total",
			Help: "Current number of sagas awaiting reconciliation",
		},
	)

	expiredReservations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "expired_reservations_total",
			Help: "Reservations expired by the sweeper",
		},
	)
)

type Monitor struct {
	redis *redis.Client
}

// NewMonitor starts a background collector that samples gauge values
// from Redis. A nil client disables collection but Track methods
// still record counters.
func NewMonitor(redisClient *redis.Client) *Monitor {
	monitor := &Monitor{redis: redisClient}

	if redisClient != nil {
		go monitor.collectMetrics()
	}

	return monitor
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		ctx := context.Background()
		m.collectStoreMetrics(ctx)
	}
}

func (m *Monitor) collectStoreMetrics(ctx context.Context) {
	active, _ := m.redis.ZCard(ctx, "reservations:active").Result()
	activeReservations.Set(float64(active))

	orphans, _ := m.redis.SCard(ctx, "sagas:orphans").Result()
	orphanedSagas.Set(float64(orphans))
}

func (m *Monitor) TrackReservation(operation, status string) {
	if m == nil {
		return
	}
	reservationOperations.WithLabelValues(operation, status).Inc()
}

func (m *Monitor) TrackSagaOutcome(outcome string) {
	if m == nil {
		return
	}
	sagaOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Monitor) TrackCharge(duration time.Duration) {
	if m == nil {
		return
	}
	chargeDuration.Observe(duration.Seconds())
}

func (m *Monitor) TrackExpired(count int) {
	if m == nil {
		return
	}
	expiredReservations.Add(float64(count))
}

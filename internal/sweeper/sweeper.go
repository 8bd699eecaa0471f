package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ticket-checkout/internal/reservation"
	"ticket-checkout/internal/status"
	"ticket-checkout/monitoring"
)

// ExpiryNotifier tells a buyer their hold lapsed.
type ExpiryNotifier interface {
	ReservationExpired(buyerID, reservationID string)
}

// Sweeper releases reservations whose TTL lapsed before the buyer paid.
// It goes through the store's idempotent Expire transition, so racing the
// orchestrator on the same reservation can never release capacity twice.
type Sweeper struct {
	store     reservation.Store
	notifier  ExpiryNotifier
	monitor   *monitoring.Monitor
	interval  time.Duration
	batchSize int64

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func New(store reservation.Store, notifier ExpiryNotifier, monitor *monitoring.Monitor, interval time.Duration, batchSize int64) *Sweeper {
	return &Sweeper{
		store:     store,
		notifier:  notifier,
		monitor:   monitor,
		interval:  interval,
		batchSize: batchSize,
		stopChan:  make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			expired, err := s.SweepOnce(context.Background())
			if err != nil {
				slog.Error("sweep cycle failed", "error", err)
				continue
			}
			if expired > 0 {
				slog.Info("expired stale reservations", "count", expired)
			}
		case <-s.stopChan:
			return
		}
	}
}

// SweepOnce expires one batch of due reservations and returns how many were
// processed. Reservations confirmed between listing and expiry are skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	ids, err := s.store.ListExpired(ctx, time.Now(), s.batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		res, err := s.store.Get(ctx, id)
		if err != nil {
			if !errors.Is(err, status.ErrReservationNotFound) {
				slog.Error("failed to load due reservation", "reservation_id", id, "error", err)
			}
			continue
		}
		if res.State.Terminal() {
			continue
		}

		if err := s.store.Expire(ctx, id); err != nil {
			if errors.Is(err, status.ErrAlreadyTerminal) || errors.Is(err, status.ErrReservationNotFound) {
				continue
			}
			slog.Error("failed to expire reservation", "reservation_id", id, "error", err)
			continue
		}
		expired++

		if s.notifier != nil {
			s.notifier.ReservationExpired(res.BuyerID, id)
		}
	}

	if expired > 0 {
		s.monitor.TrackExpired(expired)
	}
	return expired, nil
}

func (s *Sweeper) Shutdown() {
	close(s.stopChan)
	s.wg.Wait()
}

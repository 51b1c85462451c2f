// Package reclaimer runs the periodic sweeps that settle stale bookings
// outside the request path: no-show reservations past their grace period
// and active reservations whose window has elapsed. The sweeps mutate desks
// through the occupancy coordinator so they contend for the same per-desk
// locks as user requests.
package reclaimer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"deskhub-backend/config"
	"deskhub-backend/internal/notification"
	"deskhub-backend/internal/occupancy"
	"deskhub-backend/internal/store"
)

// Service drives the reclamation sweeps on a fixed interval.
type Service struct {
	cfg     *config.Config
	store   store.Store
	coord   *occupancy.Coordinator
	notices *notification.WorkerPool // nil disables push notices

	now func() time.Time // test hook
}

// NewService creates a reclaimer.
func NewService(cfg *config.Config, s store.Store, coord *occupancy.Coordinator, notices *notification.WorkerPool) *Service {
	return &Service{
		cfg:     cfg,
		store:   s,
		coord:   coord,
		notices: notices,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run loops until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Reclaimer.Enabled {
		zap.S().Info("reclaimer is disabled, not starting")
		return
	}
	zap.S().Infow("reclaimer started", "interval", s.cfg.Reclaimer.Interval)

	ticker := time.NewTicker(s.cfg.Reclaimer.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.S().Info("reclaimer shutting down")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs all sweeps a single time. Each sweep is independently
// idempotent: re-running against settled records is a no-op.
func (s *Service) SweepOnce(ctx context.Context) {
	s.sweepNoShows(ctx)
	s.sweepExpiredActive(ctx)
	s.sweepCheckInReminders(ctx)
}

// sweepNoShows settles confirmed reservations whose holder never checked in
// before the grace deadline. Hot-desk pending claims have no reservation
// and are deliberately not swept; they end only by explicit cancellation.
func (s *Service) sweepNoShows(ctx context.Context) {
	deadline := s.now().Add(-s.cfg.Occupancy.NoShowGrace)
	candidates, err := s.store.NoShowCandidates(ctx, deadline)
	if err != nil {
		zap.S().Errorw("list no-show candidates", "error", err)
		return
	}
	for _, r := range candidates {
		if err := s.coord.ReclaimNoShow(ctx, r.ID); err != nil {
			zap.S().Warnw("reclaim no-show", "reservation_id", r.ID, "error", err)
			continue
		}
		zap.S().Infow("reservation settled as no-show", "reservation_id", r.ID, "desk_id", r.DeskID)
		s.notify(r.UserID, fmt.Sprintf(
			"Your reservation for desk %s was released: no check-in before %s.",
			r.Desk.Name, r.StartTime.Add(s.cfg.Occupancy.NoShowGrace).Format("15:04")))
	}
}

// sweepExpiredActive force-completes active reservations whose booked
// window has elapsed, closing the session exactly as a manual release.
func (s *Service) sweepExpiredActive(ctx context.Context) {
	expired, err := s.store.ExpiredActive(ctx, s.now())
	if err != nil {
		zap.S().Errorw("list expired reservations", "error", err)
		return
	}
	for _, r := range expired {
		if err := s.coord.ForceComplete(ctx, r.ID); err != nil {
			zap.S().Warnw("force-complete reservation", "reservation_id", r.ID, "error", err)
			continue
		}
		zap.S().Infow("expired reservation force-completed", "reservation_id", r.ID, "desk_id", r.DeskID)
	}
}

// sweepCheckInReminders pushes a notice when a reservation's check-in
// window opens. The reminder timestamp makes the sweep idempotent.
func (s *Service) sweepCheckInReminders(ctx context.Context) {
	now := s.now()
	candidates, err := s.store.ReminderCandidates(ctx, now, s.cfg.Occupancy.CheckInEarly)
	if err != nil {
		zap.S().Errorw("list reminder candidates", "error", err)
		return
	}
	for i := range candidates {
		r := &candidates[i]
		r.ReminderSentAt = &now
		if err := s.store.SaveReservation(ctx, r); err != nil {
			zap.S().Errorw("mark reminder sent", "reservation_id", r.ID, "error", err)
			continue
		}
		s.notify(r.UserID, fmt.Sprintf(
			"Check-in for desk %s is open. Your reservation starts at %s.",
			r.Desk.Name, r.StartTime.Format("15:04")))
	}
}

func (s *Service) notify(userID int64, message string) {
	if s.notices == nil {
		return
	}
	s.notices.Dispatch(notification.Notice{UserID: userID, Message: message})
}

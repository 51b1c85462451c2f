package occupancy

import (
	"context"
	"errors"
	"time"

	"deskhub-backend/internal/model"
	"deskhub-backend/internal/store"
)

// CreateReservation books a time-boxed slot. Conflicts are detected with
// the half-open interval rule on both the desk (no double-booking the desk)
// and the user (no double-booking oneself across desks); a conflict names
// the blocking desk and window.
func (c *Coordinator) CreateReservation(ctx context.Context, userID, deskID int64, start, end time.Time) (*model.Reservation, error) {
	if !start.Before(end) {
		return nil, preconditionf("reservation start must be before its end")
	}
	desk, err := c.getDesk(ctx, deskID)
	if err != nil {
		return nil, err
	}
	if _, err := c.getUser(ctx, userID); err != nil {
		return nil, err
	}

	// The desk lock serializes the conflict check with the insert, so two
	// concurrent bookings for the same desk cannot both pass the check. The
	// cross-desk user check still races against a simultaneous booking on a
	// different desk, which at worst double-books the user, never a desk.
	var res *model.Reservation
	err = c.withDeskLock(deskID, func() error {
		return c.store.Transaction(ctx, func(tx store.Store) error {
			if blocking, err := tx.FindDeskConflict(ctx, deskID, start, end); err == nil {
				return conflictf("desk %s is already reserved %s to %s",
					desk.Name,
					blocking.StartTime.Format(time.RFC3339),
					blocking.EndTime.Format(time.RFC3339))
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if blocking, err := tx.FindUserConflict(ctx, userID, start, end); err == nil {
				return conflictf("you already have a reservation on desk %s %s to %s",
					blocking.Desk.Name,
					blocking.StartTime.Format(time.RFC3339),
					blocking.EndTime.Format(time.RFC3339))
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			res = &model.Reservation{
				UserID:    userID,
				DeskID:    deskID,
				StartTime: start,
				EndTime:   end,
				Status:    model.ReservationConfirmed,
			}
			return tx.CreateReservation(ctx, res)
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Coordinator) getReservation(ctx context.Context, id int64) (*model.Reservation, error) {
	r, err := c.store.GetReservation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundf("reservation %d not found", id)
		}
		return nil, err
	}
	return r, nil
}

// CheckIn claims the reserved desk within the check-in window. With a
// confirmation device attached the reservation parks in pending_confirmation
// and the desk in pending_verification until the physical confirm arrives;
// without one the whole transition happens synchronously, including session
// creation.
func (c *Coordinator) CheckIn(ctx context.Context, reservationID, userID int64) (*model.Reservation, error) {
	probe, err := c.getReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if probe.UserID != userID {
		return nil, unauthorizedf("reservation %d belongs to another user", reservationID)
	}
	user, err := c.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var (
		res        *model.Reservation
		desk       *model.Desk
		needPrompt bool
	)
	err = c.withDeskLock(probe.DeskID, func() error {
		r, err := c.getReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if r.Status != model.ReservationConfirmed {
			return preconditionf("reservation is %s, not confirmed", r.Status)
		}
		now := c.now()
		windowOpen := r.StartTime.Add(-c.cfg.CheckInEarly)
		windowClose := r.StartTime.Add(c.cfg.CheckInLate)
		if now.Before(windowOpen) || now.After(windowClose) {
			return preconditionf("check-in window is closed; check-in opens at %s",
				windowOpen.Format(time.RFC3339))
		}
		d, err := c.getDesk(ctx, r.DeskID)
		if err != nil {
			return err
		}
		if d.Status != model.StatusAvailable {
			return preconditionf("desk %s is not available (status %s)", d.Name, d.Status)
		}
		if other, err := c.store.FindUserClaimedDesk(ctx, userID); err == nil {
			return conflictf("you already claim desk %s; release it before checking in", other.Name)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		err = c.store.Transaction(ctx, func(tx store.Store) error {
			r.CheckedInAt = &now
			d.CurrentUserID = &userID
			if d.Device != nil {
				r.Status = model.ReservationPendingConfirmation
				d.Status = model.StatusPendingVerification
				needPrompt = true
			} else {
				r.Status = model.ReservationActive
				d.Status = model.StatusOccupied
			}
			if err := tx.SaveReservation(ctx, r); err != nil {
				return err
			}
			if err := tx.SaveDesk(ctx, d); err != nil {
				return err
			}
			if d.Device != nil {
				return nil
			}
			sess := &model.UsageSession{
				UserID:           userID,
				DeskID:           d.ID,
				StartedAt:        now,
				LastHeightChange: now,
				Source:           model.SourceReservation,
			}
			if err := tx.CreateSession(ctx, sess); err != nil {
				return err
			}
			return tx.AppendDeskLog(ctx, &model.DeskLog{
				DeskID: d.ID, UserID: &userID,
				Action: model.ActionCheckedIn, CreatedAt: now,
			})
		})
		if err != nil {
			return err
		}
		res, desk = r, d
		return nil
	})
	if err != nil {
		return nil, err
	}

	if needPrompt {
		c.promptConfirm(desk, user)
	} else {
		c.devices.ShowInUse(desk.ID, desk.Name, user.DisplayName())
	}
	return res, nil
}

// CheckOut completes an active reservation: closes the session with its
// final segment flushed, releases the desk and records the checkout time.
func (c *Coordinator) CheckOut(ctx context.Context, reservationID, userID int64) (*model.Reservation, error) {
	probe, err := c.getReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if probe.UserID != userID {
		return nil, unauthorizedf("reservation %d belongs to another user", reservationID)
	}

	var res *model.Reservation
	err = c.withDeskLock(probe.DeskID, func() error {
		r, err := c.getReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if r.Status != model.ReservationActive {
			return preconditionf("reservation is %s, not active", r.Status)
		}
		d, err := c.getDesk(ctx, r.DeskID)
		if err != nil {
			return err
		}
		now := c.now()

		err = c.store.Transaction(ctx, func(tx store.Store) error {
			r.Status = model.ReservationCompleted
			r.CheckedOutAt = &now
			if err := tx.SaveReservation(ctx, r); err != nil {
				return err
			}
			sess, err := tx.LatestOpenSession(ctx, userID, d.ID)
			switch {
			case err == nil:
				flushSegment(sess, d.CurrentHeight, c.cfg.SittingThresholdCm, now)
				sess.EndedAt = &now
				if err := tx.SaveSession(ctx, sess); err != nil {
					return err
				}
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
			if d.ClaimedBy(userID) {
				d.CurrentUserID = nil
				d.Status = model.StatusAvailable
				if err := tx.SaveDesk(ctx, d); err != nil {
					return err
				}
			}
			return tx.AppendDeskLog(ctx, &model.DeskLog{
				DeskID: d.ID, UserID: &userID,
				Action: model.ActionCheckedOut, CreatedAt: now,
			})
		})
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.devices.ShowAvailable(probe.DeskID)
	return res, nil
}

// CancelReservation withdraws a booking that has not yet produced a claim.
// Mid-check-in and active reservations settle through CancelPendingClaim
// and CheckOut instead, so desk and session state is never touched here.
func (c *Coordinator) CancelReservation(ctx context.Context, reservationID, userID int64) error {
	r, err := c.getReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	if r.UserID != userID {
		return unauthorizedf("reservation %d belongs to another user", reservationID)
	}
	if r.Status != model.ReservationPending && r.Status != model.ReservationConfirmed {
		return preconditionf("reservation in status %s cannot be cancelled", r.Status)
	}
	now := c.now()
	r.Status = model.ReservationCancelled
	r.CancelledAt = &now
	r.CancelledByID = &userID
	return c.store.SaveReservation(ctx, r)
}

// ReclaimNoShow settles a confirmed reservation whose holder never checked
// in before the grace deadline. Idempotent: an already-settled or
// checked-in reservation is left alone.
func (c *Coordinator) ReclaimNoShow(ctx context.Context, reservationID int64) error {
	probe, err := c.getReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	return c.withDeskLock(probe.DeskID, func() error {
		r, err := c.getReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if r.Status != model.ReservationConfirmed || r.CheckedInAt != nil {
			return nil
		}
		now := c.now()
		return c.store.Transaction(ctx, func(tx store.Store) error {
			r.Status = model.ReservationNoShow
			r.CancelledAt = &now
			r.CancelledByID = nil // system action
			if err := tx.SaveReservation(ctx, r); err != nil {
				return err
			}
			return tx.AppendDeskLog(ctx, &model.DeskLog{
				DeskID: r.DeskID, Action: model.ActionNoShow, CreatedAt: now,
			})
		})
	})
}

// ForceComplete settles an active reservation whose window has elapsed:
// final accounting is flushed exactly as in a manual release, the session
// closes, the desk claim clears and the reservation completes. Idempotent.
func (c *Coordinator) ForceComplete(ctx context.Context, reservationID int64) error {
	probe, err := c.getReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	var released bool
	err = c.withDeskLock(probe.DeskID, func() error {
		r, err := c.getReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if r.Status != model.ReservationActive {
			return nil
		}
		d, err := c.getDesk(ctx, r.DeskID)
		if err != nil {
			return err
		}
		now := c.now()

		return c.store.Transaction(ctx, func(tx store.Store) error {
			r.Status = model.ReservationCompleted
			r.CheckedOutAt = &now
			if err := tx.SaveReservation(ctx, r); err != nil {
				return err
			}
			sess, err := tx.LatestOpenSession(ctx, r.UserID, d.ID)
			switch {
			case err == nil:
				flushSegment(sess, d.CurrentHeight, c.cfg.SittingThresholdCm, now)
				sess.EndedAt = &now
				if err := tx.SaveSession(ctx, sess); err != nil {
					return err
				}
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
			if d.ClaimedBy(r.UserID) {
				d.CurrentUserID = nil
				d.Status = model.StatusAvailable
				if err := tx.SaveDesk(ctx, d); err != nil {
					return err
				}
				released = true
			}
			return tx.AppendDeskLog(ctx, &model.DeskLog{
				DeskID: d.ID, Action: model.ActionAutoCompleted, CreatedAt: now,
			})
		})
	})
	if err != nil {
		return err
	}
	if released {
		c.devices.ShowAvailable(probe.DeskID)
	}
	return nil
}

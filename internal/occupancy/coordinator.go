package occupancy

import (
	"context"
	"errors"
	"time"

	"github.com/EagleChen/mapmutex"
	"go.uber.org/zap"

	"deskhub-backend/config"
	"deskhub-backend/internal/model"
	"deskhub-backend/internal/motor"
	"deskhub-backend/internal/store"
)

// DeviceNotifier is the outbound surface of the device gateway used by the
// coordinator. All directives are best-effort: a dropped message never
// affects the committed occupancy state.
type DeviceNotifier interface {
	Connected() bool
	AwaitConnected(timeout time.Duration) bool
	ShowConfirmButton(deskID int64, deskName, userName string)
	ShowInUse(deskID int64, deskName, userName string)
	ShowAvailable(deskID int64)
	UpdateHeight(deskID int64, height float64, isMoving bool, userName string)
	CancelPendingVerification(deskID int64)
}

// MotorClient is the desk motor control surface the coordinator depends on.
type MotorClient interface {
	GetState(ctx context.Context, externalID string) (*motor.State, error)
	SetHeight(ctx context.Context, externalID string, heightCm float64) error
}

// Coordinator is the state machine governing desk claims, height control
// authorization and sitting/standing accounting. All operations that
// read-then-write a desk's state are serialized by a per-desk keyed lock;
// the device-confirmation path and the reclaimer go through the same
// methods and therefore the same discipline.
type Coordinator struct {
	store   store.Store
	devices DeviceNotifier
	motor   MotorClient
	cfg     config.OccupancyConfig
	locks   *mapmutex.Mutex

	now func() time.Time // test hook
}

// New creates a Coordinator.
func New(s store.Store, devices DeviceNotifier, m MotorClient, cfg config.OccupancyConfig) *Coordinator {
	return &Coordinator{
		store:   s,
		devices: devices,
		motor:   m,
		cfg:     cfg,
		locks:   mapmutex.NewMapMutex(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// withDeskLock serializes fn against all other operations on the same desk.
// The keyed lock retries with backoff internally; exhausting the retries
// surfaces a retryable conflict instead of blocking the caller.
func (c *Coordinator) withDeskLock(deskID int64, fn func() error) error {
	if !c.locks.TryLock(deskID) {
		return conflictf("desk %d is busy, please retry", deskID)
	}
	defer c.locks.Unlock(deskID)
	return fn()
}

func (c *Coordinator) getDesk(ctx context.Context, deskID int64) (*model.Desk, error) {
	desk, err := c.store.GetDesk(ctx, deskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundf("desk %d not found", deskID)
		}
		return nil, err
	}
	return desk, nil
}

func (c *Coordinator) getUser(ctx context.Context, userID int64) (*model.User, error) {
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundf("user %d not found", userID)
		}
		return nil, err
	}
	return user, nil
}

// StartClaim begins an ad-hoc hot-desk claim. With a confirmation device
// attached the desk enters pending_verification and the user must press the
// physical button; without one the claim is occupied immediately. The usage
// session opens either way.
func (c *Coordinator) StartClaim(ctx context.Context, deskID, userID int64) (*model.Desk, error) {
	user, err := c.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var desk *model.Desk
	err = c.withDeskLock(deskID, func() error {
		d, err := c.getDesk(ctx, deskID)
		if err != nil {
			return err
		}
		if d.Status != model.StatusAvailable {
			if d.ClaimedBy(userID) {
				return conflictf("you already hold the claim on desk %s", d.Name)
			}
			return preconditionf("desk %s is not available (status %s)", d.Name, d.Status)
		}
		if other, err := c.store.FindUserClaimedDesk(ctx, userID); err == nil {
			return conflictf("you already claim desk %s; release it before claiming another", other.Name)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := c.now()
		d.CurrentUserID = &userID
		d.CurrentUser = user
		if d.Device != nil {
			d.Status = model.StatusPendingVerification
		} else {
			d.Status = model.StatusOccupied
		}

		err = c.store.Transaction(ctx, func(tx store.Store) error {
			if err := tx.SaveDesk(ctx, d); err != nil {
				return err
			}
			sess := &model.UsageSession{
				UserID:           userID,
				DeskID:           deskID,
				StartedAt:        now,
				LastHeightChange: now,
				Source:           model.SourceHotdesk,
			}
			if err := tx.CreateSession(ctx, sess); err != nil {
				return err
			}
			h := d.CurrentHeight
			return tx.AppendDeskLog(ctx, &model.DeskLog{
				DeskID: deskID, UserID: &userID,
				Action: model.ActionHotdeskStarted, Height: &h, CreatedAt: now,
			})
		})
		if err != nil {
			return err
		}
		desk = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The prompt is published outside the lock and after commit: the claim
	// stands even if the device never shows it.
	if desk.Status == model.StatusPendingVerification {
		c.promptConfirm(desk, user)
	}
	return desk, nil
}

// promptConfirm waits briefly for gateway connectivity, then asks the desk
// device to show its confirm prompt. Best-effort.
func (c *Coordinator) promptConfirm(desk *model.Desk, user *model.User) {
	if !c.devices.AwaitConnected(c.cfg.GatewayWait) {
		zap.S().Warnw("device gateway not connected, confirm prompt skipped",
			"desk_id", desk.ID, "wait", c.cfg.GatewayWait)
		return
	}
	c.devices.ShowConfirmButton(desk.ID, desk.Name, user.DisplayName())
}

// ConfirmClaim promotes a pending claim to full occupancy. It is invoked by
// the device confirmation handler and by the explicit confirm endpoint.
// When the pending claim came from a reservation check-in, the reservation
// activates and its usage session is created here, not at check-in time.
func (c *Coordinator) ConfirmClaim(ctx context.Context, deskID int64) (*model.Desk, error) {
	var desk *model.Desk
	err := c.withDeskLock(deskID, func() error {
		d, err := c.getDesk(ctx, deskID)
		if err != nil {
			return err
		}
		if d.Status != model.StatusPendingVerification {
			return preconditionf("desk %s has no claim pending verification (status %s)", d.Name, d.Status)
		}
		now := c.now()
		claimant := d.CurrentUserID

		err = c.store.Transaction(ctx, func(tx store.Store) error {
			d.Status = model.StatusOccupied
			if err := tx.SaveDesk(ctx, d); err != nil {
				return err
			}
			res, err := tx.FindPendingConfirmation(ctx, deskID)
			switch {
			case err == nil:
				res.Status = model.ReservationActive
				if err := tx.SaveReservation(ctx, res); err != nil {
					return err
				}
				sess := &model.UsageSession{
					UserID:           res.UserID,
					DeskID:           deskID,
					StartedAt:        now,
					LastHeightChange: now,
					Source:           model.SourceReservation,
				}
				if err := tx.CreateSession(ctx, sess); err != nil {
					return err
				}
				if err := tx.AppendDeskLog(ctx, &model.DeskLog{
					DeskID: deskID, UserID: &res.UserID,
					Action: model.ActionCheckedIn, CreatedAt: now,
				}); err != nil {
					return err
				}
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
			return tx.AppendDeskLog(ctx, &model.DeskLog{
				DeskID: deskID, UserID: claimant,
				Action: model.ActionClaimConfirmed, CreatedAt: now,
			})
		})
		if err != nil {
			return err
		}
		desk = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	name := ""
	if desk.CurrentUser != nil {
		name = desk.CurrentUser.DisplayName()
	}
	c.devices.ShowInUse(desk.ID, desk.Name, name)
	return desk, nil
}

// CancelPendingClaim abandons a pending_verification claim. A reservation
// mid-check-in reverts to confirmed with its check-in timestamp cleared so
// the user can retry within the window.
func (c *Coordinator) CancelPendingClaim(ctx context.Context, deskID, userID int64) error {
	err := c.withDeskLock(deskID, func() error {
		d, err := c.getDesk(ctx, deskID)
		if err != nil {
			return err
		}
		if d.Status != model.StatusPendingVerification {
			return preconditionf("desk %s has no claim pending verification (status %s)", d.Name, d.Status)
		}
		if !d.ClaimedBy(userID) {
			return unauthorizedf("only the pending claimant may cancel the claim on desk %s", d.Name)
		}
		now := c.now()
		height := d.CurrentHeight

		return c.store.Transaction(ctx, func(tx store.Store) error {
			d.CurrentUserID = nil
			d.Status = model.StatusAvailable
			if err := tx.SaveDesk(ctx, d); err != nil {
				return err
			}
			res, err := tx.FindPendingConfirmation(ctx, deskID)
			switch {
			case err == nil:
				res.Status = model.ReservationConfirmed
				res.CheckedInAt = nil
				if err := tx.SaveReservation(ctx, res); err != nil {
					return err
				}
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
			// A hot-desk claim opened its session at StartClaim; close it.
			sess, err := tx.LatestOpenSession(ctx, userID, deskID)
			switch {
			case err == nil:
				flushSegment(sess, height, c.cfg.SittingThresholdCm, now)
				sess.EndedAt = &now
				if err := tx.SaveSession(ctx, sess); err != nil {
					return err
				}
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
			return tx.AppendDeskLog(ctx, &model.DeskLog{
				DeskID: deskID, UserID: &userID,
				Action: model.ActionClaimCancelled, CreatedAt: now,
			})
		})
	})
	if err != nil {
		return err
	}
	c.devices.CancelPendingVerification(deskID)
	return nil
}

// EndClaim releases the desk and closes the open usage session, flushing
// the final time segment. Divergence between the desk record and the ledger
// is tolerated by trusting the session when one exists.
func (c *Coordinator) EndClaim(ctx context.Context, deskID, userID int64) error {
	err := c.withDeskLock(deskID, func() error {
		d, err := c.getDesk(ctx, deskID)
		if err != nil {
			return err
		}
		sess, serr := c.store.LatestOpenSession(ctx, userID, deskID)
		if serr != nil && !errors.Is(serr, store.ErrNotFound) {
			return serr
		}
		hasSession := serr == nil
		if !d.ClaimedBy(userID) && !hasSession {
			return unauthorizedf("you hold no claim and no open session on desk %s", d.Name)
		}
		now := c.now()
		height := d.CurrentHeight

		return c.store.Transaction(ctx, func(tx store.Store) error {
			if hasSession {
				flushSegment(sess, height, c.cfg.SittingThresholdCm, now)
				sess.EndedAt = &now
				if err := tx.SaveSession(ctx, sess); err != nil {
					return err
				}
			}
			d.CurrentUserID = nil
			d.Status = model.StatusAvailable
			if err := tx.SaveDesk(ctx, d); err != nil {
				return err
			}
			return tx.AppendDeskLog(ctx, &model.DeskLog{
				DeskID: deskID, UserID: &userID,
				Action: model.ActionHotdeskEnded, CreatedAt: now,
			})
		})
	})
	if err != nil {
		return err
	}
	c.devices.ShowAvailable(deskID)
	return nil
}

// SetHeight moves the desk for its current claimant. The elapsed segment is
// attributed to the bucket of the height that held before the move. The
// motor is commanded before any state is persisted: on motor failure
// nothing changes and the caller may retry.
func (c *Coordinator) SetHeight(ctx context.Context, deskID, userID int64, target float64) (*model.Desk, error) {
	var desk *model.Desk
	err := c.withDeskLock(deskID, func() error {
		d, err := c.getDesk(ctx, deskID)
		if err != nil {
			return err
		}
		if !d.ClaimedBy(userID) {
			return unauthorizedf("only the current claimant may move desk %s", d.Name)
		}
		if !d.HeightInBounds(target) {
			return preconditionf("height %.1f is outside desk %s range [%.1f, %.1f]",
				target, d.Name, d.MinHeight, d.MaxHeight)
		}
		if err := c.motor.SetHeight(ctx, d.ExternalID, target); err != nil {
			return upstream("desk motor rejected the height command", err)
		}

		now := c.now()
		prev := d.CurrentHeight

		err = c.store.Transaction(ctx, func(tx store.Store) error {
			sess, err := tx.LatestOpenSession(ctx, userID, deskID)
			switch {
			case err == nil:
				flushSegment(sess, prev, c.cfg.SittingThresholdCm, now)
				sess.LastHeightChange = now
				sess.PositionChanges++
				if err := tx.SaveSession(ctx, sess); err != nil {
					return err
				}
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
			d.CurrentHeight = target
			d.Status = model.StatusMoving
			if err := tx.SaveDesk(ctx, d); err != nil {
				return err
			}
			h := target
			return tx.AppendDeskLog(ctx, &model.DeskLog{
				DeskID: deskID, UserID: &userID,
				Action: model.ActionHeightChanged, Height: &h, CreatedAt: now,
			})
		})
		if err != nil {
			return err
		}
		desk = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	if desk.Device != nil {
		name := ""
		if desk.CurrentUser != nil {
			name = desk.CurrentUser.DisplayName()
		}
		c.devices.UpdateHeight(deskID, target, true, name)
	}
	return desk, nil
}

// Movement is the live motor state reported by PollMovement.
type Movement struct {
	Height      float64 `json:"height"`
	Speed       int     `json:"speed"`
	Moving      bool    `json:"moving"`
	MotorStatus string  `json:"motor_status"`
}

// PollMovement reconciles the desk record with the live motor state. Safe
// to invoke repeatedly: once the motor reports zero speed the transient
// moving status settles back to occupied and stays there.
func (c *Coordinator) PollMovement(ctx context.Context, deskID int64) (*Movement, error) {
	var (
		mv      Movement
		settled bool
		desk    *model.Desk
	)
	err := c.withDeskLock(deskID, func() error {
		d, err := c.getDesk(ctx, deskID)
		if err != nil {
			return err
		}
		st, err := c.motor.GetState(ctx, d.ExternalID)
		if err != nil {
			return upstream("desk motor state query failed", err)
		}
		mv = Movement{
			Height:      float64(st.PositionMM) / 10,
			Speed:       st.SpeedMMS,
			Moving:      st.SpeedMMS != 0,
			MotorStatus: st.NormalizedStatus(),
		}
		d.CurrentHeight = mv.Height
		if !mv.Moving && d.Status == model.StatusMoving {
			d.Status = model.StatusOccupied
			settled = true
		}
		if err := c.store.SaveDesk(ctx, d); err != nil {
			return err
		}
		desk = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	if settled && desk.Device != nil {
		name := ""
		if desk.CurrentUser != nil {
			name = desk.CurrentUser.DisplayName()
		}
		c.devices.UpdateHeight(deskID, mv.Height, false, name)
	}
	return &mv, nil
}

// Usage is the live view over a desk's open session with the current
// segment projected forward. Nothing is persisted by a read.
type Usage struct {
	Active          bool       `json:"active_session"`
	UserID          int64      `json:"user_id,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	SittingSeconds  int64      `json:"sitting_seconds"`
	StandingSeconds int64      `json:"standing_seconds"`
	PositionChanges int        `json:"position_changes"`
	Source          string     `json:"source,omitempty"`
}

// DeskUsage returns the projected usage for a desk's open session, if any.
func (c *Coordinator) DeskUsage(ctx context.Context, deskID int64) (*Usage, error) {
	d, err := c.getDesk(ctx, deskID)
	if err != nil {
		return nil, err
	}
	sess, err := c.store.LatestOpenSessionForDesk(ctx, deskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Usage{Active: false}, nil
		}
		return nil, err
	}
	sit, stand := projectTotals(sess, d.CurrentHeight, c.cfg.SittingThresholdCm, c.now())
	started := sess.StartedAt
	return &Usage{
		Active:          true,
		UserID:          sess.UserID,
		StartedAt:       &started,
		SittingSeconds:  sit,
		StandingSeconds: stand,
		PositionChanges: sess.PositionChanges,
		Source:          sess.Source,
	}, nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"deskhub-backend/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB
	Transaction(ctx context.Context, fn func(tx Store) error) error

	// Desks
	GetDesk(ctx context.Context, id int64) (*model.Desk, error)
	SaveDesk(ctx context.Context, desk *model.Desk) error
	ListDesks(ctx context.Context) ([]model.Desk, error)
	FindUserClaimedDesk(ctx context.Context, userID int64) (*model.Desk, error)
	AvailableDesks(ctx context.Context, start, end time.Time) ([]model.Desk, error)

	// Users
	GetUser(ctx context.Context, id int64) (*model.User, error)

	// Sessions
	CreateSession(ctx context.Context, s *model.UsageSession) error
	SaveSession(ctx context.Context, s *model.UsageSession) error
	LatestOpenSession(ctx context.Context, userID, deskID int64) (*model.UsageSession, error)
	LatestOpenSessionForDesk(ctx context.Context, deskID int64) (*model.UsageSession, error)

	// Reservations
	GetReservation(ctx context.Context, id int64) (*model.Reservation, error)
	CreateReservation(ctx context.Context, r *model.Reservation) error
	SaveReservation(ctx context.Context, r *model.Reservation) error
	ListUserReservations(ctx context.Context, userID int64, date *time.Time) ([]model.Reservation, error)
	FindDeskConflict(ctx context.Context, deskID int64, start, end time.Time) (*model.Reservation, error)
	FindUserConflict(ctx context.Context, userID int64, start, end time.Time) (*model.Reservation, error)
	FindPendingConfirmation(ctx context.Context, deskID int64) (*model.Reservation, error)
	NoShowCandidates(ctx context.Context, deadline time.Time) ([]model.Reservation, error)
	ExpiredActive(ctx context.Context, now time.Time) ([]model.Reservation, error)
	ReminderCandidates(ctx context.Context, now time.Time, early time.Duration) ([]model.Reservation, error)

	// Devices
	UpdateDeviceByAddr(ctx context.Context, hardwareAddr string, online bool, seen time.Time) error
	GetDeviceByAddr(ctx context.Context, hardwareAddr string) (*model.DeskDevice, error)

	// Audit log
	AppendDeskLog(ctx context.Context, entry *model.DeskLog) error

	// Push subscriptions
	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
	UserSubscriptions(ctx context.Context, userID int64) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB { return s.db }

// Transaction runs fn inside a database transaction, with a Store bound to
// the transactional connection.
func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// --- Desks ---

func (s *gormStore) GetDesk(ctx context.Context, id int64) (*model.Desk, error) {
	var desk model.Desk
	err := s.db.WithContext(ctx).
		Preload("Device").
		Preload("CurrentUser").
		First(&desk, id).Error
	if err != nil {
		return nil, fmt.Errorf("fetch desk %d: %w", id, translate(err))
	}
	return &desk, nil
}

func (s *gormStore) SaveDesk(ctx context.Context, desk *model.Desk) error {
	// Select the mutable columns explicitly so clearing CurrentUserID to nil
	// is persisted rather than skipped as a zero value.
	return s.db.WithContext(ctx).Model(desk).
		Select("status", "current_user_id", "current_height", "updated_at").
		Updates(map[string]any{
			"status":          desk.Status,
			"current_user_id": desk.CurrentUserID,
			"current_height":  desk.CurrentHeight,
			"updated_at":      time.Now().UTC(),
		}).Error
}

func (s *gormStore) ListDesks(ctx context.Context) ([]model.Desk, error) {
	var desks []model.Desk
	err := s.db.WithContext(ctx).
		Preload("Device").
		Preload("CurrentUser").
		Order("name").
		Find(&desks).Error
	return desks, err
}

// FindUserClaimedDesk returns the desk currently claimed by the user, or
// ErrNotFound when the user holds no claim.
func (s *gormStore) FindUserClaimedDesk(ctx context.Context, userID int64) (*model.Desk, error) {
	var desk model.Desk
	err := s.db.WithContext(ctx).
		Where("current_user_id = ?", userID).
		First(&desk).Error
	if err != nil {
		return nil, translate(err)
	}
	return &desk, nil
}

// AvailableDesks returns desks bookable for the [start, end) window: not in
// maintenance or error, and free of blocking reservations overlapping the
// window under the half-open rule.
func (s *gormStore) AvailableDesks(ctx context.Context, start, end time.Time) ([]model.Desk, error) {
	var desks []model.Desk
	sub := s.db.Model(&model.Reservation{}).
		Select("desk_id").
		Where("status IN ?", blockingStatuses()).
		Where("start_time < ? AND end_time > ?", end, start)
	err := s.db.WithContext(ctx).
		Preload("Device").
		Where("status NOT IN ?", []model.DeskStatus{model.StatusMaintenance, model.StatusError}).
		Where("id NOT IN (?)", sub).
		Order("name").
		Find(&desks).Error
	return desks, err
}

// --- Users ---

func (s *gormStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, fmt.Errorf("fetch user %d: %w", id, translate(err))
	}
	return &user, nil
}

// --- Sessions ---

func (s *gormStore) CreateSession(ctx context.Context, sess *model.UsageSession) error {
	return s.db.WithContext(ctx).Create(sess).Error
}

func (s *gormStore) SaveSession(ctx context.Context, sess *model.UsageSession) error {
	return s.db.WithContext(ctx).Save(sess).Error
}

// LatestOpenSession returns the most recently started open session for the
// (user, desk) pair. The invariant is at most one open session per pair, but
// historical inconsistencies are tolerated by ordering instead of assuming
// uniqueness.
func (s *gormStore) LatestOpenSession(ctx context.Context, userID, deskID int64) (*model.UsageSession, error) {
	var sess model.UsageSession
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND desk_id = ? AND ended_at IS NULL", userID, deskID).
		Order("started_at DESC").
		First(&sess).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sess, nil
}

func (s *gormStore) LatestOpenSessionForDesk(ctx context.Context, deskID int64) (*model.UsageSession, error) {
	var sess model.UsageSession
	err := s.db.WithContext(ctx).
		Where("desk_id = ? AND ended_at IS NULL", deskID).
		Order("started_at DESC").
		First(&sess).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sess, nil
}

// --- Reservations ---

func blockingStatuses() []model.ReservationStatus {
	return []model.ReservationStatus{
		model.ReservationConfirmed,
		model.ReservationActive,
		model.ReservationPendingConfirmation,
	}
}

func (s *gormStore) GetReservation(ctx context.Context, id int64) (*model.Reservation, error) {
	var r model.Reservation
	err := s.db.WithContext(ctx).
		Preload("Desk").
		Preload("Desk.Device").
		Preload("User").
		First(&r, id).Error
	if err != nil {
		return nil, fmt.Errorf("fetch reservation %d: %w", id, translate(err))
	}
	return &r, nil
}

func (s *gormStore) CreateReservation(ctx context.Context, r *model.Reservation) error {
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *gormStore) SaveReservation(ctx context.Context, r *model.Reservation) error {
	return s.db.WithContext(ctx).Omit("User", "Desk").Save(r).Error
}

func (s *gormStore) ListUserReservations(ctx context.Context, userID int64, date *time.Time) ([]model.Reservation, error) {
	q := s.db.WithContext(ctx).
		Preload("Desk").
		Where("user_id = ?", userID)
	if date != nil {
		dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
		q = q.Where("start_time >= ? AND start_time < ?", dayStart, dayStart.AddDate(0, 0, 1))
	}
	var out []model.Reservation
	err := q.Order("start_time").Find(&out).Error
	return out, err
}

// FindDeskConflict returns a blocking reservation on the desk overlapping
// [start, end), or ErrNotFound when the slot is free.
func (s *gormStore) FindDeskConflict(ctx context.Context, deskID int64, start, end time.Time) (*model.Reservation, error) {
	var r model.Reservation
	err := s.db.WithContext(ctx).
		Where("desk_id = ? AND status IN ?", deskID, blockingStatuses()).
		Where("start_time < ? AND end_time > ?", end, start).
		Order("start_time").
		First(&r).Error
	if err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

// FindUserConflict returns a blocking reservation held by the user on any
// desk overlapping [start, end), or ErrNotFound.
func (s *gormStore) FindUserConflict(ctx context.Context, userID int64, start, end time.Time) (*model.Reservation, error) {
	var r model.Reservation
	err := s.db.WithContext(ctx).
		Preload("Desk").
		Where("user_id = ? AND status IN ?", userID, blockingStatuses()).
		Where("start_time < ? AND end_time > ?", end, start).
		Order("start_time").
		First(&r).Error
	if err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

// FindPendingConfirmation returns the reservation mid-check-in on the desk,
// if any. At most one can exist because the desk state machine admits a
// single pending claim.
func (s *gormStore) FindPendingConfirmation(ctx context.Context, deskID int64) (*model.Reservation, error) {
	var r model.Reservation
	err := s.db.WithContext(ctx).
		Where("desk_id = ? AND status = ?", deskID, model.ReservationPendingConfirmation).
		Order("start_time DESC").
		First(&r).Error
	if err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

// NoShowCandidates returns confirmed, never-checked-in reservations whose
// start time is older than the deadline.
func (s *gormStore) NoShowCandidates(ctx context.Context, deadline time.Time) ([]model.Reservation, error) {
	var out []model.Reservation
	err := s.db.WithContext(ctx).
		Preload("Desk").
		Preload("Desk.Device").
		Where("status = ? AND checked_in_at IS NULL AND start_time < ?", model.ReservationConfirmed, deadline).
		Find(&out).Error
	return out, err
}

// ExpiredActive returns active reservations whose booked window has elapsed.
func (s *gormStore) ExpiredActive(ctx context.Context, now time.Time) ([]model.Reservation, error) {
	var out []model.Reservation
	err := s.db.WithContext(ctx).
		Preload("Desk").
		Preload("Desk.Device").
		Where("status = ? AND end_time < ?", model.ReservationActive, now).
		Find(&out).Error
	return out, err
}

// ReminderCandidates returns confirmed reservations whose check-in window
// has opened and that have not yet been reminded.
func (s *gormStore) ReminderCandidates(ctx context.Context, now time.Time, early time.Duration) ([]model.Reservation, error) {
	var out []model.Reservation
	err := s.db.WithContext(ctx).
		Preload("Desk").
		Where("status = ? AND reminder_sent_at IS NULL", model.ReservationConfirmed).
		Where("start_time <= ? AND start_time > ?", now.Add(early), now).
		Find(&out).Error
	return out, err
}

// --- Devices ---

func (s *gormStore) UpdateDeviceByAddr(ctx context.Context, hardwareAddr string, online bool, seen time.Time) error {
	status := "offline"
	if online {
		status = "online"
	}
	res := s.db.WithContext(ctx).Model(&model.DeskDevice{}).
		Where("hardware_addr = ?", hardwareAddr).
		Updates(map[string]any{"status": status, "last_seen": seen, "updated_at": seen})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) GetDeviceByAddr(ctx context.Context, hardwareAddr string) (*model.DeskDevice, error) {
	var dev model.DeskDevice
	err := s.db.WithContext(ctx).Where("hardware_addr = ?", hardwareAddr).First(&dev).Error
	if err != nil {
		return nil, translate(err)
	}
	return &dev, nil
}

// --- Audit log ---

func (s *gormStore) AppendDeskLog(ctx context.Context, entry *model.DeskLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

// --- Push subscriptions ---

func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error {
	return s.db.WithContext(ctx).Save(sub).Error
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Delete(&model.PushSubscription{}, "endpoint = ?", endpoint).Error
}

func (s *gormStore) UserSubscriptions(ctx context.Context, userID int64) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error
	return subs, err
}

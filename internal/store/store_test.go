package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"deskhub-backend/internal/db"
	"deskhub-backend/internal/model"
)

func newTestStore(t *testing.T) (Store, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(testDB))
	return NewGormStore(testDB), testDB
}

func seedBasics(t *testing.T, testDB *gorm.DB) {
	t.Helper()
	require.NoError(t, testDB.Create(&model.User{ID: 1, Username: "alice", Email: "alice@example.com"}).Error)
	require.NoError(t, testDB.Create(&model.User{ID: 2, Username: "bob", Email: "bob@example.com"}).Error)
	require.NoError(t, testDB.Create(&model.Desk{ID: 10, Name: "Desk 10", Status: model.StatusAvailable}).Error)
	require.NoError(t, testDB.Create(&model.Desk{ID: 11, Name: "Desk 11", Status: model.StatusAvailable}).Error)
}

func TestSaveDesk_ClearsClaimant(t *testing.T) {
	s, testDB := newTestStore(t)
	seedBasics(t, testDB)
	ctx := context.Background()

	desk, err := s.GetDesk(ctx, 10)
	require.NoError(t, err)
	userID := int64(1)
	desk.CurrentUserID = &userID
	desk.Status = model.StatusOccupied
	require.NoError(t, s.SaveDesk(ctx, desk))

	got, err := s.GetDesk(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentUserID)
	require.NotNil(t, got.CurrentUser)
	assert.Equal(t, "alice", got.CurrentUser.Username)

	// Clearing the claimant back to nil must actually persist.
	got.CurrentUserID = nil
	got.Status = model.StatusAvailable
	require.NoError(t, s.SaveDesk(ctx, got))

	got, err = s.GetDesk(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, got.CurrentUserID)
	assert.Equal(t, model.StatusAvailable, got.Status)
}

func TestFindUserClaimedDesk(t *testing.T) {
	s, testDB := newTestStore(t)
	seedBasics(t, testDB)
	ctx := context.Background()

	_, err := s.FindUserClaimedDesk(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	userID := int64(1)
	require.NoError(t, testDB.Model(&model.Desk{ID: 11}).Update("current_user_id", &userID).Error)

	desk, err := s.FindUserClaimedDesk(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(11), desk.ID)
}

func TestFindDeskConflict_HalfOpen(t *testing.T) {
	s, testDB := newTestStore(t)
	seedBasics(t, testDB)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, testDB.Create(&model.Reservation{
		UserID: 1, DeskID: 10, StartTime: base, EndTime: base.Add(2 * time.Hour),
		Status: model.ReservationConfirmed,
	}).Error)

	t.Run("overlap detected", func(t *testing.T) {
		_, err := s.FindDeskConflict(ctx, 10, base.Add(time.Hour), base.Add(3*time.Hour))
		assert.NoError(t, err)
	})

	t.Run("containing window detected", func(t *testing.T) {
		_, err := s.FindDeskConflict(ctx, 10, base.Add(-time.Hour), base.Add(4*time.Hour))
		assert.NoError(t, err)
	})

	t.Run("adjacent slot is free", func(t *testing.T) {
		_, err := s.FindDeskConflict(ctx, 10, base.Add(2*time.Hour), base.Add(4*time.Hour))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("other desk is free", func(t *testing.T) {
		_, err := s.FindDeskConflict(ctx, 11, base, base.Add(time.Hour))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("terminal statuses do not block", func(t *testing.T) {
		require.NoError(t, testDB.Model(&model.Reservation{}).
			Where("desk_id = ?", 10).
			Update("status", model.ReservationCancelled).Error)
		_, err := s.FindDeskConflict(ctx, 10, base, base.Add(time.Hour))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFindUserConflict(t *testing.T) {
	s, testDB := newTestStore(t)
	seedBasics(t, testDB)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, testDB.Create(&model.Reservation{
		UserID: 1, DeskID: 10, StartTime: base, EndTime: base.Add(2 * time.Hour),
		Status: model.ReservationConfirmed,
	}).Error)

	// Same user, different desk, overlapping window.
	got, err := s.FindUserConflict(ctx, 1, base.Add(time.Hour), base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "Desk 10", got.Desk.Name)

	_, err = s.FindUserConflict(ctx, 2, base, base.Add(time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAvailableDesks(t *testing.T) {
	s, testDB := newTestStore(t)
	seedBasics(t, testDB)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	// Desk 10 is reserved for the queried window; a third desk is down.
	require.NoError(t, testDB.Create(&model.Reservation{
		UserID: 1, DeskID: 10, StartTime: base, EndTime: base.Add(2 * time.Hour),
		Status: model.ReservationConfirmed,
	}).Error)
	require.NoError(t, testDB.Create(&model.Desk{
		ID: 12, Name: "Desk 12", Status: model.StatusMaintenance,
	}).Error)

	desks, err := s.AvailableDesks(ctx, base.Add(30*time.Minute), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, desks, 1)
	assert.Equal(t, int64(11), desks[0].ID)

	t.Run("clear window frees the reserved desk", func(t *testing.T) {
		desks, err := s.AvailableDesks(ctx, base.Add(3*time.Hour), base.Add(4*time.Hour))
		require.NoError(t, err)
		assert.Len(t, desks, 2)
	})
}

func TestLatestOpenSession(t *testing.T) {
	s, testDB := newTestStore(t)
	seedBasics(t, testDB)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ended := base.Add(time.Hour)

	require.NoError(t, testDB.Create(&model.UsageSession{
		UserID: 1, DeskID: 10, StartedAt: base, LastHeightChange: base,
		EndedAt: &ended, Source: model.SourceHotdesk,
	}).Error)
	require.NoError(t, testDB.Create(&model.UsageSession{
		UserID: 1, DeskID: 10, StartedAt: base.Add(2 * time.Hour),
		LastHeightChange: base.Add(2 * time.Hour), Source: model.SourceHotdesk,
	}).Error)

	sess, err := s.LatestOpenSession(ctx, 1, 10)
	require.NoError(t, err)
	assert.WithinDuration(t, base.Add(2*time.Hour), sess.StartedAt, time.Second)
	assert.True(t, sess.Open())

	_, err = s.LatestOpenSession(ctx, 2, 10)
	assert.ErrorIs(t, err, ErrNotFound)

	forDesk, err := s.LatestOpenSessionForDesk(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, forDesk.ID)
}

func TestNoShowCandidates(t *testing.T) {
	s, testDB := newTestStore(t)
	seedBasics(t, testDB)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	checkedIn := base.Add(-time.Hour)

	overdue := &model.Reservation{
		UserID: 1, DeskID: 10, StartTime: base.Add(-20 * time.Minute),
		EndTime: base.Add(time.Hour), Status: model.ReservationConfirmed,
	}
	require.NoError(t, testDB.Create(overdue).Error)
	require.NoError(t, testDB.Create(&model.Reservation{
		UserID: 2, DeskID: 11, StartTime: base.Add(-20 * time.Minute),
		EndTime: base.Add(time.Hour), Status: model.ReservationConfirmed,
		CheckedInAt: &checkedIn,
	}).Error)

	got, err := s.NoShowCandidates(ctx, base.Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, overdue.ID, got[0].ID)
	assert.Equal(t, "Desk 10", got[0].Desk.Name)
}

func TestReminderCandidates(t *testing.T) {
	s, testDB := newTestStore(t)
	seedBasics(t, testDB)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	reminded := base.Add(-time.Minute)

	soon := &model.Reservation{
		UserID: 1, DeskID: 10, StartTime: base.Add(20 * time.Minute),
		EndTime: base.Add(2 * time.Hour), Status: model.ReservationConfirmed,
	}
	require.NoError(t, testDB.Create(soon).Error)
	require.NoError(t, testDB.Create(&model.Reservation{
		UserID: 2, DeskID: 11, StartTime: base.Add(20 * time.Minute),
		EndTime: base.Add(2 * time.Hour), Status: model.ReservationConfirmed,
		ReminderSentAt: &reminded,
	}).Error)

	got, err := s.ReminderCandidates(ctx, base, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, soon.ID, got[0].ID)

	t.Run("window not open yet", func(t *testing.T) {
		got, err := s.ReminderCandidates(ctx, base.Add(-time.Hour), 30*time.Minute)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestUpdateDeviceByAddr(t *testing.T) {
	s, testDB := newTestStore(t)
	seedBasics(t, testDB)
	ctx := context.Background()

	require.NoError(t, testDB.Create(&model.DeskDevice{
		DeskID: 10, HardwareAddr: "aa:bb:cc:dd:ee:ff", Status: "offline",
	}).Error)

	seen := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateDeviceByAddr(ctx, "aa:bb:cc:dd:ee:ff", true, seen))

	dev, err := s.GetDeviceByAddr(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, "online", dev.Status)
	require.NotNil(t, dev.LastSeen)

	err = s.UpdateDeviceByAddr(ctx, "00:11:22:33:44:55", true, seen)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListUserReservations_DateFilter(t *testing.T) {
	s, testDB := newTestStore(t)
	seedBasics(t, testDB)
	ctx := context.Background()

	day1 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	require.NoError(t, testDB.Create(&model.Reservation{
		UserID: 1, DeskID: 10, StartTime: day1, EndTime: day1.Add(time.Hour),
		Status: model.ReservationConfirmed,
	}).Error)
	require.NoError(t, testDB.Create(&model.Reservation{
		UserID: 1, DeskID: 11, StartTime: day2, EndTime: day2.Add(time.Hour),
		Status: model.ReservationConfirmed,
	}).Error)

	all, err := s.ListUserReservations(ctx, 1, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onDay1, err := s.ListUserReservations(ctx, 1, &day1)
	require.NoError(t, err)
	require.Len(t, onDay1, 1)
	assert.Equal(t, int64(10), onDay1[0].DeskID)
	assert.Equal(t, "Desk 10", onDay1[0].Desk.Name)
}

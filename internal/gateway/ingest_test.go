package gateway

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

	"deskhub-backend/config"
	"deskhub-backend/internal/db"
	"deskhub-backend/internal/model"
	"deskhub-backend/internal/store"
)

type fakeConfirmer struct {
	deskIDs []int64
}

func (f *fakeConfirmer) ConfirmClaim(ctx context.Context, deskID int64) (*model.Desk, error) {
	f.deskIDs = append(f.deskIDs, deskID)
	return &model.Desk{ID: deskID}, nil
}

func newTestGateway(t *testing.T) (*MQTTGateway, *gorm.DB, *fakeConfirmer) {
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

	g := New(&config.MQTTConfig{BrokerURL: "tcp://127.0.0.1:1883", ClientID: "test"}, store.NewGormStore(testDB))
	confirmer := &fakeConfirmer{}
	g.SetConfirmer(confirmer)
	return g, testDB, confirmer
}

func TestProcessConfirm(t *testing.T) {
	g, _, confirmer := newTestGateway(t)

	t.Run("valid button press confirms the claim", func(t *testing.T) {
		g.processConfirm("desk/7/confirm", []byte(`{"action": "confirm_button"}`))
		assert.Equal(t, []int64{7}, confirmer.deskIDs)
	})

	t.Run("hardware-addressed topic form", func(t *testing.T) {
		g.processConfirm("aa:bb:cc:dd:ee:ff/desk/8/confirm", []byte(`{"action": "confirm_button"}`))
		assert.Equal(t, []int64{7, 8}, confirmer.deskIDs)
	})

	t.Run("other actions ignored", func(t *testing.T) {
		g.processConfirm("desk/9/confirm", []byte(`{"action": "ping"}`))
		assert.Equal(t, []int64{7, 8}, confirmer.deskIDs)
	})

	t.Run("malformed payload dropped", func(t *testing.T) {
		g.processConfirm("desk/9/confirm", []byte(`not json`))
		assert.Equal(t, []int64{7, 8}, confirmer.deskIDs)
	})

	t.Run("unparseable topic dropped", func(t *testing.T) {
		g.processConfirm("desk/oops/confirm", []byte(`{"action": "confirm_button"}`))
		assert.Equal(t, []int64{7, 8}, confirmer.deskIDs)
	})
}

func TestProcessStatus_Online(t *testing.T) {
	g, testDB, _ := newTestGateway(t)
	require.NoError(t, testDB.Create(&model.Desk{ID: 1, Name: "Desk 1"}).Error)
	require.NoError(t, testDB.Create(&model.DeskDevice{
		DeskID: 1, HardwareAddr: "aa:bb:cc:dd:ee:ff", Status: "offline",
	}).Error)

	g.processStatus("aa:bb:cc:dd:ee:ff/online", []byte("1"))

	var dev model.DeskDevice
	require.NoError(t, testDB.Where("hardware_addr = ?", "aa:bb:cc:dd:ee:ff").First(&dev).Error)
	assert.Equal(t, "online", dev.Status)
	require.NotNil(t, dev.LastSeen)

	g.processStatus("aa:bb:cc:dd:ee:ff/online", []byte("0"))
	require.NoError(t, testDB.Where("hardware_addr = ?", "aa:bb:cc:dd:ee:ff").First(&dev).Error)
	assert.Equal(t, "offline", dev.Status)

	// Unknown devices are ignored, not created.
	g.processStatus("00:00:00:00:00:00/online", []byte("1"))
	var count int64
	testDB.Model(&model.DeskDevice{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestProcessStatus_Temperature(t *testing.T) {
	g, testDB, _ := newTestGateway(t)
	require.NoError(t, testDB.Create(&model.Desk{ID: 1, Name: "Desk 1"}).Error)
	require.NoError(t, testDB.Create(&model.DeskDevice{
		DeskID: 1, HardwareAddr: "aa:bb:cc:dd:ee:ff", Status: "offline",
	}).Error)

	g.processStatus("aa:bb:cc:dd:ee:ff/temperature", []byte("22.5"))

	readings := g.RecentReadings("aa:bb:cc:dd:ee:ff")
	require.Len(t, readings, 1)
	assert.Equal(t, 22.5, readings[0].Temperature)

	// A reporting device is implicitly online.
	var dev model.DeskDevice
	require.NoError(t, testDB.Where("hardware_addr = ?", "aa:bb:cc:dd:ee:ff").First(&dev).Error)
	assert.Equal(t, "online", dev.Status)

	t.Run("malformed sample dropped", func(t *testing.T) {
		g.processStatus("aa:bb:cc:dd:ee:ff/temperature", []byte("warm"))
		assert.Len(t, g.RecentReadings("aa:bb:cc:dd:ee:ff"), 1)
	})

	t.Run("buffer capped at most recent samples", func(t *testing.T) {
		for i := 0; i < maxReadings+5; i++ {
			g.recordReading("aa:bb:cc:dd:ee:ff", float64(i), time.Now())
		}
		readings := g.RecentReadings("aa:bb:cc:dd:ee:ff")
		require.Len(t, readings, maxReadings)
		assert.Equal(t, float64(maxReadings+4), readings[len(readings)-1].Temperature)
	})
}

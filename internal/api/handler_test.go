package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"deskhub-backend/config"
	"deskhub-backend/internal/db"
	"deskhub-backend/internal/model"
	"deskhub-backend/internal/motor"
	"deskhub-backend/internal/occupancy"
	"deskhub-backend/internal/store"
)

type stubNotifier struct{}

func (stubNotifier) Connected() bool                           { return false }
func (stubNotifier) AwaitConnected(time.Duration) bool         { return false }
func (stubNotifier) ShowConfirmButton(int64, string, string)   {}
func (stubNotifier) ShowInUse(int64, string, string)           {}
func (stubNotifier) ShowAvailable(int64)                       {}
func (stubNotifier) UpdateHeight(int64, float64, bool, string) {}
func (stubNotifier) CancelPendingVerification(int64)           {}

type stubMotor struct{}

func (stubMotor) GetState(context.Context, string) (*motor.State, error) {
	return &motor.State{PositionMM: 750, Status: "Normal"}, nil
}

func (stubMotor) SetHeight(context.Context, string, float64) error { return nil }

func setupRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(testDB))

	cfg := config.Config{}
	cfg.ApplyDefaults()
	// Keep the limiter out of the way of rapid-fire test requests.
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000

	appStore := store.NewGormStore(testDB)
	coord := occupancy.New(appStore, stubNotifier{}, stubMotor{}, cfg.Occupancy)
	return NewRouter(appStore, coord, &cfg.Server, zap.NewNop()), testDB
}

func seedAPI(t *testing.T, testDB *gorm.DB) {
	t.Helper()
	require.NoError(t, testDB.Create(&model.User{
		ID: 1, Username: "alice", Email: "alice@example.com", FirstName: "Alice", LastName: "Kim",
	}).Error)
	require.NoError(t, testDB.Create(&model.Desk{
		ID: 10, Name: "Desk 10", Location: "Floor 2", MinHeight: 68, MaxHeight: 132,
		CurrentHeight: 75, Status: model.StatusAvailable,
	}).Error)
}

func doJSON(router *gin.Engine, method, path string, userID int64, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(userID, 10))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestListAndGetDesks(t *testing.T) {
	router, testDB := setupRouter(t)
	seedAPI(t, testDB)

	w := doJSON(router, "GET", "/api/desks", 0, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var desks []deskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &desks))
	require.Len(t, desks, 1)
	assert.Equal(t, "Desk 10", desks[0].Name)
	assert.False(t, desks[0].HasDevice)

	t.Run("single desk", func(t *testing.T) {
		w := doJSON(router, "GET", "/api/desks/10", 0, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown desk maps to 404", func(t *testing.T) {
		w := doJSON(router, "GET", "/api/desks/99", 0, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("bad id maps to 400", func(t *testing.T) {
		w := doJSON(router, "GET", "/api/desks/banana", 0, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHotDeskFlow(t *testing.T) {
	router, testDB := setupRouter(t)
	seedAPI(t, testDB)

	t.Run("missing identity rejected", func(t *testing.T) {
		w := doJSON(router, "POST", "/api/desks/10/hotdesk/start", 0, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	w := doJSON(router, "POST", "/api/desks/10/hotdesk/start", 1, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Desk deskResponse `json:"desk"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, model.StatusOccupied, resp.Desk.Status)
	require.NotNil(t, resp.Desk.CurrentUser)
	assert.Equal(t, "Alice Kim", *resp.Desk.CurrentUser)

	t.Run("repeat claim maps to 409", func(t *testing.T) {
		w := doJSON(router, "POST", "/api/desks/10/hotdesk/start", 1, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("height control", func(t *testing.T) {
		w := doJSON(router, "POST", "/api/desks/10/control", 1, gin.H{"height": 110})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = doJSON(router, "POST", "/api/desks/10/control", 1, gin.H{"height": 200})
		assert.Equal(t, http.StatusConflict, w.Code)

		w = doJSON(router, "POST", "/api/desks/10/control", 1, gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("movement poll", func(t *testing.T) {
		w := doJSON(router, "GET", "/api/desks/10/movement", 0, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var mv occupancy.Movement
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mv))
		assert.Equal(t, 75.0, mv.Height)
		assert.False(t, mv.Moving)
		assert.Equal(t, "available", mv.MotorStatus)
	})

	t.Run("usage", func(t *testing.T) {
		w := doJSON(router, "GET", "/api/desks/10/usage", 0, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var usage occupancy.Usage
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &usage))
		assert.True(t, usage.Active)
		assert.Equal(t, int64(1), usage.UserID)
	})

	w = doJSON(router, "POST", "/api/desks/10/hotdesk/end", 1, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	t.Run("ending twice maps to 403", func(t *testing.T) {
		w := doJSON(router, "POST", "/api/desks/10/hotdesk/end", 1, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestReservationEndpoints(t *testing.T) {
	router, testDB := setupRouter(t)
	seedAPI(t, testDB)

	start := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	end := start.Add(2 * time.Hour)

	w := doJSON(router, "POST", "/api/reservations", 1, gin.H{
		"desk_id": 10, "start_time": start, "end_time": end,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created reservationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, model.ReservationConfirmed, created.Status)

	t.Run("double booking maps to 409", func(t *testing.T) {
		w := doJSON(router, "POST", "/api/reservations", 1, gin.H{
			"desk_id": 10, "start_time": start, "end_time": end,
		})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("missing fields map to 400", func(t *testing.T) {
		w := doJSON(router, "POST", "/api/reservations", 1, gin.H{"desk_id": 10})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("list with date filter", func(t *testing.T) {
		w := doJSON(router, "GET", "/api/reservations?date="+start.Format("2006-01-02"), 1, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var out []reservationResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		assert.Len(t, out, 1)
	})

	t.Run("early check-in maps to 409", func(t *testing.T) {
		path := fmt.Sprintf("/api/reservations/%d/check_in", created.ID)
		w := doJSON(router, "POST", path, 1, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("cancel", func(t *testing.T) {
		path := fmt.Sprintf("/api/reservations/%d/cancel", created.ID)
		w := doJSON(router, "POST", path, 1, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestAvailableDesksEndpoint(t *testing.T) {
	router, testDB := setupRouter(t)
	seedAPI(t, testDB)

	t.Run("date required", func(t *testing.T) {
		w := doJSON(router, "GET", "/api/desks/available", 0, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	w := doJSON(router, "GET", "/api/desks/available?date=2026-03-02&start_time=09:00&end_time=17:00", 0, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var desks []deskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &desks))
	assert.Len(t, desks, 1)
}

func TestSubscriptionEndpoints(t *testing.T) {
	router, testDB := setupRouter(t)
	seedAPI(t, testDB)

	body := gin.H{
		"endpoint": "https://example.com/push",
		"keys":     gin.H{"p256dh": "key", "auth": "auth"},
	}
	w := doJSON(router, "PUT", "/api/subscriptions", 1, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(router, "GET", "/api/subscriptions", 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Endpoints []string `json:"endpoints"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, []string{"https://example.com/push"}, got.Endpoints)

	w = doJSON(router, "DELETE", "/api/subscriptions", 1, gin.H{"endpoint": "https://example.com/push"})
	require.Equal(t, http.StatusOK, w.Code)

	var count int64
	testDB.Model(&model.PushSubscription{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

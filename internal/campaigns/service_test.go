package campaigns

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rmoncada/flashsale-backend/pkg/db/models"
	"github.com/rmoncada/flashsale-backend/pkg/errors"
)

type fakeEngine struct {
	warmed    []models.Campaign
	warmupOK  bool
	closed    []string
	closeAt   time.Time
	closeLive bool
}

func (f *fakeEngine) Warmup(_ context.Context, campaign models.Campaign) (bool, error) {
	f.warmed = append(f.warmed, campaign)
	return f.warmupOK, nil
}

func (f *fakeEngine) CloseWindow(_ context.Context, campaignID string, at time.Time) (bool, error) {
	f.closed = append(f.closed, campaignID)
	f.closeAt = at
	return f.closeLive, nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Campaign{}))
	return conn
}

func newTestService(t *testing.T, engine *fakeEngine) (*Service, *gorm.DB) {
	t.Helper()
	conn := openTestDB(t)
	repo, err := NewRepo(conn)
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{Repo: repo, Engine: engine})
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	return svc, conn
}

func validInput(now time.Time) CreateInput {
	return CreateInput{
		ProductID:    uuid.New(),
		TotalStock:   100,
		StartTime:    now.Add(time.Hour),
		EndTime:      now.Add(2 * time.Hour),
		PerUserLimit: time.Minute,
	}
}

func TestCreatePersistsCampaign(t *testing.T) {
	engine := &fakeEngine{}
	svc, _ := newTestService(t, engine)
	now := svc.now()

	created, err := svc.Create(context.Background(), validInput(now))
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, int64(60), created.PerUserLimitSecs)

	loaded, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ProductID, loaded.ProductID)
	assert.Equal(t, int64(100), loaded.TotalStock)
}

func TestCreateRejectsInvalidDefinitions(t *testing.T) {
	engine := &fakeEngine{}
	svc, _ := newTestService(t, engine)
	now := svc.now()

	bad := validInput(now)
	bad.TotalStock = 0
	bad.EndTime = bad.StartTime

	_, err := svc.Create(context.Background(), bad)
	require.Error(t, err)
	typed := errors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, errors.CodeValidation, typed.Code())
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Contains(t, details, "totalStock")
	assert.Contains(t, details, "endTime")
}

func TestGetUnknownCampaign(t *testing.T) {
	svc, _ := newTestService(t, &fakeEngine{})

	_, err := svc.Get(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.As(err).Code())
}

func TestWarmupDelegatesToEngine(t *testing.T) {
	engine := &fakeEngine{warmupOK: true}
	svc, _ := newTestService(t, engine)
	created, err := svc.Create(context.Background(), validInput(svc.now()))
	require.NoError(t, err)

	seeded, err := svc.Warmup(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, seeded)
	require.Len(t, engine.warmed, 1)
	assert.Equal(t, created.ID, engine.warmed[0].ID)
	assert.Equal(t, int64(100), engine.warmed[0].TotalStock)
}

func TestWarmupRejectsEndedCampaign(t *testing.T) {
	engine := &fakeEngine{warmupOK: true}
	svc, _ := newTestService(t, engine)
	created, err := svc.Create(context.Background(), validInput(svc.now()))
	require.NoError(t, err)

	svc.now = func() time.Time { return created.EndTime.Add(time.Minute) }
	_, err = svc.Warmup(context.Background(), created.ID)
	require.Error(t, err)
	assert.Equal(t, errors.CodeCampaignClosed, errors.As(err).Code())
	assert.Empty(t, engine.warmed)
}

func TestAbortRecordsAndClosesLiveWindow(t *testing.T) {
	engine := &fakeEngine{closeLive: true}
	svc, _ := newTestService(t, engine)
	created, err := svc.Create(context.Background(), validInput(svc.now()))
	require.NoError(t, err)

	require.NoError(t, svc.Abort(context.Background(), created.ID))
	require.Len(t, engine.closed, 1)
	assert.Equal(t, created.ID.String(), engine.closed[0])

	loaded, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.AbortedAt)
	firstAbort := *loaded.AbortedAt

	// A second abort keeps the original timestamp.
	svc.now = func() time.Time { return firstAbort.Add(time.Hour) }
	require.NoError(t, svc.Abort(context.Background(), created.ID))
	loaded, err = svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, firstAbort.Unix(), loaded.AbortedAt.Unix())
}

func TestListActiveAppliesGrace(t *testing.T) {
	engine := &fakeEngine{}
	svc, conn := newTestService(t, engine)
	now := svc.now()

	repo, err := NewRepo(conn)
	require.NoError(t, err)
	seed := func(start, end time.Time) uuid.UUID {
		campaign := &models.Campaign{
			ProductID:        uuid.New(),
			TotalStock:       10,
			StartTime:        start,
			EndTime:          end,
			PerUserLimitSecs: 60,
		}
		require.NoError(t, repo.Create(context.Background(), campaign))
		return campaign.ID
	}

	running := seed(now.Add(-time.Hour), now.Add(time.Hour))
	recentlyEnded := seed(now.Add(-3*time.Hour), now.Add(-30*time.Minute))
	longEnded := seed(now.Add(-6*time.Hour), now.Add(-5*time.Hour))
	notStarted := seed(now.Add(time.Hour), now.Add(2*time.Hour))

	active, err := svc.ListActive(context.Background(), time.Hour)
	require.NoError(t, err)

	ids := make([]uuid.UUID, 0, len(active))
	for _, c := range active {
		ids = append(ids, c.ID)
	}
	assert.Contains(t, ids, running)
	assert.Contains(t, ids, recentlyEnded)
	assert.NotContains(t, ids, longEnded)
	assert.NotContains(t, ids, notStarted)
}

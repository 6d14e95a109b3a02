package deadletter

import (
	"context"
	stdErrors "errors"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rmoncada/flashsale-backend/pkg/db/models"
	"github.com/rmoncada/flashsale-backend/pkg/enums"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.DeadLetter{}))
	return conn
}

func TestRecordKeepsRawPayloadAndCause(t *testing.T) {
	repo, err := NewRepo(openTestDB(t))
	require.NoError(t, err)

	resvID := uuid.NewString()
	msg := redis.XMessage{
		ID: "5-0",
		Values: map[string]any{
			"reservation_id": resvID,
			"campaign_id":    "not-a-uuid",
		},
	}
	cause := stdErrors.New("field campaign_id: invalid UUID")

	require.NoError(t, repo.Record(context.Background(), msg, enums.DeadLetterReasonMalformed, cause, 1))

	letters, err := repo.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, resvID, letters[0].ReservationID)
	assert.Equal(t, enums.DeadLetterReasonMalformed, letters[0].FailureReason)
	require.NotNil(t, letters[0].ErrorMessage)
	assert.Contains(t, *letters[0].ErrorMessage, "campaign_id")
	assert.Contains(t, string(letters[0].Payload), "not-a-uuid")
}

func TestRecordFallsBackToEntryID(t *testing.T) {
	repo, err := NewRepo(openTestDB(t))
	require.NoError(t, err)

	msg := redis.XMessage{ID: "9-0", Values: map[string]any{"user_id": "u1"}}
	require.NoError(t, repo.Record(context.Background(), msg, enums.DeadLetterReasonRetriesExhausted, nil, 6))

	letters, err := repo.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "9-0", letters[0].ReservationID)
	assert.Equal(t, int64(6), letters[0].Attempts)
	assert.Nil(t, letters[0].ErrorMessage)
}

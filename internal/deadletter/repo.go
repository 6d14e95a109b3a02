package deadletter

import (
	"context"
	"encoding/json"
	stdErrors "errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/rmoncada/flashsale-backend/pkg/db/models"
	"github.com/rmoncada/flashsale-backend/pkg/enums"
	"github.com/rmoncada/flashsale-backend/pkg/errors"
)

// Repo stores events the materializer gave up on. Rows are append-only and
// serve manual replay or write-off.
type Repo struct {
	conn *gorm.DB
}

func NewRepo(conn *gorm.DB) (*Repo, error) {
	if conn == nil {
		return nil, stdErrors.New("db connection is required")
	}
	return &Repo{conn: conn}, nil
}

// Record persists a dead letter built from the raw stream entry. The raw
// values are kept verbatim so malformed payloads survive inspection.
func (r *Repo) Record(ctx context.Context, msg redis.XMessage, reason enums.DeadLetterReason, cause error, attempts int64) error {
	payload, err := json.Marshal(msg.Values)
	if err != nil {
		payload = []byte(`{}`)
	}

	letter := models.DeadLetter{
		ID:            uuid.New(),
		ReservationID: reservationIDOf(msg),
		Payload:       payload,
		FailureReason: reason,
		Attempts:      attempts,
	}
	if cause != nil {
		msgText := cause.Error()
		letter.ErrorMessage = &msgText
	}
	if err := r.conn.WithContext(ctx).Create(&letter).Error; err != nil {
		return errors.Wrap(errors.CodeInternal, err, "recording dead letter")
	}
	return nil
}

// List returns the most recent dead letters, newest first.
func (r *Repo) List(ctx context.Context, limit int) ([]models.DeadLetter, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []models.DeadLetter
	err := r.conn.WithContext(ctx).
		Order("failed_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "listing dead letters")
	}
	return out, nil
}

func reservationIDOf(msg redis.XMessage) string {
	if raw, ok := msg.Values["reservation_id"]; ok {
		if value, ok := raw.(string); ok {
			return value
		}
	}
	return msg.ID
}

package campaigns

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rmoncada/flashsale-backend/pkg/db/models"
	"github.com/rmoncada/flashsale-backend/pkg/errors"
)

// Repo persists campaign definitions. The durable row is the source of truth
// for reconciliation; live counters are derived from it at warmup.
type Repo struct {
	conn *gorm.DB
}

func NewRepo(conn *gorm.DB) (*Repo, error) {
	if conn == nil {
		return nil, stdErrors.New("db connection is required")
	}
	return &Repo{conn: conn}, nil
}

func (r *Repo) Create(ctx context.Context, campaign *models.Campaign) error {
	if campaign.ID == uuid.Nil {
		campaign.ID = uuid.New()
	}
	if err := r.conn.WithContext(ctx).Create(campaign).Error; err != nil {
		return errors.Wrap(errors.CodeInternal, err, "creating campaign")
	}
	return nil
}

func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	var campaign models.Campaign
	err := r.conn.WithContext(ctx).First(&campaign, "id = ?", id).Error
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.New(errors.CodeNotFound, "campaign not found")
	}
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "loading campaign")
	}
	return &campaign, nil
}

// ListActive returns campaigns whose window has started and has not been
// over for longer than grace. The trailing grace keeps recently ended
// campaigns visible to reconciliation while in-flight events drain.
func (r *Repo) ListActive(ctx context.Context, now time.Time, grace time.Duration) ([]models.Campaign, error) {
	var out []models.Campaign
	err := r.conn.WithContext(ctx).
		Where("start_time <= ? AND end_time > ?", now, now.Add(-grace)).
		Order("start_time ASC").
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "listing active campaigns")
	}
	return out, nil
}

// Abort pulls the campaign's effective end forward to now. Idempotent; a
// second abort keeps the first timestamp.
func (r *Repo) Abort(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := r.conn.WithContext(ctx).
		Model(&models.Campaign{}).
		Where("id = ? AND aborted_at IS NULL", id).
		Update("aborted_at", at)
	if res.Error != nil {
		return errors.Wrap(errors.CodeInternal, res.Error, "aborting campaign")
	}
	return nil
}

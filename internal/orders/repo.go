package orders

import (
	"context"
	stdErrors "errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rmoncada/flashsale-backend/pkg/db"
	"github.com/rmoncada/flashsale-backend/pkg/db/models"
	"github.com/rmoncada/flashsale-backend/pkg/enums"
	"github.com/rmoncada/flashsale-backend/pkg/errors"
)

const reservationConstraint = "uq_orders_reservation_id"

// Repo persists materialized orders.
type Repo struct {
	conn *gorm.DB
}

func NewRepo(conn *gorm.DB) (*Repo, error) {
	if conn == nil {
		return nil, stdErrors.New("db connection is required")
	}
	return &Repo{conn: conn}, nil
}

// CreateFromEvent inserts the order for a reservation event. A duplicate
// reservation id means a redelivered event whose first delivery already
// landed; that is reported as created=false with no error, so callers can
// acknowledge and move on.
func (r *Repo) CreateFromEvent(ctx context.Context, event ReservationEvent) (bool, error) {
	order := models.Order{
		ID:            uuid.New(),
		ReservationID: event.ReservationID,
		UserID:        event.UserID,
		CampaignID:    event.CampaignID,
		ProductID:     event.ProductID,
		RequestID:     event.RequestID,
		Status:        enums.OrderStatusConfirmed,
	}
	err := r.conn.WithContext(ctx).Create(&order).Error
	if err == nil {
		return true, nil
	}
	if db.IsUniqueViolation(err, reservationConstraint) {
		return false, nil
	}
	return false, errors.Wrap(errors.CodeInternal, err, "creating order")
}

// GetByReservationID loads the order materialized for a reservation.
func (r *Repo) GetByReservationID(ctx context.Context, reservationID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.conn.WithContext(ctx).First(&order, "reservation_id = ?", reservationID).Error
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.New(errors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "loading order")
	}
	return &order, nil
}

// ExistsForReservation reports whether a durable order exists for the
// reservation, regardless of status.
func (r *Repo) ExistsForReservation(ctx context.Context, reservationID uuid.UUID) (bool, error) {
	var count int64
	err := r.conn.WithContext(ctx).
		Model(&models.Order{}).
		Where("reservation_id = ?", reservationID).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(errors.CodeInternal, err, "checking order existence")
	}
	return count > 0, nil
}

// CountHeld returns the number of orders holding stock for a campaign.
// Failed orders released their unit, so they do not count.
func (r *Repo) CountHeld(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	var count int64
	err := r.conn.WithContext(ctx).
		Model(&models.Order{}).
		Where("campaign_id = ? AND status <> ?", campaignID, enums.OrderStatusFailed).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(errors.CodeInternal, err, "counting held orders")
	}
	return count, nil
}

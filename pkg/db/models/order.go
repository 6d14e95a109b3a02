package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/rmoncada/flashsale-backend/pkg/enums"
)

// Order is the durable system of record for a materialized reservation.
// The unique index on ReservationID is load-bearing: it is what makes
// at-least-once event delivery produce exactly-once orders.
type Order struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	ReservationID uuid.UUID         `gorm:"column:reservation_id;type:uuid;not null;uniqueIndex:uq_orders_reservation_id"`
	UserID        string            `gorm:"column:user_id;not null"`
	CampaignID    uuid.UUID         `gorm:"column:campaign_id;type:uuid;not null;index"`
	ProductID     uuid.UUID         `gorm:"column:product_id;type:uuid;not null"`
	RequestID     string            `gorm:"column:request_id;not null"`
	Status        enums.OrderStatus `gorm:"column:status;not null"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rmoncada/flashsale-backend/pkg/enums"
)

// DeadLetter captures reservation events that exceeded their retry budget or
// were malformed. Append-only; read by operational tooling for replay or
// write-off.
type DeadLetter struct {
	ID            uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	ReservationID string                 `gorm:"column:reservation_id;not null;index"`
	Payload       json.RawMessage        `gorm:"column:payload;type:jsonb;not null"`
	FailureReason enums.DeadLetterReason `gorm:"column:failure_reason;not null"`
	ErrorMessage  *string                `gorm:"column:error_message"`
	Attempts      int64                  `gorm:"column:attempts;not null;default:0"`
	FailedAt      time.Time              `gorm:"column:failed_at;autoCreateTime"`
}

func (DeadLetter) TableName() string { return "dead_letters" }

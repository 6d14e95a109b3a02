package orders

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ReservationEvent is the stream payload appended by the reserve script.
// Field names match the XADD arguments exactly.
type ReservationEvent struct {
	ReservationID uuid.UUID
	CampaignID    uuid.UUID
	ProductID     uuid.UUID
	UserID        string
	RequestID     string
	ReservedAt    time.Time
}

// decodeEvent parses a stream entry into a reservation event. Any missing or
// unparsable field makes the entry malformed; malformed entries are
// dead-lettered, never retried.
func decodeEvent(msg redis.XMessage) (ReservationEvent, error) {
	var event ReservationEvent
	var err error

	if event.ReservationID, err = fieldUUID(msg, "reservation_id"); err != nil {
		return ReservationEvent{}, err
	}
	if event.CampaignID, err = fieldUUID(msg, "campaign_id"); err != nil {
		return ReservationEvent{}, err
	}
	if event.ProductID, err = fieldUUID(msg, "product_id"); err != nil {
		return ReservationEvent{}, err
	}
	if event.UserID, err = fieldString(msg, "user_id"); err != nil {
		return ReservationEvent{}, err
	}
	if event.RequestID, err = fieldString(msg, "request_id"); err != nil {
		return ReservationEvent{}, err
	}

	raw, err := fieldString(msg, "reserved_at")
	if err != nil {
		return ReservationEvent{}, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return ReservationEvent{}, fmt.Errorf("field reserved_at: %w", err)
	}
	event.ReservedAt = time.UnixMilli(ms).UTC()
	return event, nil
}

func fieldString(msg redis.XMessage, name string) (string, error) {
	raw, ok := msg.Values[name]
	if !ok {
		return "", fmt.Errorf("field %s missing", name)
	}
	value, ok := raw.(string)
	if !ok || value == "" {
		return "", fmt.Errorf("field %s empty", name)
	}
	return value, nil
}

func fieldUUID(msg redis.XMessage, name string) (uuid.UUID, error) {
	value, err := fieldString(msg, name)
	if err != nil {
		return uuid.Nil, err
	}
	parsed, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("field %s: %w", name, err)
	}
	return parsed, nil
}

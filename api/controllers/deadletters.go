package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rmoncada/flashsale-backend/api/responses"
	"github.com/rmoncada/flashsale-backend/pkg/db/models"
	"github.com/rmoncada/flashsale-backend/pkg/logger"
)

type deadLetterLister interface {
	List(ctx context.Context, limit int) ([]models.DeadLetter, error)
}

type deadLetterResponse struct {
	ID            string          `json:"id"`
	ReservationID string          `json:"reservationId"`
	Payload       json.RawMessage `json:"payload"`
	FailureReason string          `json:"failureReason"`
	ErrorMessage  *string         `json:"errorMessage,omitempty"`
	Attempts      int64           `json:"attempts"`
	FailedAt      time.Time       `json:"failedAt"`
}

func ListDeadLetters(repo deadLetterLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, _ = strconv.Atoi(raw)
		}

		letters, err := repo.List(ctx, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := make([]deadLetterResponse, 0, len(letters))
		for _, letter := range letters {
			out = append(out, deadLetterResponse{
				ID:            letter.ID.String(),
				ReservationID: letter.ReservationID,
				Payload:       letter.Payload,
				FailureReason: string(letter.FailureReason),
				ErrorMessage:  letter.ErrorMessage,
				Attempts:      letter.Attempts,
				FailedAt:      letter.FailedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

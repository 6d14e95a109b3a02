package controllers

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rmoncada/flashsale-backend/api/responses"
	"github.com/rmoncada/flashsale-backend/api/validators"
	"github.com/rmoncada/flashsale-backend/internal/admission"
	"github.com/rmoncada/flashsale-backend/internal/reservation"
	"github.com/rmoncada/flashsale-backend/pkg/db/models"
	pkgerrors "github.com/rmoncada/flashsale-backend/pkg/errors"
	"github.com/rmoncada/flashsale-backend/pkg/logger"
)

type campaignGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
}

type admissionGate interface {
	Admit(ctx context.Context, req admission.Request) (admission.Decision, error)
}

type reserver interface {
	Reserve(ctx context.Context, campaignID, userID, requestID string) (reservation.Reservation, error)
}

type reserveRequest struct {
	UserID string `json:"userId" validate:"required,max=128"`
}

// Reserve is the hot path: admission tiers first, then the atomic reserve.
// Everything after the engine call happens asynchronously off the event
// stream.
func Reserve(campaigns campaignGetter, gate admissionGate, engine reserver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		campaignID, err := uuid.Parse(chi.URLParam(r, "campaignId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid campaign id"))
			return
		}

		var body reserveRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		campaign, err := campaigns.Get(ctx, campaignID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			ctx = logg.WithCampaignID(ctx, campaignID.String())
			ctx = logg.WithUserID(ctx, body.UserID)
		}

		decision, err := gate.Admit(ctx, admission.Request{
			CampaignID:    campaignID.String(),
			UserID:        body.UserID,
			IP:            clientIP(r),
			PerUserWindow: campaign.PerUserLimit(),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "admission check"))
			return
		}
		if !decision.Allowed {
			writeThrottled(ctx, logg, w, decision)
			return
		}

		// The client's idempotency key travels with the event as the request
		// id, so a replayed submission is traceable end to end.
		resv, err := engine.Reserve(ctx, campaignID.String(), body.UserID, r.Header.Get("Idempotency-Key"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(logg.WithField(ctx, "reservation_id", resv.ReservationID), "reservation accepted")
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, resv)
	}
}

func writeThrottled(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, decision admission.Decision) {
	if decision.RetryAfter > 0 {
		seconds := int64(decision.RetryAfter / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}
	err := pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests").
		WithDetails(map[string]any{
			"tier":         string(decision.Tier),
			"retryAfterMs": decision.RetryAfter.Milliseconds(),
		})
	responses.WriteError(ctx, logg, w, err)
}

// clientIP prefers the first forwarded hop, falling back to the socket peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

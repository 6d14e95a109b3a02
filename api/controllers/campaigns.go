package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rmoncada/flashsale-backend/api/responses"
	"github.com/rmoncada/flashsale-backend/api/validators"
	"github.com/rmoncada/flashsale-backend/internal/campaigns"
	"github.com/rmoncada/flashsale-backend/pkg/db/models"
	pkgerrors "github.com/rmoncada/flashsale-backend/pkg/errors"
	"github.com/rmoncada/flashsale-backend/pkg/logger"
)

type campaignService interface {
	Create(ctx context.Context, input campaigns.CreateInput) (*models.Campaign, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	Warmup(ctx context.Context, id uuid.UUID) (bool, error)
	Abort(ctx context.Context, id uuid.UUID) error
}

type campaignReconciler interface {
	ReconcileOne(ctx context.Context, campaign models.Campaign) error
}

type createCampaignRequest struct {
	ProductID       string    `json:"productId" validate:"required,uuid"`
	TotalStock      int64     `json:"totalStock" validate:"required,gt=0"`
	StartTime       time.Time `json:"startTime" validate:"required"`
	EndTime         time.Time `json:"endTime" validate:"required"`
	PerUserLimitSec int64     `json:"perUserLimitSec" validate:"required,gt=0"`
}

type campaignResponse struct {
	ID              string     `json:"id"`
	ProductID       string     `json:"productId"`
	TotalStock      int64      `json:"totalStock"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         time.Time  `json:"endTime"`
	PerUserLimitSec int64      `json:"perUserLimitSec"`
	AbortedAt       *time.Time `json:"abortedAt,omitempty"`
}

func toCampaignResponse(campaign *models.Campaign) campaignResponse {
	return campaignResponse{
		ID:              campaign.ID.String(),
		ProductID:       campaign.ProductID.String(),
		TotalStock:      campaign.TotalStock,
		StartTime:       campaign.StartTime,
		EndTime:         campaign.EndTime,
		PerUserLimitSec: campaign.PerUserLimitSecs,
		AbortedAt:       campaign.AbortedAt,
	}
}

func CreateCampaign(svc campaignService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var body createCampaignRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		productID, err := uuid.Parse(body.ProductID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid product id"))
			return
		}

		campaign, err := svc.Create(ctx, campaigns.CreateInput{
			ProductID:    productID,
			TotalStock:   body.TotalStock,
			StartTime:    body.StartTime,
			EndTime:      body.EndTime,
			PerUserLimit: time.Duration(body.PerUserLimitSec) * time.Second,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toCampaignResponse(campaign))
	}
}

func GetCampaign(svc campaignService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := uuid.Parse(chi.URLParam(r, "campaignId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid campaign id"))
			return
		}
		campaign, err := svc.Get(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toCampaignResponse(campaign))
	}
}

func WarmupCampaign(svc campaignService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := uuid.Parse(chi.URLParam(r, "campaignId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid campaign id"))
			return
		}
		seeded, err := svc.Warmup(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"campaignId": id.String(), "seeded": seeded})
	}
}

func AbortCampaign(svc campaignService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := uuid.Parse(chi.URLParam(r, "campaignId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid campaign id"))
			return
		}
		if err := svc.Abort(ctx, id); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"campaignId": id.String(), "status": "aborted"})
	}
}

// ReconcileCampaign triggers an on-demand reconcile outside the scheduled
// cycle, for operators responding to an alert.
func ReconcileCampaign(svc campaignService, rec campaignReconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := uuid.Parse(chi.URLParam(r, "campaignId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid campaign id"))
			return
		}
		campaign, err := svc.Get(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := rec.ReconcileOne(ctx, *campaign); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"campaignId": id.String(), "status": "reconciled"})
	}
}

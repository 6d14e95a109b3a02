package campaigns

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/google/uuid"

	"github.com/rmoncada/flashsale-backend/pkg/db/models"
	"github.com/rmoncada/flashsale-backend/pkg/errors"
	"github.com/rmoncada/flashsale-backend/pkg/logger"
)

// liveState is the engine surface the service needs: seeding counters at
// warmup and cutting the live window on abort.
type liveState interface {
	Warmup(ctx context.Context, campaign models.Campaign) (bool, error)
	CloseWindow(ctx context.Context, campaignID string, at time.Time) (bool, error)
}

// CreateInput is a validated campaign definition.
type CreateInput struct {
	ProductID    uuid.UUID
	TotalStock   int64
	StartTime    time.Time
	EndTime      time.Time
	PerUserLimit time.Duration
}

// ServiceParams configure the campaign service.
type ServiceParams struct {
	Repo   *Repo
	Engine liveState
	Logger *logger.Logger
}

type Service struct {
	repo   *Repo
	engine liveState
	logger *logger.Logger
	now    func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, stdErrors.New("campaign repo is required")
	}
	if params.Engine == nil {
		return nil, stdErrors.New("reservation engine is required")
	}
	return &Service{
		repo:   params.Repo,
		engine: params.Engine,
		logger: params.Logger,
		now:    time.Now,
	}, nil
}

// Create persists a new campaign definition. The window must lie in the
// future so warmup always runs against a campaign that has not started.
func (s *Service) Create(ctx context.Context, input CreateInput) (*models.Campaign, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}
	campaign := &models.Campaign{
		ProductID:        input.ProductID,
		TotalStock:       input.TotalStock,
		StartTime:        input.StartTime.UTC(),
		EndTime:          input.EndTime.UTC(),
		PerUserLimitSecs: int64(input.PerUserLimit / time.Second),
	}
	if err := s.repo.Create(ctx, campaign); err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Info(s.logger.WithCampaignID(ctx, campaign.ID.String()), "campaign created")
	}
	return campaign, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	return s.repo.GetByID(ctx, id)
}

// ListActive returns campaigns in or just past their window.
func (s *Service) ListActive(ctx context.Context, grace time.Duration) ([]models.Campaign, error) {
	return s.repo.ListActive(ctx, s.now(), grace)
}

// Warmup seeds the live counters for a campaign. Returns false when the
// campaign was already warmed. Campaigns past their window cannot be warmed.
func (s *Service) Warmup(ctx context.Context, id uuid.UUID) (bool, error) {
	campaign, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if !s.now().Before(campaign.EffectiveEnd()) {
		return false, errors.New(errors.CodeCampaignClosed, "campaign window has ended")
	}
	return s.engine.Warmup(ctx, *campaign)
}

// Abort closes the campaign window immediately. The durable row records the
// abort and the live window is cut so in-flight reserve calls stop at once.
func (s *Service) Abort(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return err
	}
	at := s.now().UTC()
	if err := s.repo.Abort(ctx, id, at); err != nil {
		return err
	}
	if _, err := s.engine.CloseWindow(ctx, id.String(), at); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Warn(s.logger.WithCampaignID(ctx, id.String()), "campaign aborted")
	}
	return nil
}

func (s *Service) validate(input CreateInput) error {
	details := map[string]string{}
	if input.ProductID == uuid.Nil {
		details["productId"] = "is required"
	}
	if input.TotalStock <= 0 {
		details["totalStock"] = "must be positive"
	}
	if !input.EndTime.After(input.StartTime) {
		details["endTime"] = "must be after startTime"
	}
	if input.EndTime.Before(s.now()) {
		details["endTime"] = "must be in the future"
	}
	if input.PerUserLimit < time.Second {
		details["perUserLimit"] = "must be at least one second"
	}
	if len(details) > 0 {
		return errors.New(errors.CodeValidation, "invalid campaign definition").WithDetails(details)
	}
	return nil
}

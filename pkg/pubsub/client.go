package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/rmoncada/flashsale-backend/pkg/config"
	"github.com/rmoncada/flashsale-backend/pkg/logger"
)

var errProjectIDRequired = errors.New("gcp project id is required")

// Client publishes operational alerts (reconciliation drift, dead-lettered
// events) to the observability pipeline. It is intentionally one-way: nothing
// in this system consumes from Pub/Sub.
type Client struct {
	client      *pubsub.Client
	projectID   string
	alertsTopic string
}

// Alert is the wire shape pushed to the alerts topic.
type Alert struct {
	Kind       string    `json:"kind"`
	CampaignID string    `json:"campaignId,omitempty"`
	Detail     string    `json:"detail"`
	Drift      int64     `json:"drift,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewClient creates a Pub/Sub client for the configured alerts topic.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.AlertsTopic) == "" {
		return nil, errors.New("alerts topic is required")
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	if logg != nil {
		logg.Info(ctx, "pubsub alert client initialized")
	}

	return &Client{
		client:      psClient,
		projectID:   gcp.ProjectID,
		alertsTopic: cfg.AlertsTopic,
	}, nil
}

// PublishAlert sends the alert and waits for the server ack.
func (c *Client) PublishAlert(ctx context.Context, alert Alert) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	publisher := c.client.Publisher(c.topicResourceName(c.alertsTopic))
	result := publisher.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"kind": alert.Kind},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Close releases the Pub/Sub client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) topicResourceName(name string) string {
	n := strings.TrimSpace(name)
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	return fmt.Sprintf("projects/%s/topics/%s", c.projectID, n)
}

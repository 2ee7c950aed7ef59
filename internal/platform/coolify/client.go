package coolify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/meetloop/fleet-backend/internal/logger"
	"github.com/meetloop/fleet-backend/internal/platform"
)

// SlotResolver maps a bot id to the application UUID of the pool slot the
// bot currently occupies. Wired to the pool slot table by the app so this
// package stays free of database imports.
type SlotResolver func(ctx context.Context, botID int) (string, error)

type Config struct {
	BaseURL    string
	APIToken   string
	PoolPrefix string
	Timeout    time.Duration
}

type Client struct {
	http       *resty.Client
	log        *logger.Logger
	poolPrefix string
	resolve    SlotResolver
}

var _ platform.PoolClient = (*Client)(nil)

func NewClient(cfg Config, resolve SlotResolver, baseLog *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIToken).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)
	return &Client{
		http:       httpClient,
		log:        baseLog.With("client", "CoolifyClient"),
		poolPrefix: cfg.PoolPrefix,
		resolve:    resolve,
	}
}

func (c *Client) Name() string { return "coolify" }

type apiApplication struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

func (c *Client) ListPoolApplications(ctx context.Context) ([]platform.Application, error) {
	var apps []apiApplication
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&apps).
		Get("/api/v1/applications")
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list applications: status %d: %s", resp.StatusCode(), resp.String())
	}
	out := make([]platform.Application, 0, len(apps))
	for _, app := range apps {
		if c.poolPrefix != "" && !strings.HasPrefix(app.Name, c.poolPrefix) {
			continue
		}
		out = append(out, platform.Application{UUID: app.UUID, Name: app.Name})
	}
	return out, nil
}

func (c *Client) StopApplication(ctx context.Context, uuid string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Post(fmt.Sprintf("/api/v1/applications/%s/stop", uuid))
	if err != nil {
		return fmt.Errorf("stop application %s: %w", uuid, err)
	}
	if resp.IsError() && resp.StatusCode() != 404 {
		return fmt.Errorf("stop application %s: status %d: %s", uuid, resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *Client) DeleteApplication(ctx context.Context, uuid string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("delete_volumes", "true").
		Delete(fmt.Sprintf("/api/v1/applications/%s", uuid))
	if err != nil {
		return fmt.Errorf("delete application %s: %w", uuid, err)
	}
	if resp.IsError() && resp.StatusCode() != 404 {
		return fmt.Errorf("delete application %s: status %d: %s", uuid, resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *Client) UpdateDescription(ctx context.Context, uuid string, description string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"description": description}).
		Patch(fmt.Sprintf("/api/v1/applications/%s", uuid))
	if err != nil {
		return fmt.Errorf("update description %s: %w", uuid, err)
	}
	if resp.IsError() {
		return fmt.Errorf("update description %s: status %d: %s", uuid, resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *Client) ReleaseBot(ctx context.Context, botID int) error {
	if c.resolve == nil {
		return fmt.Errorf("release bot %d: no slot resolver configured", botID)
	}
	uuid, err := c.resolve(ctx, botID)
	if err != nil {
		return fmt.Errorf("release bot %d: resolve slot: %w", botID, err)
	}
	if uuid == "" {
		return nil
	}
	return c.StopApplication(ctx, uuid)
}

func (c *Client) StopBot(ctx context.Context, resourceID string) error {
	return c.StopApplication(ctx, resourceID)
}

func (c *Client) GetBotStatus(ctx context.Context, resourceID string) (platform.TaskStatus, error) {
	var app apiApplication
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&app).
		Get(fmt.Sprintf("/api/v1/applications/%s", resourceID))
	if err != nil {
		return platform.TaskStatusUnknown, fmt.Errorf("get application %s: %w", resourceID, err)
	}
	if resp.StatusCode() == 404 {
		return platform.TaskStatusStopped, nil
	}
	if resp.IsError() {
		return platform.TaskStatusUnknown, fmt.Errorf("get application %s: status %d", resourceID, resp.StatusCode())
	}
	switch {
	case strings.HasPrefix(app.Status, "running"):
		return platform.TaskStatusRunning, nil
	case strings.HasPrefix(app.Status, "starting"), strings.HasPrefix(app.Status, "restarting"):
		return platform.TaskStatusPending, nil
	case strings.HasPrefix(app.Status, "exited"), strings.HasPrefix(app.Status, "stopped"):
		return platform.TaskStatusStopped, nil
	default:
		return platform.TaskStatusUnknown, nil
	}
}

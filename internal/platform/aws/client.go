package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/meetloop/fleet-backend/internal/logger"
	"github.com/meetloop/fleet-backend/internal/platform"
)

type Config struct {
	Region  string
	Cluster string
}

// ECSAPI is the slice of the ECS client the recovery core calls. Narrowed
// for fake injection in tests.
type ECSAPI interface {
	StopTask(ctx context.Context, params *ecs.StopTaskInput, optFns ...func(*ecs.Options)) (*ecs.StopTaskOutput, error)
	DescribeTasks(ctx context.Context, params *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error)
	ListTasks(ctx context.Context, params *ecs.ListTasksInput, optFns ...func(*ecs.Options)) (*ecs.ListTasksOutput, error)
}

// Client runs meeting bots as ECS tasks, one task per bot. The task ARN is
// the bot's platform identifier; tasks are started with StartedBy set to
// "meetbot-<id>" so they can be addressed by bot id as well.
type Client struct {
	ecs     ECSAPI
	cluster string
	log     *logger.Logger
}

var _ platform.Client = (*Client)(nil)

func NewClient(ctx context.Context, cfg Config, baseLog *logger.Logger) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewClientWithAPI(cfg, ecs.NewFromConfig(awsCfg), baseLog), nil
}

func NewClientWithAPI(cfg Config, api ECSAPI, baseLog *logger.Logger) *Client {
	return &Client{
		ecs:     api,
		cluster: cfg.Cluster,
		log:     baseLog.With("client", "AWSClient"),
	}
}

func (c *Client) Name() string { return "aws" }

func StartedByTag(botID int) string {
	return fmt.Sprintf("meetbot-%d", botID)
}

func (c *Client) ReleaseBot(ctx context.Context, botID int) error {
	out, err := c.ecs.ListTasks(ctx, &ecs.ListTasksInput{
		Cluster:   awssdk.String(c.cluster),
		StartedBy: awssdk.String(StartedByTag(botID)),
	})
	if err != nil {
		return fmt.Errorf("list tasks for bot %d: %w", botID, err)
	}
	var firstErr error
	for _, arn := range out.TaskArns {
		if err := c.StopBot(ctx, arn); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Client) StopBot(ctx context.Context, resourceID string) error {
	_, err := c.ecs.StopTask(ctx, &ecs.StopTaskInput{
		Cluster: awssdk.String(c.cluster),
		Task:    awssdk.String(resourceID),
		Reason:  awssdk.String("stopped by fleet recovery"),
	})
	if err != nil {
		if isTaskGone(err) {
			return nil
		}
		return fmt.Errorf("stop task %s: %w", resourceID, err)
	}
	return nil
}

func (c *Client) GetBotStatus(ctx context.Context, resourceID string) (platform.TaskStatus, error) {
	out, err := c.ecs.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: awssdk.String(c.cluster),
		Tasks:   []string{resourceID},
	})
	if err != nil {
		return platform.TaskStatusUnknown, fmt.Errorf("describe task %s: %w", resourceID, err)
	}
	if len(out.Tasks) == 0 {
		// DescribeTasks reports missing tasks as failures, not errors.
		for _, f := range out.Failures {
			if f.Reason != nil && strings.Contains(strings.ToUpper(*f.Reason), "MISSING") {
				return platform.TaskStatusStopped, nil
			}
		}
		return platform.TaskStatusStopped, nil
	}
	return mapTaskStatus(out.Tasks[0]), nil
}

func mapTaskStatus(task ecstypes.Task) platform.TaskStatus {
	last := ""
	if task.LastStatus != nil {
		last = strings.ToUpper(*task.LastStatus)
	}
	switch last {
	case "RUNNING":
		return platform.TaskStatusRunning
	case "PROVISIONING", "PENDING", "ACTIVATING":
		return platform.TaskStatusPending
	case "STOPPED", "DEPROVISIONING", "STOPPING", "DEACTIVATING":
		if task.StopCode == ecstypes.TaskStopCodeEssentialContainerExited || task.StopCode == ecstypes.TaskStopCodeTaskFailedToStart {
			return platform.TaskStatusFailed
		}
		return platform.TaskStatusStopped
	default:
		return platform.TaskStatusUnknown
	}
}

func isTaskGone(err error) bool {
	var notFound *ecstypes.InvalidParameterException
	if errors.As(err, &notFound) && strings.Contains(notFound.ErrorMessage(), "The referenced task was not found") {
		return true
	}
	return false
}

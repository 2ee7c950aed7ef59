package k8s

import (
	"context"
	"fmt"
	"os"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/meetloop/fleet-backend/internal/logger"
	"github.com/meetloop/fleet-backend/internal/platform"
)

type Config struct {
	Namespace string
	JobPrefix string
}

// Client runs meeting bots as Kubernetes Jobs, one Job per bot. The Job
// name doubles as the bot's platform identifier.
type Client struct {
	clientset kubernetes.Interface
	namespace string
	jobPrefix string
	log       *logger.Logger
}

var _ platform.JobClient = (*Client)(nil)

// NewClient connects in-cluster when possible and falls back to the
// kubeconfig pointed at by KUBECONFIG.
func NewClient(cfg Config, baseLog *logger.Logger) (*Client, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			return nil, fmt.Errorf("k8s config: not in cluster and KUBECONFIG unset: %w", err)
		}
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("k8s config from %s: %w", kubeconfig, err)
		}
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("k8s clientset: %w", err)
	}
	return NewClientWithClientset(cfg, clientset, baseLog), nil
}

// NewClientWithClientset is the injection point used by tests (fake
// clientset) and by callers that already hold a clientset.
func NewClientWithClientset(cfg Config, clientset kubernetes.Interface, baseLog *logger.Logger) *Client {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "default"
	}
	jobPrefix := cfg.JobPrefix
	if jobPrefix == "" {
		jobPrefix = "meetbot"
	}
	return &Client{
		clientset: clientset,
		namespace: namespace,
		jobPrefix: jobPrefix,
		log:       baseLog.With("client", "K8sClient"),
	}
}

func (c *Client) Name() string { return "k8s" }

func (c *Client) JobName(botID int) string {
	return fmt.Sprintf("%s-%d", c.jobPrefix, botID)
}

func (c *Client) GetJob(ctx context.Context, name string) (*platform.JobInfo, error) {
	job, err := c.clientset.BatchV1().Jobs(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", name, err)
	}
	return &platform.JobInfo{
		Name:   job.Name,
		Active: job.Status.Active > 0,
	}, nil
}

func (c *Client) DeleteJob(ctx context.Context, name string) error {
	propagation := metav1.DeletePropagationBackground
	err := c.clientset.BatchV1().Jobs(c.namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete job %s: %w", name, err)
	}
	return nil
}

func (c *Client) ReleaseBot(ctx context.Context, botID int) error {
	return c.DeleteJob(ctx, c.JobName(botID))
}

func (c *Client) StopBot(ctx context.Context, resourceID string) error {
	return c.DeleteJob(ctx, resourceID)
}

func (c *Client) GetBotStatus(ctx context.Context, resourceID string) (platform.TaskStatus, error) {
	job, err := c.clientset.BatchV1().Jobs(c.namespace).Get(ctx, resourceID, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return platform.TaskStatusStopped, nil
	}
	if err != nil {
		return platform.TaskStatusUnknown, fmt.Errorf("get job %s: %w", resourceID, err)
	}
	switch {
	case job.Status.Failed > 0:
		return platform.TaskStatusFailed, nil
	case job.Status.Active > 0:
		return platform.TaskStatusRunning, nil
	case job.Status.Succeeded > 0:
		return platform.TaskStatusStopped, nil
	default:
		return platform.TaskStatusPending, nil
	}
}

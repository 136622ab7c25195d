// Package queue runs deposits in the background on asynq workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/tendant/simple-deposit/pkg/deposit"
	"github.com/tendant/simple-deposit/pkg/deposit/service"
)

const (
	// TypeDepositPackage packages a submission and stores it in the outbox.
	TypeDepositPackage = "deposit:package"

	DefaultQueue    = "deposits"
	DefaultMaxRetry = 5
)

// DepositPayload is serialized into the task payload so the worker knows
// which submission to package.
type DepositPayload struct {
	SubmissionID string    `json:"submission_id"`
	RequestedAt  time.Time `json:"requested_at"`
}

// NewDepositTask creates a deposit task for submissionID.
func NewDepositTask(submissionID string, opts ...asynq.Option) (*asynq.Task, error) {
	if deposit.NormalizeID(submissionID) == "" {
		return nil, errors.New("submission id is required")
	}
	data, err := json.Marshal(DepositPayload{SubmissionID: submissionID, RequestedAt: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TypeDepositPackage, data, opts...), nil
}

// Client enqueues deposit tasks
type Client struct {
	client   *asynq.Client
	queue    string
	maxRetry int
}

// ClientOption configures a Client
type ClientOption func(*Client)

func WithQueue(name string) ClientOption {
	return func(c *Client) {
		if name != "" {
			c.queue = name
		}
	}
}

func WithMaxRetry(n int) ClientOption {
	return func(c *Client) {
		c.maxRetry = n
	}
}

// NewClient creates a Client connected to redis.
func NewClient(redis asynq.RedisConnOpt, opts ...ClientOption) *Client {
	c := &Client{
		client:   asynq.NewClient(redis),
		queue:    DefaultQueue,
		maxRetry: DefaultMaxRetry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enqueue schedules a deposit of submissionID and returns the task ID.
func (c *Client) Enqueue(ctx context.Context, submissionID string) (string, error) {
	task, err := NewDepositTask(submissionID)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.TaskID(uuid.NewString()),
		asynq.Queue(c.queue),
		asynq.MaxRetry(c.maxRetry),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue deposit task: %w", err)
	}
	return info.ID, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	svc    service.Service
	logger *slog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(svc service.Service, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{svc: svc, logger: logger}
}

// Handler registers the deposit task handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeDepositPackage, p.HandleDeposit)
	return mux
}

// HandleDeposit runs one deposit. Failures that a retry cannot fix skip the
// remaining retries.
func (p *Processor) HandleDeposit(ctx context.Context, task *asynq.Task) error {
	var payload DepositPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	receipt, err := p.svc.Deposit(ctx, payload.SubmissionID)
	if err != nil {
		p.logger.ErrorContext(ctx, "deposit failed", "submission", payload.SubmissionID, "err", err)
		if permanent(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	p.logger.InfoContext(ctx, "deposit completed",
		"submission", payload.SubmissionID,
		"package", receipt.PackageID,
		"key", receipt.ObjectKey,
		"queued_for", time.Since(payload.RequestedAt).Round(time.Millisecond))
	return nil
}

func permanent(err error) bool {
	return errors.Is(err, deposit.ErrSubmissionNotFound) ||
		errors.Is(err, deposit.ErrInvalidModel) ||
		errors.Is(err, deposit.ErrMissingReference)
}

// ServerConfig holds the worker settings
type ServerConfig struct {
	Concurrency int
	Queue       string
	Logger      *slog.Logger
}

// NewServer creates an asynq server consuming the deposit queue.
func NewServer(redis asynq.RedisConnOpt, cfg ServerConfig) *asynq.Server {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return asynq.NewServer(redis, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{cfg.Queue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.ErrorContext(ctx, "task failed", "type", task.Type(), "err", err)
		}),
	})
}

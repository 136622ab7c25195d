package scan

import (
	"context"

	"github.com/tendant/simple-deposit/pkg/deposit"
	"github.com/tendant/simple-deposit/pkg/deposit/service"
)

// SubmissionProcessor handles one submission found during a scan.
// Returning an error marks the submission as failed; the scan continues.
type SubmissionProcessor interface {
	Process(ctx context.Context, sub *deposit.SubmissionEntity) error
}

// ProcessorFunc adapts a function to SubmissionProcessor.
type ProcessorFunc func(context.Context, *deposit.SubmissionEntity) error

func (f ProcessorFunc) Process(ctx context.Context, sub *deposit.SubmissionEntity) error {
	return f(ctx, sub)
}

// Depositor deposits each submission synchronously through svc.
func Depositor(svc service.Service) SubmissionProcessor {
	return ProcessorFunc(func(ctx context.Context, sub *deposit.SubmissionEntity) error {
		_, err := svc.Deposit(ctx, sub.ID)
		return err
	})
}

// Enqueuer is the part of queue.Client a scan needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, submissionID string) (string, error)
}

// Scheduler enqueues a background deposit for each submission.
func Scheduler(e Enqueuer) SubmissionProcessor {
	return ProcessorFunc(func(ctx context.Context, sub *deposit.SubmissionEntity) error {
		_, err := e.Enqueue(ctx, sub.ID)
		return err
	})
}

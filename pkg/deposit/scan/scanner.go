// Package scan runs deposits in bulk over the submissions of an entity
// source.
package scan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tendant/simple-deposit/pkg/deposit/entities"
)

const DefaultBatchSize = 100

// Scanner lists submissions and hands each one to a processor.
type Scanner struct {
	lister entities.Lister
	logger *slog.Logger
}

// New creates a new Scanner instance.
func New(lister entities.Lister, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{lister: lister, logger: logger}
}

// Options configures the scan operation.
type Options struct {
	// Filter specifies which submissions to process. Its Limit and Offset
	// are managed by the scanner.
	Filter entities.SubmissionFilter

	// Processor is required unless DryRun is set.
	Processor SubmissionProcessor

	// BatchSize controls how many submissions are listed at once (default: 100)
	BatchSize int

	// Max stops the scan after this many submissions. Zero means no limit.
	Max int

	// DryRun reports what would be processed without processing it.
	DryRun bool

	// OnProgress is called after each batch (optional)
	OnProgress func(processed, found int64)
}

// Result contains statistics about the scan operation.
type Result struct {
	TotalFound     int64
	TotalProcessed int64
	TotalFailed    int64

	// IDs lists the submissions processed, or that would be in a dry run.
	IDs       []string
	FailedIDs []string
}

// Scan pages through matching submissions and processes each one. A failed
// submission is recorded and the scan moves on; listing failures and
// cancellation stop it.
func (s *Scanner) Scan(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{}

	if !opts.DryRun && opts.Processor == nil {
		return result, fmt.Errorf("processor is required when DryRun is false")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	filter := opts.Filter
	filter.Offset = 0
	for {
		filter.Limit = opts.BatchSize
		if opts.Max > 0 {
			remaining := opts.Max - int(result.TotalFound)
			if remaining <= 0 {
				break
			}
			if remaining < filter.Limit {
				filter.Limit = remaining
			}
		}

		subs, err := s.lister.ListSubmissions(ctx, filter)
		if err != nil {
			return result, fmt.Errorf("failed to list submissions: %w", err)
		}
		if len(subs) == 0 {
			break
		}
		result.TotalFound += int64(len(subs))

		for _, sub := range subs {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if opts.DryRun {
				s.logger.Info("Would deposit submission", "submission_id", sub.ID, "status", sub.AggregatedDepositStatus)
				result.TotalProcessed++
				result.IDs = append(result.IDs, sub.ID)
				continue
			}

			if err := opts.Processor.Process(ctx, sub); err != nil {
				s.logger.Error("Failed to process submission", "submission_id", sub.ID, "err", err)
				result.TotalFailed++
				result.FailedIDs = append(result.FailedIDs, sub.ID)
				continue
			}
			result.TotalProcessed++
			result.IDs = append(result.IDs, sub.ID)
		}

		if opts.OnProgress != nil {
			opts.OnProgress(result.TotalProcessed+result.TotalFailed, result.TotalFound)
		}

		if len(subs) < filter.Limit {
			break
		}
		filter.Offset += len(subs)
	}

	return result, nil
}

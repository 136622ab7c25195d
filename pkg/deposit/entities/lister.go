package entities

import (
	"context"
	"strings"

	"github.com/tendant/simple-deposit/pkg/deposit"
)

// SubmissionFilter selects submissions for batch deposits.
type SubmissionFilter struct {
	// SubmittedOnly skips submissions that were never submitted.
	SubmittedOnly bool

	// Status matches AggregatedDepositStatus case-insensitively. Empty
	// matches any status.
	Status string

	Limit  int
	Offset int
}

// Match reports whether s passes the filter. Limit and Offset are ignored.
func (f SubmissionFilter) Match(s *deposit.SubmissionEntity) bool {
	if f.SubmittedOnly && !s.Submitted {
		return false
	}
	if f.Status != "" && !strings.EqualFold(f.Status, s.AggregatedDepositStatus) {
		return false
	}
	return true
}

// Lister is implemented by entity sources that can enumerate submissions.
// Results are in a stable order so Offset pages through them.
type Lister interface {
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]*deposit.SubmissionEntity, error)
}

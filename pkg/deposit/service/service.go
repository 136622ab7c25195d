// Package service ties the deposit pipeline together: resolve the entity
// graph, build the submission model, assemble the package and deliver it.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-deposit/pkg/deposit"
	"github.com/tendant/simple-deposit/pkg/deposit/assembler"
	"github.com/tendant/simple-deposit/pkg/deposit/builder"
)

// Service is the deposit pipeline
type Service interface {
	// Build resolves and builds the submission model without packaging it.
	Build(ctx context.Context, submissionID string) (*deposit.Submission, error)

	// Package streams the package of a submission into w. w is not closed.
	Package(ctx context.Context, submissionID string, w io.Writer) (*assembler.Package, error)

	// Deposit packages a submission into the outbox store.
	Deposit(ctx context.Context, submissionID string) (*Receipt, error)

	// PackageFormat is the archive format packages are written in.
	PackageFormat() assembler.Format
}

// Receipt records a package delivered to the outbox.
type Receipt struct {
	SubmissionID string    `json:"submission_id"`
	PackageID    string    `json:"package_id"`
	ObjectKey    string    `json:"object_key"`
	Format       string    `json:"format"`
	ContentType  string    `json:"content_type"`
	Files        int       `json:"files"`
	CreatedAt    time.Time `json:"created_at"`
}

// EventSink is notified about deposit outcomes
type EventSink interface {
	// DepositCompleted is fired once a package is stored in the outbox
	DepositCompleted(ctx context.Context, receipt *Receipt) error

	// DepositFailed is fired when building, packaging or uploading fails
	DepositFailed(ctx context.Context, submissionID string, cause error) error
}

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

func (NoopEventSink) DepositCompleted(ctx context.Context, receipt *Receipt) error { return nil }

func (NoopEventSink) DepositFailed(ctx context.Context, submissionID string, cause error) error {
	return nil
}

type service struct {
	source    deposit.EntitySource
	builder   *builder.Builder
	assembler *assembler.Assembler
	outbox    deposit.ContentStore
	events    EventSink
	logger    *slog.Logger
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithEntitySource sets where submission graphs are read from
func WithEntitySource(source deposit.EntitySource) Option {
	return func(s *service) {
		s.source = source
	}
}

func WithBuilder(b *builder.Builder) Option {
	return func(s *service) {
		s.builder = b
	}
}

func WithAssembler(a *assembler.Assembler) Option {
	return func(s *service) {
		s.assembler = a
	}
}

// WithOutbox sets the store finished packages are uploaded to
func WithOutbox(store deposit.ContentStore) Option {
	return func(s *service) {
		s.outbox = store
	}
}

func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		if sink != nil {
			s.events = sink
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a new service instance with the given options. The builder
// defaults to builder.New(); an entity source and an assembler are required.
func New(options ...Option) (Service, error) {
	s := &service{
		events: NoopEventSink{},
		logger: slog.Default(),
	}
	for _, option := range options {
		option(s)
	}

	if s.source == nil {
		return nil, fmt.Errorf("entity source is required")
	}
	if s.assembler == nil {
		return nil, fmt.Errorf("assembler is required")
	}
	if s.builder == nil {
		b, err := builder.New(builder.WithLogger(s.logger))
		if err != nil {
			return nil, err
		}
		s.builder = b
	}
	return s, nil
}

func (s *service) Build(ctx context.Context, submissionID string) (*deposit.Submission, error) {
	set, err := s.source.Resolve(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	return s.builder.Build(ctx, submissionID, set)
}

func (s *service) PackageFormat() assembler.Format {
	return s.assembler.Format()
}

// nopCloser keeps the assembler from closing writers the caller owns.
type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func (s *service) Package(ctx context.Context, submissionID string, w io.Writer) (*assembler.Package, error) {
	sub, err := s.Build(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	return s.assembler.Assemble(ctx, sub, nopCloser{w})
}

// Deposit streams the package through a pipe into the outbox. A packaging
// failure aborts the upload with that error, so a truncated package is never
// stored as complete.
func (s *service) Deposit(ctx context.Context, submissionID string) (receipt *Receipt, err error) {
	defer func() {
		if err != nil {
			if eerr := s.events.DepositFailed(ctx, submissionID, err); eerr != nil {
				s.logger.WarnContext(ctx, "deposit failed event not delivered", "submission", submissionID, "err", eerr)
			}
		}
	}()

	if s.outbox == nil {
		return nil, fmt.Errorf("deposit %s: no outbox configured", submissionID)
	}

	sub, err := s.Build(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	format := s.assembler.Format()
	key := ObjectKey(sub.ID, uuid.NewString(), format)

	pr, pw := io.Pipe()
	type result struct {
		pkg *assembler.Package
		err error
	}
	done := make(chan result, 1)
	go func() {
		pkg, err := s.assembler.Assemble(ctx, sub, nopCloser{pw})
		pw.CloseWithError(err)
		done <- result{pkg, err}
	}()

	uploadErr := s.outbox.UploadWithParams(ctx, pr, deposit.UploadParams{
		ObjectKey: key,
		MimeType:  format.ContentType(),
		Size:      -1,
	})
	// Unblocks the assembler if the upload stopped reading early.
	pr.CloseWithError(uploadErrOrClosed(uploadErr))
	res := <-done

	if res.err != nil {
		return nil, res.err
	}
	if uploadErr != nil {
		return nil, &deposit.PackageError{Op: "upload", Entry: key, Err: uploadErr}
	}

	receipt = &Receipt{
		SubmissionID: sub.ID,
		PackageID:    res.pkg.ID,
		ObjectKey:    key,
		Format:       string(format),
		ContentType:  format.ContentType(),
		Files:        len(res.pkg.Resources),
		CreatedAt:    res.pkg.CreatedAt,
	}
	s.logger.InfoContext(ctx, "package deposited", "submission", sub.ID, "package", receipt.PackageID, "key", key)

	if eerr := s.events.DepositCompleted(ctx, receipt); eerr != nil {
		s.logger.WarnContext(ctx, "deposit completed event not delivered", "submission", sub.ID, "err", eerr)
	}
	return receipt, nil
}

var errUploadFinished = errors.New("upload finished")

func uploadErrOrClosed(err error) error {
	if err != nil {
		return err
	}
	return errUploadFinished
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectKey returns the outbox key of a package:
// "<sanitized submission id>/<deposit id><extension>".
func ObjectKey(submissionID, depositID string, format assembler.Format) string {
	id := deposit.NormalizeID(submissionID)
	if i := strings.Index(id, "://"); i >= 0 {
		id = id[i+3:]
	}
	id = strings.Trim(unsafeKeyChars.ReplaceAllString(id, "_"), "_.")
	if id == "" {
		id = "submission"
	}
	return id + "/" + depositID + format.Extension()
}

package service_test

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-deposit/pkg/deposit"
	"github.com/tendant/simple-deposit/pkg/deposit/assembler"
	entitymemory "github.com/tendant/simple-deposit/pkg/deposit/entities/memory"
	"github.com/tendant/simple-deposit/pkg/deposit/service"
	memorystorage "github.com/tendant/simple-deposit/pkg/deposit/storage/memory"
)

const submissionID = "https://pass.example.org/submissions/1"

type recordingSink struct {
	mu        sync.Mutex
	completed []*service.Receipt
	failed    []error
}

func (r *recordingSink) DepositCompleted(ctx context.Context, receipt *service.Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, receipt)
	return nil
}

func (r *recordingSink) DepositFailed(ctx context.Context, submissionID string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, cause)
	return nil
}

type harness struct {
	source  *entitymemory.Source
	content *memorystorage.Backend
	outbox  deposit.ContentStore
	events  *recordingSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	source, err := entitymemory.New(
		&deposit.SubmissionEntity{ID: submissionID, User: "users/1",
			Metadata: `[{"id":"common","data":{"title":"A study","journal-title":"Journal of Studies"}}]`},
		&deposit.User{ID: "users/1", FirstName: "Sam", LastName: "Submitter"},
		&deposit.File{ID: "files/1", Name: "manuscript.pdf", URI: "mem://sub-1/manuscript.pdf",
			FileRole: deposit.FileRoleManuscript, Submission: submissionID},
		&deposit.File{ID: "files/2", Name: "table.csv", URI: "mem://sub-1/table.csv", MimeType: "text/csv",
			FileRole: deposit.FileRoleTable, Submission: submissionID},
	)
	require.NoError(t, err)

	content := memorystorage.New()
	require.NoError(t, content.Upload(ctx, "sub-1/manuscript.pdf", strings.NewReader("%PDF-1.4 body")))
	require.NoError(t, content.Upload(ctx, "sub-1/table.csv", strings.NewReader("a,b\n1,2\n")))

	return &harness{source: source, content: content, outbox: memorystorage.New(), events: &recordingSink{}}
}

func (h *harness) service(t *testing.T, opts ...service.Option) service.Service {
	t.Helper()
	resolver := assembler.NewResolver()
	resolver.Mount("mem://", h.content)
	asm, err := assembler.New(resolver)
	require.NoError(t, err)

	svc, err := service.New(append([]service.Option{
		service.WithEntitySource(h.source),
		service.WithAssembler(asm),
		service.WithOutbox(h.outbox),
		service.WithEventSink(h.events),
	}, opts...)...)
	require.NoError(t, err)
	return svc
}

func entryNames(t *testing.T, data []byte) []string {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	return names
}

func TestBuild(t *testing.T) {
	svc := newHarness(t).service(t)

	sub, err := svc.Build(context.Background(), submissionID)
	require.NoError(t, err)
	assert.Equal(t, "A study", sub.Metadata.Manuscript.Title)
	assert.Len(t, sub.Files(), 2)

	_, err = svc.Build(context.Background(), "https://pass.example.org/submissions/404")
	assert.ErrorIs(t, err, deposit.ErrSubmissionNotFound)
}

func TestPackage(t *testing.T) {
	svc := newHarness(t).service(t)

	var buf bytes.Buffer
	pkg, err := svc.Package(context.Background(), submissionID, &buf)
	require.NoError(t, err)
	require.Len(t, pkg.Resources, 2)
	assert.Equal(t, submissionID, pkg.SubmissionID)

	assert.Equal(t, []string{"files/manuscript.pdf", "files/table.csv", "bulk_meta.xml", "manifest.json"}, entryNames(t, buf.Bytes()))
}

func TestDeposit(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t)
	ctx := context.Background()

	receipt, err := svc.Deposit(ctx, submissionID)
	require.NoError(t, err)
	assert.Equal(t, submissionID, receipt.SubmissionID)
	assert.Equal(t, "tar.gz", receipt.Format)
	assert.Equal(t, 2, receipt.Files)
	assert.True(t, strings.HasPrefix(receipt.ObjectKey, "pass.example.org_submissions_1/"))
	assert.True(t, strings.HasSuffix(receipt.ObjectKey, ".tar.gz"))

	meta, err := h.outbox.GetObjectMeta(ctx, receipt.ObjectKey)
	require.NoError(t, err)
	assert.Equal(t, "application/gzip", meta.ContentType)

	rc, err := h.outbox.Download(ctx, receipt.ObjectKey)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Contains(t, entryNames(t, data), "manifest.json")

	require.Len(t, h.events.completed, 1)
	assert.Same(t, receipt, h.events.completed[0])
	assert.Empty(t, h.events.failed)
}

func TestDepositMissingContentStoresNothing(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.content.Delete(context.Background(), "sub-1/table.csv"))
	svc := h.service(t)

	_, err := svc.Deposit(context.Background(), submissionID)
	require.Error(t, err)
	assert.ErrorIs(t, err, deposit.ErrIO)
	assert.ErrorIs(t, err, deposit.ErrObjectNotFound)

	assert.Empty(t, h.outbox.(*memorystorage.Backend).Keys())
	require.Len(t, h.events.failed, 1)
	assert.Empty(t, h.events.completed)
}

var errOutboxDown = errors.New("outbox unavailable")

// brokenOutbox reads a little of the package, then gives up.
type brokenOutbox struct {
	*memorystorage.Backend
}

func (b brokenOutbox) UploadWithParams(ctx context.Context, r io.Reader, params deposit.UploadParams) error {
	_, _ = io.ReadFull(r, make([]byte, 16))
	return errOutboxDown
}

func TestDepositUploadFailure(t *testing.T) {
	h := newHarness(t)
	h.outbox = brokenOutbox{memorystorage.New()}
	svc := h.service(t)

	_, err := svc.Deposit(context.Background(), submissionID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errOutboxDown)
	assert.ErrorIs(t, err, deposit.ErrIO)
}

func TestDepositWithoutOutbox(t *testing.T) {
	h := newHarness(t)
	h.outbox = nil
	svc := h.service(t)

	_, err := svc.Deposit(context.Background(), submissionID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no outbox configured")
}

func TestNewValidation(t *testing.T) {
	_, err := service.New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity source is required")

	src, err := entitymemory.New()
	require.NoError(t, err)
	_, err = service.New(service.WithEntitySource(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assembler is required")
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{id: "https://pass.example.org/submissions/1/", want: "pass.example.org_submissions_1/d.zip"},
		{id: "submissions:42", want: "submissions_42/d.zip"},
		{id: "../..", want: "submission/d.zip"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, service.ObjectKey(tt.id, "d", assembler.FormatZip), tt.id)
	}
}

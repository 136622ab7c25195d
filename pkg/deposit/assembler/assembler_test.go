package assembler_test

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-deposit/pkg/deposit"
	"github.com/tendant/simple-deposit/pkg/deposit/assembler"
	memorystorage "github.com/tendant/simple-deposit/pkg/deposit/storage/memory"
)

// bufferSink records what was written and how often it was closed.
type bufferSink struct {
	bytes.Buffer
	closed atomic.Int32
}

func (s *bufferSink) Close() error {
	s.closed.Add(1)
	return nil
}

// failingSink accepts writes until armed, then fails every write.
type failingSink struct {
	bufferSink
	armed atomic.Bool
}

var errSinkBroken = errors.New("sink broken")

func (s *failingSink) Write(p []byte) (int, error) {
	if s.armed.Load() {
		return 0, errSinkBroken
	}
	return s.bufferSink.Write(p)
}

// armingStore arms the sink when the object under armKey is downloaded.
type armingStore struct {
	deposit.ContentStore
	armKey string
	sink   *failingSink
}

func (s *armingStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if key == s.armKey {
		s.sink.armed.Store(true)
	}
	return s.ContentStore.Download(ctx, key)
}

type testFile struct {
	name     string
	content  string
	role     deposit.DepositFileType
	mimeType string
}

var testFiles = []testFile{
	{name: "manuscript.pdf", content: "%PDF-1.4\n" + strings.Repeat("manuscript body ", 200), role: deposit.FileTypeManuscript},
	{name: "data.csv", content: "a,b,c\n1,2,3\n", role: deposit.FileTypeSupplement, mimeType: "text/csv"},
	{name: "figure1", content: "\x89PNG\r\n\x1a\n" + strings.Repeat("\x00", 64), role: deposit.FileTypeFigure},
}

func setup(t *testing.T) (*assembler.Resolver, *memorystorage.Backend, *deposit.Submission) {
	t.Helper()
	ctx := context.Background()
	store := memorystorage.New()
	resolver := assembler.NewResolver()
	resolver.Mount("mem://", store)

	md := deposit.NewMetadata()
	md.Manuscript.Title = "A study"
	md.Persons = append(md.Persons, deposit.NewAuthor("Jane Doe"))

	var files []deposit.DepositFile
	for _, f := range testFiles {
		key := "sub-1/" + f.name
		require.NoError(t, store.Upload(ctx, key, strings.NewReader(f.content)))
		files = append(files, deposit.DepositFile{Name: f.name, Location: "mem://" + key, Type: f.role, Label: "label " + f.name, MimeType: f.mimeType})
	}
	return resolver, store, deposit.NewSubmission("sub-1", "sub-1", md, files)
}

func readTarGz(t *testing.T, data []byte) ([]string, map[string][]byte) {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	var names []string
	contents := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		names = append(names, hdr.Name)
		contents[hdr.Name] = body
	}
	return names, contents
}

func readZip(t *testing.T, data []byte) ([]string, map[string][]byte) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var names []string
	contents := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		names = append(names, f.Name)
		contents[f.Name] = body
	}
	return names, contents
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestAssembleRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		format assembler.Format
		read   func(*testing.T, []byte) ([]string, map[string][]byte)
	}{
		{name: "tar.gz", format: assembler.FormatTarGz, read: readTarGz},
		{name: "zip", format: assembler.FormatZip, read: readZip},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver, _, sub := setup(t)
			created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			a, err := assembler.New(resolver, assembler.WithFormat(tt.format), assembler.WithClock(func() time.Time { return created }))
			require.NoError(t, err)

			sink := &bufferSink{}
			pkg, err := a.Assemble(context.Background(), sub, sink)
			require.NoError(t, err)
			assert.Equal(t, int32(1), sink.closed.Load())

			names, contents := tt.read(t, sink.Bytes())
			assert.Equal(t, []string{
				"files/manuscript.pdf",
				"files/data.csv",
				"files/figure1",
				"bulk_meta.xml",
				"manifest.json",
			}, names)

			var manifest assembler.Package
			require.NoError(t, json.Unmarshal(contents["manifest.json"], &manifest))
			assert.Equal(t, "sub-1", manifest.SubmissionID)
			assert.Equal(t, pkg.ID, manifest.ID)
			assert.Equal(t, tt.format, manifest.Format)
			assert.True(t, created.Equal(manifest.CreatedAt))
			assert.Equal(t, "bulk_meta.xml", manifest.Metadata)

			require.Len(t, manifest.Resources, len(testFiles))
			for i, f := range testFiles {
				res := manifest.Resources[i]
				assert.Equal(t, f.name, res.Name)
				assert.Equal(t, "files/"+f.name, res.Path)
				assert.Equal(t, f.role, res.Type)
				assert.Equal(t, "label "+f.name, res.Label)
				assert.Equal(t, int64(len(f.content)), res.Size)
				assert.Equal(t, f.content, string(contents[res.Path]))

				sum, ok := res.Checksum(assembler.MD5)
				assert.True(t, ok)
				assert.Equal(t, md5Hex(f.content), sum)
				sum, ok = res.Checksum(assembler.SHA256)
				assert.True(t, ok)
				assert.Equal(t, sha256Hex(f.content), sum)
			}

			// By extension, declared, then sniffed
			assert.Equal(t, "application/pdf", manifest.Resources[0].MimeType)
			assert.Equal(t, "text/csv", manifest.Resources[1].MimeType)
			assert.Equal(t, "image/png", manifest.Resources[2].MimeType)

			assert.Contains(t, string(contents["bulk_meta.xml"]), "<nihms-submit>")
		})
	}
}

func TestAssembleUnknownSizeIsSpooled(t *testing.T) {
	resolver, store, sub := setup(t)
	resolver.Mount("mem://", unsizedStore{store})

	a, err := assembler.New(resolver, assembler.WithSpoolDir(t.TempDir()))
	require.NoError(t, err)

	sink := &bufferSink{}
	pkg, err := a.Assemble(context.Background(), sub, sink)
	require.NoError(t, err)

	_, contents := readTarGz(t, sink.Bytes())
	for i, f := range testFiles {
		assert.Equal(t, int64(len(f.content)), pkg.Resources[i].Size)
		assert.Equal(t, f.content, string(contents["files/"+f.name]))
	}
}

// unsizedStore hides object sizes.
type unsizedStore struct {
	deposit.ContentStore
}

func (s unsizedStore) GetObjectMeta(ctx context.Context, key string) (*deposit.ObjectMeta, error) {
	meta, err := s.ContentStore.GetObjectMeta(ctx, key)
	if err != nil {
		return nil, err
	}
	meta.Size = -1
	return meta, nil
}

func TestAssembleSinkFailsOnSecondFile(t *testing.T) {
	resolver, store, sub := setup(t)
	sink := &failingSink{}
	resolver.Mount("mem://", &armingStore{ContentStore: store, armKey: "sub-1/data.csv", sink: sink})

	a, err := assembler.New(resolver)
	require.NoError(t, err)

	pkg, err := a.Assemble(context.Background(), sub, sink)
	assert.Nil(t, pkg)
	require.Error(t, err)
	assert.ErrorIs(t, err, deposit.ErrIO)
	assert.ErrorIs(t, err, errSinkBroken)

	var pe *deposit.PackageError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "files/data.csv", pe.Entry)

	assert.Equal(t, int32(1), sink.closed.Load())
	assert.NotContains(t, sink.String(), "manifest.json")

	// What reached the sink holds the first file and nothing after it
	gz, err := gzip.NewReader(bytes.NewReader(sink.Bytes()))
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "files/manuscript.pdf", hdr.Name)
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		assert.NotEqual(t, "manifest.json", hdr.Name)
	}
}

func TestAssembleMissingContent(t *testing.T) {
	resolver, store, sub := setup(t)
	require.NoError(t, store.Delete(context.Background(), "sub-1/data.csv"))

	a, err := assembler.New(resolver)
	require.NoError(t, err)

	sink := &bufferSink{}
	_, err = a.Assemble(context.Background(), sub, sink)
	assert.ErrorIs(t, err, deposit.ErrIO)
	assert.ErrorIs(t, err, deposit.ErrObjectNotFound)
	assert.Equal(t, int32(1), sink.closed.Load())
}

func TestAssembleUnmountedLocation(t *testing.T) {
	a, err := assembler.New(assembler.NewResolver())
	require.NoError(t, err)

	_, _, sub := setup(t)
	sink := &bufferSink{}
	_, err = a.Assemble(context.Background(), sub, sink)
	assert.ErrorIs(t, err, deposit.ErrNoStore)
	assert.ErrorIs(t, err, deposit.ErrIO)
	assert.Equal(t, int32(1), sink.closed.Load())
}

func TestAssembleCancelled(t *testing.T) {
	resolver, _, sub := setup(t)
	a, err := assembler.New(resolver)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &bufferSink{}
	_, err = a.Assemble(ctx, sub, sink)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), sink.closed.Load())
}

func TestAssembleFlattenedNameCollisions(t *testing.T) {
	resolver, _, _ := setup(t)
	files := []deposit.DepositFile{
		{Name: "a/report.pdf", Location: "mem://sub-1/manuscript.pdf", Type: deposit.FileTypeManuscript},
		{Name: "b/report.pdf", Location: "mem://sub-1/data.csv", Type: deposit.FileTypeSupplement},
		{Name: "report-2.pdf", Location: "mem://sub-1/figure1", Type: deposit.FileTypeFigure},
		{Name: "a/report.pdf", Location: "mem://sub-1/manuscript.pdf", Type: deposit.FileTypeManuscript},
	}
	sub := deposit.NewSubmission("sub-1", "sub-1", deposit.NewMetadata(), files)

	a, err := assembler.New(resolver, assembler.WithMetadata(nil))
	require.NoError(t, err)

	sink := &bufferSink{}
	pkg, err := a.Assemble(context.Background(), sub, sink)
	require.NoError(t, err)

	names, contents := readTarGz(t, sink.Bytes())
	assert.Equal(t, []string{
		"files/report.pdf",
		"files/report-2.pdf",
		"files/report-2-3.pdf",
		"files/report-4.pdf",
		"manifest.json",
	}, names)
	assert.Equal(t, testFiles[1].content, string(contents["files/report-2.pdf"]))
	assert.Equal(t, testFiles[2].content, string(contents["files/report-2-3.pdf"]))

	require.Len(t, pkg.Resources, 4)
	assert.Equal(t, "report-4.pdf", pkg.Resources[3].Name)
}

func TestAssembleEmptyEntryName(t *testing.T) {
	resolver, _, _ := setup(t)
	sub := deposit.NewSubmission("sub-1", "sub-1", deposit.NewMetadata(), []deposit.DepositFile{
		{Name: "..", Location: "mem://sub-1/manuscript.pdf", Type: deposit.FileTypeManuscript},
	})

	a, err := assembler.New(resolver)
	require.NoError(t, err)

	sink := &bufferSink{}
	_, err = a.Assemble(context.Background(), sub, sink)
	assert.ErrorIs(t, err, deposit.ErrInvalidModel)
	assert.Equal(t, int32(1), sink.closed.Load())
}

func TestAssembleNIHMSManifest(t *testing.T) {
	resolver, _, sub := setup(t)
	a, err := assembler.New(resolver, assembler.WithManifest(assembler.NIHMSManifest{}))
	require.NoError(t, err)

	sink := &bufferSink{}
	pkg, err := a.Assemble(context.Background(), sub, sink)
	require.NoError(t, err)
	assert.Equal(t, "manifest.txt", pkg.Manifest)

	names, contents := readTarGz(t, sink.Bytes())
	assert.Equal(t, "manifest.txt", names[len(names)-1])
	assert.Equal(t,
		"bulksub_meta_xml\t\tbulk_meta.xml\n"+
			"manuscript\tlabel manuscript.pdf\tfiles/manuscript.pdf\n"+
			"supplement\tlabel data.csv\tfiles/data.csv\n"+
			"figure\tlabel figure1\tfiles/figure1\n",
		string(contents["manifest.txt"]))
}

func TestStreamWriterLifecycle(t *testing.T) {
	resolver, _, sub := setup(t)
	a, err := assembler.New(resolver, assembler.WithMetadata(nil))
	require.NoError(t, err)

	sink := &bufferSink{}
	sw, err := a.NewStreamWriter(sink)
	require.NoError(t, err)
	defer sw.Close()

	file := sub.Files()[0]
	_, err = sw.BuildResource(assembler.NewResourceBuilder(), file)
	assert.Error(t, err, "build before start")

	require.NoError(t, sw.Start(sub.Files()[:1]))
	assert.Error(t, sw.Start(sub.Files()[:1]), "second start")

	res, err := sw.BuildResource(assembler.NewResourceBuilder(), file)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), res.Size)
	require.NoError(t, sw.WriteResource(res, strings.NewReader(testFiles[0].content), -1))

	pkg, err := sw.Finish(sub, []*assembler.Resource{res})
	require.NoError(t, err)
	assert.Empty(t, pkg.Metadata)

	_, err = sw.Finish(sub, []*assembler.Resource{res})
	assert.Error(t, err, "second finish")

	require.NoError(t, sw.Close())
	require.NoError(t, sw.Close())
	assert.Equal(t, int32(1), sink.closed.Load())

	names, _ := readTarGz(t, sink.Bytes())
	assert.Equal(t, []string{"files/manuscript.pdf", "manifest.json"}, names)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := assembler.New(nil)
	assert.Error(t, err)

	_, err = assembler.New(assembler.NewResolver(), assembler.WithFormat("rar"))
	assert.Error(t, err)

	_, err = assembler.New(assembler.NewResolver(), assembler.WithAlgorithms("crc32"))
	assert.Error(t, err)

	_, err = assembler.New(assembler.NewResolver(), assembler.WithAlgorithms())
	assert.Error(t, err)
}

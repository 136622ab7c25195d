package assembler

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// Format is an archive format a package can be written in.
type Format string

// Supported archive formats
const (
	FormatTarGz Format = "tar.gz"
	FormatZip   Format = "zip"
)

// ParseFormat parses a configured format name. "tgz" is accepted as tar.gz.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tar.gz", "tgz":
		return FormatTarGz, nil
	case "zip":
		return FormatZip, nil
	default:
		return "", fmt.Errorf("unsupported package format %q", s)
	}
}

// ContentType returns the media type of a package in this format.
func (f Format) ContentType() string {
	if f == FormatZip {
		return "application/zip"
	}
	return "application/gzip"
}

// Extension returns the file name extension of a package in this format.
func (f Format) Extension() string {
	if f == FormatZip {
		return ".zip"
	}
	return ".tar.gz"
}

// ArchiveWriter appends entries to an archive stream.
type ArchiveWriter interface {
	// WriteEntry copies r into a new entry named name. size is the expected
	// length of r, or -1 when unknown. It returns the number of bytes copied.
	WriteEntry(name string, size int64, r io.Reader) (int64, error)

	// Flush pushes everything written so far to the underlying writer.
	Flush() error

	// Close finalizes the archive. It does not close the underlying writer.
	Close() error
}

// NewArchiveWriter creates an archive writer for format on top of w.
// spoolDir is where tar entries of unknown size are staged; empty means the
// system temporary directory.
func NewArchiveWriter(format Format, w io.Writer, spoolDir string) (ArchiveWriter, error) {
	switch format {
	case FormatTarGz:
		gz := gzip.NewWriter(w)
		return &tarGzWriter{gz: gz, tw: tar.NewWriter(gz), spoolDir: spoolDir, now: time.Now}, nil
	case FormatZip:
		return &zipWriter{zw: zip.NewWriter(w), now: time.Now}, nil
	default:
		return nil, fmt.Errorf("unsupported package format %q", format)
	}
}

type tarGzWriter struct {
	gz       *gzip.Writer
	tw       *tar.Writer
	spoolDir string
	now      func() time.Time
}

func (t *tarGzWriter) WriteEntry(name string, size int64, r io.Reader) (int64, error) {
	if size < 0 {
		return t.writeSpooled(name, r)
	}
	if err := t.tw.WriteHeader(t.header(name, size)); err != nil {
		return 0, err
	}
	n, err := io.Copy(t.tw, r)
	if err != nil {
		return n, err
	}
	if n != size {
		return n, fmt.Errorf("entry %s: expected %d bytes, read %d", name, size, n)
	}
	return n, nil
}

// writeSpooled stages r in a temporary file because tar headers carry the
// entry size.
func (t *tarGzWriter) writeSpooled(name string, r io.Reader) (int64, error) {
	spool, err := os.CreateTemp(t.spoolDir, "deposit-entry-*")
	if err != nil {
		return 0, fmt.Errorf("create spool file: %w", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	size, err := io.Copy(spool, r)
	if err != nil {
		return size, err
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return size, fmt.Errorf("rewind spool file: %w", err)
	}
	if err := t.tw.WriteHeader(t.header(name, size)); err != nil {
		return size, err
	}
	if _, err := io.Copy(t.tw, spool); err != nil {
		return size, err
	}
	return size, nil
}

func (t *tarGzWriter) header(name string, size int64) *tar.Header {
	return &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     size,
		Mode:     0o644,
		ModTime:  t.now().UTC().Truncate(time.Second),
	}
}

func (t *tarGzWriter) Flush() error {
	if err := t.tw.Flush(); err != nil {
		return err
	}
	return t.gz.Flush()
}

func (t *tarGzWriter) Close() error {
	return errors.Join(t.tw.Close(), t.gz.Close())
}

type zipWriter struct {
	zw  *zip.Writer
	now func() time.Time
}

func (z *zipWriter) WriteEntry(name string, size int64, r io.Reader) (int64, error) {
	header := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: z.now().UTC(),
	}
	w, err := z.zw.CreateHeader(header)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, r)
	if err != nil {
		return n, err
	}
	if size >= 0 && n != size {
		return n, fmt.Errorf("entry %s: expected %d bytes, read %d", name, size, n)
	}
	return n, nil
}

func (z *zipWriter) Flush() error {
	return z.zw.Flush()
}

func (z *zipWriter) Close() error {
	return z.zw.Close()
}

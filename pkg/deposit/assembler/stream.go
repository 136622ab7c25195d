package assembler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-deposit/pkg/deposit"
)

// StreamWriter writes one package through a four phase lifecycle: Start
// once, then BuildResource and WriteResource per file in order, then Finish
// once. Close releases the sink on every path and must always be called.
type StreamWriter interface {
	// Start prepares per-package state for the ordered file list.
	Start(files []deposit.DepositFile) error

	// BuildResource describes file without reading its bytes.
	BuildResource(rb *ResourceBuilder, file deposit.DepositFile) (*Resource, error)

	// WriteResource copies content into the archive as res, filling in its
	// size, checksums and, if still unknown, its media type. size is the
	// expected content length or -1.
	WriteResource(res *Resource, content io.Reader, size int64) error

	// Finish appends the metadata and manifest entries and finalizes the
	// archive.
	Finish(sub *deposit.Submission, resources []*Resource) (*Package, error)

	// Close closes the sink. It is safe to call more than once.
	Close() error
}

type phase int

const (
	phaseNew phase = iota
	phaseStarted
	phaseFinished
	phaseFailed
)

var errLifecycle = errors.New("stream writer lifecycle violation")

// packageWriter is the StreamWriter of an Assembler.
type packageWriter struct {
	cfg     *Assembler
	sink    io.WriteCloser
	archive ArchiveWriter
	logger  *slog.Logger

	phase     phase
	packageID string
	createdAt time.Time
	entries   map[string][]string

	closeOnce sync.Once
	closeErr  error
}

func (a *Assembler) newPackageWriter(sink io.WriteCloser) (*packageWriter, error) {
	archive, err := NewArchiveWriter(a.format, sink, a.spoolDir)
	if err != nil {
		return nil, err
	}
	return &packageWriter{
		cfg:     a,
		sink:    sink,
		archive: archive,
		logger:  a.logger,
	}, nil
}

func (w *packageWriter) Start(files []deposit.DepositFile) error {
	if w.phase != phaseNew {
		return fmt.Errorf("%w: start called twice", errLifecycle)
	}
	taken := make(map[string]bool, len(files))
	entries := make(map[string][]string, len(files))
	for i, f := range files {
		name := entryName(f.Name)
		if name == "" {
			return &deposit.InvalidModelError{Field: "file name", Value: f.Name, Err: errors.New("empty entry name")}
		}
		name = uniqueName(name, i+1, taken)
		taken[name] = true
		entries[fileKey(f)] = append(entries[fileKey(f)], name)
	}
	w.entries = entries
	w.packageID = uuid.NewString()
	w.createdAt = w.cfg.now().UTC()
	w.phase = phaseStarted
	return nil
}

func (w *packageWriter) BuildResource(rb *ResourceBuilder, file deposit.DepositFile) (*Resource, error) {
	if w.phase != phaseStarted {
		return nil, fmt.Errorf("%w: build resource outside started package", errLifecycle)
	}
	queued := w.entries[fileKey(file)]
	if len(queued) == 0 {
		return nil, fmt.Errorf("%w: file %q was not announced at start", errLifecycle, file.Name)
	}
	name := queued[0]
	w.entries[fileKey(file)] = queued[1:]
	return rb.
		Name(name).
		Path(filesDir + "/" + name).
		Type(file.Type).
		Label(file.Label).
		MimeType(mimeTypeFor(file.MimeType, name)).
		Location(file.Location).
		Build(), nil
}

func (w *packageWriter) WriteResource(res *Resource, content io.Reader, size int64) error {
	if w.phase != phaseStarted {
		return fmt.Errorf("%w: write resource outside started package", errLifecycle)
	}
	d, err := newDigester(w.cfg.algorithms)
	if err != nil {
		return w.fail(&deposit.PackageError{Op: "write", Entry: res.Path, Err: err})
	}
	if _, err := w.archive.WriteEntry(res.Path, size, io.TeeReader(content, d)); err != nil {
		return w.fail(&deposit.PackageError{Op: "write", Entry: res.Path, Err: err})
	}
	if err := w.archive.Flush(); err != nil {
		return w.fail(&deposit.PackageError{Op: "flush", Entry: res.Path, Err: err})
	}

	res.Size = d.size
	res.Checksums = d.checksums()
	if res.MimeType == "" {
		res.MimeType = http.DetectContentType(d.head)
	}
	w.logger.Debug("wrote package entry", "package", w.packageID, "entry", res.Path, "size", res.Size)
	return nil
}

func (w *packageWriter) Finish(sub *deposit.Submission, resources []*Resource) (*Package, error) {
	if w.phase != phaseStarted {
		return nil, fmt.Errorf("%w: finish outside started package", errLifecycle)
	}
	pkg := &Package{
		ID:             w.packageID,
		SubmissionID:   sub.ID,
		SubmissionName: sub.Name,
		Format:         w.cfg.format,
		CreatedAt:      w.createdAt,
		Resources:      resources,
		Manifest:       w.cfg.manifest.EntryName(),
	}

	if ms := w.cfg.metadata; ms != nil {
		var buf bytes.Buffer
		if err := ms.Serialize(&buf, sub); err != nil {
			return nil, w.fail(&deposit.PackageError{Op: "serialize", Entry: ms.EntryName(), Err: err})
		}
		if err := w.writeBuffer(ms.EntryName(), &buf); err != nil {
			return nil, err
		}
		pkg.Metadata = ms.EntryName()
	}

	// The manifest depends on every computed size and checksum, so it is
	// always the last entry.
	var buf bytes.Buffer
	if err := w.cfg.manifest.Serialize(&buf, pkg); err != nil {
		return nil, w.fail(&deposit.PackageError{Op: "serialize", Entry: pkg.Manifest, Err: err})
	}
	if err := w.writeBuffer(pkg.Manifest, &buf); err != nil {
		return nil, err
	}
	if err := w.archive.Close(); err != nil {
		return nil, w.fail(&deposit.PackageError{Op: "finish", Err: err})
	}
	w.phase = phaseFinished
	return pkg, nil
}

func (w *packageWriter) writeBuffer(name string, buf *bytes.Buffer) error {
	if _, err := w.archive.WriteEntry(name, int64(buf.Len()), buf); err != nil {
		return w.fail(&deposit.PackageError{Op: "write", Entry: name, Err: err})
	}
	return nil
}

func (w *packageWriter) fail(err error) error {
	w.phase = phaseFailed
	return err
}

// Close closes the sink exactly once. An unfinished archive is not
// finalized, so a truncated package never looks complete.
func (w *packageWriter) Close() error {
	w.closeOnce.Do(func() {
		if w.phase != phaseFinished {
			w.logger.Warn("closing unfinished package", "package", w.packageID)
		}
		if err := w.sink.Close(); err != nil {
			w.closeErr = &deposit.PackageError{Op: "close", Err: err}
		}
	})
	return w.closeErr
}

// Package assembler streams a built Submission into a deposit package: the
// custodial files in order, a metadata document and, always last, the
// manifest describing every file's size and checksums.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tendant/simple-deposit/pkg/deposit"
)

// Assembler writes packages. It holds configuration only and may be used
// for concurrent packages, each with its own sink.
type Assembler struct {
	resolver   *Resolver
	format     Format
	algorithms []Algorithm
	manifest   ManifestSerializer
	metadata   MetadataSerializer
	spoolDir   string
	logger     *slog.Logger
	now        func() time.Time
}

// Option represents a functional option for configuring the assembler
type Option func(*Assembler)

// WithFormat sets the archive format
func WithFormat(format Format) Option {
	return func(a *Assembler) {
		a.format = format
	}
}

// WithAlgorithms sets the checksum algorithms computed per resource
func WithAlgorithms(algs ...Algorithm) Option {
	return func(a *Assembler) {
		a.algorithms = algs
	}
}

// WithManifest sets the manifest serializer
func WithManifest(m ManifestSerializer) Option {
	return func(a *Assembler) {
		a.manifest = m
	}
}

// WithMetadata sets the metadata serializer. nil leaves the metadata entry
// out of packages.
func WithMetadata(m MetadataSerializer) Option {
	return func(a *Assembler) {
		a.metadata = m
	}
}

// WithSpoolDir sets where entries of unknown size are staged
func WithSpoolDir(dir string) Option {
	return func(a *Assembler) {
		a.spoolDir = dir
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) {
		a.logger = logger
	}
}

// WithClock sets the clock used for package creation times
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		a.now = now
	}
}

// New creates an assembler that opens file content through resolver
func New(resolver *Resolver, options ...Option) (*Assembler, error) {
	a := &Assembler{
		resolver:   resolver,
		format:     FormatTarGz,
		algorithms: DefaultAlgorithms,
		manifest:   JSONManifest{},
		metadata:   BulkMetadata{},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, option := range options {
		option(a)
	}

	if a.resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if a.manifest == nil {
		return nil, fmt.Errorf("manifest serializer is required")
	}
	if _, err := ParseFormat(string(a.format)); err != nil {
		return nil, err
	}
	if len(a.algorithms) == 0 {
		return nil, fmt.Errorf("at least one checksum algorithm is required")
	}
	for _, alg := range a.algorithms {
		if _, err := newHash(alg); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Format returns the archive format packages are written in.
func (a *Assembler) Format() Format {
	return a.format
}

// NewStreamWriter returns a StreamWriter writing into sink. The caller
// drives the lifecycle and must Close the writer.
func (a *Assembler) NewStreamWriter(sink io.WriteCloser) (StreamWriter, error) {
	return a.newPackageWriter(sink)
}

// Assemble writes sub as a package into sink. The sink is closed exactly
// once whether or not packaging succeeds. On failure no manifest is written;
// read and write failures are *deposit.PackageError values matching
// deposit.ErrIO.
func (a *Assembler) Assemble(ctx context.Context, sub *deposit.Submission, sink io.WriteCloser) (pkg *Package, err error) {
	sw, err := a.newPackageWriter(sink)
	if err != nil {
		if cerr := sink.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, &deposit.PackageError{Op: "open", Err: err}
	}
	defer func() {
		if cerr := sw.Close(); cerr != nil && err == nil {
			pkg, err = nil, cerr
		}
		if err != nil {
			a.logger.ErrorContext(ctx, "package aborted", "submission", sub.ID, "package", sw.packageID, "err", err)
		}
	}()

	files := sub.Files()
	if err := sw.Start(files); err != nil {
		return nil, err
	}

	rb := NewResourceBuilder()
	resources := make([]*Resource, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, sw.fail(&deposit.PackageError{Op: "write", Entry: file.Name, Err: err})
		}
		res, err := sw.BuildResource(rb, file)
		if err != nil {
			return nil, err
		}
		if err := a.writeFile(ctx, sw, res); err != nil {
			return nil, err
		}
		resources = append(resources, res)
	}

	return sw.Finish(sub, resources)
}

func (a *Assembler) writeFile(ctx context.Context, sw *packageWriter, res *Resource) error {
	content, size, err := a.resolver.Open(ctx, res.Location)
	if err != nil {
		return sw.fail(&deposit.PackageError{Op: "open", Entry: res.Path, Err: err})
	}
	defer content.Close()
	return sw.WriteResource(res, content, size)
}

// Package builder turns a resolved entity graph and its metadata document
// into a deposit.Submission.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/tendant/simple-deposit/pkg/deposit"
	"github.com/tendant/simple-deposit/pkg/deposit/metadata"
)

// DefaultEmbargoZone is the reference time zone embargo end dates are
// anchored to.
const DefaultEmbargoZone = "America/New_York"

const embargoDateLayout = "2006-01-02"

// Builder builds Submission models. It holds no per-build state and may be
// used concurrently.
type Builder struct {
	logger  *slog.Logger
	embargo *time.Location
}

// Option represents a functional option for configuring the builder
type Option func(*Builder)

// WithLogger sets the logger used for recoverable metadata problems
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// WithEmbargoLocation overrides the time zone embargo dates are anchored to
func WithEmbargoLocation(loc *time.Location) Option {
	return func(b *Builder) {
		b.embargo = loc
	}
}

// New creates a builder with the given options
func New(options ...Option) (*Builder, error) {
	b := &Builder{}
	for _, option := range options {
		option(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.embargo == nil {
		loc, err := time.LoadLocation(DefaultEmbargoZone)
		if err != nil {
			return nil, fmt.Errorf("load embargo zone: %w", err)
		}
		b.embargo = loc
	}
	return b, nil
}

// build carries the state of one Build call.
type build struct {
	*Builder
	ctx    context.Context
	set    *deposit.EntitySet
	rootID string
	meta   *deposit.Metadata
}

// Build produces the Submission rooted at rootID. Graph-sourced values are
// applied first, the root's metadata document second so that it overrides
// them, and the file scan last. Any error aborts the build; no partial
// Submission is returned.
func (b *Builder) Build(ctx context.Context, rootID string, set *deposit.EntitySet) (*deposit.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if set == nil {
		return nil, fmt.Errorf("%w: %s (no entities)", deposit.ErrSubmissionNotFound, rootID)
	}
	entity, ok := set.Get(rootID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", deposit.ErrSubmissionNotFound, rootID)
	}
	root, ok := entity.(*deposit.SubmissionEntity)
	if !ok {
		return nil, &deposit.ReferenceError{From: "build", Field: "root", ID: rootID, Expected: deposit.KindSubmission, Found: entity.Kind()}
	}

	st := &build{
		Builder: b,
		ctx:     ctx,
		set:     set,
		rootID:  deposit.NormalizeID(root.ID),
		meta:    deposit.NewMetadata(),
	}

	if err := st.submitter(root); err != nil {
		return nil, err
	}
	if err := st.repositories(root); err != nil {
		return nil, err
	}
	if err := st.publication(root); err != nil {
		return nil, err
	}
	if err := st.grants(root); err != nil {
		return nil, err
	}
	if err := st.document(root.Metadata); err != nil {
		return nil, err
	}
	files, err := st.files()
	if err != nil {
		return nil, err
	}

	return deposit.NewSubmission(st.rootID, st.rootID, st.meta, files), nil
}

func (st *build) submitter(root *deposit.SubmissionEntity) error {
	user, err := resolve[*deposit.User](st.set, root.ID, "user", root.User, deposit.KindUser)
	if err != nil {
		return err
	}
	st.meta.Persons = append(st.meta.Persons, deposit.NewPersonFromUser(user, deposit.PersonTypeSubmitter))
	return nil
}

// repositories only checks that every repository reference resolves; no
// repository fields are part of the model yet.
func (st *build) repositories(root *deposit.SubmissionEntity) error {
	for _, id := range root.Repositories {
		if _, err := resolve[*deposit.Repository](st.set, root.ID, "repositories", id, deposit.KindRepository); err != nil {
			return err
		}
	}
	return nil
}

func (st *build) publication(root *deposit.SubmissionEntity) error {
	if root.Publication == "" {
		return nil
	}
	pub, err := resolve[*deposit.Publication](st.set, root.ID, "publication", root.Publication, deposit.KindPublication)
	if err != nil {
		return err
	}

	ms, article := st.meta.Manuscript, st.meta.Article
	if title := strings.TrimSpace(pub.Title); title != "" {
		ms.Title = title
		article.Title = title
	}
	if abstract := strings.TrimSpace(pub.Abstract); abstract != "" {
		ms.Abstract = abstract
	}
	if pmid := strings.TrimSpace(pub.PMID); pmid != "" {
		ms.PubmedID = pmid
	}
	if err := st.setDOI("publication.doi", pub.DOI); err != nil {
		return err
	}

	if pub.Journal == "" {
		return nil
	}
	journal, err := resolve[*deposit.JournalEntity](st.set, pub.ID, "journal", pub.Journal, deposit.KindJournal)
	if err != nil {
		return err
	}
	j := st.meta.Journal
	if name := strings.TrimSpace(journal.Name); name != "" {
		j.Title = name
	}
	if nlmta := strings.TrimSpace(journal.NLMTA); nlmta != "" {
		j.JournalID = nlmta
	}
	for _, typed := range journal.ISSNs {
		pair, err := deposit.ParseTypedISSN(typed)
		if err != nil {
			st.logger.WarnContext(st.ctx, "skipping journal issn", "journal", journal.ID, "issn", typed, "err", err)
			continue
		}
		if _, exists := j.IssnPubTypes[pair.ISSN]; exists {
			continue
		}
		j.IssnPubTypes[pair.ISSN] = pair
		if j.ISSN == "" {
			j.ISSN = pair.ISSN
			j.PubType = pair.PubType
		}
	}
	return nil
}

func (st *build) grants(root *deposit.SubmissionEntity) error {
	for _, id := range root.Grants {
		grant, err := resolve[*deposit.Grant](st.set, root.ID, "grants", id, deposit.KindGrant)
		if err != nil {
			return err
		}
		pi, err := resolve[*deposit.User](st.set, grant.ID, "pi", grant.PI, deposit.KindUser)
		if err != nil {
			return err
		}
		st.meta.Persons = append(st.meta.Persons, deposit.NewPersonFromUser(pi, deposit.PersonTypePI))

		for _, coPIID := range grant.CoPIs {
			coPI, err := resolve[*deposit.User](st.set, grant.ID, "coPis", coPIID, deposit.KindUser)
			if err != nil {
				return err
			}
			st.meta.Persons = append(st.meta.Persons, deposit.NewPersonFromUser(coPI, deposit.PersonTypeCoPI))
		}

		// Funders carry policy data that is not part of the model yet.
		if grant.PrimaryFunder != "" {
			if _, err := resolve[*deposit.Funder](st.set, grant.ID, "primaryFunder", grant.PrimaryFunder, deposit.KindFunder); err != nil {
				return err
			}
		}
		if grant.DirectFunder != "" {
			if _, err := resolve[*deposit.Funder](st.set, grant.ID, "directFunder", grant.DirectFunder, deposit.KindFunder); err != nil {
				return err
			}
		}
	}
	return nil
}

func (st *build) document(raw string) error {
	doc, err := metadata.Parse(raw)
	if err != nil {
		return err
	}
	for _, section := range doc.Sections {
		switch section.ID {
		case metadata.SectionCommon:
			common, err := section.Common()
			if err != nil {
				return err
			}
			if err := st.applyCommon(common); err != nil {
				return err
			}
		case metadata.SectionCrossref:
			crossref, err := section.Crossref()
			if err != nil {
				return err
			}
			if doi, ok := crossref.DOI.Get(); ok {
				if err := st.setDOI("doi", doi); err != nil {
					return err
				}
			}
		default:
			st.logger.DebugContext(st.ctx, "ignoring metadata section", "submission", st.rootID, "section", section.ID)
		}
	}
	return nil
}

func (st *build) applyCommon(c *metadata.Common) error {
	ms, article, journal := st.meta.Manuscript, st.meta.Article, st.meta.Journal

	c.Title.IfPresent(func(title string) {
		ms.Title = title
		article.Title = title
	})
	c.Abstract.IfPresent(func(abstract string) { ms.Abstract = abstract })
	c.JournalTitle.IfPresent(func(title string) { journal.Title = title })
	c.JournalNLMTA.IfPresent(func(id string) { journal.JournalID = id })
	c.PublisherPDF.IfPresent(func(v bool) { ms.PublisherPDF = v })
	c.ShowPublisher.IfPresent(func(v bool) { ms.ShowPublisherPDF = v })

	for _, name := range c.Authors {
		st.meta.Persons = append(st.meta.Persons, deposit.NewAuthor(name))
	}

	var first string
	for _, entry := range c.ISSNs {
		if len(entry.PubTypes) == 0 {
			st.logger.WarnContext(st.ctx, "skipping issn without publication type", "submission", st.rootID, "issn", entry.ISSN)
			continue
		}
		pubType, err := deposit.ParsePublicationType(entry.PubTypes[0])
		if err != nil {
			st.logger.WarnContext(st.ctx, "skipping issn", "submission", st.rootID, "issn", entry.ISSN, "err", err)
			continue
		}
		journal.IssnPubTypes[entry.ISSN] = deposit.IssnPubType{ISSN: entry.ISSN, PubType: pubType}
		if first == "" {
			first = entry.ISSN
		}
	}
	// The primary ISSN follows the map: it keeps its number when still
	// mapped and takes the document's type, else the first document entry.
	if first != "" {
		primary, ok := journal.IssnPubTypes[journal.ISSN]
		if !ok {
			primary = journal.IssnPubTypes[first]
		}
		journal.ISSN, journal.PubType = primary.ISSN, primary.PubType
	}

	if raw, ok := c.EmbargoEndDate.Get(); ok {
		lift, err := time.ParseInLocation(embargoDateLayout, raw, st.embargo)
		if err != nil {
			return &deposit.InvalidModelError{Field: "Embargo-end-date", Value: raw, Err: err}
		}
		article.EmbargoLiftDate = &lift
	}
	return nil
}

// setDOI parses raw into a URI and sets it on the article and manuscript.
// An empty value leaves the current DOI unchanged.
func (st *build) setDOI(field, raw string) error {
	doi, err := ParseDOI(raw)
	if err != nil {
		return &deposit.InvalidModelError{Field: field, Value: raw, Err: err}
	}
	if doi == nil {
		return nil
	}
	st.meta.Article.DOI = doi
	st.meta.Manuscript.DOI = doi
	return nil
}

func (st *build) files() ([]deposit.DepositFile, error) {
	var files []deposit.DepositFile
	for _, e := range st.set.All() {
		f, ok := e.(*deposit.File)
		if !ok || !f.BelongsTo(st.rootID) {
			continue
		}
		fileType, err := deposit.ClassifyFileRole(f.FileRole)
		if err != nil {
			return nil, &deposit.InvalidModelError{Field: "file " + f.ID + " fileRole", Value: string(f.FileRole), Err: err}
		}
		name := strings.TrimSpace(f.Name)
		if name == "" {
			name = locationBase(f.URI)
		}
		if name == "" {
			return nil, &deposit.InvalidModelError{Field: "file " + f.ID + " name", Value: f.URI, Err: errors.New("file has neither name nor location")}
		}
		files = append(files, deposit.DepositFile{
			Name:     name,
			Location: strings.TrimSpace(f.URI),
			Type:     fileType,
			Label:    strings.TrimSpace(f.Description),
			MimeType: strings.TrimSpace(f.MimeType),
		})
	}
	return files, nil
}

// ParseDOI trims raw and parses it as a URI. An empty value yields nil.
func ParseDOI(raw string) (*url.URL, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return nil, errors.New("doi contains whitespace")
	}
	return url.Parse(s)
}

func locationBase(location string) string {
	location = strings.TrimSpace(location)
	if location == "" {
		return ""
	}
	if u, err := url.Parse(location); err == nil && u.Path != "" {
		location = u.Path
	}
	base := path.Base(location)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// resolve looks up a reference from entity `from` and checks its kind.
func resolve[T deposit.Entity](set *deposit.EntitySet, from, field, id string, kind deposit.EntityKind) (T, error) {
	var zero T
	if deposit.NormalizeID(id) == "" {
		return zero, &deposit.ReferenceError{From: from, Field: field, Expected: kind}
	}
	e, ok := set.Get(id)
	if !ok {
		return zero, &deposit.ReferenceError{From: from, Field: field, ID: id, Expected: kind}
	}
	typed, ok := e.(T)
	if !ok {
		return zero, &deposit.ReferenceError{From: from, Field: field, ID: id, Expected: kind, Found: e.Kind()}
	}
	return typed, nil
}

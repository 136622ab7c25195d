package deposit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntityKind identifies the type of a record in the entity graph.
type EntityKind string

// Entity kind constants (typed).
const (
	KindSubmission  EntityKind = "submission"
	KindUser        EntityKind = "user"
	KindGrant       EntityKind = "grant"
	KindFunder      EntityKind = "funder"
	KindRepository  EntityKind = "repository"
	KindFile        EntityKind = "file"
	KindPublication EntityKind = "publication"
	KindJournal     EntityKind = "journal"
)

// FileRole is the role a file entity declares for itself.
type FileRole string

// File role constants as they appear in the entity graph.
const (
	FileRoleManuscript   FileRole = "MANUSCRIPT"
	FileRoleSupplemental FileRole = "SUPPLEMENTAL"
	FileRoleFigure       FileRole = "FIGURE"
	FileRoleTable        FileRole = "TABLE"
)

// Entity is a typed record of the entity graph.
type Entity interface {
	EntityID() string
	Kind() EntityKind
	// References returns the identifiers this entity points at.
	References() []string
}

// NormalizeID returns the canonical form of an entity identifier used for
// all identifier comparisons: surrounding whitespace and trailing slashes are
// removed.
func NormalizeID(id string) string {
	return strings.TrimRight(strings.TrimSpace(id), "/")
}

// SubmissionEntity is the root of a submission's entity graph.
type SubmissionEntity struct {
	ID                      string     `json:"id"`
	User                    string     `json:"user,omitempty"`
	Publication             string     `json:"publication,omitempty"`
	Repositories            []string   `json:"repositories,omitempty"`
	Grants                  []string   `json:"grants,omitempty"`
	Metadata                string     `json:"metadata,omitempty"`
	Source                  string     `json:"source,omitempty"`
	Submitted               bool       `json:"submitted,omitempty"`
	SubmittedDate           *time.Time `json:"submittedDate,omitempty"`
	AggregatedDepositStatus string     `json:"aggregatedDepositStatus,omitempty"`
}

func (e *SubmissionEntity) EntityID() string { return e.ID }
func (e *SubmissionEntity) Kind() EntityKind { return KindSubmission }
func (e *SubmissionEntity) References() []string {
	refs := compact(e.User, e.Publication)
	refs = append(refs, e.Repositories...)
	return append(refs, e.Grants...)
}

// User is a person known to the entity graph.
type User struct {
	ID              string   `json:"id"`
	Username        string   `json:"username,omitempty"`
	FirstName       string   `json:"firstName,omitempty"`
	MiddleName      string   `json:"middleName,omitempty"`
	LastName        string   `json:"lastName,omitempty"`
	DisplayName     string   `json:"displayName,omitempty"`
	Email           string   `json:"email,omitempty"`
	Affiliation     string   `json:"affiliation,omitempty"`
	InstitutionalID string   `json:"institutionalId,omitempty"`
	LocalKey        string   `json:"localKey,omitempty"`
	OrcidID         string   `json:"orcidId,omitempty"`
	Roles           []string `json:"roles,omitempty"`
}

func (e *User) EntityID() string     { return e.ID }
func (e *User) Kind() EntityKind     { return KindUser }
func (e *User) References() []string { return nil }

// Grant is an award that funded the work.
type Grant struct {
	ID            string     `json:"id"`
	AwardNumber   string     `json:"awardNumber,omitempty"`
	AwardStatus   string     `json:"awardStatus,omitempty"`
	LocalKey      string     `json:"localKey,omitempty"`
	ProjectName   string     `json:"projectName,omitempty"`
	PrimaryFunder string     `json:"primaryFunder,omitempty"`
	DirectFunder  string     `json:"directFunder,omitempty"`
	PI            string     `json:"pi,omitempty"`
	CoPIs         []string   `json:"coPis,omitempty"`
	AwardDate     *time.Time `json:"awardDate,omitempty"`
	StartDate     *time.Time `json:"startDate,omitempty"`
	EndDate       *time.Time `json:"endDate,omitempty"`
}

func (e *Grant) EntityID() string { return e.ID }
func (e *Grant) Kind() EntityKind { return KindGrant }
func (e *Grant) References() []string {
	refs := compact(e.PrimaryFunder, e.DirectFunder, e.PI)
	return append(refs, e.CoPIs...)
}

// Funder is an organisation funding a Grant.
type Funder struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	URL      string `json:"url,omitempty"`
	LocalKey string `json:"localKey,omitempty"`
	Policy   string `json:"policy,omitempty"`
}

func (e *Funder) EntityID() string     { return e.ID }
func (e *Funder) Kind() EntityKind     { return KindFunder }
func (e *Funder) References() []string { return nil }

// Repository is a deposit target a submission is bound for.
type Repository struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	Description   string `json:"description,omitempty"`
	URL           string `json:"url,omitempty"`
	RepositoryKey string `json:"repositoryKey,omitempty"`
}

func (e *Repository) EntityID() string     { return e.ID }
func (e *Repository) Kind() EntityKind     { return KindRepository }
func (e *Repository) References() []string { return nil }

// Publication describes the published work a submission is about.
type Publication struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	Abstract string `json:"publicationAbstract,omitempty"`
	DOI      string `json:"doi,omitempty"`
	PMID     string `json:"pmid,omitempty"`
	Volume   string `json:"volume,omitempty"`
	Issue    string `json:"issue,omitempty"`
	Journal  string `json:"journal,omitempty"`
}

func (e *Publication) EntityID() string     { return e.ID }
func (e *Publication) Kind() EntityKind     { return KindPublication }
func (e *Publication) References() []string { return compact(e.Journal) }

// JournalEntity is the venue of a Publication. ISSNs are "<Type>:<issn>" pairs,
// e.g. "Print:0000-0001".
type JournalEntity struct {
	ID               string   `json:"id"`
	Name             string   `json:"journalName,omitempty"`
	NLMTA            string   `json:"nlmta,omitempty"`
	ISSNs            []string `json:"issns,omitempty"`
	PmcParticipation string   `json:"pmcParticipation,omitempty"`
}

func (e *JournalEntity) EntityID() string     { return e.ID }
func (e *JournalEntity) Kind() EntityKind     { return KindJournal }
func (e *JournalEntity) References() []string { return nil }

// File is a piece of content attached to a submission.
type File struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	URI         string   `json:"uri,omitempty"`
	Description string   `json:"description,omitempty"`
	MimeType    string   `json:"mimeType,omitempty"`
	FileRole    FileRole `json:"fileRole,omitempty"`
	Submission  string   `json:"submission,omitempty"`
}

func (e *File) EntityID() string     { return e.ID }
func (e *File) Kind() EntityKind     { return KindFile }
func (e *File) References() []string { return compact(e.Submission) }

// BelongsTo reports whether the file's submission back-reference matches
// the given submission identifier.
func (e *File) BelongsTo(submissionID string) bool {
	return e.Submission != "" && NormalizeID(e.Submission) == NormalizeID(submissionID)
}

func compact(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// DecodeEntity decodes a JSON object carrying a "type" discriminator into
// the matching entity.
func DecodeEntity(data []byte) (Entity, error) {
	var head struct {
		Type EntityKind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}
	e, err := newEntity(head.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decode %s entity: %w", head.Type, err)
	}
	if NormalizeID(e.EntityID()) == "" {
		return nil, fmt.Errorf("decode %s entity: missing id", head.Type)
	}
	return e, nil
}

// DecodeEntities decodes a JSON array of typed entity objects.
func DecodeEntities(data []byte) ([]Entity, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode entities: %w", err)
	}
	out := make([]Entity, 0, len(raws))
	for i, raw := range raws {
		e, err := DecodeEntity(raw)
		if err != nil {
			return nil, fmt.Errorf("entity %d: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// EncodeEntity renders an entity as JSON including its "type" discriminator.
func EncodeEntity(e Entity) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(e.Kind())
	fields["type"] = kind
	return json.Marshal(fields)
}

func newEntity(kind EntityKind) (Entity, error) {
	switch kind {
	case KindSubmission:
		return &SubmissionEntity{}, nil
	case KindUser:
		return &User{}, nil
	case KindGrant:
		return &Grant{}, nil
	case KindFunder:
		return &Funder{}, nil
	case KindRepository:
		return &Repository{}, nil
	case KindFile:
		return &File{}, nil
	case KindPublication:
		return &Publication{}, nil
	case KindJournal:
		return &JournalEntity{}, nil
	default:
		return nil, fmt.Errorf("unknown entity type %q", kind)
	}
}

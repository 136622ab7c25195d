package deposit

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"
)

// PersonType is the role a Person plays in a Submission.
type PersonType string

// Person role constants (typed).
const (
	PersonTypeSubmitter PersonType = "submitter"
	PersonTypePI        PersonType = "pi"
	PersonTypeCoPI      PersonType = "co-pi"
	PersonTypeAuthor    PersonType = "author"
)

// JournalPublicationType distinguishes print and electronic editions of a journal.
type JournalPublicationType string

// Journal publication type constants (typed).
const (
	PublicationTypePrint      JournalPublicationType = "ppub"
	PublicationTypeElectronic JournalPublicationType = "epub"
)

// DepositFileType is the normalized type of a file within a deposit package.
type DepositFileType string

// Deposit file type constants (typed).
const (
	FileTypeManuscript DepositFileType = "manuscript"
	FileTypeSupplement DepositFileType = "supplement"
	FileTypeFigure     DepositFileType = "figure"
	FileTypeTable      DepositFileType = "table"
)

// JournalIDTypeNLMTA is the only journal identifier type the target repository accepts.
const JournalIDTypeNLMTA = "nlm-ta"

// Submission is the normalized record of one manuscript's deposit request.
type Submission struct {
	ID       string
	Name     string
	Metadata *Metadata

	files []DepositFile
}

// NewSubmission creates a Submission that owns files. The slice is copied.
func NewSubmission(id, name string, metadata *Metadata, files []DepositFile) *Submission {
	owned := make([]DepositFile, len(files))
	copy(owned, files)
	return &Submission{
		ID:       id,
		Name:     name,
		Metadata: metadata,
		files:    owned,
	}
}

// Files returns a copy of the submission's ordered file list.
func (s *Submission) Files() []DepositFile {
	out := make([]DepositFile, len(s.files))
	copy(out, s.files)
	return out
}

// Manifest returns the read-only view of the submission's files.
func (s *Submission) Manifest() Manifest {
	return Manifest{files: s.files}
}

// MarshalJSON renders the submission including its file list.
func (s *Submission) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID       string        `json:"id"`
		Name     string        `json:"name"`
		Metadata *Metadata     `json:"metadata"`
		Files    []DepositFile `json:"files"`
	}{
		ID:       s.ID,
		Name:     s.Name,
		Metadata: s.Metadata,
		Files:    s.Files(),
	})
}

// Manifest is the Submission's file list as presented for packaging. It shares
// the Submission's backing list and offers no mutators.
type Manifest struct {
	files []DepositFile
}

// Files returns a copy of the manifest's files in submission order.
func (m Manifest) Files() []DepositFile {
	out := make([]DepositFile, len(m.files))
	copy(out, m.files)
	return out
}

// Len returns the number of files in the manifest.
func (m Manifest) Len() int {
	return len(m.files)
}

// Metadata groups the descriptive records of a Submission.
type Metadata struct {
	Manuscript *Manuscript `json:"manuscript"`
	Journal    *Journal    `json:"journal"`
	Article    *Article    `json:"article"`
	Persons    []Person    `json:"persons"`
}

// NewMetadata returns empty metadata with all sub-records allocated.
func NewMetadata() *Metadata {
	return &Metadata{
		Manuscript: &Manuscript{},
		Journal: &Journal{
			JournalType:  JournalIDTypeNLMTA,
			IssnPubTypes: make(map[string]IssnPubType),
		},
		Article: &Article{},
		Persons: []Person{},
	}
}

// PersonsOfType returns the persons with the given role, in insertion order.
func (m *Metadata) PersonsOfType(t PersonType) []Person {
	var out []Person
	for _, p := range m.Persons {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

// Manuscript describes the submitted work.
type Manuscript struct {
	Title                       string   `json:"title,omitempty"`
	Abstract                    string   `json:"abstract,omitempty"`
	NihmsID                     string   `json:"nihms_id,omitempty"`
	PubmedID                    string   `json:"pubmed_id,omitempty"`
	PubmedCentralID             string   `json:"pubmed_central_id,omitempty"`
	ManuscriptURL               *url.URL `json:"-"`
	DOI                         *url.URL `json:"-"`
	PublisherPDF                bool     `json:"publisher_pdf"`
	ShowPublisherPDF            bool     `json:"show_publisher_pdf"`
	RelativeEmbargoPeriodMonths int      `json:"relative_embargo_period_months"`
}

// Journal describes the venue the work was published in.
type Journal struct {
	JournalID   string                 `json:"journal_id,omitempty"`
	JournalType string                 `json:"journal_type"`
	Title       string                 `json:"journal_title,omitempty"`
	PubType     JournalPublicationType `json:"pub_type,omitempty"`
	ISSN        string                 `json:"issn,omitempty"`
	// IssnPubTypes supports journals with several ISSN/publication type pairs.
	IssnPubTypes map[string]IssnPubType `json:"issn_pub_types,omitempty"`
}

// IssnPubType pairs an ISSN with the publication type it identifies.
type IssnPubType struct {
	ISSN    string                 `json:"issn"`
	PubType JournalPublicationType `json:"pub_type"`
}

// Article describes the published form of the work.
type Article struct {
	Title           string     `json:"title,omitempty"`
	DOI             *url.URL   `json:"-"`
	EmbargoLiftDate *time.Time `json:"embargo_lift_date,omitempty"`
}

// MarshalJSON renders the DOI as a string.
func (a Article) MarshalJSON() ([]byte, error) {
	type plain Article
	return json.Marshal(struct {
		plain
		DOI string `json:"doi,omitempty"`
	}{plain: plain(a), DOI: urlString(a.DOI)})
}

// MarshalJSON renders the manuscript URLs as strings.
func (m Manuscript) MarshalJSON() ([]byte, error) {
	type plain Manuscript
	return json.Marshal(struct {
		plain
		ManuscriptURL string `json:"manuscript_url,omitempty"`
		DOI           string `json:"doi,omitempty"`
	}{plain: plain(m), ManuscriptURL: urlString(m.ManuscriptURL), DOI: urlString(m.DOI)})
}

func urlString(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}

// Person is a normalized participant record. It has no identity beyond the
// Submission that owns it.
type Person struct {
	FirstName       string     `json:"first_name,omitempty"`
	MiddleName      string     `json:"middle_name,omitempty"`
	LastName        string     `json:"last_name,omitempty"`
	FullName        string     `json:"full_name,omitempty"`
	Email           string     `json:"email,omitempty"`
	Type            PersonType `json:"type"`
	PI              bool       `json:"pi"`
	CorrespondingPI bool       `json:"corresponding_pi"`
	Author          bool       `json:"author"`
}

// Name returns the full name when set, otherwise the joined name parts.
func (p Person) Name() string {
	if p.FullName != "" {
		return p.FullName
	}
	parts := make([]string, 0, 3)
	for _, s := range []string{p.FirstName, p.MiddleName, p.LastName} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// DepositFile references one piece of content belonging to a Submission.
type DepositFile struct {
	Name     string          `json:"name"`
	Location string          `json:"location"`
	Type     DepositFileType `json:"type"`
	Label    string          `json:"label,omitempty"`
	MimeType string          `json:"mime_type,omitempty"`
}

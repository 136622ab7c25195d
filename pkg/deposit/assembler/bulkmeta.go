package assembler

import (
	"encoding/xml"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/tendant/simple-deposit/pkg/deposit"
)

// BulkMetadata writes the NIHMS bulk submission metadata document,
// bulk_meta.xml.
type BulkMetadata struct{}

func (BulkMetadata) EntryName() string { return "bulk_meta.xml" }

type nihmsSubmit struct {
	XMLName     xml.Name         `xml:"nihms-submit"`
	Manuscript  nihmsManuscript  `xml:"manuscript"`
	Title       string           `xml:"title,omitempty"`
	JournalMeta nihmsJournalMeta `xml:"journal-meta"`
	Persons     []nihmsPerson    `xml:"contacts>person"`
}

type nihmsManuscript struct {
	PublisherPDF     string `xml:"publisher_pdf,attr"`
	ShowPublisherPDF string `xml:"show_publisher_pdf,attr"`
	Embargo          string `xml:"embargo,attr,omitempty"`
	EmbargoDate      string `xml:"embargo-date,attr,omitempty"`
	PMID             string `xml:"pmid,attr,omitempty"`
	PMCID            string `xml:"pmcid,attr,omitempty"`
	NihmsID          string `xml:"id,attr,omitempty"`
	Href             string `xml:"href,attr,omitempty"`
	DOI              string `xml:"doi,attr,omitempty"`
}

type nihmsJournalMeta struct {
	JournalID *nihmsJournalID `xml:"journal-id,omitempty"`
	ISSNs     []nihmsISSN     `xml:"issn"`
	Title     string          `xml:"journal-title,omitempty"`
}

type nihmsJournalID struct {
	Type  string `xml:"journal-id-type,attr"`
	Value string `xml:",chardata"`
}

type nihmsISSN struct {
	PubType string `xml:"pub-type,attr"`
	Value   string `xml:",chardata"`
}

type nihmsPerson struct {
	FirstName  string `xml:"fname,attr"`
	MiddleName string `xml:"mname,attr,omitempty"`
	LastName   string `xml:"lname,attr"`
	Email      string `xml:"email,attr,omitempty"`
	Type       string `xml:"person-type,attr"`
	PI         string `xml:"pi,attr,omitempty"`
	CorrPI     string `xml:"corrpi,attr,omitempty"`
	Author     string `xml:"author,attr,omitempty"`
}

func (BulkMetadata) Serialize(w io.Writer, sub *deposit.Submission) error {
	doc := newNihmsSubmit(sub.Metadata)
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func newNihmsSubmit(md *deposit.Metadata) nihmsSubmit {
	doc := nihmsSubmit{}
	if md == nil {
		return doc
	}

	if ms := md.Manuscript; ms != nil {
		doc.Title = ms.Title
		doc.Manuscript = nihmsManuscript{
			PublisherPDF:     yesNo(ms.PublisherPDF),
			ShowPublisherPDF: yesNo(ms.ShowPublisherPDF),
			PMID:             ms.PubmedID,
			PMCID:            ms.PubmedCentralID,
			NihmsID:          ms.NihmsID,
			Href:             urlText(ms.ManuscriptURL),
			DOI:              urlText(ms.DOI),
		}
		if ms.RelativeEmbargoPeriodMonths > 0 {
			doc.Manuscript.Embargo = strconv.Itoa(ms.RelativeEmbargoPeriodMonths)
		}
	}
	if a := md.Article; a != nil {
		if doc.Title == "" {
			doc.Title = a.Title
		}
		if doc.Manuscript.DOI == "" {
			doc.Manuscript.DOI = urlText(a.DOI)
		}
		if a.EmbargoLiftDate != nil {
			doc.Manuscript.EmbargoDate = a.EmbargoLiftDate.Format("2006-01-02")
		}
	}
	if j := md.Journal; j != nil {
		doc.JournalMeta.Title = j.Title
		if j.JournalID != "" {
			doc.JournalMeta.JournalID = &nihmsJournalID{Type: j.JournalType, Value: j.JournalID}
		}
		doc.JournalMeta.ISSNs = journalISSNs(j)
	}
	for _, p := range md.Persons {
		doc.Persons = append(doc.Persons, newNihmsPerson(p))
	}
	return doc
}

// journalISSNs lists the ISSN map sorted by ISSN, falling back to the single
// journal ISSN.
func journalISSNs(j *deposit.Journal) []nihmsISSN {
	if len(j.IssnPubTypes) == 0 {
		if j.ISSN == "" {
			return nil
		}
		return []nihmsISSN{{PubType: string(j.PubType), Value: j.ISSN}}
	}
	issns := make([]string, 0, len(j.IssnPubTypes))
	for issn := range j.IssnPubTypes {
		issns = append(issns, issn)
	}
	sort.Strings(issns)
	out := make([]nihmsISSN, 0, len(issns))
	for _, issn := range issns {
		out = append(out, nihmsISSN{PubType: string(j.IssnPubTypes[issn].PubType), Value: issn})
	}
	return out
}

func newNihmsPerson(p deposit.Person) nihmsPerson {
	first, last := p.FirstName, p.LastName
	if first == "" && last == "" {
		first, last = splitFullName(p.FullName)
	}
	np := nihmsPerson{
		FirstName:  first,
		MiddleName: p.MiddleName,
		LastName:   last,
		Email:      p.Email,
		Type:       string(p.Type),
	}
	if p.PI {
		np.PI = "yes"
	}
	if p.CorrespondingPI {
		np.CorrPI = "yes"
	}
	if p.Author {
		np.Author = "yes"
	}
	return np
}

// splitFullName splits on the last space: "Jane Q Doe" is ("Jane Q", "Doe").
func splitFullName(full string) (string, string) {
	full = strings.TrimSpace(full)
	i := strings.LastIndex(full, " ")
	if i < 0 {
		return "", full
	}
	return strings.TrimSpace(full[:i]), full[i+1:]
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func urlText(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}

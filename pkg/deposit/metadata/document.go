// Package metadata parses the sectioned metadata document attached to a
// submission into typed fragments.
//
// The document is a JSON array of sections, each an object with an "id"
// discriminator and a "data" object. Sections with unrecognized ids are kept
// but never interpreted. Every field is read through a typed accessor that
// declares its own coercion rule, so absent, null and mistyped values are
// handled explicitly.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/tendant/simple-deposit/pkg/deposit"
)

// Section discriminators
const (
	SectionCommon   = "common"
	SectionCrossref = "crossref"
)

// Document keys
const (
	keyID             = "id"
	keyData           = "data"
	keyTitle          = "title"
	keyAbstract       = "abstract"
	keyJournalTitle   = "journal-title"
	keyJournalNLMTA   = "journal-NLMTA-ID"
	keyAuthors        = "authors"
	keyAuthor         = "author"
	keyISSNMap        = "issn-map"
	keyPubType        = "pub-type"
	keyEmbargoEndDate = "Embargo-end-date"
	keyPublisherPDF   = "publisher-pdf"
	keyShowPublisher  = "show-publisher-pdf"
	keyDOI            = "doi"
)

// Document is a parsed metadata document.
type Document struct {
	Sections []Section
}

// Section is one typed section of the document with its raw data object.
type Section struct {
	ID   string
	Data []byte
}

// Common holds the fields of a "common" section.
type Common struct {
	Title          Optional[string]
	Abstract       Optional[string]
	JournalTitle   Optional[string]
	JournalNLMTA   Optional[string]
	Authors        []string
	ISSNs          []ISSNEntry
	EmbargoEndDate Optional[string]
	PublisherPDF   Optional[bool]
	ShowPublisher  Optional[bool]
}

// ISSNEntry is one entry of the common section's ISSN map in document order.
type ISSNEntry struct {
	ISSN     string
	PubTypes []string
}

// Crossref holds the fields of a "crossref" section.
type Crossref struct {
	DOI Optional[string]
}

// Parse splits a raw metadata document into sections. An empty document has
// no sections. A document that is not a JSON array of objects is an invalid
// model. Elements without an id, with a null or absent data, and unrecognized
// sections whose data is not an object are skipped. A recognized section whose
// data is not an object is an invalid model.
func Parse(raw string) (*Document, error) {
	doc := &Document{}
	if strings.TrimSpace(raw) == "" {
		return doc, nil
	}
	data := []byte(raw)
	if !json.Valid(data) {
		return nil, &deposit.InvalidModelError{Field: "metadata", Value: abbreviate(raw), Err: errors.New("malformed json")}
	}
	value, dataType, _, err := jsonparser.Get(data)
	if err != nil || dataType != jsonparser.Array {
		return nil, &deposit.InvalidModelError{Field: "metadata", Value: abbreviate(raw), Err: fmt.Errorf("%w: expected array", errType)}
	}
	elems, err := elements(value)
	if err != nil {
		return nil, &deposit.InvalidModelError{Field: "metadata", Value: abbreviate(raw), Err: err}
	}
	for i, elem := range elems {
		if elem.Type != jsonparser.Object {
			return nil, &deposit.InvalidModelError{Field: fmt.Sprintf("metadata[%d]", i), Value: abbreviate(string(elem.Value)), Err: fmt.Errorf("%w: expected object", errType)}
		}
		id, err := String(elem.Value, keyID)
		if err != nil {
			return nil, err
		}
		sectionID, ok := id.Get()
		if !ok {
			continue
		}
		read := Object
		if sectionID == SectionCommon || sectionID == SectionCrossref {
			read = StrictObject
		}
		body, err := read(elem.Value, keyData)
		if err != nil {
			var im *deposit.InvalidModelError
			if errors.As(err, &im) {
				im.Field = fmt.Sprintf("metadata[%d].%s", i, im.Field)
			}
			return nil, err
		}
		sectionData, ok := body.Get()
		if !ok {
			continue
		}
		doc.Sections = append(doc.Sections, Section{ID: sectionID, Data: sectionData})
	}
	return doc, nil
}

// Common interprets the section as a "common" section.
func (s Section) Common() (*Common, error) {
	c := &Common{}
	var err error
	if c.Title, err = String(s.Data, keyTitle); err != nil {
		return nil, err
	}
	if c.Abstract, err = String(s.Data, keyAbstract); err != nil {
		return nil, err
	}
	if c.JournalTitle, err = String(s.Data, keyJournalTitle); err != nil {
		return nil, err
	}
	if c.JournalNLMTA, err = String(s.Data, keyJournalNLMTA); err != nil {
		return nil, err
	}
	if c.EmbargoEndDate, err = String(s.Data, keyEmbargoEndDate); err != nil {
		return nil, err
	}
	if c.PublisherPDF, err = Bool(s.Data, keyPublisherPDF); err != nil {
		return nil, err
	}
	if c.ShowPublisher, err = Bool(s.Data, keyShowPublisher); err != nil {
		return nil, err
	}
	if c.Authors, err = authors(s.Data); err != nil {
		return nil, err
	}
	if c.ISSNs, err = issnEntries(s.Data); err != nil {
		return nil, err
	}
	return c, nil
}

// Crossref interprets the section as a "crossref" section.
func (s Section) Crossref() (*Crossref, error) {
	doi, err := String(s.Data, keyDOI)
	if err != nil {
		return nil, err
	}
	return &Crossref{DOI: doi}, nil
}

func authors(data []byte) ([]string, error) {
	list, err := StrictArray(data, keyAuthors)
	if err != nil {
		return nil, err
	}
	elems, _ := list.Get()
	var names []string
	for i, elem := range elems {
		if elem.Type != jsonparser.Object {
			return nil, &deposit.InvalidModelError{
				Field: fmt.Sprintf("%s[%d]", keyAuthors, i),
				Value: string(elem.Value),
				Err:   fmt.Errorf("%w: expected object", errType),
			}
		}
		name, err := String(elem.Value, keyAuthor)
		if err != nil {
			return nil, err
		}
		name.IfPresent(func(n string) {
			names = append(names, n)
		})
	}
	return names, nil
}

func issnEntries(data []byte) ([]ISSNEntry, error) {
	issnMap, err := Object(data, keyISSNMap)
	if err != nil {
		return nil, err
	}
	obj, ok := issnMap.Get()
	if !ok {
		return nil, nil
	}
	var entries []ISSNEntry
	err = jsonparser.ObjectEach(obj, func(key []byte, value []byte, dataType jsonparser.ValueType, _ int) error {
		if dataType != jsonparser.Object {
			return nil
		}
		issn, err := jsonparser.ParseString(key)
		if err != nil {
			return &deposit.InvalidModelError{Field: keyISSNMap, Value: string(key), Err: err}
		}
		types, err := Array(value, keyPubType)
		if err != nil {
			return err
		}
		elems, ok := types.Get()
		if !ok {
			return nil
		}
		entry := ISSNEntry{ISSN: issn}
		for _, elem := range elems {
			if text, ok := elem.Text(); ok {
				entry.PubTypes = append(entry.PubTypes, text)
			}
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		var im *deposit.InvalidModelError
		if errors.As(err, &im) {
			return nil, err
		}
		return nil, &deposit.InvalidModelError{Field: keyISSNMap, Value: abbreviate(string(obj)), Err: err}
	}
	return entries, nil
}

func abbreviate(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

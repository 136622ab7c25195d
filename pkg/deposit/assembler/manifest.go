package assembler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tendant/simple-deposit/pkg/deposit"
)

// Package describes a written package. It is also the document the JSON
// manifest serializer writes.
type Package struct {
	ID             string      `json:"package_id"`
	SubmissionID   string      `json:"submission_id"`
	SubmissionName string      `json:"submission_name"`
	Format         Format      `json:"format"`
	CreatedAt      time.Time   `json:"created_at"`
	Metadata       string      `json:"metadata,omitempty"`
	Resources      []*Resource `json:"resources"`

	// Manifest is the archive entry name of the manifest.
	Manifest string `json:"-"`
}

// ManifestSerializer writes the manifest entry that closes a package.
type ManifestSerializer interface {
	EntryName() string
	Serialize(w io.Writer, pkg *Package) error
}

// MetadataSerializer writes a metadata entry derived from the submission.
type MetadataSerializer interface {
	EntryName() string
	Serialize(w io.Writer, sub *deposit.Submission) error
}

// JSONManifest writes manifest.json.
type JSONManifest struct{}

func (JSONManifest) EntryName() string { return "manifest.json" }

func (JSONManifest) Serialize(w io.Writer, pkg *Package) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(pkg)
}

// NIHMSManifest writes the tab separated manifest.txt of NIHMS bulk
// submissions: one "<type>\t<label>\t<path>" line per file, preceded by the
// metadata document line when the package has one.
type NIHMSManifest struct{}

// NIHMS file type of the bulk metadata document
const nihmsMetadataType = "bulksub_meta_xml"

func (NIHMSManifest) EntryName() string { return "manifest.txt" }

func (NIHMSManifest) Serialize(w io.Writer, pkg *Package) error {
	bw := bufio.NewWriter(w)
	if pkg.Metadata != "" {
		fmt.Fprintf(bw, "%s\t\t%s\n", nihmsMetadataType, pkg.Metadata)
	}
	for _, res := range pkg.Resources {
		fmt.Fprintf(bw, "%s\t%s\t%s\n", res.Type, tsvField(res.Label), tsvField(res.Path))
	}
	return bw.Flush()
}

func tsvField(s string) string {
	return strings.NewReplacer("\t", " ", "\n", " ", "\r", " ").Replace(s)
}

// ParseManifest returns the manifest serializer for a configured name:
// "json" (default) or "nihms".
func ParseManifest(name string) (ManifestSerializer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSONManifest{}, nil
	case "nihms", "txt":
		return NIHMSManifest{}, nil
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", name)
	}
}

package assembler

import (
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/tendant/simple-deposit/pkg/deposit"
)

// filesDir is the archive directory custodial files are written under.
const filesDir = "files"

// Resource describes one file written into a package. Size and Checksums
// are filled in while the file's bytes are written.
type Resource struct {
	Name      string                  `json:"name"`
	Path      string                  `json:"path"`
	Type      deposit.DepositFileType `json:"type"`
	Label     string                  `json:"label,omitempty"`
	MimeType  string                  `json:"mime_type,omitempty"`
	Size      int64                   `json:"size"`
	Checksums []Checksum              `json:"checksums"`

	// Location is where the bytes were read from; it is not part of the
	// manifest.
	Location string `json:"-"`
}

// Checksum returns the value computed for alg, if any.
func (r *Resource) Checksum(alg Algorithm) (string, bool) {
	for _, c := range r.Checksums {
		if c.Algorithm == alg {
			return c.Value, true
		}
	}
	return "", false
}

// ResourceBuilder accumulates the descriptive fields of a Resource. It is
// reset by Build and may be reused for the next file.
type ResourceBuilder struct {
	res Resource
}

// NewResourceBuilder returns an empty builder.
func NewResourceBuilder() *ResourceBuilder {
	return &ResourceBuilder{res: Resource{Size: -1}}
}

func (b *ResourceBuilder) Name(name string) *ResourceBuilder {
	b.res.Name = name
	return b
}

func (b *ResourceBuilder) Path(p string) *ResourceBuilder {
	b.res.Path = p
	return b
}

func (b *ResourceBuilder) Type(t deposit.DepositFileType) *ResourceBuilder {
	b.res.Type = t
	return b
}

func (b *ResourceBuilder) Label(label string) *ResourceBuilder {
	b.res.Label = label
	return b
}

func (b *ResourceBuilder) MimeType(mimeType string) *ResourceBuilder {
	b.res.MimeType = mimeType
	return b
}

func (b *ResourceBuilder) Location(location string) *ResourceBuilder {
	b.res.Location = location
	return b
}

// Build returns the accumulated Resource and resets the builder.
func (b *ResourceBuilder) Build() *Resource {
	res := b.res
	b.res = Resource{Size: -1}
	return &res
}

// entryName returns the flat archive name of a custodial file. Directory
// components are dropped so entries cannot escape filesDir.
func entryName(name string) string {
	base := path.Base(path.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if base == "/" || base == "." {
		return ""
	}
	return base
}

// uniqueName returns name, or when it is taken, name with the file's 1-based
// position in the list appended to its stem ("report-2.pdf").
func uniqueName(name string, position int, taken map[string]bool) string {
	if !taken[name] {
		return name
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := fmt.Sprintf("%s-%d%s", stem, position, ext)
	for n := 2; taken[candidate]; n++ {
		candidate = fmt.Sprintf("%s-%d-%d%s", stem, position, n, ext)
	}
	return candidate
}

func fileKey(f deposit.DepositFile) string {
	return f.Name + "\x00" + f.Location
}

// mimeTypeFor returns the declared type, or the type registered for the
// file name's extension. Parameters such as charset are dropped.
func mimeTypeFor(declared, name string) string {
	if declared = strings.TrimSpace(declared); declared != "" {
		return declared
	}
	ext := path.Ext(name)
	if ext == "" {
		return ""
	}
	byExt := mime.TypeByExtension(ext)
	if byExt == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(byExt)
	if err != nil {
		return byExt
	}
	return mediaType
}

package assembler

import (
	"crypto/md5"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	sha256 "github.com/minio/sha256-simd"
)

// Algorithm names a checksum algorithm.
type Algorithm string

// Supported checksum algorithms
const (
	MD5    Algorithm = "md5"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// DefaultAlgorithms are computed when none are configured.
var DefaultAlgorithms = []Algorithm{MD5, SHA256}

// ParseAlgorithms parses a comma separated list such as "md5,sha256".
// Duplicates are dropped.
func ParseAlgorithms(s string) ([]Algorithm, error) {
	var algs []Algorithm
	seen := make(map[Algorithm]bool)
	for _, part := range strings.Split(s, ",") {
		name := Algorithm(strings.ToLower(strings.TrimSpace(part)))
		if name == "" || seen[name] {
			continue
		}
		if _, err := newHash(name); err != nil {
			return nil, err
		}
		seen[name] = true
		algs = append(algs, name)
	}
	if len(algs) == 0 {
		return nil, fmt.Errorf("no checksum algorithms in %q", s)
	}
	return algs, nil
}

func newHash(alg Algorithm) (hash.Hash, error) {
	switch alg {
	case MD5:
		return md5.New(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm %q", alg)
	}
}

// Checksum is a hex encoded digest of a resource.
type Checksum struct {
	Algorithm Algorithm `json:"algorithm"`
	Value     string    `json:"value"`
}

// sniffLen is the number of leading bytes kept for media type detection.
const sniffLen = 512

// digester accumulates checksums, the byte count and the leading bytes of
// a stream in one pass.
type digester struct {
	algs   []Algorithm
	hashes []hash.Hash
	size   int64
	head   []byte
}

func newDigester(algs []Algorithm) (*digester, error) {
	d := &digester{algs: algs, head: make([]byte, 0, sniffLen)}
	for _, alg := range algs {
		h, err := newHash(alg)
		if err != nil {
			return nil, err
		}
		d.hashes = append(d.hashes, h)
	}
	return d, nil
}

func (d *digester) Write(p []byte) (int, error) {
	for _, h := range d.hashes {
		h.Write(p)
	}
	if room := sniffLen - len(d.head); room > 0 {
		d.head = append(d.head, p[:min(room, len(p))]...)
	}
	d.size += int64(len(p))
	return len(p), nil
}

func (d *digester) checksums() []Checksum {
	out := make([]Checksum, len(d.algs))
	for i, alg := range d.algs {
		out[i] = Checksum{Algorithm: alg, Value: hex.EncodeToString(d.hashes[i].Sum(nil))}
	}
	return out
}

// Package hasher computes the deterministic content hash used for
// dedup and change detection.
//
// The hash covers the document metadata and, per section, the heading,
// a digest of the text, the page and the order. Sections are hashed in
// order regardless of the slice order they arrive in. Metadata maps are
// encoded with sorted keys so equal content always hashes equally.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

type sectionDigest struct {
	Heading  string `json:"heading"`
	TextHash string `json:"textHash"`
	Page     int    `json:"page"`
	Order    int    `json:"order"`
}

type canonical struct {
	Meta     domain.DocumentMeta `json:"meta"`
	Sections []sectionDigest     `json:"sections"`
}

// Hash returns the hex SHA-256 content hash of a document. Metadata extras
// json cannot encode are left out; any other unencodable field is an error.
func Hash(meta domain.DocumentMeta, sections []domain.Section) (string, error) {
	ordered := make([]domain.Section, len(sections))
	copy(ordered, sections)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	c := canonical{Meta: meta, Sections: make([]sectionDigest, len(ordered))}
	if len(meta.Tags) > 0 {
		c.Meta.Tags = append([]string(nil), meta.Tags...)
		sort.Strings(c.Meta.Tags)
	}
	for i, s := range ordered {
		c.Sections[i] = sectionDigest{
			Heading:  s.Heading,
			TextHash: TextDigest(s.Text),
			Page:     s.Page,
			Order:    s.Order,
		}
	}

	data, err := json.Marshal(c)
	if err != nil {
		// Extra holds a value json cannot encode; hash without it.
		c.Meta.Extra = nil
		if data, err = json.Marshal(c); err != nil {
			return "", fmt.Errorf("encoding content for hashing: %w", err)
		}
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// TextDigest returns the hex SHA-256 of text.
func TextDigest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Combine folds several hashes into one, order-sensitive.
func Combine(hashes ...string) string {
	h := sha256.New()
	for _, s := range hashes {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var multiSpaceRegex = regexp.MustCompile(`\s+`)

// DescriptionFingerprint hashes a listing description into a fixed-size
// hex digest. Marketplace descriptions arrive as HTML fragments whose
// markup churns between scrapes, so only the visible text participates:
// the same wording with reshuffled tags or whitespace yields the same
// fingerprint.
func DescriptionFingerprint(description string) string {
	text := description
	if strings.ContainsAny(description, "<>") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(description)); err == nil {
			text = doc.Text()
		}
	}

	normalized := NormalizeText(text)
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:])
}

// NormalizeText lowercases and collapses all whitespace runs.
func NormalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	return s
}

package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"
)

// CandidateFields are the identifying fields extracted from an incoming
// patient record. Name, birth date and the strong identifier drive the
// primary hash; the alternates are secondary factors folded into the
// composite hash.
type CandidateFields struct {
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	BirthDate  string `json:"birth_date"`

	// StrongID is a strong identifier such as an MRN, when the source
	// supplies one.
	StrongID string `json:"strong_id,omitempty"`

	AltName    string `json:"alt_name,omitempty"`
	AltAddress string `json:"alt_address,omitempty"`
}

// normalizeToken case-folds and strips punctuation and whitespace so
// trivial formatting differences collide to the same value.
func normalizeToken(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// dateLayouts are accepted birth-date formats, most specific first.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"01/02/2006",
	"02.01.2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"20060102",
}

// canonicalizeDate parses common date formats into YYYY-MM-DD. Unparseable
// input falls back to token normalization so it still hashes consistently.
func canonicalizeDate(s string) string {
	trimmed := strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return normalizeToken(trimmed)
}

func hashParts(parts []string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func (f CandidateFields) primaryParts() []string {
	return []string{
		normalizeToken(f.GivenName),
		normalizeToken(f.FamilyName),
		canonicalizeDate(f.BirthDate),
		normalizeToken(f.StrongID),
	}
}

// PrimaryHash hashes the stable identifying subset: normalized legal name,
// canonicalized birth date, and the strong identifier when present.
func (f CandidateFields) PrimaryHash() string {
	return hashParts(f.primaryParts())
}

// CompositeHash additionally folds in available secondary factors. Identical
// normalized inputs always produce the same hash.
func (f CandidateFields) CompositeHash() string {
	parts := f.primaryParts()
	parts = append(parts, normalizeToken(f.AltName), normalizeToken(f.AltAddress))
	return hashParts(parts)
}

// SecondaryFactors returns the normalized non-empty secondary factors keyed
// by factor name.
func (f CandidateFields) SecondaryFactors() map[string]string {
	out := make(map[string]string, 2)
	if v := normalizeToken(f.AltName); v != "" {
		out["alt_name"] = v
	}
	if v := normalizeToken(f.AltAddress); v != "" {
		out["alt_address"] = v
	}
	return out
}

// SecondaryAgreement counts how many secondary factors present on both
// sides agree, and how many were comparable at all.
func SecondaryAgreement(a, b CandidateFields) (agree, considered int) {
	af, bf := a.SecondaryFactors(), b.SecondaryFactors()
	for name, av := range af {
		bv, ok := bf[name]
		if !ok {
			continue
		}
		considered++
		if av == bv {
			agree++
		}
	}
	return agree, considered
}

// Merge folds b's secondary factors into a, filling gaps without
// overwriting factors a already carries. Reports whether anything changed.
func (f CandidateFields) Merge(b CandidateFields) (CandidateFields, bool) {
	changed := false
	if f.AltName == "" && b.AltName != "" {
		f.AltName = b.AltName
		changed = true
	}
	if f.AltAddress == "" && b.AltAddress != "" {
		f.AltAddress = b.AltAddress
		changed = true
	}
	if f.StrongID == "" && b.StrongID != "" {
		f.StrongID = b.StrongID
		changed = true
	}
	return f, changed
}

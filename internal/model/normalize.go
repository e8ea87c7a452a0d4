package model

import (
	"regexp"
	"strings"
)

// Unprovided is the warehouse placeholder for fields the source never
// captured. It is treated as absent everywhere it is read.
const Unprovided = "Unprovided"

// NoteMaxLen is the CRM note body size limit. Bodies are truncated to one
// character under the limit.
const NoteMaxLen = 65000

// IsUnprovided reports whether the value is empty or the placeholder.
func IsUnprovided(v string) bool {
	s := strings.TrimSpace(v)
	return s == "" || strings.EqualFold(s, Unprovided)
}

// SafeNoteString strips control characters (keeping tabs and newlines) and
// trims surrounding whitespace.
func SafeNoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		if r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// TruncateNote caps a note body at NoteMaxLen-1 characters.
func TruncateNote(s string) string {
	if len(s) > NoteMaxLen {
		return s[:NoteMaxLen-1]
	}
	return s
}

// BuildProposalNote builds the proposal-link note body. The note is always
// written; a missing URL produces the fixed "N/A" placeholder.
func BuildProposalNote(url string) string {
	v := SafeNoteString(url)
	if v == "" {
		return "Proposal Link: N/A"
	}
	return TruncateNote("Proposal Link:\n\n" + v)
}

// BuildOptionalNote builds the free-text note body, or "" when the field is
// empty or the Unprovided sentinel (in which case no note is written).
func BuildOptionalNote(notes string) string {
	s := SafeNoteString(notes)
	if IsUnprovided(s) {
		return ""
	}
	return TruncateNote(s)
}

var (
	emailLocalRe  = regexp.MustCompile(`^[A-Za-z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+$`)
	emailDomainRe = regexp.MustCompile(`^[A-Za-z0-9-]+(\.[A-Za-z0-9-]+)+$`)
	wsRe          = regexp.MustCompile(`\s+`)
)

// NormalizeEmail cleans a raw email value and returns it lowercased, or ""
// when the value cannot be repaired into a syntactically valid address.
// Invalid emails are a data-quality error, not a reason to drop the record.
func NormalizeEmail(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, `"`)
	s = wsRe.ReplaceAllString(s, "")
	s = strings.Replace(s, ".@", "@", 1)

	at := strings.Index(s, "@")
	if at <= 0 || at != strings.LastIndex(s, "@") || at == len(s)-1 {
		return ""
	}
	local, domain := s[:at], s[at+1:]
	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") || strings.Contains(local, "..") {
		return ""
	}
	if !emailLocalRe.MatchString(local) || !emailDomainRe.MatchString(domain) {
		return ""
	}
	return strings.ToLower(s)
}

var phoneStripRe = regexp.MustCompile(`[^\d+]`)

// NormalizePhone strips everything but digits and a leading plus. Returns
// "" for absent or placeholder values.
func NormalizePhone(raw string) string {
	if IsUnprovided(raw) {
		return ""
	}
	return phoneStripRe.ReplaceAllString(raw, "")
}

var countryAliases = map[string]string{
	"usa":                      "US",
	"u.s.a.":                   "US",
	"u.s.":                     "US",
	"us":                       "US",
	"united states":            "US",
	"united states of america": "US",
	"america":                  "US",
}

var twoLetterRe = regexp.MustCompile(`^[A-Za-z]{2}$`)

// NormalizeCountry maps free-text country values onto ISO-ish two-letter
// codes, defaulting to US. The CRM rejects anything else.
func NormalizeCountry(raw string) string {
	s := strings.TrimSpace(raw)
	if IsUnprovided(s) {
		return "US"
	}
	if hit, ok := countryAliases[strings.ToLower(s)]; ok {
		return hit
	}
	if twoLetterRe.MatchString(s) {
		return strings.ToUpper(s)
	}
	return "US"
}

// OrUnprovided substitutes the placeholder for blank values when building
// remote payloads, which reject empty strings on several fields.
func OrUnprovided(v string) string {
	if strings.TrimSpace(v) == "" {
		return Unprovided
	}
	return v
}

// Package redact removes identifying substrings from text before it
// crosses the system boundary, and restores them afterward.
//
// Detection is regex-heuristic and therefore approximate: it covers the
// documented pattern set (known identifiers, NRIC/FIN and SSN-style ID
// numbers, phone numbers with at least seven digits, and 2-4 token
// capitalized sequences), not arbitrary names.
package redact

import (
	"fmt"
	"regexp"
	"strings"
)

// Placeholder formats, numbered per category in detection order.
const (
	personPlaceholder = "[PERSON_%d]"
	idPlaceholder     = "[ID_NUMBER_%d]"
	phonePlaceholder  = "[PHONE_%d]"
)

// minPhoneDigits suppresses date/time false positives: a phone candidate
// is only redacted if it carries at least this many digits.
const minPhoneDigits = 7

// Map holds placeholder -> original mappings for one redaction pass.
// It is created fresh per Redact call, consumed once by Restore, and
// must never be persisted.
type Map struct {
	Names     map[string]string
	IDNumbers map[string]string
	Phones    map[string]string
}

// Stats reports per-category redaction counts. Safe to log: it carries
// counts only, never redacted content.
type Stats struct {
	Names     int
	IDNumbers int
	Phones    int
}

// Result is the outcome of a single redaction pass.
type Result struct {
	Text  string
	Map   *Map
	Stats Stats
}

// Redactor matches identifying substrings against a fixed ordered
// pattern set. Safe for concurrent use.
type Redactor struct {
	idPatterns    []*regexp.Regexp
	phonePatterns []*regexp.Regexp
	namePattern   *regexp.Regexp
	skipWords     map[string]bool
}

// idPatternSrc is the fixed ordered list of identification-number formats.
// Order determines placeholder numbering.
var idPatternSrc = []string{
	`\b[STFGM]\d{7}[A-Z]\b`,   // Singapore NRIC/FIN
	`\b\d{3}-\d{2}-\d{4}\b`,   // US SSN
	`\b[A-Z]{1,2}\d{7,8}\b`,   // passport-style alphanumeric IDs
}

// phonePatternSrc is the fixed ordered list of phone-number formats.
var phonePatternSrc = []string{
	`\+\d{1,3}[\s-]?\d{2,4}[\s-]?\d{3,4}(?:[\s-]?\d{3,4})?`, // international
	`\b\d{3}[\s-]\d{3}[\s-]\d{4}\b`,                         // NANP style
	`\b\d{4}[\s-]?\d{4}\b`,                                  // 8-digit local
}

// skipWordSrc suppresses common capitalized non-name sequences: weekdays,
// months, and medication brand names that patients routinely capitalize.
var skipWordSrc = []string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
	"advil", "tylenol", "panadol", "aspirin", "ibuprofen", "paracetamol",
	"benadryl", "claritin", "zyrtec", "ventolin", "lipitor", "metformin",
	"covid", "dengue",
}

// New compiles the pattern set and returns a ready Redactor.
func New() *Redactor {
	r := &Redactor{
		namePattern: regexp.MustCompile(`\b[A-Z][a-z]+(?:[ \t][A-Z][a-z]+){1,3}\b`),
		skipWords:   make(map[string]bool, len(skipWordSrc)),
	}
	for _, p := range idPatternSrc {
		r.idPatterns = append(r.idPatterns, regexp.MustCompile(p))
	}
	for _, p := range phonePatternSrc {
		r.phonePatterns = append(r.phonePatterns, regexp.MustCompile(p))
	}
	for _, w := range skipWordSrc {
		r.skipWords[w] = true
	}
	return r
}

// Redact removes identifying substrings from text. Known identifiers
// (e.g. the patient's own name) are matched case-insensitively as whole
// strings and take priority over heuristic detection. Redact never
// fails: empty or whitespace-only input is returned unchanged with an
// empty map.
func (r *Redactor) Redact(text string, knownIdentifiers []string) *Result {
	m := &Map{
		Names:     make(map[string]string),
		IDNumbers: make(map[string]string),
		Phones:    make(map[string]string),
	}
	if strings.TrimSpace(text) == "" {
		return &Result{Text: text, Map: m}
	}

	personN := 0

	// Pass 1: known identifiers, whole-string case-insensitive. Each
	// observed casing gets its own placeholder so Restore reproduces
	// the input exactly.
	for _, known := range dedupe(knownIdentifiers) {
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(known) + `\b`)
		if err != nil {
			continue
		}
		seen := make(map[string]string)
		text = re.ReplaceAllStringFunc(text, func(orig string) string {
			if ph, ok := seen[orig]; ok {
				return ph
			}
			personN++
			ph := fmt.Sprintf(personPlaceholder, personN)
			m.Names[ph] = orig
			seen[orig] = ph
			return ph
		})
	}

	// Pass 2: identification numbers, fixed pattern order.
	idN := 0
	seenIDs := make(map[string]string)
	for _, re := range r.idPatterns {
		text = re.ReplaceAllStringFunc(text, func(orig string) string {
			if ph, ok := seenIDs[orig]; ok {
				return ph
			}
			idN++
			ph := fmt.Sprintf(idPlaceholder, idN)
			m.IDNumbers[ph] = orig
			seenIDs[orig] = ph
			return ph
		})
	}

	// Pass 3: phone numbers, only candidates with enough digits.
	phoneN := 0
	seenPhones := make(map[string]string)
	for _, re := range r.phonePatterns {
		text = re.ReplaceAllStringFunc(text, func(orig string) string {
			if digitCount(orig) < minPhoneDigits {
				return orig
			}
			if ph, ok := seenPhones[orig]; ok {
				return ph
			}
			phoneN++
			ph := fmt.Sprintf(phonePlaceholder, phoneN)
			m.Phones[ph] = orig
			seenPhones[orig] = ph
			return ph
		})
	}

	// Pass 4: probable names, continuing numbering from pass 1.
	seenNames := make(map[string]string)
	text = r.namePattern.ReplaceAllStringFunc(text, func(orig string) string {
		for _, tok := range strings.Fields(orig) {
			if r.skipWords[strings.ToLower(tok)] {
				return orig
			}
		}
		if ph, ok := seenNames[orig]; ok {
			return ph
		}
		personN++
		ph := fmt.Sprintf(personPlaceholder, personN)
		m.Names[ph] = orig
		seenNames[orig] = ph
		return ph
	})

	return &Result{
		Text: text,
		Map:  m,
		Stats: Stats{
			Names:     len(m.Names),
			IDNumbers: len(m.IDNumbers),
			Phones:    len(m.Phones),
		},
	}
}

// Restore replaces every placeholder occurrence with its mapped
// original. Text containing no placeholders is returned unchanged, so
// Restore is idempotent.
func (r *Redactor) Restore(text string, m *Map) string {
	if m == nil {
		return text
	}
	for ph, orig := range m.Names {
		text = strings.ReplaceAll(text, ph, orig)
	}
	for ph, orig := range m.IDNumbers {
		text = strings.ReplaceAll(text, ph, orig)
	}
	for ph, orig := range m.Phones {
		text = strings.ReplaceAll(text, ph, orig)
	}
	return text
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

func digitCount(s string) int {
	n := 0
	for _, c := range s {
		if c >= '0' && c <= '9' {
			n++
		}
	}
	return n
}

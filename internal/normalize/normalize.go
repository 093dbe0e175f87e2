// Package normalize cleans an extracted metadata record before it is written.
// Every function here is pure and never fails: values it cannot fix are left
// for model.Record.Validate to reject.
package normalize

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/zotero-metadata/internal/filename"
	"github.com/sells-group/zotero-metadata/internal/model"
)

// DefaultMarkerTag is appended to every normalized record.
const DefaultMarkerTag = "./metadata"

// Normalizer applies every normalization step to a record.
type Normalizer struct {
	institutions *Institutions
	markerTag    string
}

// New creates a Normalizer. A nil table uses the embedded institutions.
func New(institutions *Institutions, markerTag string) *Normalizer {
	if institutions == nil {
		institutions = DefaultInstitutions()
	}
	return &Normalizer{institutions: institutions, markerTag: markerTag}
}

// Normalize rewrites rec in place and merges the scan details into Extra.
func (n *Normalizer) Normalize(rec *model.Record, scan filename.ScanInfo) {
	rec.Title = Title(rec.Title)
	rec.Authors = Authors(rec.Authors)
	rec.ReportNumber = strings.TrimSpace(rec.ReportNumber)
	rec.Institution = n.institutions.Resolve(rec.Institution, rec.ReportNumber)
	rec.Place = Place(rec.Place)
	rec.Date = Date(rec.Date)
	rec.Language = Language(rec.Language)
	rec.Tags = Tags(rec.Tags, n.markerTag)
	rec.Extra = MergeScanInfo(rec.Extra, scan)
}

var reSubject = regexp.MustCompile(`(?i)^\s*(objet|obj\.|a/s|concerne|betrifft|subject)\s*:\s*`)

// Title drops a leading "Objet:" or "A/S:" label and capitalizes the first
// letter of every word. The rest of each word is kept as written.
func Title(s string) string {
	s = strings.Join(strings.Fields(reSubject.ReplaceAllString(s, "")), " ")
	return cases.Title(language.French, cases.NoLower).String(s)
}

// Place trims s and upper-cases its first letter.
func Place(s string) string {
	s = strings.TrimSpace(s)
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// Tags trims, prefixes and de-duplicates tags, keeping the first occurrence,
// then appends marker unless it is already present or empty.
func Tags(tags []string, marker string) []string {
	out := make([]string, 0, len(tags)+1)
	seen := make(map[string]struct{}, len(tags)+1)
	add := func(t string) {
		t = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), model.TagPrefix))
		if t == "" {
			return
		}
		t = model.TagPrefix + t
		if _, dup := seen[t]; dup {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, t := range tags {
		add(t)
	}
	add(marker)
	return out
}

var dateLayouts = []string{
	"2/1/2006",
	"2-1-2006",
	"2.1.2006",
	"2006-01-02",
	"2006/01/02",
}

// Date rewrites common date spellings to DD/MM/YYYY. Anything it cannot read
// is returned trimmed.
func Date(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || model.ValidateDate(s) == nil {
		return s
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(model.DateLayout)
		}
	}
	return s
}

// Language maps a language tag such as "fr" or "fra" to its ISO 639-3 code.
// Values that are not language tags are returned trimmed.
func Language(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	tag, err := language.Parse(s)
	if err != nil {
		return s
	}
	base, conf := tag.Base()
	if conf == language.No {
		return s
	}
	return base.ISO3()
}

// Authors trims every field and drops authors left with no value.
func Authors(authors []model.Author) []model.Author {
	var out []model.Author
	for _, a := range authors {
		a.LastName = strings.TrimSpace(a.LastName)
		a.FirstName = strings.TrimSpace(a.FirstName)
		a.Denomination = strings.Join(strings.Fields(a.Denomination), " ")
		if a.IsEmpty() {
			continue
		}
		out = append(out, a)
	}
	return out
}

const (
	scanDateLabel = "Scan date: "
	scanTimeLabel = "Scan time: "
)

// MergeScanInfo adds the scan date and time to an Extra field, replacing
// earlier scan lines and keeping every other line.
func MergeScanInfo(extra string, scan filename.ScanInfo) string {
	if !scan.Found() {
		return extra
	}
	var lines []string
	for _, l := range strings.Split(extra, "\n") {
		if l == "" || (scan.Date != "" && strings.HasPrefix(l, scanDateLabel)) ||
			(scan.Time != "" && strings.HasPrefix(l, scanTimeLabel)) {
			continue
		}
		lines = append(lines, l)
	}
	if scan.Date != "" {
		lines = append(lines, scanDateLabel+scan.Date)
	}
	if scan.Time != "" {
		lines = append(lines, scanTimeLabel+scan.Time)
	}
	return strings.Join(lines, "\n")
}

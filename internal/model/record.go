package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// TagPrefix marks tags generated by this tool, as opposed to tags added by hand.
const TagPrefix = "./"

// DateLayout is the layout every Record.Date must follow (DD/MM/YYYY).
const DateLayout = "02/01/2006"

var reDate = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)

// Author is one creator of a document. A person has LastName and FirstName;
// an office or function ("Le Chef du Service ...") has only Denomination.
type Author struct {
	LastName     string `json:"lastName,omitempty"`
	FirstName    string `json:"firstName,omitempty"`
	Denomination string `json:"denomination,omitempty"`
}

// IsPerson reports whether the author is a named person.
func (a Author) IsPerson() bool {
	return a.LastName != "" && a.FirstName != ""
}

// IsEmpty reports whether no field is set.
func (a Author) IsEmpty() bool {
	return a.LastName == "" && a.FirstName == "" && a.Denomination == ""
}

// Validate enforces that exactly one of {LastName+FirstName} or {Denomination} is set.
func (a Author) Validate() error {
	hasName := a.IsPerson()
	hasDenomination := a.Denomination != ""
	switch {
	case hasName && hasDenomination:
		return eris.Errorf("author %q has both a name and a denomination", a.Denomination)
	case hasDenomination && (a.LastName != "" || a.FirstName != ""):
		return eris.Errorf("author %q has a partial name and a denomination", a.Denomination)
	case !hasName && !hasDenomination:
		return eris.Errorf("author %q %q needs a full name or a denomination", a.LastName, a.FirstName)
	}
	return nil
}

// String renders the author the way it appears in logs.
func (a Author) String() string {
	if a.Denomination != "" {
		return a.Denomination
	}
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// Record is the bibliographic metadata extracted from one document.
// Empty strings mean the value could not be resolved.
type Record struct {
	Title        string   `json:"title,omitempty"`
	Authors      []Author `json:"authors,omitempty"`
	ReportNumber string   `json:"reportNumber,omitempty"`
	Institution  string   `json:"institution,omitempty"`
	Place        string   `json:"place,omitempty"`
	Date         string   `json:"date,omitempty"`
	Language     string   `json:"language,omitempty"`
	Tags         []string `json:"tags,omitempty"`

	// Extra is the Zotero "extra" field; it is filled by the normalizer, never by the model.
	Extra string `json:"extra,omitempty"`
}

// Validate checks the invariants a record must hold before it is written.
func (r *Record) Validate() error {
	for i, a := range r.Authors {
		if err := a.Validate(); err != nil {
			return eris.Wrapf(err, "record: author %d", i)
		}
	}
	if r.Date != "" {
		if err := ValidateDate(r.Date); err != nil {
			return eris.Wrap(err, "record")
		}
	}
	seen := make(map[string]struct{}, len(r.Tags))
	for _, t := range r.Tags {
		if !strings.HasPrefix(t, TagPrefix) {
			return eris.Errorf("record: tag %q lacks the %q prefix", t, TagPrefix)
		}
		if _, dup := seen[t]; dup {
			return eris.Errorf("record: duplicate tag %q", t)
		}
		seen[t] = struct{}{}
	}
	return nil
}

// ValidateDate checks s is a real calendar date written DD/MM/YYYY.
func ValidateDate(s string) error {
	if !reDate.MatchString(s) {
		return eris.Errorf("date %q is not DD/MM/YYYY", s)
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return eris.Wrapf(err, "date %q is not a calendar date", s)
	}
	return nil
}

// Summary returns a one-line description for logs.
func (r *Record) Summary() string {
	return fmt.Sprintf("%q (%d authors, %d tags, date %s)", r.Title, len(r.Authors), len(r.Tags), r.Date)
}

package normalize

import (
	_ "embed"
	"os"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed institutions.yaml
var defaultInstitutions []byte

// Institution is one canonical name and what maps to it. A prefix matches the
// start of the extracted institution or, when that is empty, of the report
// number.
type Institution struct {
	Name     string   `yaml:"name"`
	Variants []string `yaml:"variants"`
	Prefixes []string `yaml:"prefixes"`
}

// Institutions resolves institution name variants to canonical names.
type Institutions struct {
	entries []Institution
	exact   map[string]string
}

// DefaultInstitutions returns the embedded table.
func DefaultInstitutions() *Institutions {
	entries, err := parseInstitutions(defaultInstitutions)
	if err != nil {
		panic(err)
	}
	return newInstitutions(entries)
}

// LoadInstitutions reads a user table from path. Its entries take precedence
// over the embedded ones. An empty path returns the embedded table.
func LoadInstitutions(path string) (*Institutions, error) {
	if path == "" {
		return DefaultInstitutions(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "normalize: read institutions %s", path)
	}
	user, err := parseInstitutions(data)
	if err != nil {
		return nil, eris.Wrapf(err, "normalize: institutions %s", path)
	}
	builtin, err := parseInstitutions(defaultInstitutions)
	if err != nil {
		return nil, err
	}
	return newInstitutions(append(user, builtin...)), nil
}

func parseInstitutions(data []byte) ([]Institution, error) {
	var entries []Institution
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, eris.Wrap(err, "normalize: parse institutions")
	}
	for i, e := range entries {
		if strings.TrimSpace(e.Name) == "" {
			return nil, eris.Errorf("normalize: institution %d has no name", i)
		}
	}
	return entries, nil
}

func newInstitutions(entries []Institution) *Institutions {
	t := &Institutions{entries: entries, exact: make(map[string]string)}
	for _, e := range entries {
		for _, v := range append([]string{e.Name}, e.Variants...) {
			key := fold(v)
			if _, taken := t.exact[key]; !taken {
				t.exact[key] = e.Name
			}
		}
	}
	return t
}

// Resolve returns the canonical name for institution. Unknown names are
// returned trimmed but otherwise unchanged.
func (t *Institutions) Resolve(institution, reportNumber string) string {
	institution = strings.TrimSpace(institution)
	if institution != "" {
		if name, ok := t.exact[fold(institution)]; ok {
			return name
		}
	}

	subject := institution
	if subject == "" {
		subject = reportNumber
	}
	if subject = fold(subject); subject == "" {
		return institution
	}
	for _, e := range t.entries {
		for _, p := range e.Prefixes {
			if fp := fold(p); fp != "" && strings.HasPrefix(subject, fp) {
				return e.Name
			}
		}
	}
	return institution
}

// Len returns the number of canonical institutions.
func (t *Institutions) Len() int { return len(t.entries) }

// fold lower-cases s, strips accents, collapses whitespace and trims
// surrounding punctuation.
func fold(s string) string {
	tr := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(tr, s)
	if err != nil {
		out = s
	}
	out = strings.Join(strings.Fields(strings.ToLower(out)), " ")
	return strings.Trim(out, " .,;:-")
}

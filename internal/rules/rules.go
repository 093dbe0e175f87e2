// Package rules holds the natural-language extraction rules sent to the LLM.
package rules

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

//go:embed rules.txt
var defaultText string

// Rules is a loaded rule set.
type Rules struct {
	Text    string
	Source  string
	Version string
}

// Default returns the embedded rule set.
func Default() *Rules {
	return newRules(defaultText, "embedded")
}

// Load reads the rule set at path. An empty path returns the embedded rules.
func Load(path string) (*Rules, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read %s", path)
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return nil, eris.Errorf("rules: %s is empty", path)
	}
	return newRules(text, path), nil
}

func newRules(text, source string) *Rules {
	sum := sha256.Sum256([]byte(text))
	return &Rules{
		Text:    strings.TrimSpace(text),
		Source:  source,
		Version: hex.EncodeToString(sum[:])[:12],
	}
}

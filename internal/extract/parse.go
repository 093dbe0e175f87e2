package extract

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sells-group/zotero-metadata/internal/model"
)

const recordSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "title":        {"$ref": "#/$defs/text"},
    "reportNumber": {"$ref": "#/$defs/text"},
    "institution":  {"$ref": "#/$defs/text"},
    "place":        {"$ref": "#/$defs/text"},
    "date":         {"$ref": "#/$defs/text"},
    "language":     {"$ref": "#/$defs/text"},
    "authors": {
      "type": ["array", "null"],
      "items": {"$ref": "#/$defs/author"}
    },
    "tags": {
      "type": ["array", "null"],
      "items": {"type": "string"}
    }
  },
  "$defs": {
    "text": {"type": ["string", "null"]},
    "author": {
      "type": "object",
      "oneOf": [
        {
          "required": ["lastName", "firstName"],
          "properties": {
            "lastName":     {"type": "string"},
            "firstName":    {"type": "string"},
            "denomination": {"type": "null"}
          }
        },
        {
          "required": ["denomination"],
          "properties": {
            "lastName":     {"type": "null"},
            "firstName":    {"type": "null"},
            "denomination": {"type": "string"}
          }
        }
      ]
    }
  }
}`

var schema = jsonschema.MustCompileString("record.schema.json", recordSchema)

// Parse decodes an LLM answer into a record. It tolerates code fences, prose
// around the JSON object, Python literals (None, True, False) and blank or
// "None"/"null" strings, which all become null. The cleaned object must match
// the record schema.
func Parse(raw string) (*model.Record, error) {
	obj, err := jsonObject(raw)
	if err != nil {
		return nil, err
	}

	var doc any
	dec := json.NewDecoder(strings.NewReader(pythonLiterals(obj)))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, eris.Wrap(err, "parse: invalid JSON")
	}
	fields, ok := doc.(map[string]any)
	if !ok {
		return nil, eris.New("parse: answer is not a JSON object")
	}
	clean(fields)

	if err := schema.Validate(fields); err != nil {
		return nil, eris.Wrap(err, "parse: answer does not match the record schema")
	}

	b, err := json.Marshal(fields)
	if err != nil {
		return nil, eris.Wrap(err, "parse: re-encode")
	}
	var rec model.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, eris.Wrap(err, "parse: decode record")
	}
	return &rec, nil
}

// jsonObject returns the text between the first '{' and the last '}'.
func jsonObject(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return "", eris.New("parse: no JSON object in answer")
	}
	return raw[start : end+1], nil
}

var pyLiterals = map[string]string{"None": "null", "True": "true", "False": "false"}

// pythonLiterals rewrites bare Python literals outside of strings.
func pythonLiterals(s string) string {
	var out bytes.Buffer
	inString, escaped := false, false
	for i := 0; i < len(s); {
		c := s[i]
		if inString {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			i++
			continue
		}
		if c == '"' {
			inString = true
			out.WriteByte(c)
			i++
			continue
		}
		if isIdentStart(c) {
			j := i
			for j < len(s) && isIdentStart(s[j]) {
				j++
			}
			word := s[i:j]
			if lit, ok := pyLiterals[word]; ok {
				word = lit
			}
			out.WriteString(word)
			i = j
			continue
		}
		out.WriteByte(c)
		i++
	}
	return out.String()
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

// clean trims strings, turns placeholders into null and drops blank tags and
// authors with no value at all.
func clean(fields map[string]any) {
	for k, v := range fields {
		fields[k] = cleanValue(v)
	}
	if tags, ok := fields["tags"].([]any); ok {
		kept := make([]any, 0, len(tags))
		for _, t := range tags {
			if t != nil {
				kept = append(kept, t)
			}
		}
		fields["tags"] = kept
	}
	authors, ok := fields["authors"].([]any)
	if !ok {
		return
	}
	kept := make([]any, 0, len(authors))
	for _, a := range authors {
		if m, ok := a.(map[string]any); ok && allNull(m) {
			continue
		}
		kept = append(kept, a)
	}
	fields["authors"] = kept
}

func cleanValue(v any) any {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		switch strings.ToLower(s) {
		case "", "none", "null":
			return nil
		}
		return s
	case []any:
		for i := range t {
			t[i] = cleanValue(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = cleanValue(t[k])
		}
		return t
	default:
		return v
	}
}

func allNull(m map[string]any) bool {
	for _, v := range m {
		if v != nil {
			return false
		}
	}
	return true
}

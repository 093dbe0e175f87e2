package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/zotero-metadata/internal/model"
)

func TestParse(t *testing.T) {
	raw := "Voici les métadonnées:\n```json\n" + `{
  "title": "Objet: Note relative à la libre circulation des personnes",
  "authors": [
    {"lastName": "Dupont", "firstName": "Jean", "denomination": None},
    {"lastName": None, "firstName": None, "denomination": "Le Chef du Service de Coopération Économique"}
  ],
  "reportNumber": "N° 123/CIRC",
  "institution": "",
  "place": "Bern",
  "date": "12/03/1987",
  "language": "fra",
  "tags": ["./Migration", "  ", "./Suisse"]
}` + "\n```\nJ'espère que cela aide."

	rec, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "Objet: Note relative à la libre circulation des personnes", rec.Title)
	assert.Equal(t, []model.Author{
		{LastName: "Dupont", FirstName: "Jean"},
		{Denomination: "Le Chef du Service de Coopération Économique"},
	}, rec.Authors)
	assert.Equal(t, "N° 123/CIRC", rec.ReportNumber)
	assert.Empty(t, rec.Institution)
	assert.Equal(t, "Bern", rec.Place)
	assert.Equal(t, "12/03/1987", rec.Date)
	assert.Equal(t, "fra", rec.Language)
	assert.Equal(t, []string{"./Migration", "./Suisse"}, rec.Tags)
}

func TestParse_Placeholders(t *testing.T) {
	rec, err := Parse(`{"title": "None", "date": "null", "place": null, "authors": [{"lastName": "", "firstName": "None", "denomination": null}]}`)
	require.NoError(t, err)
	assert.Empty(t, rec.Title)
	assert.Empty(t, rec.Date)
	assert.Empty(t, rec.Place)
	assert.Empty(t, rec.Authors)
}

func TestParse_KeepsLiteralsInsideStrings(t *testing.T) {
	rec, err := Parse(`{"title": "None of the True answers", "tags": ["./False \"None\""]}`)
	require.NoError(t, err)
	assert.Equal(t, "None of the True answers", rec.Title)
	assert.Equal(t, []string{`./False "None"`}, rec.Tags)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "no json", raw: "Je ne peux pas lire ce document.", want: "no JSON object"},
		{name: "broken json", raw: `{"title": "x",}`, want: "invalid JSON"},
		{name: "name and denomination", raw: `{"authors": [{"lastName": "Dupont", "firstName": "Jean", "denomination": "Le Chef"}]}`, want: "schema"},
		{name: "partial name", raw: `{"authors": [{"lastName": "Dupont", "firstName": null, "denomination": null}]}`, want: "schema"},
		{name: "title not a string", raw: `{"title": 42}`, want: "schema"},
		{name: "tags not a list", raw: `{"tags": "./a"}`, want: "schema"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPythonLiterals(t *testing.T) {
	assert.Equal(t, `{"a": null, "b": [true, false], "c": "None"}`,
		pythonLiterals(`{"a": None, "b": [True, False], "c": "None"}`))
}

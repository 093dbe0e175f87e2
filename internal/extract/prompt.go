package extract

import (
	"fmt"
	"strings"
)

// SystemPrompt states the role of the model.
const SystemPrompt = "Vous êtes un assistant spécialisé dans l'extraction de métadonnées de documents administratifs, suivant des règles strictes."

const fieldList = `Analysez ce document et extrayez les métadonnées suivantes au format JSON:
- title (chercher "Objet:" ou "A/S:", sinon le titre centré en haut de la première page)
- authors (liste d'objets avec pour chaque auteur:
    - lastName: nom de famille si connu, sinon null
    - firstName: prénom si connu, sinon null
    - denomination: titre ou fonction de l'auteur si le nom et le prénom sont inconnus, sinon null
  Un auteur a soit lastName et firstName, soit denomination, jamais les deux.)
- reportNumber (numéro de référence, vérifier les en-têtes)
- institution (chercher dans l'en-tête en haut à gauche)
- place (chercher dans l'en-tête en haut à droite, en anglais)
- date (format DD/MM/YYYY)
- language (langue originale du document, code ISO 639-3 comme "fra" ou "eng")
- tags (liste de mots-clés, chacun préfixé par "./")

Ignorer tout contenu après une page commençant par "Annexe".

En cas de valeur manquante, utiliser null.
Retourner uniquement un objet JSON valide, sans texte autour.`

// UserPrompt builds the user message. When rules is empty the rules are
// expected to have been sent separately, as a cached system block.
func UserPrompt(rules, filename, text string) string {
	var sb strings.Builder
	if rules != "" {
		sb.WriteString("En utilisant ces règles spécifiques pour l'analyse des documents:\n\n")
		sb.WriteString(rules)
		sb.WriteString("\n\n")
	} else {
		sb.WriteString("En utilisant les règles d'analyse fournies.\n\n")
	}
	sb.WriteString(fieldList)
	if filename != "" {
		fmt.Fprintf(&sb, "\n\nNom du fichier: %s", filename)
	}
	sb.WriteString("\n\nTexte à analyser:\n")
	sb.WriteString(text)
	return sb.String()
}

// RulesBlock wraps the rules for use as a standalone system block.
func RulesBlock(rules string) string {
	return "Règles d'analyse des documents:\n\n" + rules
}

package rbac

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonKeyChars        = regexp.MustCompile(`[^a-z0-9]+`)
	repeatedUnderscore = regexp.MustCompile(`_+`)
)

// DeriveKey converts a role title into its stable key.
//
// The title is lower-cased, stripped of diacritics, every run of characters
// outside [a-z0-9] becomes a single underscore, and leading/trailing
// underscores are removed. "Content Manager!" becomes "content_manager" and
// "Éditeur 2.0" becomes "editeur_2_0". A title with no usable characters
// yields a ValidationError.
func DeriveKey(title string) (string, error) {
	key := stripMarks(strings.ToLower(title))
	key = nonKeyChars.ReplaceAllString(key, "_")
	key = repeatedUnderscore.ReplaceAllString(key, "_")
	key = strings.Trim(key, "_")
	if key == "" {
		return "", NewValidationError("title", "title %q does not produce a valid key", title)
	}
	return key, nil
}

func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

package database

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Identity is an enrolled person.
//
// NameNormalized is the lookup key derived by NormalizeName. It is indexed but
// not unique: two people may share a name, and FindIdentityByName resolves
// such collisions to the oldest identity.
type Identity struct {
	ID             string
	Name           string
	NameNormalized string
	CreatedAt      time.Time
	TemplateCount  int
}

// NewIdentity returns an identity with a trimmed display name and its lookup key.
func NewIdentity(id, name string) Identity {
	name = strings.Join(strings.Fields(name), " ")
	return Identity{ID: id, Name: name, NameNormalized: NormalizeName(name)}
}

// nameSeparators are folded into spaces so "jan_novak.jpg" style names from
// enrollment imports resolve to the same person as "Jan Novák".
var nameSeparators = strings.NewReplacer("-", " ", "_", " ", ".", " ")

// NormalizeName folds a display name into the name_normalized lookup key:
// diacritics stripped, lowercase, separators as single spaces.
// Whitespace-only names normalize to "".
func NormalizeName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = nameSeparators.Replace(strings.ToLower(folded))
	return strings.Join(strings.Fields(folded), " ")
}

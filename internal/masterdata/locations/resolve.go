package locations

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrAmbiguousName indicates several locations match a partial name.
var ErrAmbiguousName = errors.New("location name matches multiple locations")

var nameFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldName lowercases, trims and strips diacritics so "Sucursal López" and
// "sucursal lopez" compare equal.
func foldName(name string) string {
	folded, _, err := transform.String(nameFolder, name)
	if err != nil {
		folded = name
	}
	return strings.ToLower(strings.Join(strings.Fields(folded), " "))
}

// resolveByName matches a free-form name against the candidate list. Exact
// folded match wins; otherwise a unique substring match resolves, more than
// one is ambiguous, none is not found.
func resolveByName(candidates []Location, name string) (Location, error) {
	needle := foldName(name)
	if needle == "" {
		return Location{}, ErrNotFound
	}

	for _, loc := range candidates {
		if foldName(loc.Name) == needle || foldName(loc.Code) == needle {
			return loc, nil
		}
	}

	var match Location
	found := 0
	for _, loc := range candidates {
		if strings.Contains(foldName(loc.Name), needle) {
			match = loc
			found++
		}
	}
	switch found {
	case 0:
		return Location{}, ErrNotFound
	case 1:
		return match, nil
	default:
		return Location{}, ErrAmbiguousName
	}
}

package core

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Letters that do not decompose into a base letter plus combining marks.
var letterFolds = strings.NewReplacer(
	"ß", "ss",
	"æ", "ae",
	"œ", "oe",
	"ø", "o",
	"đ", "d",
	"ð", "d",
	"ł", "l",
	"þ", "th",
	"ı", "i",
)

// Slug normalizes a header label for alias matching: lowercase ASCII letters
// and digits with single underscores between runs. Accents are removed,
// everything else is a separator, and leading/trailing separators are dropped.
//
//	Slug(" Preço Unit. ") == "preco_unit"
//	Slug("Razão  Social") == "razao_social"
//	Slug("Nº Doc") == "no_doc"
//
// Slug is idempotent.
func Slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if folded, _, err := transform.String(stripMarks(), s); err == nil {
		s = strings.ToLower(folded)
	}
	s = letterFolds.Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	sep := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
			continue
		}
		sep = true
	}
	return b.String()
}

// stripMarks decomposes with compatibility mappings (º → o, ² → 2, ﬁ → fi),
// drops combining marks and recomposes.
// A transform.Transformer is stateful, so each call gets its own chain.
func stripMarks() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

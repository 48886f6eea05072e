// Package textnorm canonicalizes the localized strings found in third-party
// exports so they can be used as lookup keys.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Key returns the NFKC-normalized, case-folded form of s with surrounding
// space removed.
func Key(s string) string {
	return folder.String(norm.NFKC.String(strings.TrimSpace(s)))
}

// Slug folds s and collapses every run of non letter/digit characters into a
// single underscore, e.g. "Raiden Shogun" -> "raiden_shogun".
func Slug(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range Key(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

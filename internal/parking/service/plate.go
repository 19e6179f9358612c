package service

import (
	"strings"
	"unicode"

	"golang.org/x/text/width"

	"github.com/BrandonDHaskell/parkedge/internal/parking/store"
)

// NormalizePlate folds full-width OCR output to ASCII, keeps letters and
// digits and upper-cases the result. It reports false when nothing usable
// remains or the recognizer answered "unknown".
func NormalizePlate(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range width.Fold.String(raw) {
		if r > unicode.MaxASCII {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	out := b.String()
	if out == "" || out == store.PlateUnknown {
		return "", false
	}
	return out, true
}

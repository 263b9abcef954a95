package textutil

import (
	"strings"
	"unicode"
)

// fileNameReplacer maps path separators and other filesystem-unsafe
// characters. Separators become dashes so nested remote names stay readable.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SafeFileName turns a remote file name into a single local path element.
// Control characters are dropped and leading dots are trimmed so the result
// can never be hidden or refer to a parent directory. It returns "" when
// nothing usable remains.
func SafeFileName(name string) string {
	name = fileNameReplacer.Replace(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	return strings.TrimSpace(strings.TrimLeft(name, ". "))
}

package logger

import "unicode/utf8"

// Redact renders a secret as its first and last four characters. Anything
// too short to preview safely is fully masked.
func Redact(secret string) string {
	n := utf8.RuneCountInString(secret)
	if n == 0 {
		return ""
	}
	if n <= 8 {
		return "****"
	}
	r := []rune(secret)
	return string(r[:4]) + "…" + string(r[n-4:])
}

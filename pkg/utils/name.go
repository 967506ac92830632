package utils

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxNameRunes = 100

// SanitizeName turns a page title into a single safe path component.
func SanitizeName(title string) string {
	title = norm.NFC.String(strings.TrimSpace(title))

	var b strings.Builder
	count := 0
	lastDash := false
	for _, r := range title {
		if count >= maxNameRunes {
			break
		}
		switch {
		case unicode.IsSpace(r):
			r = ' '
		case strings.ContainsRune(`/\:*?"<>|`, r), unicode.IsControl(r):
			r = '-'
		}
		if r == '-' && lastDash {
			continue
		}
		lastDash = r == '-'
		b.WriteRune(r)
		count++
	}

	name := strings.Trim(b.String(), " .-")
	if name == "" {
		return "untitled"
	}
	return name
}

package core

import "strings"

// CleanString trims surrounding whitespace in `s`, optionally lowering it.
// Usernames and emails are cleaned this way before any lookup or insert.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// Package email holds small helpers for addressing people in outgoing
// mail.
package email

import (
	"strings"
	"unicode"
)

// DeriveNameFromEmail guesses a first and last name from the local part
// of an address, for accounts that registered without a display name.
// "jane.doe@x.org" becomes ("Jane", "Doe"); anything unusable falls back
// to "User".
func DeriveNameFromEmail(address string) (string, string) {
	local := address
	if at := strings.IndexByte(address, '@'); at > 0 {
		local = address[:at]
	}

	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return "User", "User"
	}

	first := title(parts[0])
	last := "User"
	if len(parts) > 1 {
		last = title(parts[len(parts)-1])
	}
	return first, last
}

func title(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

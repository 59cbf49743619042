package domain

import (
	"strconv"
	"strings"
	"unicode"
)

// DefaultHandleBase is used when a profile yields no usable characters.
const DefaultHandleBase = "user"

// BaseHandle lowercases first+last name and keeps letters and digits only.
func BaseHandle(firstName, lastName string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(firstName + lastName) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return DefaultHandleBase
	}
	return b.String()
}

// NextHandle picks the handle for a new user given count, the number of existing users whose
// handle is base or base followed by digits. With no collisions the base is used as-is;
// otherwise count+1 is appended (alice, alice2 exist: count 2 gives alice3).
func NextHandle(base string, count int) string {
	if count <= 0 {
		return base
	}
	return base + strconv.Itoa(count+1)
}

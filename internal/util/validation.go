package util

import (
	"regexp"
)

// Session ids double as file names, so path separators and dot segments are
// never accepted.
var sessionIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.+@:-]{0,127}$`)

func IsValidSessionID(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return sessionIDRegex.MatchString(s)
}

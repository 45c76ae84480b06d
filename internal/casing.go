package internal

import (
	"golang.org/x/text/cases"
)

// FoldCase returns the caseless form of content, used as a lookup key
// for header names. A Caser holds state, so one is built per call.
func FoldCase(content string) string {
	if isLowerASCII(content) {
		return content
	}
	return cases.Fold().String(content)
}

func isLowerASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if b := s[i]; b >= 0x80 || ('A' <= b && b <= 'Z') {
			return false
		}
	}
	return true
}

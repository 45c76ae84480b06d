package internal

import "unsafe"

// StringToBuffer views s as bytes without copying. The result must not be modified.
func StringToBuffer(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// BufferToString views b as a string without copying. b must not change
// while the string is in use.
func BufferToString(b []byte) string {
	return unsafe.String(unsafe.SliceData(b), len(b))
}

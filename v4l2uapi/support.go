package v4l2uapi

import "bytes"

// toGoString converts a C null-terminated byte slice to a Go string.
func toGoString(s []byte) string {
	null := bytes.IndexByte(s, 0)
	if null < 0 {
		return ""
	}
	return string(s[:null])
}

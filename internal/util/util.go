package util

import "strings"

// MakeRelative strips the leading / so an absolute path can be appended
// under another root.
func MakeRelative(path string) string {
	return strings.TrimPrefix(path, "/")
}

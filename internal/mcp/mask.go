package mcp

import "strings"

// MaskSecret redacts a sensitive value for diagnostics, keeping a fixed
// visible prefix and suffix. Short values are fully masked so nothing
// recoverable leaks.
func MaskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:4] + strings.Repeat("*", len(value)-6) + value[len(value)-2:]
}

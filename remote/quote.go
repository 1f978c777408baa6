package remote

import "strings"

// ShellQuote wraps a value in single quotes with proper POSIX escaping.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

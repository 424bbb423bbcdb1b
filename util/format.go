package util

import (
	"fmt"
	"regexp"
)

var formatSpecifier = regexp.MustCompile(`%(%|[^%diufFeEgGxXosScCpaAn]*?[diufFeEgGxXosScCpaAn])`)

// ParseFormatter extracts the conversion letter of each printf-style
// specifier in format, in order, skipping literal "%%". Used to decode a
// guest's format string ahead of walking its variadic arguments.
func ParseFormatter(format string) []string {
	matches := formatSpecifier.FindAllString(format, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if m == "%%" {
			continue
		}
		out = append(out, string(m[len(m)-1]))
	}
	return out
}

// RandomName builds an n-character alphanumeric string from a supplied
// generator rather than math/rand, so callers seeded from
// process.Context.NextRandom get a reproducible name across runs.
func RandomName(n int, next func() uint64) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = letters[next()%uint64(len(letters))]
	}
	return string(buf)
}

// FormatPointer renders addr the way verbose call logging prints pointer
// arguments, width-adjusted for the guest's pointer size.
func FormatPointer(addr, ptrSize uint64) string {
	if ptrSize == 4 {
		return fmt.Sprintf("0x%08x", addr)
	}
	return fmt.Sprintf("0x%016x", addr)
}

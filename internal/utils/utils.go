package utils

import (
	"path/filepath"
	"strings"

	"github.com/apex/log/handlers/cli"
)

var normalPadding = cli.Default.Padding

// Indent indents apex log line to supplied level
func Indent(f func(s string), level int) func(string) {
	return func(s string) {
		cli.Default.Padding = normalPadding * level
		f(s)
		cli.Default.Padding = normalPadding
	}
}

// Unique returns a slice with only unique, non-empty strings in first-seen order
func Unique(s []string) []string {
	seen := make(map[string]bool, len(s))
	us := make([]string, 0, len(s))
	for _, elem := range s {
		if len(elem) != 0 && !seen[elem] {
			us = append(us, elem)
			seen[elem] = true
		}
	}
	return us
}

// StemName returns the base name of path without its extension
// (e.g. /system/framework/arm64/boot.vdex -> boot)
func StemName(path string) string {
	base := filepath.Base(path)
	if ext := filepath.Ext(base); ext != "" && ext != base {
		return strings.TrimSuffix(base, ext)
	}
	return base
}

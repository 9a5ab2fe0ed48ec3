// Package gitignore synthesizes .gitignore blob content from SVN's
// svn:ignore (one directory) and svn:global-ignores (recursive)
// properties. Pure functions, no state.
package gitignore

import "strings"

// Synthesize builds the .gitignore content for one directory given its
// own svn:ignore and svn:global-ignores values; Git applies the
// resulting file to the whole subtree, which carries the recursive
// meaning of svn:global-ignores. Both inputs may be
// nil. Every line is LF-normalised; global patterns are appended last.
func Synthesize(ignore, globalIgnores []byte) []byte {
	var lines []string
	lines = append(lines, splitLines(ignore)...)
	if len(globalIgnores) > 0 {
		lines = append(lines, splitLines(globalIgnores)...)
	}
	if len(lines) == 0 {
		return nil
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}

func splitLines(value []byte) []string {
	if len(value) == 0 {
		return nil
	}
	raw := strings.ReplaceAll(string(value), "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	var out []string
	for _, l := range strings.Split(raw, "\n") {
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}

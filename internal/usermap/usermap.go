// Package usermap parses the user-map-file's svn-user=Name<email> lines
// and resolves SVN authors to Git signatures, using
// github.com/kballard/go-shellquote to tokenize quoted display names.
package usermap

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Entry is one resolved SVN-user to Git-identity mapping.
type Entry struct {
	Name  string
	Email string
}

// Map resolves SVN usernames to Git signatures.
type Map struct {
	entries map[string]Entry
}

// New returns an empty Map; every lookup falls back to the
// "<svn-user> <svn-user@localhost>" default.
func New() *Map {
	return &Map{entries: make(map[string]Entry)}
}

// Parse reads a user-map-file: one "svn-user = Name <email>" entry per
// line, blank lines and "#"-prefixed comments ignored.
func Parse(r io.Reader) (*Map, error) {
	m := New()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, fmt.Errorf("user-map line %d: missing '='", lineNo)
		}
		svnUser := strings.TrimSpace(line[:eq])
		rhs := strings.TrimSpace(line[eq+1:])
		if svnUser == "" {
			return nil, fmt.Errorf("user-map line %d: empty svn-user", lineNo)
		}
		entry, err := parseRHS(rhs)
		if err != nil {
			return nil, fmt.Errorf("user-map line %d: %w", lineNo, err)
		}
		m.entries[svnUser] = entry
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// parseRHS tokenizes `"Jane Q. Random" <jane@example.com>` (display name
// may be bare or quoted) into an Entry.
func parseRHS(rhs string) (Entry, error) {
	lt := strings.LastIndexByte(rhs, '<')
	gt := strings.LastIndexByte(rhs, '>')
	if lt < 0 || gt < lt {
		return Entry{}, fmt.Errorf("expected %q to end in \"<email>\"", rhs)
	}
	email := rhs[lt+1 : gt]
	namePart := strings.TrimSpace(rhs[:lt])
	if namePart == "" {
		return Entry{}, fmt.Errorf("missing display name before <%s>", email)
	}
	tokens, err := shellquote.Split(namePart)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid quoting in display name %q: %w", namePart, err)
	}
	name := strings.Join(tokens, " ")
	return Entry{Name: name, Email: email}, nil
}

// Resolve looks up svnUser, falling back to "svnUser <svnUser@localhost>".
func (m *Map) Resolve(svnUser string) Entry {
	if m != nil {
		if e, ok := m.entries[svnUser]; ok {
			return e
		}
	}
	return Entry{Name: svnUser, Email: svnUser + "@localhost"}
}

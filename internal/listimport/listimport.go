// Package listimport turns an uploaded list of accounts into usernames.
//
// Accepted inputs are plain text with one entry per line, or CSV whose first
// column holds the entry (an optional "username" header row is skipped).
// Entries may be bare handles, "@handle" or profile URLs.
package listimport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

var ErrNoUsernames = errors.New("no usernames in list")

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._]{1,30}$`)

// Result is the parsed list plus the entries that were dropped.
type Result struct {
	Usernames []string `json:"usernames"`
	Skipped   []string `json:"skipped,omitempty"`
}

// Parse reads r and returns the distinct usernames in file order.
func Parse(r io.Reader) (Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true
	reader.Comment = '#'

	var res Result
	seen := mapset.NewThreadUnsafeSet[string]()
	first := true
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("parse list: %w", err)
		}
		if len(record) == 0 {
			continue
		}
		raw := strings.TrimSpace(record[0])
		if first {
			first = false
			if strings.EqualFold(raw, "username") {
				continue
			}
		}
		if raw == "" {
			continue
		}
		name, ok := Normalize(raw)
		if !ok {
			res.Skipped = append(res.Skipped, raw)
			continue
		}
		if seen.Add(name) {
			res.Usernames = append(res.Usernames, name)
		}
	}
	if len(res.Usernames) == 0 {
		return res, ErrNoUsernames
	}
	return res, nil
}

// Normalize extracts a lower-cased username from a handle or profile URL.
func Normalize(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if strings.Contains(s, "/") {
		if !strings.Contains(s, "://") {
			s = "https://" + s
		}
		u, err := url.Parse(s)
		if err != nil {
			return "", false
		}
		segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
		if len(segments) == 0 {
			return "", false
		}
		s = segments[0]
	}
	s = strings.ToLower(strings.TrimPrefix(s, "@"))
	if !usernamePattern.MatchString(s) {
		return "", false
	}
	return s, true
}

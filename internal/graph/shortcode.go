package graph

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var shortCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{5,64}$`)

// postPathKinds are the path segments that precede a post short code.
var postPathKinds = map[string]struct{}{"p": {}, "reel": {}, "reels": {}, "tv": {}}

// ParseShortCode extracts the post short code from a post URL such as
// https://www.instagram.com/p/Cx1AbC2dEf3/ or accepts a bare short code.
func ParseShortCode(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if shortCodePattern.MatchString(raw) {
		return raw, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPostURL, err)
	}
	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	for i := 0; i+1 < len(segments); i++ {
		if _, ok := postPathKinds[segments[i]]; ok && shortCodePattern.MatchString(segments[i+1]) {
			return segments[i+1], nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPostURL, raw)
}

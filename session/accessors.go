package session

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/smnsjas/go-hgcmd/objects"
)

// Root returns the repository root path, trimmed of trailing
// whitespace. Memoized after the first successful fetch.
func (s *Session) Root() (string, error) {
	s.mu.Lock()
	known := s.rootKnown
	root := s.root
	s.mu.Unlock()
	if known {
		return root, nil
	}

	res, err := s.output("root")
	if err != nil {
		return "", err
	}
	root = strings.TrimRight(res.Stdout, " \t\r\n")

	s.mu.Lock()
	s.root = root
	s.rootKnown = true
	s.mu.Unlock()
	return root, nil
}

// Configuration returns the effective repository configuration as a
// key to value mapping, parsed from showconfig. Lines without a '='
// are skipped. Memoized after the first successful fetch.
func (s *Session) Configuration() (map[string]string, error) {
	s.mu.Lock()
	cached := s.config
	s.mu.Unlock()

	if cached == nil {
		res, err := s.output("showconfig")
		if err != nil {
			return nil, err
		}
		cached = objects.ParseKeyValues(res.Stdout, "=")

		s.mu.Lock()
		s.config = cached
		s.mu.Unlock()
	}

	out := make(map[string]string, len(cached))
	for k, v := range cached {
		out[k] = v
	}
	return out, nil
}

// versionBanner matches the parenthesized version in the first line of
// hg version output, e.g. "(version 6.5.1)".
var versionBanner = regexp.MustCompile(`\(\D*(\d+)\.(\d+)(?:\.(\d+))?([^)]*)\)`)

// Version returns the server's Mercurial version normalized to
// "major.minor.trivial" with any trailing banner extra appended.
// The trivial component defaults to 0 when the banner omits it. A
// banner that does not match the expected shape is an error, not a
// guess. Memoized after the first successful fetch.
func (s *Session) Version() (string, error) {
	s.mu.Lock()
	cached := s.versionStr
	s.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	res, err := s.output("version")
	if err != nil {
		return "", err
	}
	version, err := parseVersionBanner(res.Stdout)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.versionStr = version
	s.mu.Unlock()
	return version, nil
}

// parseVersionBanner normalizes the human-readable version banner.
func parseVersionBanner(out string) (string, error) {
	m := versionBanner.FindStringSubmatch(out)
	if m == nil {
		first, _, _ := strings.Cut(out, "\n")
		return "", fmt.Errorf("unrecognized version banner %q", first)
	}
	trivial := m[3]
	if trivial == "" {
		trivial = "0"
	}
	return fmt.Sprintf("%s.%s.%s%s", m[1], m[2], trivial, m[4]), nil
}

// ABOUTME: Best-effort URL normalization for user-supplied URL targets
// ABOUTME: Adds an http scheme, strips a leading www., and leaves schemed URLs alone

package types

import (
	"regexp"
	"strings"
)

// ipv4Pattern matches a strict dotted-quad IPv4 address (each octet 0-255).
var ipv4Pattern = regexp.MustCompile(`^((25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)$`)

// NormalizeURL turns raw user input into an absolute URL.
//
// It never fails: input that already carries an http or https scheme is
// returned as-is, bare IPv4 addresses and scheme-less hosts get an http://
// prefix (with a leading "www." removed from hosts), and anything else with a
// scheme separator is returned trimmed. There is no https upgrade and no
// validation of the host syntax.
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s
	}

	if IsIPv4(s) {
		return "http://" + s
	}

	if !strings.Contains(s, "://") {
		s = strings.TrimPrefix(s, "www.")
		return "http://" + s
	}

	return s
}

// IsIPv4 reports whether s is a strict dotted-quad IPv4 address.
func IsIPv4(s string) bool {
	return ipv4Pattern.MatchString(s)
}

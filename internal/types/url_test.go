// ABOUTME: Tests for URL normalization of user-supplied URL targets
// ABOUTME: Covers documented examples, IPv4 detection and idempotency

package types

import "testing"

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "bare host", raw: "example.com", want: "http://example.com"},
		{name: "www prefix stripped", raw: "www.example.com", want: "http://example.com"},
		{name: "https kept", raw: "https://x.com", want: "https://x.com"},
		{name: "http kept with www", raw: "http://www.example.com/a", want: "http://www.example.com/a"},
		{name: "ipv4", raw: "192.168.1.1", want: "http://192.168.1.1"},
		{name: "whitespace trimmed", raw: "  example.com/path \n", want: "http://example.com/path"},
		{name: "other scheme untouched", raw: "ftp://files.example.com", want: "ftp://files.example.com"},
		{name: "no https upgrade", raw: "secure.example.com", want: "http://secure.example.com"},
		{name: "out of range octet treated as host", raw: "256.1.1.1", want: "http://256.1.1.1"},
		{name: "empty", raw: "", want: "http://"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NormalizeURL(tt.raw); got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeURL_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"example.com",
		"www.example.com",
		"www.www.example.com",
		"https://x.com",
		"HTTP://Example.com",
		"192.168.1.1",
		"10.0.0.256",
		"  www.example.com/login?next=/  ",
		"mailto://someone",
		"",
		"   ",
		"http://",
	}

	for _, in := range inputs {
		once := NormalizeURL(in)
		twice := NormalizeURL(once)
		if once != twice {
			t.Errorf("NormalizeURL not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestIsIPv4(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{in: "0.0.0.0", want: true},
		{in: "255.255.255.255", want: true},
		{in: "192.168.1.1", want: true},
		{in: "256.0.0.1", want: false},
		{in: "1.2.3", want: false},
		{in: "1.2.3.4.5", want: false},
		{in: "a.b.c.d", want: false},
		{in: "1.2.3.4/path", want: false},
	}

	for _, tt := range tests {
		if got := IsIPv4(tt.in); got != tt.want {
			t.Errorf("IsIPv4(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

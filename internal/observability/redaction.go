// ABOUTME: Sensitive data redaction applied to every log record
// ABOUTME: Masks API keys, tokens and URL credentials before they reach the log sink

package observability

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// RedactionPlaceholder is the replacement text for redacted values.
const RedactionPlaceholder = "[REDACTED]"

type redactionRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Values stop at whitespace or & so query strings stay readable.
var redactionRules = []redactionRule{
	{regexp.MustCompile(`(?i)(password|passwd|pwd)=[^\s&]+`), "${1}=" + RedactionPlaceholder},
	{regexp.MustCompile(`(?i)(token|auth_token|access_token)=[^\s&]+`), "${1}=" + RedactionPlaceholder},
	{regexp.MustCompile(`(?i)(x-apikey|api[_-]?key|apikey)[=:]\s*[^\s&]+`), "${1}=" + RedactionPlaceholder},
	{regexp.MustCompile(`(?i)(secret|client_secret)=[^\s&]+`), "${1}=" + RedactionPlaceholder},
	{regexp.MustCompile(`(?i)Bearer\s+[^\s]+`), "Bearer " + RedactionPlaceholder},
}

var sensitiveKeyPatterns = []string{
	"password",
	"passwd",
	"token",
	"secret",
	"api_key",
	"api-key",
	"apikey",
	"authorization",
	"credential",
	"private_key",
}

// RedactSensitive replaces secrets embedded in a string.
func RedactSensitive(value string) string {
	for _, r := range redactionRules {
		value = r.pattern.ReplaceAllString(value, r.replacement)
	}
	return value
}

// IsSensitiveKey returns true if the key name suggests sensitive data.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// RedactURL drops userinfo and redacts secret query parameters. Values that
// do not parse as URLs go through RedactSensitive.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return RedactSensitive(raw)
	}
	if u.User != nil {
		u.User = url.User(RedactionPlaceholder)
	}
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if IsSensitiveKey(k) {
				q.Set(k, RedactionPlaceholder)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// RedactAttr is a slog ReplaceAttr hook: sensitive keys lose their value and
// string values are scrubbed.
func RedactAttr(_ []string, a slog.Attr) slog.Attr {
	if IsSensitiveKey(a.Key) {
		return slog.String(a.Key, RedactionPlaceholder)
	}
	if a.Value.Kind() == slog.KindString {
		if s := a.Value.String(); s != "" {
			return slog.String(a.Key, RedactSensitive(s))
		}
	}
	return a
}

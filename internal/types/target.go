// ABOUTME: ScanTarget tagged union for file, URL, and phone number submissions
// ABOUTME: Targets are normalized on construction and immutable afterwards

package types

import (
	"errors"
	"fmt"
	"strings"
)

// TargetKind identifies what a ScanTarget refers to.
type TargetKind string

const (
	// TargetKindFile is a local path (or gs:// URI) to a file.
	TargetKindFile TargetKind = "file"
	// TargetKindURL is a web address.
	TargetKindURL TargetKind = "url"
	// TargetKindPhone is a phone number.
	TargetKindPhone TargetKind = "phone"
)

// String returns the string representation of the target kind.
func (k TargetKind) String() string {
	switch k {
	case TargetKindFile, TargetKindURL, TargetKindPhone:
		return string(k)
	default:
		return "unknown"
	}
}

// IsValid returns true if the kind is a known value.
func (k TargetKind) IsValid() bool {
	switch k {
	case TargetKindFile, TargetKindURL, TargetKindPhone:
		return true
	default:
		return false
	}
}

// ErrEmptyTarget is returned when a target value is blank.
var ErrEmptyTarget = errors.New("scan target is empty")

// ScanTarget is a normalized submission target.
// The zero value is not a valid target; use the constructors.
type ScanTarget struct {
	kind  TargetKind
	value string
}

// NewFileTarget creates a file target from a path.
func NewFileTarget(path string) (ScanTarget, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return ScanTarget{}, ErrEmptyTarget
	}
	return ScanTarget{kind: TargetKindFile, value: path}, nil
}

// NewURLTarget creates a URL target, storing the normalized URL.
func NewURLTarget(raw string) (ScanTarget, error) {
	if strings.TrimSpace(raw) == "" {
		return ScanTarget{}, ErrEmptyTarget
	}
	return ScanTarget{kind: TargetKindURL, value: NormalizeURL(raw)}, nil
}

// NewPhoneTarget creates a phone target. Separators such as spaces, dashes,
// dots and parentheses are dropped; a leading plus sign is kept.
func NewPhoneTarget(raw string) (ScanTarget, error) {
	number := NormalizePhone(raw)
	if number == "" || number == "+" {
		return ScanTarget{}, ErrEmptyTarget
	}
	return ScanTarget{kind: TargetKindPhone, value: number}, nil
}

// ParseTarget builds a target from a kind name and raw value.
func ParseTarget(kind, value string) (ScanTarget, error) {
	switch TargetKind(strings.ToLower(strings.TrimSpace(kind))) {
	case TargetKindFile:
		return NewFileTarget(value)
	case TargetKindURL:
		return NewURLTarget(value)
	case TargetKindPhone:
		return NewPhoneTarget(value)
	default:
		return ScanTarget{}, fmt.Errorf("unsupported target type %q", kind)
	}
}

// Kind returns the target kind.
func (t ScanTarget) Kind() TargetKind {
	return t.kind
}

// Value returns the normalized target value.
func (t ScanTarget) Value() string {
	return t.value
}

// IsZero reports whether the target was never constructed.
func (t ScanTarget) IsZero() bool {
	return t.kind == "" && t.value == ""
}

// String returns "kind:value" for logging.
func (t ScanTarget) String() string {
	return t.kind.String() + ":" + t.value
}

// Key returns the storage key used to index outcomes for this target.
func (t ScanTarget) Key() string {
	return string(t.kind) + ":" + t.value
}

// NormalizePhone keeps digits and a leading plus sign.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)

	var sb strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '+' && i == 0:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

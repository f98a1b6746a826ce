// ABOUTME: Tests for ScanTarget constructors and target parsing
// ABOUTME: Validates normalization on construction and empty-input rejection

package types

import (
	"errors"
	"testing"
)

func TestTargetKind_IsValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind TargetKind
		want bool
	}{
		{kind: TargetKindFile, want: true},
		{kind: TargetKindURL, want: true},
		{kind: TargetKindPhone, want: true},
		{kind: TargetKind("email"), want: false},
		{kind: TargetKind(""), want: false},
	}

	for _, tt := range tests {
		if got := tt.kind.IsValid(); got != tt.want {
			t.Errorf("TargetKind(%q).IsValid() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestParseTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		kind      string
		value     string
		wantKind  TargetKind
		wantValue string
		wantErr   bool
	}{
		{name: "file", kind: "file", value: " /tmp/sample.bin ", wantKind: TargetKindFile, wantValue: "/tmp/sample.bin"},
		{name: "url normalized", kind: "url", value: "www.example.com", wantKind: TargetKindURL, wantValue: "http://example.com"},
		{name: "kind case insensitive", kind: " URL ", value: "https://x.com", wantKind: TargetKindURL, wantValue: "https://x.com"},
		{name: "phone separators dropped", kind: "phone", value: "+1 (555) 010-9999", wantKind: TargetKindPhone, wantValue: "+15550109999"},
		{name: "empty file", kind: "file", value: "   ", wantErr: true},
		{name: "empty url", kind: "url", value: "", wantErr: true},
		{name: "phone without digits", kind: "phone", value: "+ - ()", wantErr: true},
		{name: "unsupported kind", kind: "email", value: "a@b.c", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseTarget(tt.kind, tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseTarget(%q, %q) expected error, got %v", tt.kind, tt.value, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTarget(%q, %q) error = %v", tt.kind, tt.value, err)
			}
			if got.Kind() != tt.wantKind {
				t.Errorf("Kind() = %v, want %v", got.Kind(), tt.wantKind)
			}
			if got.Value() != tt.wantValue {
				t.Errorf("Value() = %q, want %q", got.Value(), tt.wantValue)
			}
		})
	}
}

func TestNewFileTarget_Empty(t *testing.T) {
	t.Parallel()

	_, err := NewFileTarget("")
	if !errors.Is(err, ErrEmptyTarget) {
		t.Errorf("NewFileTarget(\"\") error = %v, want ErrEmptyTarget", err)
	}
}

func TestScanTarget_Key(t *testing.T) {
	t.Parallel()

	target, err := NewURLTarget("example.com")
	if err != nil {
		t.Fatalf("NewURLTarget() error = %v", err)
	}

	if got, want := target.Key(), "url:http://example.com"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
	if target.IsZero() {
		t.Error("constructed target should not be zero")
	}
	if !(ScanTarget{}).IsZero() {
		t.Error("zero value should report IsZero")
	}
}

package mcp

import (
	"strings"
	"testing"
)

func TestMaskSecret(t *testing.T) {
	if got := MaskSecret(""); got != "" {
		t.Fatalf("empty = %q", got)
	}
	if got := MaskSecret("short"); got != "*****" {
		t.Fatalf("short value = %q, want fully masked", got)
	}
	got := MaskSecret("sk-1234567890abcdef")
	if !strings.HasPrefix(got, "sk-1") || !strings.HasSuffix(got, "ef") {
		t.Fatalf("masked = %q, want sk-1...ef", got)
	}
	if strings.Contains(got, "234567890abcd") {
		t.Fatalf("masked = %q still contains the middle", got)
	}
	if len(got) != len("sk-1234567890abcdef") {
		t.Fatalf("masked length %d != original %d", len(got), len("sk-1234567890abcdef"))
	}
}

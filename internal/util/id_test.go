package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	plain := NewID("")
	if !IsUUID(plain) {
		t.Fatalf("expected uuid, got %q", plain)
	}

	prefixed := NewID("conn")
	if !strings.HasPrefix(prefixed, "conn_") {
		t.Fatalf("expected conn_ prefix, got %q", prefixed)
	}
	if !IsUUID(strings.TrimPrefix(prefixed, "conn_")) {
		t.Fatalf("expected uuid suffix, got %q", prefixed)
	}

	if NewID("") == NewID("") {
		t.Fatal("expected distinct ids")
	}
}

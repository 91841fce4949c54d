package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	a := NewID("clg")
	b := NewID("clg")
	if a == b {
		t.Fatal("expected distinct ids")
	}
	if !strings.HasPrefix(a, "clg_") || len(a) != len("clg_")+32 {
		t.Fatalf("unexpected id %q", a)
	}
	if got := NewID(""); len(got) != 32 || strings.Contains(got, "_") {
		t.Fatalf("unexpected bare id %q", got)
	}
}

package buildinfo

import (
	"strings"
	"testing"
)

func TestStringContainsVersion(t *testing.T) {
	s := String()
	if !strings.Contains(s, Version) {
		t.Errorf("String() = %q, want it to contain %q", s, Version)
	}
	if !strings.Contains(s, "trapsight") {
		t.Errorf("String() = %q, want it to contain the project name", s)
	}
}

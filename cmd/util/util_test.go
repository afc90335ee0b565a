package util

import (
	"strings"
	"testing"
)

func TestWrapString(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"short", "a short help text"},
		{"long", "SnapshotAfter defines after how many events of a persistence id a snapshot is stored and the log is compacted"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapString(tt.in)
			for _, line := range strings.Split(got, "\n") {
				if len(line) > Wrap {
					t.Errorf("line %q is longer than %d", line, Wrap)
				}
			}
			if strings.Join(strings.Fields(got), " ") != strings.Join(strings.Fields(tt.in), " ") {
				t.Errorf("words changed: %q", got)
			}
		})
	}
}

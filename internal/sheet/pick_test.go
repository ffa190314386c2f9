package sheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPickLatest(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		base  string
		want  string
		found bool
	}{
		{
			name:  "bare name counts as version zero",
			names: []string{"Summary", "Data"},
			base:  "Data",
			want:  "Data",
			found: true,
		},
		{
			name:  "highest counter wins",
			names: []string{"Data", "Data (2)", "Data (3)", "Summary"},
			base:  "Data",
			want:  "Data (3)",
			found: true,
		},
		{
			name:  "clones listed out of order",
			names: []string{"Data (4)", "Data (2)", "Data"},
			base:  "Data",
			want:  "Data (4)",
			found: true,
		},
		{
			name:  "tie keeps the first candidate",
			names: []string{"Data (2)", "Data  (2)"},
			base:  "Data",
			want:  "Data (2)",
			found: true,
		},
		{
			name:  "unrelated names ignored",
			names: []string{"Data Log", "Data(old)", "Metadata"},
			base:  "Data",
			want:  "",
			found: false,
		},
		{
			name:  "whitespace around names tolerated",
			names: []string{" Data (2) "},
			base:  "Data",
			want:  " Data (2) ",
			found: true,
		},
		{
			name:  "empty workbook",
			names: nil,
			base:  "Data",
			want:  "",
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := PickLatest(tt.names, tt.base)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveExact(t *testing.T) {
	names := []string{"Summary", "Test Data", "RAW "}

	tests := []struct {
		name  string
		want  string
		match string
		found bool
	}{
		{"exact match", "Test Data", "Test Data", true},
		{"case insensitive", "test data", "Test Data", true},
		{"whitespace insensitive", "TestData", "Test Data", true},
		{"trailing space in workbook", "raw", "RAW ", true},
		{"containment fallback", "Data", "Test Data", true},
		{"no match", "Results", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := resolveExact(names, tt.want)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.match, got)
		})
	}
}

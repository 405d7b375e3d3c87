package taxonomy

import (
	"reflect"
	"testing"
)

func TestEraForYear(t *testing.T) {
	tests := []struct {
		year  int
		want  string
		found bool
	}{
		{-3000, "Ancient", true},
		{499, "Ancient", true},
		{500, "Medieval", true},
		{1400, "Renaissance", true},
		{1599, "Renaissance", true},
		{1600, "Baroque", true},
		{1750, "Neoclassical", true},
		{1850, "19th Century", true},
		{1945, "Modern", true},
		{1946, "Contemporary", true},
		{2026, "Contemporary", true},
		{0, "", false},
	}

	for _, tt := range tests {
		got, found := EraForYear(tt.year)
		if got != tt.want || found != tt.found {
			t.Errorf("EraForYear(%d) = (%q, %v), want (%q, %v)",
				tt.year, got, found, tt.want, tt.found)
		}
	}
}

func TestThemes(t *testing.T) {
	tests := []struct {
		name string
		blob string
		want []string
	}{
		{
			name: "single match",
			blob: "View of a mountain pass at dawn",
			want: []string{"Landscape"},
		},
		{
			name: "case insensitive",
			blob: "PORTRAIT OF A LADY",
			want: []string{"Portrait"},
		},
		{
			name: "multiple labels in table order",
			blob: "Venus in a garden landscape",
			want: []string{"Landscape", "Botanical", "Mythology"},
		},
		{
			name: "one label per theme even with several keywords",
			blob: "river valley with forest",
			want: []string{"Landscape"},
		},
		{
			name: "no match",
			blob: "Untitled composition no. 4",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Themes(tt.blob)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Themes(%q) = %v, want %v", tt.blob, got, tt.want)
			}
		})
	}
}

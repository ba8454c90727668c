package timeline

import "testing"

func TestCompareKeys(t *testing.T) {
	tests := []struct {
		name     string
		a, b     SortKey
		expected int
	}{
		{name: "equal", a: "100", b: "100", expected: 0},
		{name: "same length, a newer", a: "105", b: "101", expected: 1},
		{name: "same length, a older", a: "101", b: "105", expected: -1},
		{name: "longer key is newer", a: "100", b: "99", expected: 1},
		{name: "shorter key is older", a: "99", b: "100", expected: -1},
		{name: "empty is older than everything", a: "", b: "1", expected: -1},
		{name: "both empty", a: "", b: "", expected: 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := CompareKeys(test.a, test.b)
			if result != test.expected {
				t.Errorf("expected %d, got %d", test.expected, result)
			}
		})
	}
}

func TestNewGap(t *testing.T) {
	gap := NewGap("500")
	if !gap.IsGap() {
		t.Error("expected gap entry")
	}
	if gap.SortKey != "500" {
		t.Errorf("expected sort key 500, got %s", gap.SortKey)
	}
	other := NewGap("500")
	if gap.ID == other.ID {
		t.Error("expected distinct gap ids")
	}
}

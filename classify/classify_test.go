package classify

import "testing"

func TestCategoryMatchesKeyword(t *testing.T) {
	c := NewDefault()
	cases := map[string]string{
		"Milk":               "dairy",
		"2x whole milk":      "dairy",
		"organic bananas":    "other", // whole-word match only
		"banana":             "produce",
		"fresh bread, big":   "bakery",
		"mystery ingredient": "other",
	}
	for text, want := range cases {
		if got := c.Category(text); got != want {
			t.Errorf("Category(%q) = %q, want %q", text, got, want)
		}
	}
}

func TestCategoryNilClassifier(t *testing.T) {
	var c *Classifier
	if got := c.Category("milk"); got != DefaultCategory {
		t.Fatalf("nil classifier: got %q", got)
	}
}

func TestCategoryCustomTable(t *testing.T) {
	c := New(map[string]string{"Hammer": "tools"})
	if got := c.Category("the hammer"); got != "tools" {
		t.Fatalf("custom table: got %q", got)
	}
}

// Package classify assigns categories to list items by keyword matching.
package classify

import "strings"

// DefaultCategory is assigned when no keyword matches.
const DefaultCategory = "other"

// Classifier maps item text to a category using a case-insensitive keyword
// table. The zero value classifies everything as DefaultCategory.
type Classifier struct {
	keywords map[string]string
}

// New returns a Classifier over table, mapping keyword -> category.
// Keywords are matched case-insensitively as whole words.
func New(table map[string]string) *Classifier {
	kw := make(map[string]string, len(table))
	for k, v := range table {
		kw[strings.ToLower(k)] = v
	}
	return &Classifier{keywords: kw}
}

// NewDefault returns a Classifier with a grocery-style keyword table.
func NewDefault() *Classifier {
	return New(map[string]string{
		"milk":    "dairy",
		"cheese":  "dairy",
		"butter":  "dairy",
		"yogurt":  "dairy",
		"apple":   "produce",
		"banana":  "produce",
		"salad":   "produce",
		"tomato":  "produce",
		"onion":   "produce",
		"bread":   "bakery",
		"bagel":   "bakery",
		"chicken": "meat",
		"beef":    "meat",
		"fish":    "meat",
		"water":   "beverages",
		"juice":   "beverages",
		"coffee":  "beverages",
		"beer":    "beverages",
	})
}

// Category returns the category for the given item text.
func (c *Classifier) Category(text string) string {
	if c == nil || len(c.keywords) == 0 {
		return DefaultCategory
	}
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?")
		if cat, ok := c.keywords[word]; ok {
			return cat
		}
	}
	return DefaultCategory
}

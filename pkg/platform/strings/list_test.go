package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanList(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{"nil", nil, nil},
		{"empty", []string{}, []string{}},
		{"untouched", []string{"b1:9092"}, []string{"b1:9092"}},
		{"trims", []string{" b1:9092", "b2:9092 "}, []string{"b1:9092", "b2:9092"}},
		{"drops blanks", []string{"b1:9092", "", "  "}, []string{"b1:9092"}},
		{"drops repeats in order", []string{"b2:9092", "b1:9092", " b2:9092"}, []string{"b2:9092", "b1:9092"}},
		{"only blanks", []string{"", " "}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanList(tt.input))
		})
	}
}

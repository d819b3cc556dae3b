package retrieval

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"What are fractions?", []string{"what", "fractions"}},
		{"How to add 3/4 and 12/25", []string{"how", "add", "1225"}},
		{"the cat is on a mat", []string{"cat", "mat"}},
		{"area area of a circle", []string{"area", "circle"}},
		{"is it ok", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractKeywords(tt.query))
		})
	}
}

func TestKeywordScore(t *testing.T) {
	content := "a fraction has a numerator"
	norm := math.Log(float64(len(content)) + 1)

	assert.InDelta(t, (2.0+0.1)/norm, KeywordScore([]string{"fraction"}, "", content), 1e-9)
	assert.InDelta(t, (4.0+2.0+0.1)/norm, KeywordScore([]string{"fraction"}, "Fractions", content), 1e-9)
	assert.InDelta(t, 4.0/norm, KeywordScore([]string{"decimal"}, "Fractions and decimals", content), 1e-9)
	assert.Zero(t, KeywordScore([]string{"decimal"}, "", content))
	assert.Zero(t, KeywordScore([]string{"fraction"}, "Fraction", ""))

	repeated := "fraction fraction fraction"
	assert.InDelta(t, (2.0+0.3)/math.Log(float64(len(repeated))+1), KeywordScore([]string{"fraction"}, "", repeated), 1e-9)
}

func TestRerankScore(t *testing.T) {
	words := QueryWords("What are fractions?")
	assert.Equal(t, []string{"what", "are", "fractions"}, words)

	assert.InDelta(t, 1.0/3, RerankScore(words, "A fraction has a numerator and denominator. Fractions!"), 1e-9)
	assert.Equal(t, 1.0, RerankScore([]string{"fraction"}, "FRACTION"))
	assert.Zero(t, RerankScore(nil, "anything"))
}

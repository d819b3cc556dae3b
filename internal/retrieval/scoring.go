package retrieval

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9\s]`)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "have": true, "has": true, "had": true, "do": true,
	"does": true, "did": true, "will": true, "would": true, "could": true, "should": true,
}

const (
	titleMatchBoost   = 4.0
	contentMatchBoost = 2.0
	frequencyBoost    = 0.1
)

// ExtractKeywords lowercases the query, strips everything but [a-z0-9] and
// whitespace, and drops stop words and tokens of two characters or fewer.
// Order of first appearance is kept; duplicates are dropped.
func ExtractKeywords(query string) []string {
	cleaned := nonAlphanumeric.ReplaceAllString(strings.ToLower(query), "")

	var keywords []string
	seen := make(map[string]bool)
	for _, word := range strings.Fields(cleaned) {
		if len(word) <= 2 || stopWords[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
	}
	return keywords
}

// KeywordScore scores a chunk against extracted keywords: a title hit counts
// twice as much as a content hit, plus a small per-occurrence term frequency,
// normalized by ln(len(content)+1).
func KeywordScore(keywords []string, title, content string) float64 {
	content = strings.ToLower(content)
	title = strings.ToLower(title)

	norm := math.Log(float64(utf8.RuneCountInString(content)) + 1)
	if norm == 0 {
		return 0
	}

	var score float64
	for _, kw := range keywords {
		if strings.Contains(title, kw) {
			score += titleMatchBoost
		}
		if strings.Contains(content, kw) {
			score += contentMatchBoost
		}
		score += frequencyBoost * float64(strings.Count(content, kw))
	}
	return score / norm
}

// QueryWords splits a query into lowercase words with surrounding punctuation removed.
func QueryWords(query string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.TrimFunc(w, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) })
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

// RerankScore is the fraction of query words contained in content.
func RerankScore(words []string, content string) float64 {
	if len(words) == 0 {
		return 0
	}
	content = strings.ToLower(content)
	hits := 0
	for _, w := range words {
		if strings.Contains(content, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

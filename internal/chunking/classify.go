package chunking

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/bull/edu-rag-server/internal/domain"
)

// Purpose patterns are checked in order; the first match wins and text
// matching neither is concept material.
var (
	exercisePattern = regexp.MustCompile(`(?i)\b(exercise|question|problem|practice|solve|find|calculate|determine|answer|solution)`)
	examplePattern  = regexp.MustCompile(`(?i)\b(example|let us|consider|suppose|illustration|case study|problem solving)`)
)

var (
	formulaPattern  = regexp.MustCompile(`[=<>≤≥≠×÷±∑∏∫√^]|\d\s*[+\-*/]\s*\d|\b[a-zA-Z]\s*=`)
	diagramPattern  = regexp.MustCompile(`(?i)\b(figure|diagram|graph|chart|illustration|picture|image)s?\b`)
	advancedPattern = regexp.MustCompile(`(?i)\b(advanced|complex|difficult|challenging)\b`)
	basicPattern    = regexp.MustCompile(`(?i)\b(basic|simple|easy|fundamental)\b`)
)

var mathKeywords = []string{
	"number", "arithmetic", "algebra", "geometry", "fraction", "decimal",
	"ratio", "proportion", "percentage", "area", "perimeter", "volume",
	"measurement", "data", "statistics", "graph", "equation", "expression",
	"factor", "multiple", "prime", "composite", "whole number",
}

type topicRule struct {
	topic string
	terms []string
}

var topicRules = []topicRule{
	{"number_systems", []string{"whole number", "natural number", "counting"}},
	{"arithmetic_operations", []string{"addition", "subtraction", "multiplication", "division"}},
	{"fractions_decimals", []string{"fraction", "decimal", "percentage"}},
	{"mensuration", []string{"area", "perimeter", "length", "width", "height"}},
	{"ratio_proportion", []string{"ratio", "proportion", "unitary method"}},
	{"algebra", []string{"algebra", "expression", "equation", "variable"}},
	{"geometry", []string{"geometry", "triangle", "circle", "square", "rectangle"}},
	{"data_handling", []string{"data", "graph", "chart", "statistics"}},
}

const generalTopic = "general_mathematics"

// classification is the metadata derived from a chunk's text alone.
type classification struct {
	contentType domain.ContentType
	purpose     domain.PurposeType
	difficulty  domain.Difficulty
	importance  float64
	keywords    []string
	topics      []string
}

func classify(text string) classification {
	lower := strings.ToLower(text)
	purpose := purposeOf(text)
	keywords := keywordsOf(lower)
	return classification{
		contentType: contentTypeOf(text),
		purpose:     purpose,
		difficulty:  difficultyOf(text),
		importance:  importanceOf(purpose, lower),
		keywords:    keywords,
		topics:      topicsOf(lower),
	}
}

func purposeOf(text string) domain.PurposeType {
	switch {
	case exercisePattern.MatchString(text):
		return domain.PurposeExercise
	case examplePattern.MatchString(text):
		return domain.PurposeExample
	default:
		return domain.PurposeConcept
	}
}

func contentTypeOf(text string) domain.ContentType {
	formula := formulaPattern.MatchString(text)
	diagram := diagramPattern.MatchString(text)
	switch {
	case formula && diagram:
		return domain.ContentMixed
	case formula:
		return domain.ContentFormula
	case diagram:
		return domain.ContentDiagram
	default:
		return domain.ContentText
	}
}

func difficultyOf(text string) domain.Difficulty {
	switch {
	case advancedPattern.MatchString(text):
		return domain.DifficultyAdvanced
	case basicPattern.MatchString(text):
		return domain.DifficultyBasic
	default:
		return domain.DifficultyIntermediate
	}
}

func importanceOf(purpose domain.PurposeType, lower string) float64 {
	score := 0.5
	switch purpose {
	case domain.PurposeConcept:
		score += 0.3
	case domain.PurposeExample:
		score += 0.2
	case domain.PurposeExercise:
		score += 0.1
	}
	for _, kw := range mathKeywords {
		if strings.Contains(lower, kw) {
			score += 0.05
		}
	}
	return min(score, 1.0)
}

func keywordsOf(lower string) []string {
	keywords := []string{}
	for _, kw := range mathKeywords {
		if strings.Contains(lower, kw) {
			keywords = append(keywords, kw)
		}
	}
	if strings.IndexFunc(lower, unicode.IsDigit) >= 0 {
		keywords = append(keywords, "numbers")
	}
	return keywords
}

func topicsOf(lower string) []string {
	var topics []string
	for _, rule := range topicRules {
		for _, term := range rule.terms {
			if strings.Contains(lower, term) {
				topics = append(topics, rule.topic)
				break
			}
		}
	}
	if len(topics) == 0 {
		return []string{generalTopic}
	}
	return topics
}

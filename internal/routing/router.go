// Package routing classifies raw queries as educational or not and assigns a
// primary subject and query type.
package routing

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/bull/edu-rag-server/internal/domain"
)

const (
	// QueryTypeGeneral is assigned when no query pattern matches.
	QueryTypeGeneral = "general"
	// FallbackSubject is chosen for queries with educational intent but no subject keywords.
	FallbackSubject = "mathematics"

	maxConfidence = 0.95
)

// Non-educational reasons.
const (
	ReasonEmptyQuery     = "empty_query"
	ReasonNonEducational = "matched_non_educational_pattern"
	ReasonNoSignal       = "no_educational_keywords_or_patterns"
)

type queryType struct {
	name string
	re   *regexp.Regexp
}

// Router is a pure classifier over read-only tables. It is safe for concurrent use.
type Router struct {
	subjects       []SubjectKeywords
	queryTypes     []queryType
	nonEducational []*regexp.Regexp
}

// NewRouter compiles tables into a Router. Patterns are matched case-insensitively.
func NewRouter(tables Tables) (*Router, error) {
	r := &Router{}
	for _, s := range tables.Subjects {
		name := strings.ToLower(strings.TrimSpace(s.Name))
		if name == "" {
			return nil, fmt.Errorf("%w: subject with empty name", domain.ErrValidation)
		}
		keywords := make([]string, 0, len(s.Keywords))
		for _, kw := range s.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				keywords = append(keywords, kw)
			}
		}
		r.subjects = append(r.subjects, SubjectKeywords{Name: name, Keywords: keywords})
	}
	for _, qt := range tables.QueryTypes {
		re, err := regexp.Compile("(?i)" + qt.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: query type %s: %v", domain.ErrValidation, qt.Name, err)
		}
		r.queryTypes = append(r.queryTypes, queryType{name: qt.Name, re: re})
	}
	for _, p := range tables.NonEducational {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("%w: non-educational pattern %q: %v", domain.ErrValidation, p, err)
		}
		r.nonEducational = append(r.nonEducational, re)
	}
	return r, nil
}

// MustDefault returns a Router over DefaultTables.
func MustDefault() *Router {
	r, err := NewRouter(DefaultTables())
	if err != nil {
		panic(err)
	}
	return r
}

// Subjects returns the subject names in tie-break order.
func (r *Router) Subjects() []string {
	names := make([]string, len(r.subjects))
	for i, s := range r.subjects {
		names[i] = s.Name
	}
	return names
}

// Route classifies query. The same query always yields the same decision.
// callerContext is copied into the decision and never retained.
func (r *Router) Route(query string, callerContext map[string]string) domain.RoutingDecision {
	decision := domain.RoutingDecision{
		Query:   query,
		Context: maps.Clone(callerContext),
	}

	lower := strings.ToLower(strings.TrimSpace(query))
	if lower == "" {
		decision.Reason = ReasonEmptyQuery
		return decision
	}

	for _, re := range r.nonEducational {
		if re.MatchString(lower) {
			decision.Reason = ReasonNonEducational
			return decision
		}
	}

	scores := make(map[string]int)
	var detected []string
	for _, s := range r.subjects {
		score := 0
		for _, kw := range s.Keywords {
			if strings.Contains(lower, kw) {
				score += len(kw)
				detected = append(detected, kw)
			}
		}
		if score > 0 {
			scores[s.Name] = score
		}
	}

	queryType := r.queryType(lower)
	if len(scores) == 0 {
		if queryType == QueryTypeGeneral {
			decision.Reason = ReasonNoSignal
			return decision
		}
		scores[FallbackSubject] = 1
	}

	primary, best := FallbackSubject, 0
	for _, s := range r.subjects {
		if scores[s.Name] > best {
			primary, best = s.Name, scores[s.Name]
		}
	}
	if best == 0 {
		best = scores[FallbackSubject]
	}

	slices.Sort(detected)
	decision.IsEducational = true
	decision.PrimarySubject = primary
	decision.QueryType = queryType
	decision.Confidence = min(maxConfidence, 0.5+0.05*float64(best))
	decision.SubjectScores = scores
	decision.DetectedKeywords = slices.Compact(detected)
	decision.Difficulty = estimateDifficulty(lower, primary)
	return decision
}

func (r *Router) queryType(lower string) string {
	for _, qt := range r.queryTypes {
		if qt.re.MatchString(lower) {
			return qt.name
		}
	}
	return QueryTypeGeneral
}

var (
	easyMath   = regexp.MustCompile(`\b(add|subtract|basic|count|number)\b`)
	mediumMath = regexp.MustCompile(`\b(multiply|divide|fraction|decimal|area|perimeter)\b`)
	hardMath   = regexp.MustCompile(`\b(algebra|equation|theorem|proof|construction)\b`)
)

// estimateDifficulty returns easy, medium or hard.
func estimateDifficulty(lower, subject string) string {
	switch {
	case containsAny(lower, "basic", "simple", "what is", "define"):
		return "easy"
	case containsAny(lower, "complex", "advanced", "prove", "derive"):
		return "hard"
	}
	if subject == "mathematics" {
		switch {
		case easyMath.MatchString(lower):
			return "easy"
		case mediumMath.MatchString(lower):
			return "medium"
		case hardMath.MatchString(lower):
			return "hard"
		}
	}
	return "medium"
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

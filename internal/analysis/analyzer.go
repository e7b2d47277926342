// Package analysis scores task descriptions with lexical heuristics.
//
// Every function in this package is pure: malformed or empty input yields zero
// scores, never an error.
package analysis

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// Assessment holds the three heuristic scores for a description, each in [0,1].
type Assessment struct {
	Complexity   float64 `json:"complexity"`
	RiskLevel    float64 `json:"risk_level"`
	ResourceNeed float64 `json:"resource_need"`
}

// riskKeywords each add riskIncrement when present.
var riskKeywords = []string{"delete", "remove", "critical", "production", "database", "security"}

const riskIncrement = 0.2

var dependencyWords = []string{"depend", "require", "need"}

var technicalTerms = map[string]bool{
	"api": true, "algorithm": true, "architecture": true, "async": true, "cache": true,
	"concurrent": true, "concurrency": true, "database": true, "deploy": true, "distributed": true,
	"endpoint": true, "integration": true, "interface": true, "migration": true, "performance": true,
	"protocol": true, "query": true, "refactor": true, "schema": true, "security": true,
	"server": true, "service": true, "test": true, "tests": true, "transaction": true,
}

var resourceWords = []string{"all", "entire", "large", "batch", "parallel", "memory", "build", "compile", "deploy", "index"}

// Analyze scores a task description for complexity, risk and resource need.
func Analyze(description string) Assessment {
	tokens := Tokenize(description)
	if len(tokens) == 0 {
		return Assessment{}
	}

	risk := RiskScore(description)
	complexity := complexityScore(tokens)

	resourceHits := 0
	for _, tok := range tokens {
		for _, w := range resourceWords {
			if tok == w {
				resourceHits++
			}
		}
	}
	resource := clamp01(0.6*complexity + 0.1*float64(resourceHits) + 0.1*risk)

	return Assessment{
		Complexity:   round3(complexity),
		RiskLevel:    round3(risk),
		ResourceNeed: round3(resource),
	}
}

// RiskScore adds a fixed increment for each risk keyword found in the description.
func RiskScore(description string) float64 {
	lower := strings.ToLower(description)
	score := 0.0
	for _, kw := range riskKeywords {
		if strings.Contains(lower, kw) {
			score += riskIncrement
		}
	}
	return math.Min(1.0, round3(score))
}

// complexityScore weighs length (40%), dependency language (30%) and technical density (30%).
func complexityScore(tokens []string) float64 {
	lengthScore := math.Min(1.0, float64(len(tokens))/50.0)

	depHits := 0
	techHits := 0
	for _, tok := range tokens {
		for _, w := range dependencyWords {
			if strings.HasPrefix(tok, w) {
				depHits++
				break
			}
		}
		if technicalTerms[tok] {
			techHits++
		}
	}
	depScore := math.Min(1.0, float64(depHits)*0.25)
	techScore := math.Min(1.0, float64(techHits)/float64(len(tokens))*5.0)

	return clamp01(0.4*lengthScore + 0.3*depScore + 0.3*techScore)
}

// Tokenize lowercases the input and splits it into alphanumeric words.
func Tokenize(input string) []string {
	lower := strings.ToLower(input)

	var cleaned strings.Builder
	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cleaned.WriteRune(r)
		} else {
			cleaned.WriteRune(' ')
		}
	}
	return strings.Fields(cleaned.String())
}

// Keywords returns the distinct non-stopword tokens of the input, sorted.
func Keywords(input string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range Tokenize(input) {
		if len(tok) < 3 || stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// JaccardSimilarity compares two descriptions by their sets of words, as
// split by Tokenize. Stopwords and short words count. Two empty sets are
// considered dissimilar.
func JaccardSimilarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for w := range setB {
		if setA[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(input string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range Tokenize(input) {
		set[tok] = true
	}
	return set
}

var stopwords = func() map[string]bool {
	words := []string{
		"the", "a", "an", "is", "are", "was", "were", "be", "been", "being",
		"have", "has", "had", "do", "does", "did", "will", "would", "could",
		"should", "may", "might", "must", "shall", "can",
		"to", "of", "in", "for", "on", "with", "at", "by", "from", "as",
		"into", "through", "during", "before", "after", "above", "below",
		"and", "but", "or", "nor", "so", "yet", "not", "only", "also", "just",
		"than", "too", "very", "this", "that", "these", "those", "it", "its",
		"we", "our", "you", "your", "they", "them", "their", "all", "each", "any", "some",
	}
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}()

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

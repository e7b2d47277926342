package learning

import (
	"sort"

	"github.com/harrison/kaizen/internal/analysis"
	"github.com/harrison/kaizen/internal/models"
)

const (
	minPatternSuccesses  = 3
	minPatternFailures   = 2
	maxPatternKeywords   = 10
	maxPatternConfidence = 0.9
	patternSaturation    = 20.0
)

// DetectPatterns groups history by task type and derives per-executor success and
// failure weightings for every group with more than two successes and more than one
// failure. Results are sorted by task type.
func (e *Engine) DetectPatterns(history []models.ExecutionRecord) []models.LearningPattern {
	groups := make(map[string][]models.ExecutionRecord)
	for _, rec := range history {
		groups[rec.TaskType] = append(groups[rec.TaskType], rec)
	}

	types := make([]string, 0, len(groups))
	for t := range groups {
		types = append(types, t)
	}
	sort.Strings(types)

	var patterns []models.LearningPattern
	for _, taskType := range types {
		records := groups[taskType]
		successes := make(map[string]int)
		failures := make(map[string]int)
		var nSuccess, nFailure int
		for _, rec := range records {
			if rec.Success {
				successes[rec.ExecutorID]++
				nSuccess++
			} else {
				failures[rec.ExecutorID]++
				nFailure++
			}
		}
		if nSuccess < minPatternSuccesses || nFailure < minPatternFailures {
			continue
		}

		confidence := float64(len(records)) / patternSaturation
		if confidence > maxPatternConfidence {
			confidence = maxPatternConfidence
		}

		patterns = append(patterns, models.LearningPattern{
			TaskType:       taskType,
			Keywords:       commonKeywords(records),
			SuccessFactors: normalize(successes, nSuccess),
			FailureFactors: normalize(failures, nFailure),
			Confidence:     confidence,
			SampleSize:     len(records),
		})
	}
	return patterns
}

func normalize(counts map[string]int, total int) map[string]float64 {
	out := make(map[string]float64, len(counts))
	for id, n := range counts {
		out[id] = float64(n) / float64(total)
	}
	return out
}

// commonKeywords returns keywords seen in more than one successful record.
func commonKeywords(records []models.ExecutionRecord) []string {
	seen := make(map[string]int)
	for _, rec := range records {
		if !rec.Success {
			continue
		}
		for _, kw := range analysis.Keywords(rec.Description) {
			seen[kw]++
		}
	}
	var out []string
	for kw, n := range seen {
		if n > 1 {
			out = append(out, kw)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if seen[out[i]] != seen[out[j]] {
			return seen[out[i]] > seen[out[j]]
		}
		return out[i] < out[j]
	})
	if len(out) > maxPatternKeywords {
		out = out[:maxPatternKeywords]
	}
	return out
}

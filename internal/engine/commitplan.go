package engine

import (
	"math"
	"path"
	"sort"
	"strings"

	"forgeday/internal/config"
	"forgeday/internal/domain"
)

// qualityScore scores an artifact 0-100 from its metrics. The lines
// component scales linearly up to quality.min_lines; tests and docs
// components are all-or-nothing, awarded in full when the corresponding
// requirement is disabled. Monotonic in every input.
func qualityScore(m Metrics, q *config.Config) int {
	w := q.Quality.Weights
	score := 0.0
	ratio := float64(m.LinesOfCode) / float64(q.Quality.MinLines)
	if ratio > 1 {
		ratio = 1
	}
	score += ratio * float64(w.Lines)
	if m.HasTests || !q.Quality.RequireTests {
		score += float64(w.Tests)
	}
	if m.HasDocs || !q.Quality.RequireDocs {
		score += float64(w.Docs)
	}
	return int(math.Round(score))
}

// CommitSegment is one planned commit: a stage and its files in order.
// Message text is phrased by the Annotator.
type CommitSegment struct {
	Stage string
	Files []string
}

func classifyFile(p string) string {
	base := strings.ToLower(path.Base(p))
	switch {
	case strings.Contains(base, "_test.") || strings.HasPrefix(base, "test_"),
		strings.HasSuffix(base, ".md"),
		strings.HasPrefix(strings.ToLower(p), "docs/"):
		return domain.SegmentTestsDocs
	case base == "go.mod" || base == "go.sum" || base == ".gitignore" ||
		base == "makefile" || base == "license" || base == "dockerfile",
		strings.HasSuffix(base, ".yml") || strings.HasSuffix(base, ".yaml") ||
			strings.HasSuffix(base, ".toml"):
		return domain.SegmentStructure
	}
	return domain.SegmentImplementation
}

// planCommits groups artifact files into at most three deterministic
// segments ordered structure, implementation, tests/docs. The single
// strategy collapses everything into one implementation commit; detailed
// splits the implementation segment one commit per file.
func planCommits(strategy string, files []string) []CommitSegment {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	if strategy == "single" {
		return []CommitSegment{{Stage: domain.SegmentImplementation, Files: sorted}}
	}

	buckets := map[string][]string{}
	for _, f := range sorted {
		stage := classifyFile(f)
		buckets[stage] = append(buckets[stage], f)
	}

	var segments []CommitSegment
	for _, stage := range []string{domain.SegmentStructure, domain.SegmentImplementation, domain.SegmentTestsDocs} {
		group := buckets[stage]
		if len(group) == 0 {
			continue
		}
		if strategy == "detailed" && stage == domain.SegmentImplementation {
			for _, f := range group {
				segments = append(segments, CommitSegment{Stage: stage, Files: []string{f}})
			}
			continue
		}
		segments = append(segments, CommitSegment{Stage: stage, Files: group})
	}
	return segments
}

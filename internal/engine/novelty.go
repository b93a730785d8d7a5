package engine

import (
	"strings"
	"time"

	"forgeday/internal/config"
	"forgeday/internal/domain"
)

// Novelty reject reasons, machine-readable.
const (
	RejectPairRepeated     = "pair_repeated"
	RejectTechRepeated     = "tech_repeated"
	RejectCategoryRepeated = "category_repeated"
)

// NoveltyVerdict is the result of validating one idea. Reason is set only
// when OK is false.
type NoveltyVerdict struct {
	OK     bool
	Reason string
}

func normalizeTerm(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// validateNovelty applies the diversity rules to an idea proposed for
// date (YYYY-MM-DD). pairUsed reports whether the normalized
// (skill domain, primary tech) pair appeared in any earlier project;
// window holds projects from the trailing novelty window, newest first.
// All rules must pass.
func validateNovelty(idea Idea, date string, pairUsed bool, window []domain.ProjectRecord, cfg *config.Config) NoveltyVerdict {
	if pairUsed {
		return NoveltyVerdict{Reason: RejectPairRepeated}
	}

	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return NoveltyVerdict{OK: true}
	}
	tech := normalizeTerm(idea.PrimaryTech)
	for _, p := range window {
		if len(p.CreatedAt) < 10 {
			continue
		}
		created, err := time.Parse("2006-01-02", p.CreatedAt[:10])
		if err != nil {
			continue
		}
		gap := int(day.Sub(created).Hours() / 24)
		if gap >= 1 && gap <= cfg.Novelty.SameTechGapDays && normalizeTerm(p.PrimaryTech) == tech {
			return NoveltyVerdict{Reason: RejectTechRepeated}
		}
		if gap == 1 && len(cfg.ActiveCategories()) > 1 &&
			normalizeTerm(p.SkillDomain) == normalizeTerm(idea.SkillDomain) {
			return NoveltyVerdict{Reason: RejectCategoryRepeated}
		}
	}
	return NoveltyVerdict{OK: true}
}

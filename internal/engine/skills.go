package engine

import (
	"math"
	"sort"
	"time"

	"forgeday/internal/config"
	"forgeday/internal/domain"
)

// Proficiency is stored raw and discounted at read time: after a grace
// period of idle days it loses decayPerDay points per further day. The
// discounted value is persisted only when the skill is next updated.
const (
	decayGraceDays = 14
	decayPerDay    = 0.5
)

// EffectiveProficiency returns the stored proficiency discounted for idle
// time since last practice.
func EffectiveProficiency(stored float64, lastPracticedAt *string, now time.Time) float64 {
	if lastPracticedAt == nil || *lastPracticedAt == "" {
		return clampProficiency(stored)
	}
	t, err := time.Parse(time.RFC3339, *lastPracticedAt)
	if err != nil {
		return clampProficiency(stored)
	}
	idleDays := math.Floor(now.Sub(t).Hours() / 24)
	over := idleDays - decayGraceDays
	if over <= 0 {
		return clampProficiency(stored)
	}
	return clampProficiency(stored - decayPerDay*over)
}

func clampProficiency(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// categoryAverage is the mean effective proficiency over every catalog
// skill in the category; skills never practiced count as 0.
func categoryAverage(skills []config.Skill, states map[string]domain.SkillState, now time.Time) float64 {
	if len(skills) == 0 {
		return 0
	}
	var sum float64
	for _, s := range skills {
		if st, ok := states[s.Name]; ok {
			sum += EffectiveProficiency(st.Proficiency, st.LastPracticedAt, now)
		}
	}
	return sum / float64(len(skills))
}

// pickCategory chooses the focus category with the highest gap
// weight*(100-avg)/100. Ties break by name for determinism.
func pickCategory(cfg *config.Config, states map[string]domain.SkillState, now time.Time) string {
	categories := cfg.ActiveCategories()
	sort.Strings(categories)
	best := ""
	bestGap := -1.0
	for _, category := range categories {
		weight := 100.0
		if len(cfg.Skills.FocusAreas) > 0 {
			weight = float64(cfg.Skills.FocusAreas[category])
		}
		avg := categoryAverage(cfg.Skills.Catalog[category], states, now)
		gap := weight * (100 - avg) / 100
		if gap > bestGap {
			best = category
			bestGap = gap
		}
	}
	return best
}

// pickSkill chooses the weakest skill in the category: lowest effective
// proficiency, ties broken by oldest practice, then name.
func pickSkill(skills []config.Skill, states map[string]domain.SkillState, now time.Time) config.Skill {
	picked := skills[0]
	pickedProf := math.MaxFloat64
	pickedLast := ""
	for _, s := range skills {
		prof := 0.0
		last := ""
		if st, ok := states[s.Name]; ok {
			prof = EffectiveProficiency(st.Proficiency, st.LastPracticedAt, now)
			if st.LastPracticedAt != nil {
				last = *st.LastPracticedAt
			}
		}
		switch {
		case prof < pickedProf,
			prof == pickedProf && last < pickedLast,
			prof == pickedProf && last == pickedLast && s.Name < picked.Name:
			picked, pickedProf, pickedLast = s, prof, last
		}
	}
	return picked
}

// difficultyFor maps proficiency to a tier using the advancement-rate
// thresholds: slow 40/70, moderate 30/60, fast 20/50.
func difficultyFor(proficiency float64, rate string) string {
	var low, high float64
	switch rate {
	case "slow":
		low, high = 40, 70
	case "fast":
		low, high = 20, 50
	default:
		low, high = 30, 60
	}
	switch {
	case proficiency < low:
		return domain.DifficultyBeginner
	case proficiency < high:
		return domain.DifficultyIntermediate
	}
	return domain.DifficultyAdvanced
}

// skillGain returns the proficiency gain for completing a project at the
// given tier. Gains diminish as proficiency rises.
func skillGain(difficulty string, proficiency, weight float64) float64 {
	var base float64
	switch difficulty {
	case domain.DifficultyBeginner:
		base = 2
	case domain.DifficultyIntermediate:
		base = 4
	case domain.DifficultyAdvanced:
		base = 6
	}
	multiplier := 1.0
	switch {
	case proficiency >= 80:
		multiplier = 0.5
	case proficiency >= 50:
		multiplier = 0.75
	}
	return base * multiplier * weight
}

// updateSkill realizes any pending decay, applies the gain and stamps the
// practice time. The returned state is what gets persisted.
func updateSkill(st domain.SkillState, difficulty string, weight float64, now time.Time) domain.SkillState {
	effective := EffectiveProficiency(st.Proficiency, st.LastPracticedAt, now)
	st.Proficiency = clampProficiency(effective + skillGain(difficulty, effective, weight))
	ts := now.UTC().Format(time.RFC3339)
	st.LastPracticedAt = &ts
	st.ProjectCount++
	return st
}

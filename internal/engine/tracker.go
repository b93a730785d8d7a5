package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"forgeday/internal/config"
	"forgeday/internal/domain"
	"forgeday/internal/events"
)

// achievementCatalog is the fixed unlock catalog, seeded idempotently.
func achievementCatalog() []domain.Achievement {
	return []domain.Achievement{
		{ID: "hello_world", Name: "Hello World", Description: "Complete your first project", Icon: "🎉", CriteriaType: "project_count", CriteriaValue: 1},
		{ID: "code_warrior", Name: "Code Warrior", Description: "Complete 10 projects", Icon: "⚔️", CriteriaType: "project_count", CriteriaValue: 10},
		{ID: "project_master", Name: "Project Master", Description: "Complete 50 projects", Icon: "🏆", CriteriaType: "project_count", CriteriaValue: 50},
		{ID: "consistency_is_key", Name: "Consistency is Key", Description: "Maintain a 7-day streak", Icon: "🔥", CriteriaType: "streak", CriteriaValue: 7},
		{ID: "marathon_runner", Name: "Marathon Runner", Description: "Maintain a 30-day streak", Icon: "🏃", CriteriaType: "streak", CriteriaValue: 30},
		{ID: "novice_coder", Name: "Novice Coder", Description: "Reach 25 average proficiency", Icon: "🌱", CriteriaType: "skill_level", CriteriaValue: 25},
		{ID: "expert_engineer", Name: "Expert Engineer", Description: "Reach 75 average proficiency", Icon: "🎓", CriteriaType: "skill_level", CriteriaValue: 75},
		{ID: "gopher", Name: "Gopher", Description: "Ship a project built with Go", Icon: "🐹", CriteriaType: "technology", CriteriaValue: 1, CriteriaTech: "go"},
		{ID: "trailblazer", Name: "Trailblazer", Description: "Use 5 different primary technologies", Icon: "🧭", CriteriaType: "technology", CriteriaValue: 5},
	}
}

func isoWeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-%02d", year, week)
}

// grace usage is stored as "week:count" and resets when the week changes.
func graceCount(stored, week string) int {
	parts := strings.SplitN(stored, ":", 2)
	if len(parts) != 2 || parts[0] != week {
		return 0
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	return n
}

// advanceStreak applies one successful day to the streak counter.
// Consecutive days extend, the same day is a no-op, a single missed day
// consumes a weekly grace skip when one remains, anything else resets and
// counts today as 1. LongestStreak never decreases.
func advanceStreak(s domain.StreakState, today string, gracePerWeek int) (domain.StreakState, bool) {
	out := s
	usedGrace := false
	switch {
	case s.LastActiveDate == nil || *s.LastActiveDate == "":
		out.CurrentStreak = 1
	case *s.LastActiveDate == today:
		// already counted
	default:
		prev, err1 := time.Parse("2006-01-02", *s.LastActiveDate)
		cur, err2 := time.Parse("2006-01-02", today)
		gap := 0
		if err1 == nil && err2 == nil {
			gap = int(cur.Sub(prev).Hours() / 24)
		}
		switch {
		case gap == 1:
			out.CurrentStreak++
		case gap == 2 && gracePerWeek > 0:
			week := isoWeekKey(cur)
			used := graceCount(s.GraceUsedWeek, week)
			if used < gracePerWeek {
				out.CurrentStreak++
				out.GraceUsedWeek = fmt.Sprintf("%s:%d", week, used+1)
				usedGrace = true
			} else {
				out.CurrentStreak = 1
			}
		default:
			out.CurrentStreak = 1
		}
	}
	if s.LastActiveDate == nil || *s.LastActiveDate != today {
		day := today
		out.LastActiveDate = &day
	}
	if out.CurrentStreak > out.LongestStreak {
		out.LongestStreak = out.CurrentStreak
	}
	return out, usedGrace
}

// visibleStreak derives the streak a reader should see. The stored
// counter only moves when a day is tracked, so after a missed day it is
// stale: the streak survives through yesterday, survives one further day
// only while a weekly grace skip remains, and reads as 0 beyond that.
// Reads never write the stored state back.
func visibleStreak(s domain.StreakState, today string, gracePerWeek int) int {
	if s.LastActiveDate == nil || *s.LastActiveDate == "" {
		return 0
	}
	prev, err1 := time.Parse("2006-01-02", *s.LastActiveDate)
	cur, err2 := time.Parse("2006-01-02", today)
	if err1 != nil || err2 != nil {
		return s.CurrentStreak
	}
	gap := int(cur.Sub(prev).Hours() / 24)
	switch {
	case gap <= 1:
		return s.CurrentStreak
	case gap == 2 && gracePerWeek > 0 && graceCount(s.GraceUsedWeek, isoWeekKey(cur)) < gracePerWeek:
		return s.CurrentStreak
	default:
		return 0
	}
}

// portfolioScore blends proficiency, output volume and consistency.
func portfolioScore(avgProficiency float64, completed, streak int) float64 {
	projectPart := float64(completed) * 5
	if projectPart > 100 {
		projectPart = 100
	}
	streakPart := float64(streak) * 3.33
	if streakPart > 100 {
		streakPart = 100
	}
	return 0.5*avgProficiency + 0.3*projectPart + 0.2*streakPart
}

type skillWeight struct {
	Name     string
	Category string
	Weight   float64
}

// matchSkills maps a project back onto catalog skills: the skill covering
// the primary tech counts in full, other overlapping skills at half.
func matchSkills(cfg *config.Config, p domain.ProjectRecord) []skillWeight {
	techs := map[string]bool{}
	for _, t := range p.Technologies {
		techs[normalizeTerm(t)] = true
	}
	primary := normalizeTerm(p.PrimaryTech)

	var out []skillWeight
	for category, skills := range cfg.Skills.Catalog {
		for _, s := range skills {
			weight := 0.0
			for _, t := range s.Technologies {
				nt := normalizeTerm(t)
				if nt == primary {
					weight = 1.0
					break
				}
				if techs[nt] && weight < 0.5 {
					weight = 0.5
				}
			}
			if weight > 0 {
				out = append(out, skillWeight{Name: s.Name, Category: category, Weight: weight})
			}
		}
	}
	return out
}

// trackingState is the read snapshot ApplyOutcome works from; reads stay
// outside the write transaction.
type trackingState struct {
	streak       domain.StreakState
	skills       map[string]domain.SkillState
	achievements []domain.Achievement
	completed    int
	techCounts   map[string]int
}

func (e *Engine) loadTrackingState(ctx context.Context) (trackingState, error) {
	st := trackingState{skills: map[string]domain.SkillState{}, techCounts: map[string]int{}}
	var err error
	if st.streak, err = e.Repo.GetStreak(ctx); err != nil {
		return st, fmt.Errorf("load streak: %w", err)
	}
	skills, err := e.Repo.ListSkills(ctx)
	if err != nil {
		return st, fmt.Errorf("load skills: %w", err)
	}
	for _, s := range skills {
		st.skills[s.Name] = s
	}
	if st.achievements, err = e.Repo.ListAchievements(ctx); err != nil {
		return st, fmt.Errorf("load achievements: %w", err)
	}
	if st.completed, err = e.Repo.CountProjectsByStatus(ctx, domain.RunTracked); err != nil {
		return st, fmt.Errorf("count projects: %w", err)
	}
	if st.techCounts, err = e.Repo.TechUsage(ctx); err != nil {
		return st, fmt.Errorf("tech usage: %w", err)
	}
	return st, nil
}

// applyOutcome mutates streak, skills and achievements for one tracked
// project inside the caller's transaction.
func (e *Engine) applyOutcome(ctx context.Context, tx *sql.Tx, st trackingState, p domain.ProjectRecord, date string) error {
	now := e.now()

	streak, usedGrace := advanceStreak(st.streak, date, e.Config.Streak.GraceSkipsPerWeek)
	if err := e.Repo.UpdateStreakTx(ctx, tx, streak); err != nil {
		return fmt.Errorf("update streak: %w", err)
	}
	if usedGrace {
		if err := e.Events.Append(ctx, tx, "streak.grace_used", "streak", "", events.EventPayload{"date": date}); err != nil {
			return err
		}
	}

	updated := map[string]domain.SkillState{}
	for name, s := range st.skills {
		updated[name] = s
	}
	for _, sw := range matchSkills(e.Config, p) {
		s, ok := updated[sw.Name]
		if !ok {
			s = domain.SkillState{Name: sw.Name, Category: sw.Category}
		}
		s = updateSkill(s, p.Difficulty, sw.Weight, now)
		updated[sw.Name] = s
		if err := e.Repo.UpsertSkillTx(ctx, tx, s); err != nil {
			return fmt.Errorf("upsert skill %s: %w", sw.Name, err)
		}
	}

	completed := st.completed + 1
	techCounts := st.techCounts
	techCounts[normalizeTerm(p.PrimaryTech)]++

	var sum float64
	var practiced int
	for _, s := range updated {
		if s.ProjectCount == 0 {
			continue
		}
		sum += EffectiveProficiency(s.Proficiency, s.LastPracticedAt, now)
		practiced++
	}
	avg := 0.0
	if practiced > 0 {
		avg = sum / float64(practiced)
	}

	unlockedAt := now.UTC().Format(time.RFC3339)
	for _, a := range st.achievements {
		if a.Unlocked || !achievementMet(a, completed, streak.CurrentStreak, avg, techCounts) {
			continue
		}
		flipped, err := e.Repo.UnlockAchievementTx(ctx, tx, a.ID, unlockedAt)
		if err != nil {
			return fmt.Errorf("unlock %s: %w", a.ID, err)
		}
		if flipped {
			if err := e.Events.Append(ctx, tx, "achievement.unlocked", "achievement", a.ID, events.EventPayload{"name": a.Name}); err != nil {
				return err
			}
		}
	}

	return e.Events.Append(ctx, tx, "progress.snapshot", "run", date, events.EventPayload{
		"portfolio_score": portfolioScore(avg, completed, streak.CurrentStreak),
		"completed":       completed,
		"streak":          streak.CurrentStreak,
	})
}

func achievementMet(a domain.Achievement, completed, streak int, avgProficiency float64, techCounts map[string]int) bool {
	switch a.CriteriaType {
	case "project_count":
		return completed >= a.CriteriaValue
	case "streak":
		return streak >= a.CriteriaValue
	case "skill_level":
		return avgProficiency >= float64(a.CriteriaValue)
	case "technology":
		if a.CriteriaTech != "" {
			need := a.CriteriaValue
			if need < 1 {
				need = 1
			}
			return techCounts[normalizeTerm(a.CriteriaTech)] >= need
		}
		return len(techCounts) >= a.CriteriaValue
	}
	return false
}

package engine

import (
	"math"
	"testing"
	"time"

	"forgeday/internal/domain"
)

func TestAdvanceStreakConsecutiveDays(t *testing.T) {
	s := domain.StreakState{}
	days := []string{"2026-08-24", "2026-08-25", "2026-08-26"}
	for i, day := range days {
		var used bool
		s, used = advanceStreak(s, day, 0)
		if used {
			t.Fatalf("day %s used grace", day)
		}
		if s.CurrentStreak != i+1 {
			t.Fatalf("day %s streak %d, want %d", day, s.CurrentStreak, i+1)
		}
	}
	if s.LongestStreak != 3 {
		t.Fatalf("longest %d, want 3", s.LongestStreak)
	}
}

func TestAdvanceStreakSameDayIsNoop(t *testing.T) {
	s := domain.StreakState{}
	s, _ = advanceStreak(s, "2026-08-24", 0)
	s, _ = advanceStreak(s, "2026-08-24", 0)
	if s.CurrentStreak != 1 {
		t.Fatalf("streak %d, want 1", s.CurrentStreak)
	}
}

func TestAdvanceStreakGapResets(t *testing.T) {
	s := domain.StreakState{}
	s, _ = advanceStreak(s, "2026-08-24", 0)
	s, _ = advanceStreak(s, "2026-08-25", 0)
	s, _ = advanceStreak(s, "2026-08-28", 0)
	if s.CurrentStreak != 1 {
		t.Fatalf("streak after 3-day gap %d, want 1", s.CurrentStreak)
	}
	if s.LongestStreak != 2 {
		t.Fatalf("longest %d, want 2", s.LongestStreak)
	}
}

func TestAdvanceStreakWeeklyGrace(t *testing.T) {
	s := domain.StreakState{}
	s, _ = advanceStreak(s, "2026-08-24", 1)

	// One missed day is absorbed by the weekly grace skip.
	s, used := advanceStreak(s, "2026-08-26", 1)
	if !used {
		t.Fatalf("expected grace to be consumed")
	}
	if s.CurrentStreak != 2 {
		t.Fatalf("streak %d, want 2", s.CurrentStreak)
	}

	// The second miss in the same week resets.
	s, used = advanceStreak(s, "2026-08-28", 1)
	if used {
		t.Fatalf("grace consumed twice in one week")
	}
	if s.CurrentStreak != 1 {
		t.Fatalf("streak %d, want 1", s.CurrentStreak)
	}
}

func TestAdvanceStreakGraceResetsNextWeek(t *testing.T) {
	s := domain.StreakState{}
	s, _ = advanceStreak(s, "2026-08-27", 1)
	s, used := advanceStreak(s, "2026-08-29", 1)
	if !used || s.CurrentStreak != 2 {
		t.Fatalf("first grace: used=%v streak=%d", used, s.CurrentStreak)
	}
	// 2026-08-31 falls in the next ISO week, so the allowance renews.
	s, used = advanceStreak(s, "2026-08-31", 1)
	if !used || s.CurrentStreak != 3 {
		t.Fatalf("second week grace: used=%v streak=%d", used, s.CurrentStreak)
	}
}

func TestAdvanceStreakNoGraceConfigured(t *testing.T) {
	s := domain.StreakState{}
	s, _ = advanceStreak(s, "2026-08-24", 0)
	s, used := advanceStreak(s, "2026-08-26", 0)
	if used || s.CurrentStreak != 1 {
		t.Fatalf("no grace: used=%v streak=%d", used, s.CurrentStreak)
	}
}

func TestVisibleStreakGoesStaleAfterGapDay(t *testing.T) {
	s := domain.StreakState{}
	s, _ = advanceStreak(s, "2026-08-23", 0)
	s, _ = advanceStreak(s, "2026-08-24", 0)

	if got := visibleStreak(s, "2026-08-24", 0); got != 2 {
		t.Fatalf("same day reads %d, want 2", got)
	}
	if got := visibleStreak(s, "2026-08-25", 0); got != 2 {
		t.Fatalf("next day reads %d, want 2", got)
	}
	// One untracked gap day: the stored counter is stale and reads as 0.
	if got := visibleStreak(s, "2026-08-26", 0); got != 0 {
		t.Fatalf("after gap day reads %d, want 0", got)
	}
	if got := visibleStreak(s, "2026-08-27", 1); got != 0 {
		t.Fatalf("two gap days read %d, want 0", got)
	}
	if got := visibleStreak(domain.StreakState{}, "2026-08-26", 0); got != 0 {
		t.Fatalf("never active reads %d, want 0", got)
	}
}

func TestVisibleStreakSurvivesGapWhileGraceRemains(t *testing.T) {
	s := domain.StreakState{}
	s, _ = advanceStreak(s, "2026-08-23", 1)
	s, _ = advanceStreak(s, "2026-08-24", 1)

	// A run on the 26th would still consume the grace skip, so the streak
	// reads as alive until then.
	if got := visibleStreak(s, "2026-08-26", 1); got != 2 {
		t.Fatalf("gap day with grace reads %d, want 2", got)
	}

	week, err := time.Parse("2006-01-02", "2026-08-26")
	if err != nil {
		t.Fatal(err)
	}
	s.GraceUsedWeek = isoWeekKey(week) + ":1"
	if got := visibleStreak(s, "2026-08-26", 1); got != 0 {
		t.Fatalf("gap day with grace spent reads %d, want 0", got)
	}
}

func TestPortfolioScoreBlendsAndCaps(t *testing.T) {
	if got := portfolioScore(0, 0, 0); got != 0 {
		t.Fatalf("zero inputs: %v", got)
	}
	// 0.5*80 + 0.3*min(10*5,100) + 0.2*min(3*3.33,100)
	want := 0.5*80 + 0.3*50 + 0.2*9.99
	if got := portfolioScore(80, 10, 3); math.Abs(got-want) > 1e-9 {
		t.Fatalf("got %v, want %v", got, want)
	}
	// Volume and streak components cap at 100.
	if got := portfolioScore(100, 1000, 1000); got != 100 {
		t.Fatalf("capped inputs: %v, want 100", got)
	}
}

func TestAchievementMet(t *testing.T) {
	cases := []struct {
		name string
		a    domain.Achievement
		want bool
	}{
		{"project count met", domain.Achievement{CriteriaType: "project_count", CriteriaValue: 10}, true},
		{"project count unmet", domain.Achievement{CriteriaType: "project_count", CriteriaValue: 11}, false},
		{"streak met", domain.Achievement{CriteriaType: "streak", CriteriaValue: 7}, true},
		{"skill level met", domain.Achievement{CriteriaType: "skill_level", CriteriaValue: 40}, true},
		{"named tech met", domain.Achievement{CriteriaType: "technology", CriteriaTech: "Go", CriteriaValue: 1}, true},
		{"named tech unmet", domain.Achievement{CriteriaType: "technology", CriteriaTech: "rust", CriteriaValue: 1}, false},
		{"distinct techs met", domain.Achievement{CriteriaType: "technology", CriteriaValue: 2}, true},
		{"distinct techs unmet", domain.Achievement{CriteriaType: "technology", CriteriaValue: 3}, false},
		{"unknown type", domain.Achievement{CriteriaType: "mystery", CriteriaValue: 1}, false},
	}
	techCounts := map[string]int{"go": 3, "sqlite": 1}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := achievementMet(tc.a, 10, 7, 45, techCounts); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestGraceCountParsing(t *testing.T) {
	if got := graceCount("2026-35:2", "2026-35"); got != 2 {
		t.Fatalf("same week: %d, want 2", got)
	}
	if got := graceCount("2026-34:2", "2026-35"); got != 0 {
		t.Fatalf("stale week: %d, want 0", got)
	}
	if got := graceCount("", "2026-35"); got != 0 {
		t.Fatalf("empty: %d, want 0", got)
	}
	if got := graceCount("garbage", "2026-35"); got != 0 {
		t.Fatalf("garbage: %d, want 0", got)
	}
}

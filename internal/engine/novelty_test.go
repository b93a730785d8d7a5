package engine

import (
	"testing"

	"forgeday/internal/config"
	"forgeday/internal/domain"
)

func noveltyConfig(categories int, techGapDays int) *config.Config {
	cfg := &config.Config{}
	cfg.Novelty.SameTechGapDays = techGapDays
	cfg.Skills.Catalog = map[string][]config.Skill{
		"backend": {{Name: "REST APIs", Technologies: []string{"go"}}},
	}
	if categories > 1 {
		cfg.Skills.Catalog["data"] = []config.Skill{{Name: "Pipelines", Technologies: []string{"etl"}}}
	}
	return cfg
}

func windowProject(created, domainName, tech string) domain.ProjectRecord {
	return domain.ProjectRecord{
		SkillDomain: domainName,
		PrimaryTech: tech,
		CreatedAt:   created + "T10:00:00Z",
	}
}

func TestNoveltyRejectsLifetimePair(t *testing.T) {
	idea := Idea{SkillDomain: "backend", PrimaryTech: "go"}
	v := validateNovelty(idea, "2026-08-24", true, nil, noveltyConfig(1, 1))
	if v.OK || v.Reason != RejectPairRepeated {
		t.Fatalf("got %+v, want pair_repeated", v)
	}
}

func TestNoveltyRejectsRecentTech(t *testing.T) {
	cfg := noveltyConfig(1, 2)
	idea := Idea{SkillDomain: "backend", PrimaryTech: "Go"}
	window := []domain.ProjectRecord{windowProject("2026-08-23", "data", "go")}

	// Tech matching is case-insensitive and applies across categories.
	v := validateNovelty(idea, "2026-08-24", false, window, cfg)
	if v.OK || v.Reason != RejectTechRepeated {
		t.Fatalf("got %+v, want tech_repeated", v)
	}

	// Outside the gap the tech may repeat.
	window = []domain.ProjectRecord{windowProject("2026-08-21", "data", "go")}
	if v := validateNovelty(idea, "2026-08-24", false, window, cfg); !v.OK {
		t.Fatalf("got %+v, want OK past the gap", v)
	}
}

func TestNoveltyRejectsBackToBackCategory(t *testing.T) {
	cfg := noveltyConfig(2, 1)
	idea := Idea{SkillDomain: "backend", PrimaryTech: "go"}
	window := []domain.ProjectRecord{windowProject("2026-08-23", "backend", "chi")}
	v := validateNovelty(idea, "2026-08-24", false, window, cfg)
	if v.OK || v.Reason != RejectCategoryRepeated {
		t.Fatalf("got %+v, want category_repeated", v)
	}

	// Two days apart is fine.
	window = []domain.ProjectRecord{windowProject("2026-08-22", "backend", "chi")}
	if v := validateNovelty(idea, "2026-08-24", false, window, cfg); !v.OK {
		t.Fatalf("got %+v, want OK with a day between", v)
	}
}

func TestNoveltyCategoryRuleDisabledForSingleCategory(t *testing.T) {
	cfg := noveltyConfig(1, 1)
	idea := Idea{SkillDomain: "backend", PrimaryTech: "go"}
	window := []domain.ProjectRecord{windowProject("2026-08-23", "backend", "chi")}
	if v := validateNovelty(idea, "2026-08-24", false, window, cfg); !v.OK {
		t.Fatalf("got %+v, want OK with one active category", v)
	}
}

func TestNoveltyAcceptsFreshIdea(t *testing.T) {
	cfg := noveltyConfig(2, 1)
	idea := Idea{SkillDomain: "backend", PrimaryTech: "go"}
	window := []domain.ProjectRecord{windowProject("2026-08-23", "data", "etl")}
	if v := validateNovelty(idea, "2026-08-24", false, window, cfg); !v.OK {
		t.Fatalf("got %+v, want OK", v)
	}
}

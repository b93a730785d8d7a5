package collab

import (
	"context"
	"fmt"
	"strings"

	"forgeday/internal/engine"
)

// TemplatePlanner proposes ideas from fixed title templates. Retries vary
// the primary technology first, then the template, so a rejected pair is
// never proposed twice in one run.
type TemplatePlanner struct{}

var titleTemplates = map[string][]string{
	"beginner": {
		"%s Starter Toolkit",
		"Minimal %s Playground",
		"%s Quick Reference CLI",
	},
	"intermediate": {
		"%s Service with Persistence",
		"Concurrent %s Processor",
		"%s Inspector Tool",
	},
	"advanced": {
		"Distributed %s Coordinator",
		"%s Engine with Pluggable Backends",
		"Self-Healing %s Pipeline",
	},
}

func titleCase(tech string) string {
	parts := strings.FieldsFunc(tech, func(r rune) bool { return r == '-' || r == '_' })
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

func (TemplatePlanner) ProposeIdea(ctx context.Context, req engine.PlanRequest) (engine.Idea, error) {
	techs := req.Skill.Technologies
	if len(techs) == 0 {
		return engine.Idea{}, fmt.Errorf("skill %s has no technologies", req.Skill.Name)
	}
	templates := titleTemplates[req.Difficulty]
	if len(templates) == 0 {
		templates = titleTemplates["intermediate"]
	}

	avoided := map[string]bool{}
	for _, t := range req.AvoidTitles {
		avoided[strings.ToLower(strings.TrimSpace(t))] = true
	}

	// Walk (tech, template) combinations starting at the attempt offset
	// and take the first title not already in the window.
	total := len(techs) * len(templates)
	for i := 0; i < total; i++ {
		n := req.Attempt + i
		tech := techs[n%len(techs)]
		template := templates[(n/len(techs))%len(templates)]
		title := fmt.Sprintf(template, titleCase(tech))
		if avoided[strings.ToLower(title)] {
			continue
		}
		return engine.Idea{
			Title:        title,
			Description:  fmt.Sprintf("A %s project practicing %s with %s.", req.Difficulty, req.Skill.Name, tech),
			SkillDomain:  req.Category,
			SkillName:    req.Skill.Name,
			Technologies: techs,
			PrimaryTech:  tech,
			Difficulty:   req.Difficulty,
		}, nil
	}
	return engine.Idea{}, fmt.Errorf("no unused idea left for skill %s", req.Skill.Name)
}

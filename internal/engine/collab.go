package engine

import (
	"context"

	"forgeday/internal/config"
)

// Idea is a planned project before any files exist.
type Idea struct {
	Title        string
	Description  string
	SkillDomain  string
	SkillName    string
	Technologies []string
	PrimaryTech  string
	Difficulty   string
}

// PlanRequest tells a Planner what to propose. Attempt counts novelty
// retries for the same request so the planner can vary its proposal.
type PlanRequest struct {
	Category    string
	Skill       config.Skill
	Difficulty  string
	Attempt     int
	AvoidTitles []string
}

// ArtifactFile is one file written under the artifact directory,
// path relative to it.
type ArtifactFile struct {
	Path  string
	Lines int
}

// Artifact is the on-disk result of materializing an idea.
type Artifact struct {
	Dir   string
	Files []ArtifactFile
}

// Metrics summarize an artifact for quality scoring.
type Metrics struct {
	LinesOfCode int
	FileCount   int
	HasTests    bool
	HasDocs     bool
}

// Planner proposes project ideas. Novelty validation happens in the
// engine; a rejected proposal comes back with an incremented Attempt.
type Planner interface {
	ProposeIdea(ctx context.Context, req PlanRequest) (Idea, error)
}

// Generator writes project files under dir. Implementations own per-file
// retry; the engine only checks that required structural files survived.
type Generator interface {
	Materialize(ctx context.Context, dir string, idea Idea) (Artifact, error)
}

// Annotator adds documentation files and phrases commit messages.
type Annotator interface {
	Annotate(ctx context.Context, dir string, idea Idea, art Artifact) ([]ArtifactFile, error)
	CommitMessage(stage string, idea Idea, files []string) string
}

// VCS abstracts the local repository and its remote.
type VCS interface {
	Init(ctx context.Context, dir string) error
	Commit(ctx context.Context, dir, message string, paths []string) (string, error)
	EnsureRemote(ctx context.Context, dir, name string) (string, error)
	Push(ctx context.Context, dir string) error
}

package collab

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"forgeday/internal/domain"
	"forgeday/internal/engine"
)

// TemplateAnnotator replaces the README placeholder with real
// documentation and phrases commit messages per stage.
type TemplateAnnotator struct{}

func (TemplateAnnotator) Annotate(ctx context.Context, dir string, idea engine.Idea, art engine.Artifact) ([]engine.ArtifactFile, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n\n", idea.Title, idea.Description)
	fmt.Fprintf(&b, "## Technologies\n\n")
	for _, t := range idea.Technologies {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	fmt.Fprintf(&b, "\n## Difficulty\n\n%s\n\n", idea.Difficulty)
	fmt.Fprintf(&b, "## Usage\n\n```\ngo run . key=value\n```\n\n")
	fmt.Fprintf(&b, "## Layout\n\n")
	for _, f := range art.Files {
		fmt.Fprintf(&b, "- `%s`\n", f.Path)
	}
	content := b.String()
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte(content), 0o644); err != nil {
		return nil, err
	}
	return []engine.ArtifactFile{{Path: "README.md", Lines: strings.Count(content, "\n")}}, nil
}

func (TemplateAnnotator) CommitMessage(stage string, idea engine.Idea, files []string) string {
	switch stage {
	case domain.SegmentStructure:
		return fmt.Sprintf("chore: scaffold %s", strings.ToLower(idea.Title))
	case domain.SegmentTestsDocs:
		return "test: add tests and documentation"
	}
	if len(files) == 1 {
		return fmt.Sprintf("feat: implement %s", files[0])
	}
	return fmt.Sprintf("feat: implement %s core", strings.ToLower(idea.PrimaryTech))
}

package collab

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// GitVCS drives the git binary. The remote is derived from config:
// <base_url>/<owner>/<repo>.git, with the token injected for https
// remotes when present.
type GitVCS struct {
	Owner   string
	BaseURL string
	Token   string
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %v: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func (g GitVCS) Init(ctx context.Context, dir string) error {
	if _, err := runGit(ctx, dir, "init", "-q"); err != nil {
		return err
	}
	// A generated workspace has no identity configured; commits would
	// fail without one.
	if _, err := runGit(ctx, dir, "config", "user.name", "forgeday"); err != nil {
		return err
	}
	_, err := runGit(ctx, dir, "config", "user.email", "forgeday@localhost")
	return err
}

func (g GitVCS) Commit(ctx context.Context, dir, message string, paths []string) (string, error) {
	args := append([]string{"add", "--"}, paths...)
	if _, err := runGit(ctx, dir, args...); err != nil {
		return "", err
	}
	if _, err := runGit(ctx, dir, "commit", "-q", "-m", message); err != nil {
		return "", err
	}
	return runGit(ctx, dir, "rev-parse", "HEAD")
}

func (g GitVCS) remoteURL(name string) (string, error) {
	if g.BaseURL == "" || g.Owner == "" {
		return "", fmt.Errorf("remote.base_url and remote.owner must be configured to push")
	}
	base := strings.TrimSuffix(g.BaseURL, "/")
	// Unresolved ${ENV} references mean no token was provided.
	if g.Token != "" && !strings.Contains(g.Token, "${") && strings.HasPrefix(base, "https://") {
		base = "https://" + g.Token + "@" + strings.TrimPrefix(base, "https://")
	}
	return fmt.Sprintf("%s/%s/%s.git", base, g.Owner, name), nil
}

func (g GitVCS) EnsureRemote(ctx context.Context, dir, name string) (string, error) {
	url, err := g.remoteURL(name)
	if err != nil {
		return "", err
	}
	if _, err := runGit(ctx, dir, "remote", "get-url", "origin"); err != nil {
		if _, err := runGit(ctx, dir, "remote", "add", "origin", url); err != nil {
			return "", err
		}
	} else if _, err := runGit(ctx, dir, "remote", "set-url", "origin", url); err != nil {
		return "", err
	}
	// Report the URL without credentials.
	display := fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(g.BaseURL, "/"), g.Owner, name)
	return display, nil
}

func (g GitVCS) Push(ctx context.Context, dir string) error {
	_, err := runGit(ctx, dir, "push", "-q", "-u", "origin", "HEAD")
	return err
}

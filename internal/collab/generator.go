package collab

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"forgeday/internal/engine"
)

// SkeletonGenerator writes a runnable project skeleton under the target
// directory. Each file is retried individually; a file that keeps
// failing is dropped from the artifact and the engine decides whether
// the reduced artifact is still acceptable.
type SkeletonGenerator struct {
	FileRetries int
}

type plannedFile struct {
	path    string
	content string
}

func identFor(idea engine.Idea) string {
	var b strings.Builder
	for _, r := range strings.ToLower(idea.PrimaryTech) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "app"
	}
	return b.String()
}

func (g SkeletonGenerator) planFiles(idea engine.Idea) []plannedFile {
	name := identFor(idea)
	files := []plannedFile{
		{path: "main.go", content: mainSource(idea, name)},
		{path: "README.md", content: fmt.Sprintf("# %s\n\n(placeholder)\n", idea.Title)},
		{path: "go.mod", content: fmt.Sprintf("module %s\n\ngo 1.23\n", name)},
		{path: ".gitignore", content: "bin/\n*.out\n"},
		{path: fmt.Sprintf("internal/%s/%s.go", name, name), content: coreSource(idea, name)},
	}
	if idea.Difficulty != "beginner" {
		files = append(files,
			plannedFile{path: fmt.Sprintf("internal/%s/%s_test.go", name, name), content: testSource(idea, name)},
			plannedFile{path: "Makefile", content: "build:\n\tgo build ./...\n\ntest:\n\tgo test ./...\n"},
		)
	}
	if idea.Difficulty == "advanced" {
		files = append(files, plannedFile{path: fmt.Sprintf("internal/%s/config.go", name), content: configSource(idea, name)})
	}
	return files
}

func (g SkeletonGenerator) Materialize(ctx context.Context, dir string, idea engine.Idea) (engine.Artifact, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return engine.Artifact{}, err
	}
	art := engine.Artifact{Dir: dir}
	retries := g.FileRetries
	if retries < 0 {
		retries = 0
	}
	for _, f := range g.planFiles(idea) {
		if err := ctx.Err(); err != nil {
			return art, err
		}
		var writeErr error
		for attempt := 0; attempt <= retries; attempt++ {
			writeErr = writeFile(filepath.Join(dir, filepath.FromSlash(f.path)), f.content)
			if writeErr == nil {
				break
			}
		}
		if writeErr != nil {
			continue
		}
		art.Files = append(art.Files, engine.ArtifactFile{Path: f.path, Lines: strings.Count(f.content, "\n")})
	}
	return art, nil
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func mainSource(idea engine.Idea, name string) string {
	return fmt.Sprintf(`package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"%[1]s/internal/%[1]s"
)

func main() {
	verbose := flag.Bool("v", false, "verbose output")
	flag.Parse()

	svc, err := %[1]s.New()
	if err != nil {
		log.Fatalf("init: %%v", err)
	}
	if *verbose {
		fmt.Fprintf(os.Stderr, "starting %%s\n", svc.Name())
	}
	if err := svc.Run(flag.Args()); err != nil {
		log.Fatalf("run: %%v", err)
	}
}
`, name)
}

func coreSource(idea engine.Idea, name string) string {
	return fmt.Sprintf(`// Package %[1]s implements %[2]s.
package %[1]s

import (
	"errors"
	"fmt"
	"sync"
)

// Service is the entry point for the %[2]s logic.
type Service struct {
	mu    sync.Mutex
	items map[string]string
}

// New constructs a ready Service.
func New() (*Service, error) {
	return &Service{items: map[string]string{}}, nil
}

// Name reports the service name.
func (s *Service) Name() string {
	return %[3]q
}

// Put stores a value under key.
func (s *Service) Put(key, value string) error {
	if key == "" {
		return errors.New("empty key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

// Get returns the value for key.
func (s *Service) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if !ok {
		return "", fmt.Errorf("key %%q not found", key)
	}
	return v, nil
}

// Run processes the provided arguments as key=value pairs.
func (s *Service) Run(args []string) error {
	for _, arg := range args {
		if err := s.Put(arg, arg); err != nil {
			return err
		}
	}
	return nil
}
`, name, strings.ToLower(idea.Title), idea.Title)
}

func testSource(idea engine.Idea, name string) string {
	return fmt.Sprintf(`package %[1]s

import "testing"

func TestPutGet(t *testing.T) {
	svc, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Put("alpha", "1"); err != nil {
		t.Fatal(err)
	}
	got, err := svc.Get("alpha")
	if err != nil {
		t.Fatal(err)
	}
	if got != "1" {
		t.Fatalf("got %%q, want %%q", got, "1")
	}
}

func TestEmptyKey(t *testing.T) {
	svc, _ := New()
	if err := svc.Put("", "x"); err == nil {
		t.Fatal("expected error for empty key")
	}
}
`, name)
}

func configSource(idea engine.Idea, name string) string {
	return fmt.Sprintf(`package %[1]s

import "os"

// Config holds runtime settings read from the environment.
type Config struct {
	Addr    string
	Verbose bool
}

// LoadConfig reads configuration with sensible defaults.
func LoadConfig() Config {
	cfg := Config{Addr: ":8080"}
	if v := os.Getenv("ADDR"); v != "" {
		cfg.Addr = v
	}
	if os.Getenv("VERBOSE") == "1" {
		cfg.Verbose = true
	}
	return cfg
}
`, name)
}

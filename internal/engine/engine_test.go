package engine_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"forgeday/internal/collab"
	"forgeday/internal/config"
	"forgeday/internal/db"
	"forgeday/internal/domain"
	"forgeday/internal/engine"
	"forgeday/internal/events"
	"forgeday/internal/migrate"
	"forgeday/internal/repo"
)

const testConfigYAML = `automation:
  mode: auto
  commit_strategy: smart
schedule:
  timezone: UTC
quality:
  min_lines: 50
  require_tests: false
  require_docs: false
  min_score: 10
  weights:
    lines: 40
    tests: 30
    docs: 30
novelty:
  window_days: 7
  max_retries: 3
  same_tech_gap_days: 1
skills:
  advancement_rate: moderate
  catalog:
    systems:
      - name: Caching
        technologies: [lru, redis, memcached]
push:
  max_attempts: 1
  base_backoff_seconds: 1
`

type fakeVCS struct {
	initCalls   int
	commitCalls int
	pushCalls   int
	remoteCalls int
	pushErr     error
	remoteErr   error
}

func (f *fakeVCS) Init(ctx context.Context, dir string) error {
	f.initCalls++
	return nil
}

func (f *fakeVCS) Commit(ctx context.Context, dir, message string, paths []string) (string, error) {
	f.commitCalls++
	return fmt.Sprintf("hash-%d", f.commitCalls), nil
}

func (f *fakeVCS) EnsureRemote(ctx context.Context, dir, name string) (string, error) {
	f.remoteCalls++
	if f.remoteErr != nil {
		return "", f.remoteErr
	}
	return "https://git.example.com/tester/" + name, nil
}

func (f *fakeVCS) Push(ctx context.Context, dir string) error {
	f.pushCalls++
	return f.pushErr
}

type failingPlanner struct{}

func (failingPlanner) ProposeIdea(ctx context.Context, req engine.PlanRequest) (engine.Idea, error) {
	return engine.Idea{}, errors.New("planner offline")
}

type testEnv struct {
	Engine *engine.Engine
	VCS    *fakeVCS
	Ctx    context.Context
	Clock  *time.Time
}

func (env *testEnv) setDay(date string) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		panic(err)
	}
	*env.Clock = day.Add(12 * time.Hour)
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg, err := config.FromYAML([]byte(testConfigYAML))
	if err != nil {
		t.Fatalf("test config: %v", err)
	}
	cfg.Generate.OutputDir = filepath.Join(workspace, "generated")

	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	vcs := &fakeVCS{}
	eng := &engine.Engine{
		DB:        conn,
		Repo:      repo.Repo{DB: conn},
		Events:    events.Writer{DB: conn, Now: now},
		Config:    cfg,
		Planner:   collab.TemplatePlanner{},
		Generator: collab.SkeletonGenerator{FileRetries: 2},
		Annotator: collab.TemplateAnnotator{},
		VCS:       vcs,
		Now:       now,
	}
	return testEnv{Engine: eng, VCS: vcs, Ctx: context.Background(), Clock: &clock}
}

func TestAttemptRunFullPipeline(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.Engine.AttemptRun(env.Ctx, "", false, false)
	if err != nil {
		t.Fatalf("attempt run: %v", err)
	}
	if out.Run.Status != domain.RunTracked {
		t.Fatalf("run status %s, want tracked", out.Run.Status)
	}
	if out.Project == nil || out.Project.Status != domain.RunTracked {
		t.Fatalf("project not tracked: %+v", out.Project)
	}
	if out.Project.RepoURL == "" {
		t.Fatalf("expected repo url after push")
	}
	if env.VCS.pushCalls != 1 {
		t.Fatalf("push calls = %d, want 1", env.VCS.pushCalls)
	}
	streak, err := env.Engine.Repo.GetStreak(env.Ctx)
	if err != nil {
		t.Fatalf("get streak: %v", err)
	}
	if streak.CurrentStreak != 1 || streak.LongestStreak != 1 {
		t.Fatalf("streak %+v, want current=longest=1", streak)
	}
	skills, err := env.Engine.Repo.ListSkills(env.Ctx)
	if err != nil {
		t.Fatalf("list skills: %v", err)
	}
	if len(skills) == 0 {
		t.Fatalf("expected practiced skills after tracking")
	}
	for _, s := range skills {
		if s.Proficiency <= 0 {
			t.Fatalf("skill %s proficiency %v, want > 0", s.Name, s.Proficiency)
		}
	}
}

func TestGuardRejectsSecondRunOfDay(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.AttemptRun(env.Ctx, "", false, false); err != nil {
		t.Fatalf("first run: %v", err)
	}
	out, err := env.Engine.AttemptRun(env.Ctx, "", false, false)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !out.Skipped || out.Reason != "already run today" {
		t.Fatalf("expected guard skip, got %+v", out)
	}
	if out.Run.Status != domain.RunSkipped {
		t.Fatalf("skip run status %s", out.Run.Status)
	}

	// The skip is recorded but exactly one record for the day is non-skipped.
	runs, err := env.Engine.Repo.RunsForDate(env.Ctx, out.Run.Date)
	if err != nil {
		t.Fatalf("runs for date: %v", err)
	}
	active := 0
	for _, r := range runs {
		if r.Status != domain.RunSkipped {
			active++
		}
	}
	if len(runs) != 2 || active != 1 {
		t.Fatalf("got %d runs, %d non-skipped; want 2 and 1", len(runs), active)
	}
}

func TestFailedDayRequiresForce(t *testing.T) {
	env := newTestEnv(t)
	working := env.Engine.Planner
	env.Engine.Planner = failingPlanner{}
	if _, err := env.Engine.AttemptRun(env.Ctx, "", false, false); err == nil {
		t.Fatalf("expected plan failure")
	}

	env.Engine.Planner = working
	_, err := env.Engine.AttemptRun(env.Ctx, "", false, false)
	if !errors.Is(err, engine.ErrFailedNeedsForce) {
		t.Fatalf("expected ErrFailedNeedsForce, got %v", err)
	}

	out, err := env.Engine.AttemptRun(env.Ctx, "", true, false)
	if err != nil {
		t.Fatalf("forced retry: %v", err)
	}
	if out.Run.Status != domain.RunTracked || !out.Run.Forced {
		t.Fatalf("forced retry outcome %+v", out.Run)
	}
}

func TestFailureRecordsStageAndReason(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Planner = failingPlanner{}
	out, err := env.Engine.AttemptRun(env.Ctx, "", false, false)
	if err == nil {
		t.Fatalf("expected failure")
	}
	if out.Run.Status != domain.RunFailed {
		t.Fatalf("run status %s, want failed", out.Run.Status)
	}
	if out.Run.FailureStage == nil || *out.Run.FailureStage != "plan" {
		t.Fatalf("failure stage %v, want plan", out.Run.FailureStage)
	}
	if out.Run.FailureReason == nil || *out.Run.FailureReason == "" {
		t.Fatalf("failure reason missing")
	}
}

func TestPushExhaustionLeavesRunCommitted(t *testing.T) {
	env := newTestEnv(t)
	env.VCS.pushErr = errors.New("remote unavailable")
	out, err := env.Engine.AttemptRun(env.Ctx, "", false, false)
	var pushErr *engine.PushError
	if !errors.As(err, &pushErr) {
		t.Fatalf("expected PushError, got %v", err)
	}
	if out.Run.Status != domain.RunCommitted {
		t.Fatalf("run status %s, want committed", out.Run.Status)
	}

	// A later attempt resumes from committed and only retries the push.
	env.VCS.pushErr = nil
	plannedBefore := out.Project.ID
	commitsBefore := env.VCS.commitCalls
	out, err = env.Engine.AttemptRun(env.Ctx, "", false, false)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if out.Run.Status != domain.RunTracked {
		t.Fatalf("resume status %s, want tracked", out.Run.Status)
	}
	if out.Project.ID != plannedBefore {
		t.Fatalf("resume replanned: %s != %s", out.Project.ID, plannedBefore)
	}
	if env.VCS.commitCalls != commitsBefore {
		t.Fatalf("resume recommitted: %d != %d", env.VCS.commitCalls, commitsBefore)
	}
}

func TestQualityGateBlocksPush(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Quality.RequireTests = true
	env.Engine.Config.Quality.MinScore = 90

	// Beginner skeletons carry no tests, so the score stays below 90.
	out, err := env.Engine.AttemptRun(env.Ctx, "", false, false)
	var gateErr *engine.QualityGateError
	if !errors.As(err, &gateErr) {
		t.Fatalf("expected QualityGateError, got %v", err)
	}
	if gateErr.Score >= gateErr.MinScore {
		t.Fatalf("gate fired with score %d >= min %d", gateErr.Score, gateErr.MinScore)
	}
	if out.Run.Status != domain.RunCommitted {
		t.Fatalf("run status %s, want committed", out.Run.Status)
	}
	if env.VCS.pushCalls != 0 {
		t.Fatalf("pushed despite quality gate")
	}
}

func TestReviewModeConfirm(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.Engine.AttemptRun(env.Ctx, domain.ModeReview, false, false)
	if err != nil {
		t.Fatalf("attempt run: %v", err)
	}
	if out.Run.Status != domain.RunAwaitingReview {
		t.Fatalf("run status %s, want awaiting_review", out.Run.Status)
	}
	if env.VCS.pushCalls != 0 {
		t.Fatalf("pushed before confirmation")
	}

	out, err = env.Engine.ConfirmPush(env.Ctx, out.Run.Date, false)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if out.Run.Status != domain.RunTracked {
		t.Fatalf("confirmed status %s, want tracked", out.Run.Status)
	}
	if env.VCS.pushCalls != 1 {
		t.Fatalf("push calls = %d, want 1", env.VCS.pushCalls)
	}
}

func TestReviewModeConfirmOverridesQualityGate(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Quality.RequireTests = true
	env.Engine.Config.Quality.MinScore = 90

	out, err := env.Engine.AttemptRun(env.Ctx, domain.ModeReview, false, false)
	if err != nil {
		t.Fatalf("attempt run: %v", err)
	}
	if _, err := env.Engine.ConfirmPush(env.Ctx, out.Run.Date, false); err == nil {
		t.Fatalf("expected quality gate on confirm")
	}
	out, err = env.Engine.ConfirmPush(env.Ctx, out.Run.Date, true)
	if err != nil {
		t.Fatalf("confirm with override: %v", err)
	}
	if out.Run.Status != domain.RunTracked {
		t.Fatalf("override status %s, want tracked", out.Run.Status)
	}
}

func TestReviewModeReject(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.Engine.AttemptRun(env.Ctx, domain.ModeReview, false, false)
	if err != nil {
		t.Fatalf("attempt run: %v", err)
	}
	out, err = env.Engine.RejectPush(env.Ctx, out.Run.Date)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if out.Run.Status != domain.RunFailed {
		t.Fatalf("rejected status %s, want failed", out.Run.Status)
	}
	if out.Run.FailureStage == nil || *out.Run.FailureStage != "review" {
		t.Fatalf("failure stage %v, want review", out.Run.FailureStage)
	}
	if _, err := env.Engine.RejectPush(env.Ctx, out.Run.Date); !errors.Is(err, engine.ErrNotAwaitingReview) {
		t.Fatalf("second reject: %v, want ErrNotAwaitingReview", err)
	}
}

func TestDryRunSkipsPush(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.Engine.AttemptRun(env.Ctx, "", false, true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if out.Run.Status != domain.RunTracked {
		t.Fatalf("dry run status %s, want tracked", out.Run.Status)
	}
	if env.VCS.pushCalls != 0 || env.VCS.remoteCalls != 0 {
		t.Fatalf("dry run touched remote: pushes=%d remotes=%d", env.VCS.pushCalls, env.VCS.remoteCalls)
	}
	if out.Project.RepoURL != "" {
		t.Fatalf("dry run set repo url %q", out.Project.RepoURL)
	}
}

func TestScheduleWindowGuard(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Schedule.NotBefore = "18:00"

	out, err := env.Engine.AttemptRun(env.Ctx, "", false, false)
	if err != nil {
		t.Fatalf("attempt run: %v", err)
	}
	if !out.Skipped || out.Reason != "schedule window not open" {
		t.Fatalf("expected window skip, got %+v", out)
	}

	// Force bypasses the window.
	out, err = env.Engine.AttemptRun(env.Ctx, "", true, false)
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if out.Run.Status != domain.RunTracked {
		t.Fatalf("forced status %s, want tracked", out.Run.Status)
	}
}

func TestStreakAcrossDays(t *testing.T) {
	env := newTestEnv(t)

	env.setDay("2026-08-24")
	if _, err := env.Engine.AttemptRun(env.Ctx, "", false, false); err != nil {
		t.Fatalf("day 1: %v", err)
	}

	// Day 2 fails, then a forced retry succeeds; the streak still extends.
	env.setDay("2026-08-25")
	working := env.Engine.Planner
	env.Engine.Planner = failingPlanner{}
	if _, err := env.Engine.AttemptRun(env.Ctx, "", false, false); err == nil {
		t.Fatalf("expected day 2 failure")
	}
	env.Engine.Planner = working
	if _, err := env.Engine.AttemptRun(env.Ctx, "", true, false); err != nil {
		t.Fatalf("day 2 forced: %v", err)
	}
	streak, err := env.Engine.Repo.GetStreak(env.Ctx)
	if err != nil {
		t.Fatalf("get streak: %v", err)
	}
	if streak.CurrentStreak != 2 {
		t.Fatalf("streak after day 2 = %d, want 2", streak.CurrentStreak)
	}

	// Day 3 is missed; day 4 resets to 1 but longest survives.
	env.setDay("2026-08-27")
	if _, err := env.Engine.AttemptRun(env.Ctx, "", false, false); err != nil {
		t.Fatalf("day 4: %v", err)
	}
	streak, err = env.Engine.Repo.GetStreak(env.Ctx)
	if err != nil {
		t.Fatalf("get streak: %v", err)
	}
	if streak.CurrentStreak != 1 || streak.LongestStreak != 2 {
		t.Fatalf("streak after gap %+v, want current 1 longest 2", streak)
	}
}

func TestNoveltyAvoidsRepeatedPair(t *testing.T) {
	env := newTestEnv(t)

	env.setDay("2026-08-24")
	first, err := env.Engine.AttemptRun(env.Ctx, "", false, false)
	if err != nil {
		t.Fatalf("day 1: %v", err)
	}

	// Skip a day so the same-category rule does not apply.
	env.setDay("2026-08-26")
	second, err := env.Engine.AttemptRun(env.Ctx, "", false, false)
	if err != nil {
		t.Fatalf("day 2: %v", err)
	}
	if first.Project.PrimaryTech == second.Project.PrimaryTech {
		t.Fatalf("pair repeated: both projects use %s", first.Project.PrimaryTech)
	}
}

func TestUnknownModeRejected(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.AttemptRun(env.Ctx, "yolo", false, false); err == nil {
		t.Fatalf("expected unknown mode error")
	}
}

func TestQueryProgressAfterRun(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.AttemptRun(env.Ctx, "", false, false); err != nil {
		t.Fatalf("attempt run: %v", err)
	}
	report, err := env.Engine.QueryProgress(env.Ctx)
	if err != nil {
		t.Fatalf("query progress: %v", err)
	}
	if report.CompletedProjects != 1 {
		t.Fatalf("completed = %d, want 1", report.CompletedProjects)
	}
	if report.PortfolioScore <= 0 {
		t.Fatalf("portfolio score %v, want > 0", report.PortfolioScore)
	}
	unlocked := map[string]bool{}
	for _, a := range report.Achievements {
		if a.Unlocked {
			unlocked[a.ID] = true
			if a.UnlockedAt == nil {
				t.Fatalf("achievement %s unlocked without timestamp", a.ID)
			}
		}
	}
	if !unlocked["hello_world"] {
		t.Fatalf("hello_world not unlocked after first project")
	}
}

func TestQueryStatusDateBounds(t *testing.T) {
	env := newTestEnv(t)
	env.setDay("2026-08-24")
	if _, err := env.Engine.AttemptRun(env.Ctx, "", false, false); err != nil {
		t.Fatalf("day 1: %v", err)
	}
	env.setDay("2026-08-26")
	if _, err := env.Engine.AttemptRun(env.Ctx, "", false, false); err != nil {
		t.Fatalf("day 2: %v", err)
	}

	runs, err := env.Engine.QueryStatus(env.Ctx, "2026-08-25", "")
	if err != nil {
		t.Fatalf("query status: %v", err)
	}
	if len(runs) != 1 || runs[0].Date != "2026-08-26" {
		t.Fatalf("bounded query returned %+v", runs)
	}
}

func TestProgressStreakReadsZeroAfterGapDay(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.AttemptRun(env.Ctx, "", false, false); err != nil {
		t.Fatalf("run: %v", err)
	}

	report, err := env.Engine.QueryProgress(env.Ctx)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if report.Streak.CurrentStreak != 1 {
		t.Fatalf("streak after run %d, want 1", report.Streak.CurrentStreak)
	}

	// 2026-08-25 passes with no run; by the 26th the stored counter is
	// stale and reads must report the streak as broken.
	env.setDay("2026-08-26")
	report, err = env.Engine.QueryProgress(env.Ctx)
	if err != nil {
		t.Fatalf("progress after gap: %v", err)
	}
	if report.Streak.CurrentStreak != 0 {
		t.Fatalf("streak after gap day %d, want 0", report.Streak.CurrentStreak)
	}
	if report.Streak.LongestStreak != 1 {
		t.Fatalf("longest %d, want 1", report.Streak.LongestStreak)
	}
}

func TestTodayFollowsConfiguredTimezone(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Schedule.Timezone = "Pacific/Kiritimati" // UTC+14
	*env.Clock = time.Date(2026, 8, 24, 22, 0, 0, 0, time.UTC)
	if got := env.Engine.Today(); got != "2026-08-25" {
		t.Fatalf("today = %s, want 2026-08-25", got)
	}
}

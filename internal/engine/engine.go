package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"forgeday/internal/config"
	"forgeday/internal/domain"
	"forgeday/internal/events"
	"forgeday/internal/repo"
)

// Engine is the run orchestrator. It is the sole mutator of run, project
// and commit records; tracking state is mutated only through applyOutcome
// inside the tracking transaction.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Planner   Planner
	Generator Generator
	Annotator Annotator
	VCS       VCS
	Now       func() time.Time
}

var (
	ErrFailedNeedsForce  = errors.New("day already failed; re-attempt requires force")
	ErrNotAwaitingReview = errors.New("run is not awaiting review")
)

// NoveltyExhaustedError reports that every proposal in the retry budget
// was rejected. The run is failed at the plan stage.
type NoveltyExhaustedError struct {
	Attempts   int
	LastReason string
}

func (e *NoveltyExhaustedError) Error() string {
	return fmt.Sprintf("no novel idea available after %d attempts (last: %s)", e.Attempts, e.LastReason)
}

// GenerationError reports required structural files missing after the
// generator's own retries. Fatal for the run.
type GenerationError struct {
	Missing []string
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation failed: %v", e.Err)
	}
	return fmt.Sprintf("generation incomplete, missing %s", strings.Join(e.Missing, ", "))
}

func (e *GenerationError) Unwrap() error { return e.Err }

// CommitError wraps a local commit failure. Fatal for the run.
type CommitError struct {
	Stage string
	Err   error
}

func (e *CommitError) Error() string { return fmt.Sprintf("commit %s: %v", e.Stage, e.Err) }
func (e *CommitError) Unwrap() error { return e.Err }

// PushError reports push exhaustion. The run stays committed and a later
// attempt may retry the push without regenerating anything.
type PushError struct {
	Attempts int
	Err      error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push failed after %d attempts: %v", e.Attempts, e.Err)
}
func (e *PushError) Unwrap() error { return e.Err }

// QualityGateError bars the committed→pushed transition. The run stays
// committed until the score improves or review overrides.
type QualityGateError struct {
	Score    int
	MinScore int
}

func (e *QualityGateError) Error() string {
	return fmt.Sprintf("quality score %d below minimum %d", e.Score, e.MinScore)
}

// RunOutcome is the result of one AttemptRun call.
type RunOutcome struct {
	Run     domain.RunRecord
	Project *domain.ProjectRecord
	Skipped bool
	Reason  string
}

func (e *Engine) now() time.Time {
	t := time.Now()
	if e.Now != nil {
		t = e.Now()
	}
	if loc, err := e.Config.Location(); err == nil {
		t = t.In(loc)
	}
	return t
}

func (e *Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// Today is the current date in the configured timezone. Runs are keyed
// on this date, so callers resolving "today" must use it rather than the
// system clock.
func (e *Engine) Today() string {
	return e.now().Format("2006-01-02")
}

// withinWindow reports whether local time has passed schedule.not_before.
func (e *Engine) withinWindow(now time.Time) bool {
	if e.Config.Schedule.NotBefore == "" {
		return true
	}
	gate, err := time.Parse("15:04", e.Config.Schedule.NotBefore)
	if err != nil {
		return true
	}
	return now.Hour()*60+now.Minute() >= gate.Hour()*60+gate.Minute()
}

// AttemptRun runs (or resumes) the day's pipeline. A non-forced attempt
// on a day that already produced a non-skipped, non-failed record is
// rejected by the guard and recorded as a skipped run; force bypasses the
// guard and the schedule window.
func (e *Engine) AttemptRun(ctx context.Context, mode string, force, dryRun bool) (RunOutcome, error) {
	if mode == "" {
		mode = e.Config.Automation.Mode
	}
	switch mode {
	case domain.ModeAuto, domain.ModeReview, domain.ModeManual:
	default:
		return RunOutcome{}, fmt.Errorf("unknown mode %q", mode)
	}
	if err := e.ensureAchievements(ctx); err != nil {
		return RunOutcome{}, err
	}

	now := e.now()
	date := now.Format("2006-01-02")

	runs, err := e.Repo.RunsForDate(ctx, date)
	if err != nil {
		return RunOutcome{}, err
	}
	var resume *domain.RunRecord
	dayDone, dayFailed := false, false
	for i := range runs {
		switch runs[i].Status {
		case domain.RunFailed:
			dayFailed = true
		case domain.RunSkipped:
		case domain.RunTracked:
			dayDone = true
		default:
			r := runs[i]
			resume = &r
		}
	}

	if resume != nil {
		return e.advance(ctx, *resume, false)
	}
	if !force {
		if dayDone {
			return e.recordSkip(ctx, date, mode, "already run today")
		}
		if dayFailed {
			return RunOutcome{}, fmt.Errorf("%s: %w", date, ErrFailedNeedsForce)
		}
		if !e.withinWindow(now) {
			return e.recordSkip(ctx, date, mode, "schedule window not open")
		}
	}

	run := domain.RunRecord{
		Date:      date,
		Mode:      mode,
		Status:    domain.RunPending,
		Forced:    force,
		DryRun:    dryRun,
		CreatedAt: e.timestamp(),
		UpdatedAt: e.timestamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return RunOutcome{}, err
	}
	defer tx.Rollback()
	if run.ID, err = e.Repo.InsertRunTx(ctx, tx, run); err != nil {
		return RunOutcome{}, fmt.Errorf("create run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "run.started", "run", run.Date, events.EventPayload{"mode": mode, "forced": force, "dry_run": dryRun}); err != nil {
		return RunOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return RunOutcome{}, err
	}
	return e.advance(ctx, run, false)
}

// recordSkip persists a guard rejection as a skipped run.
func (e *Engine) recordSkip(ctx context.Context, date, mode, reason string) (RunOutcome, error) {
	run := domain.RunRecord{
		Date:      date,
		Mode:      mode,
		Status:    domain.RunSkipped,
		CreatedAt: e.timestamp(),
		UpdatedAt: e.timestamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return RunOutcome{}, err
	}
	defer tx.Rollback()
	if run.ID, err = e.Repo.InsertRunTx(ctx, tx, run); err != nil {
		return RunOutcome{}, err
	}
	if err := e.Events.Append(ctx, tx, "run.skipped", "run", date, events.EventPayload{"reason": reason}); err != nil {
		return RunOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return RunOutcome{}, err
	}
	return RunOutcome{Run: run, Skipped: true, Reason: reason}, nil
}

// advance drives the state machine until a terminal or waiting state.
// Cancellation is honored between stages only; the record stays at the
// last completed state.
func (e *Engine) advance(ctx context.Context, run domain.RunRecord, overrideQuality bool) (RunOutcome, error) {
	var project *domain.ProjectRecord
	if run.ProjectID != nil {
		p, err := e.Repo.GetProject(ctx, *run.ProjectID)
		if err != nil {
			return RunOutcome{Run: run}, fmt.Errorf("load project: %w", err)
		}
		project = &p
	}
	for {
		if err := ctx.Err(); err != nil {
			return RunOutcome{Run: run, Project: project}, err
		}
		var err error
		switch run.Status {
		case domain.RunPending:
			project, err = e.stagePlan(ctx, &run)
		case domain.RunPlanned:
			err = e.stageGenerate(ctx, &run, project)
		case domain.RunGenerated:
			err = e.stageDocument(ctx, &run, project)
		case domain.RunDocumented:
			err = e.stageCommit(ctx, &run, project)
		case domain.RunCommitted:
			switch {
			case run.Mode == domain.ModeReview:
				err = e.transition(ctx, &run, domain.RunAwaitingReview, nil)
				if err == nil {
					return RunOutcome{Run: run, Project: project}, nil
				}
			case run.DryRun:
				err = e.stageTrack(ctx, &run, project)
			default:
				err = e.stagePush(ctx, &run, project, overrideQuality)
			}
		case domain.RunAwaitingReview:
			return RunOutcome{Run: run, Project: project}, nil
		case domain.RunPushed:
			err = e.stageTrack(ctx, &run, project)
		case domain.RunTracked:
			return RunOutcome{Run: run, Project: project}, nil
		default:
			return RunOutcome{Run: run, Project: project}, fmt.Errorf("run %s in unexpected state %s", run.Date, run.Status)
		}
		if err != nil {
			var pushErr *PushError
			var gateErr *QualityGateError
			if errors.As(err, &pushErr) || errors.As(err, &gateErr) {
				return RunOutcome{Run: run, Project: project}, err
			}
			stage := stageOf(run.Status)
			if ferr := e.markFailed(ctx, &run, project, stage, err.Error()); ferr != nil {
				return RunOutcome{Run: run, Project: project}, errors.Join(err, ferr)
			}
			return RunOutcome{Run: run, Project: project}, err
		}
	}
}

func stageOf(status string) string {
	switch status {
	case domain.RunPending:
		return "plan"
	case domain.RunPlanned:
		return "generate"
	case domain.RunGenerated:
		return "document"
	case domain.RunDocumented:
		return "commit"
	case domain.RunCommitted:
		return "push"
	case domain.RunPushed:
		return "track"
	}
	return status
}

// transition moves the run to the next status and appends the matching
// event; extra writes join the same transaction via mutate. Mutate runs
// first so rows the run references (its project) exist before the run
// row points at them.
func (e *Engine) transition(ctx context.Context, run *domain.RunRecord, next string, mutate func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	prev := run.Status
	run.Status = next
	run.UpdatedAt = e.timestamp()
	if mutate != nil {
		if err := mutate(tx); err != nil {
			run.Status = prev
			return err
		}
	}
	if err := e.Repo.UpdateRunTx(ctx, tx, *run); err != nil {
		run.Status = prev
		return fmt.Errorf("update run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "run."+next, "run", run.Date, nil); err != nil {
		run.Status = prev
		return err
	}
	if err := tx.Commit(); err != nil {
		run.Status = prev
		return err
	}
	return nil
}

func (e *Engine) markFailed(ctx context.Context, run *domain.RunRecord, project *domain.ProjectRecord, stage, reason string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	run.Status = domain.RunFailed
	run.FailureStage = &stage
	run.FailureReason = &reason
	run.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateRunTx(ctx, tx, *run); err != nil {
		return err
	}
	if project != nil {
		project.Status = domain.RunFailed
		if err := e.Repo.UpdateProjectTx(ctx, tx, *project); err != nil {
			return err
		}
	}
	if err := e.Events.Append(ctx, tx, "run.failed", "run", run.Date, events.EventPayload{"stage": stage, "reason": reason}); err != nil {
		return err
	}
	return tx.Commit()
}

// stagePlan selects the weakest skill, asks the planner for an idea and
// validates novelty within the retry budget.
func (e *Engine) stagePlan(ctx context.Context, run *domain.RunRecord) (*domain.ProjectRecord, error) {
	now := e.now()
	skills, err := e.Repo.ListSkills(ctx)
	if err != nil {
		return nil, err
	}
	states := map[string]domain.SkillState{}
	for _, s := range skills {
		states[s.Name] = s
	}
	category := pickCategory(e.Config, states, now)
	if category == "" {
		return nil, fmt.Errorf("no skill categories configured")
	}
	skill := pickSkill(e.Config.Skills.Catalog[category], states, now)
	proficiency := 0.0
	if st, ok := states[skill.Name]; ok {
		proficiency = EffectiveProficiency(st.Proficiency, st.LastPracticedAt, now)
	}
	difficulty := difficultyFor(proficiency, e.Config.Skills.AdvancementRate)

	since := now.AddDate(0, 0, -e.Config.Novelty.WindowDays).UTC().Format(time.RFC3339)
	window, err := e.Repo.ProjectsSince(ctx, since)
	if err != nil {
		return nil, err
	}
	var avoid []string
	for _, p := range window {
		avoid = append(avoid, p.Title)
	}

	lastReason := ""
	for attempt := 0; attempt < e.Config.Novelty.MaxRetries; attempt++ {
		idea, err := e.Planner.ProposeIdea(ctx, PlanRequest{
			Category:    category,
			Skill:       skill,
			Difficulty:  difficulty,
			Attempt:     attempt,
			AvoidTitles: avoid,
		})
		if err != nil {
			return nil, fmt.Errorf("propose idea: %w", err)
		}
		pairUsed := true
		if _, err := e.Repo.LastPairUse(ctx, idea.SkillDomain, idea.PrimaryTech); err != nil {
			if !errors.Is(err, repo.ErrNotFound) {
				return nil, err
			}
			pairUsed = false
		}
		verdict := validateNovelty(idea, run.Date, pairUsed, window, e.Config)
		if !verdict.OK {
			lastReason = verdict.Reason
			avoid = append(avoid, idea.Title)
			continue
		}

		project := domain.ProjectRecord{
			ID:           uuid.NewSHA1(uuid.NameSpaceOID, []byte(run.Date+"|"+idea.Title)).String(),
			Title:        idea.Title,
			Description:  idea.Description,
			SkillDomain:  idea.SkillDomain,
			Technologies: idea.Technologies,
			PrimaryTech:  idea.PrimaryTech,
			Difficulty:   idea.Difficulty,
			Status:       domain.RunPlanned,
			CreatedAt:    e.timestamp(),
		}
		run.ProjectID = &project.ID
		err = e.transition(ctx, run, domain.RunPlanned, func(tx *sql.Tx) error {
			if err := e.Repo.InsertProjectTx(ctx, tx, project); err != nil {
				return fmt.Errorf("insert project: %w", err)
			}
			return e.Events.Append(ctx, tx, "project.planned", "project", project.ID, events.EventPayload{
				"title": project.Title, "skill_domain": project.SkillDomain, "primary_tech": project.PrimaryTech,
			})
		})
		if err != nil {
			return nil, err
		}
		return &project, nil
	}
	return nil, &NoveltyExhaustedError{Attempts: e.Config.Novelty.MaxRetries, LastReason: lastReason}
}

func slugify(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(strings.Join(strings.FieldsFunc(b.String(), func(r rune) bool { return r == '-' }), "-"), "-")
}

func ideaFromProject(p domain.ProjectRecord) Idea {
	return Idea{
		Title:        p.Title,
		Description:  p.Description,
		SkillDomain:  p.SkillDomain,
		Technologies: p.Technologies,
		PrimaryTech:  p.PrimaryTech,
		Difficulty:   p.Difficulty,
	}
}

// stageGenerate materializes the artifact and verifies the required
// structural files survived the generator's per-file retries.
func (e *Engine) stageGenerate(ctx context.Context, run *domain.RunRecord, project *domain.ProjectRecord) error {
	dir := filepath.Join(e.Config.Generate.OutputDir, run.Date+"-"+slugify(project.Title))
	art, err := e.Generator.Materialize(ctx, dir, ideaFromProject(*project))
	if err != nil {
		return &GenerationError{Err: err}
	}
	var missing []string
	for _, required := range []string{"main.go", "README.md"} {
		if !artifactHas(art, required) {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return &GenerationError{Missing: missing}
	}
	project.LocalPath = dir
	project.Status = domain.RunGenerated
	return e.transition(ctx, run, domain.RunGenerated, func(tx *sql.Tx) error {
		return e.Repo.UpdateProjectTx(ctx, tx, *project)
	})
}

func artifactHas(art Artifact, name string) bool {
	for _, f := range art.Files {
		if filepath.Base(f.Path) == name {
			return true
		}
	}
	return false
}

func (e *Engine) stageDocument(ctx context.Context, run *domain.RunRecord, project *domain.ProjectRecord) error {
	art, err := measureArtifact(project.LocalPath)
	if err != nil {
		return err
	}
	if _, err := e.Annotator.Annotate(ctx, project.LocalPath, ideaFromProject(*project), art); err != nil {
		return fmt.Errorf("annotate: %w", err)
	}
	project.Status = domain.RunDocumented
	return e.transition(ctx, run, domain.RunDocumented, func(tx *sql.Tx) error {
		return e.Repo.UpdateProjectTx(ctx, tx, *project)
	})
}

// measureArtifact rebuilds artifact metadata from disk so resumed runs
// never depend on in-memory state. The .git directory is ignored.
func measureArtifact(dir string) (Artifact, error) {
	art := Artifact{Dir: dir}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		lines := strings.Count(string(data), "\n")
		if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
			lines++
		}
		art.Files = append(art.Files, ArtifactFile{Path: filepath.ToSlash(rel), Lines: lines})
		return nil
	})
	return art, err
}

func metricsFrom(art Artifact) Metrics {
	m := Metrics{FileCount: len(art.Files)}
	for _, f := range art.Files {
		m.LinesOfCode += f.Lines
		base := strings.ToLower(filepath.Base(f.Path))
		if strings.Contains(base, "_test.") || strings.HasPrefix(base, "test_") {
			m.HasTests = true
		}
		if strings.HasPrefix(base, "readme") || strings.HasPrefix(strings.ToLower(f.Path), "docs/") {
			m.HasDocs = true
		}
	}
	return m
}

// stageCommit scores the artifact, applies the commit plan and persists
// commit records. A commit failure is fatal for the run.
func (e *Engine) stageCommit(ctx context.Context, run *domain.RunRecord, project *domain.ProjectRecord) error {
	art, err := measureArtifact(project.LocalPath)
	if err != nil {
		return err
	}
	m := metricsFrom(art)
	project.LinesOfCode = m.LinesOfCode
	project.FileCount = m.FileCount
	project.HasTests = m.HasTests
	project.HasDocs = m.HasDocs
	project.QualityScore = qualityScore(m, e.Config)

	var paths []string
	for _, f := range art.Files {
		paths = append(paths, f.Path)
	}
	segments := planCommits(e.Config.Automation.CommitStrategy, paths)

	if err := e.VCS.Init(ctx, project.LocalPath); err != nil {
		return &CommitError{Stage: "init", Err: err}
	}
	idea := ideaFromProject(*project)
	var records []domain.CommitRecord
	for _, seg := range segments {
		msg := e.Annotator.CommitMessage(seg.Stage, idea, seg.Files)
		hash, err := e.VCS.Commit(ctx, project.LocalPath, msg, seg.Files)
		if err != nil {
			return &CommitError{Stage: seg.Stage, Err: err}
		}
		records = append(records, domain.CommitRecord{
			ID:        uuid.NewString(),
			ProjectID: project.ID,
			Hash:      hash,
			Message:   msg,
			Stage:     seg.Stage,
			Files:     seg.Files,
			CreatedAt: e.timestamp(),
		})
	}

	project.Status = domain.RunCommitted
	return e.transition(ctx, run, domain.RunCommitted, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateProjectTx(ctx, tx, *project); err != nil {
			return err
		}
		for _, c := range records {
			if err := e.Repo.InsertCommitTx(ctx, tx, c); err != nil {
				return fmt.Errorf("insert commit: %w", err)
			}
		}
		return e.Events.Append(ctx, tx, "project.committed", "project", project.ID, events.EventPayload{
			"commits": len(records), "quality_score": project.QualityScore,
		})
	})
}

// stagePush enforces the quality gate then pushes with bounded
// exponential backoff. Exhaustion leaves the run committed.
func (e *Engine) stagePush(ctx context.Context, run *domain.RunRecord, project *domain.ProjectRecord, overrideQuality bool) error {
	if !overrideQuality && project.QualityScore < e.Config.Quality.MinScore {
		return &QualityGateError{Score: project.QualityScore, MinScore: e.Config.Quality.MinScore}
	}

	attempts := 0
	backoff := retry.WithMaxRetries(uint64(e.Config.Push.MaxAttempts-1),
		retry.NewExponential(time.Duration(e.Config.Push.BaseBackoffSeconds)*time.Second))
	var repoURL string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		url, err := e.VCS.EnsureRemote(ctx, project.LocalPath, run.Date+"-"+slugify(project.Title))
		if err != nil {
			return retry.RetryableError(err)
		}
		repoURL = url
		if err := e.VCS.Push(ctx, project.LocalPath); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return &PushError{Attempts: attempts, Err: err}
	}

	project.RepoURL = repoURL
	project.Status = domain.RunPushed
	return e.transition(ctx, run, domain.RunPushed, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateProjectTx(ctx, tx, *project); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "project.pushed", "project", project.ID, events.EventPayload{"repo_url": repoURL})
	})
}

// stageTrack applies the outcome to streak, skills and achievements in
// the same transaction that finishes the run.
func (e *Engine) stageTrack(ctx context.Context, run *domain.RunRecord, project *domain.ProjectRecord) error {
	st, err := e.loadTrackingState(ctx)
	if err != nil {
		return err
	}
	project.Status = domain.RunTracked
	return e.transition(ctx, run, domain.RunTracked, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateProjectTx(ctx, tx, *project); err != nil {
			return err
		}
		return e.applyOutcome(ctx, tx, st, *project, run.Date)
	})
}

// ConfirmPush releases a run held in awaiting_review. overrideQuality
// lets the reviewer push past the quality gate.
func (e *Engine) ConfirmPush(ctx context.Context, date string, overrideQuality bool) (RunOutcome, error) {
	run, err := e.Repo.LatestRunForDate(ctx, date)
	if err != nil {
		return RunOutcome{}, err
	}
	if run.Status != domain.RunAwaitingReview {
		return RunOutcome{Run: run}, fmt.Errorf("run %s is %s: %w", date, run.Status, ErrNotAwaitingReview)
	}
	if run.ProjectID == nil {
		return RunOutcome{Run: run}, fmt.Errorf("run %s has no project", date)
	}
	project, err := e.Repo.GetProject(ctx, *run.ProjectID)
	if err != nil {
		return RunOutcome{Run: run}, err
	}
	if err := e.stagePush(ctx, &run, &project, overrideQuality); err != nil {
		return RunOutcome{Run: run, Project: &project}, err
	}
	if err := e.stageTrack(ctx, &run, &project); err != nil {
		return RunOutcome{Run: run, Project: &project}, err
	}
	return RunOutcome{Run: run, Project: &project}, nil
}

// RejectPush fails a run held in awaiting_review.
func (e *Engine) RejectPush(ctx context.Context, date string) (RunOutcome, error) {
	run, err := e.Repo.LatestRunForDate(ctx, date)
	if err != nil {
		return RunOutcome{}, err
	}
	if run.Status != domain.RunAwaitingReview {
		return RunOutcome{Run: run}, fmt.Errorf("run %s is %s: %w", date, run.Status, ErrNotAwaitingReview)
	}
	var project *domain.ProjectRecord
	if run.ProjectID != nil {
		p, err := e.Repo.GetProject(ctx, *run.ProjectID)
		if err != nil {
			return RunOutcome{Run: run}, err
		}
		project = &p
	}
	if err := e.markFailed(ctx, &run, project, "review", "rejected by reviewer"); err != nil {
		return RunOutcome{Run: run, Project: project}, err
	}
	return RunOutcome{Run: run, Project: project}, nil
}

// QueryStatus returns run records between two dates inclusive; empty
// bounds leave that side open.
func (e *Engine) QueryStatus(ctx context.Context, from, to string) ([]domain.RunRecord, error) {
	runs, err := e.Repo.ListRuns(ctx, 0)
	if err != nil {
		return nil, err
	}
	var out []domain.RunRecord
	for _, r := range runs {
		if from != "" && r.Date < from {
			continue
		}
		if to != "" && r.Date > to {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// SkillView is a skill with decay applied for display.
type SkillView struct {
	Name            string  `json:"name"`
	Category        string  `json:"category"`
	Proficiency     float64 `json:"proficiency"`
	LastPracticedAt *string `json:"last_practiced_at,omitempty"`
	ProjectCount    int     `json:"project_count"`
}

// ProgressReport is the full progress snapshot.
type ProgressReport struct {
	Skills            []SkillView          `json:"skills"`
	Streak            domain.StreakState   `json:"streak"`
	Achievements      []domain.Achievement `json:"achievements"`
	CompletedProjects int                  `json:"completed_projects"`
	PortfolioScore    float64              `json:"portfolio_score"`
	TechUsage         map[string]int       `json:"tech_usage"`
}

// QueryProgress assembles skills (decayed), streak, achievements and the
// portfolio score.
func (e *Engine) QueryProgress(ctx context.Context) (ProgressReport, error) {
	if err := e.ensureAchievements(ctx); err != nil {
		return ProgressReport{}, err
	}
	now := e.now()
	var report ProgressReport
	skills, err := e.Repo.ListSkills(ctx)
	if err != nil {
		return report, err
	}
	var sum float64
	var practiced int
	for _, s := range skills {
		effective := EffectiveProficiency(s.Proficiency, s.LastPracticedAt, now)
		report.Skills = append(report.Skills, SkillView{
			Name:            s.Name,
			Category:        s.Category,
			Proficiency:     effective,
			LastPracticedAt: s.LastPracticedAt,
			ProjectCount:    s.ProjectCount,
		})
		if s.ProjectCount > 0 {
			sum += effective
			practiced++
		}
	}
	if report.Streak, err = e.Repo.GetStreak(ctx); err != nil {
		return report, err
	}
	report.Streak.CurrentStreak = visibleStreak(report.Streak, now.Format("2006-01-02"), e.Config.Streak.GraceSkipsPerWeek)
	if report.Achievements, err = e.Repo.ListAchievements(ctx); err != nil {
		return report, err
	}
	if report.CompletedProjects, err = e.Repo.CountProjectsByStatus(ctx, domain.RunTracked); err != nil {
		return report, err
	}
	if report.TechUsage, err = e.Repo.TechUsage(ctx); err != nil {
		return report, err
	}
	avg := 0.0
	if practiced > 0 {
		avg = sum / float64(practiced)
	}
	report.PortfolioScore = portfolioScore(avg, report.CompletedProjects, report.Streak.CurrentStreak)
	return report, nil
}

// ensureAchievements seeds the catalog; existing unlock state is never
// touched.
func (e *Engine) ensureAchievements(ctx context.Context) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, a := range achievementCatalog() {
		if err := e.Repo.SeedAchievementTx(ctx, tx, a); err != nil {
			return fmt.Errorf("seed achievement %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

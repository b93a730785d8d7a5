package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"forgeday/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const runColumns = `id,date,mode,status,forced,dry_run,project_id,failure_stage,failure_reason,created_at,updated_at`

func scanRun(scan func(dest ...any) error) (domain.RunRecord, error) {
	var r domain.RunRecord
	var projectID, failStage, failReason sql.NullString
	err := scan(&r.ID, &r.Date, &r.Mode, &r.Status, &r.Forced, &r.DryRun, &projectID, &failStage, &failReason, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if projectID.Valid {
		r.ProjectID = &projectID.String
	}
	if failStage.Valid {
		r.FailureStage = &failStage.String
	}
	if failReason.Valid {
		r.FailureReason = &failReason.String
	}
	return r, err
}

func (r Repo) InsertRunTx(ctx context.Context, tx *sql.Tx, run domain.RunRecord) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO runs(date,mode,status,forced,dry_run,project_id,failure_stage,failure_reason,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		run.Date, run.Mode, run.Status, run.Forced, run.DryRun, nullableStringPtr(run.ProjectID),
		nullableStringPtr(run.FailureStage), nullableStringPtr(run.FailureReason), run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LatestRunForDate returns the most recent run row for a calendar day.
// Forced retries after a failed day append new rows for the same date.
func (r Repo) LatestRunForDate(ctx context.Context, date string) (domain.RunRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE date=? ORDER BY id DESC LIMIT 1`, date)
	return scanRun(row.Scan)
}

// RunsForDate returns every run row for a calendar day, oldest first.
func (r Repo) RunsForDate(ctx context.Context, date string) ([]domain.RunRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE date=? ORDER BY id ASC`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RunRecord
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

func (r Repo) GetRun(ctx context.Context, id int64) (domain.RunRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id)
	return scanRun(row.Scan)
}

func (r Repo) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY date DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RunRecord
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

func (r Repo) UpdateRunTx(ctx context.Context, tx *sql.Tx, run domain.RunRecord) error {
	res, err := tx.ExecContext(ctx, `UPDATE runs SET status=?, project_id=?, failure_stage=?, failure_reason=?, updated_at=? WHERE id=?`,
		run.Status, nullableStringPtr(run.ProjectID), nullableStringPtr(run.FailureStage), nullableStringPtr(run.FailureReason), run.UpdatedAt, run.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const projectColumns = `id,title,COALESCE(description,''),skill_domain,technologies_json,primary_tech,difficulty,quality_score,lines_of_code,file_count,has_tests,has_docs,COALESCE(local_path,''),COALESCE(repo_url,''),status,created_at`

func scanProject(scan func(dest ...any) error) (domain.ProjectRecord, error) {
	var p domain.ProjectRecord
	var techJSON string
	err := scan(&p.ID, &p.Title, &p.Description, &p.SkillDomain, &techJSON, &p.PrimaryTech, &p.Difficulty,
		&p.QualityScore, &p.LinesOfCode, &p.FileCount, &p.HasTests, &p.HasDocs, &p.LocalPath, &p.RepoURL, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(techJSON), &p.Technologies); err != nil {
		return p, fmt.Errorf("decode technologies for project %s: %w", p.ID, err)
	}
	return p, nil
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.ProjectRecord) error {
	techJSON, err := json.Marshal(p.Technologies)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO projects(id,title,description,skill_domain,technologies_json,primary_tech,difficulty,quality_score,lines_of_code,file_count,has_tests,has_docs,local_path,repo_url,status,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Title, nullable(p.Description), p.SkillDomain, string(techJSON), p.PrimaryTech, p.Difficulty,
		p.QualityScore, p.LinesOfCode, p.FileCount, p.HasTests, p.HasDocs, nullable(p.LocalPath), nullable(p.RepoURL), p.Status, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.ProjectRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) UpdateProjectTx(ctx context.Context, tx *sql.Tx, p domain.ProjectRecord) error {
	techJSON, err := json.Marshal(p.Technologies)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE projects SET title=?, description=?, skill_domain=?, technologies_json=?, primary_tech=?, difficulty=?, quality_score=?, lines_of_code=?, file_count=?, has_tests=?, has_docs=?, local_path=?, repo_url=?, status=? WHERE id=?`,
		p.Title, nullable(p.Description), p.SkillDomain, string(techJSON), p.PrimaryTech, p.Difficulty,
		p.QualityScore, p.LinesOfCode, p.FileCount, p.HasTests, p.HasDocs, nullable(p.LocalPath), nullable(p.RepoURL), p.Status, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListProjects(ctx context.Context, limit int) ([]domain.ProjectRecord, error) {
	query := `SELECT ` + projectColumns + ` FROM projects ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProjectRecord
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ProjectsSince returns projects created at or after the given RFC3339
// timestamp, newest first. Used for novelty-window checks.
func (r Repo) ProjectsSince(ctx context.Context, since string) ([]domain.ProjectRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE created_at >= ? ORDER BY created_at DESC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProjectRecord
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// LastPairUse returns the created_at of the most recent project with the
// given (skill domain, primary tech) pair, or ErrNotFound when never used.
func (r Repo) LastPairUse(ctx context.Context, skillDomain, primaryTech string) (string, error) {
	var createdAt string
	err := r.DB.QueryRowContext(ctx, `SELECT created_at FROM projects WHERE LOWER(TRIM(skill_domain))=LOWER(TRIM(?)) AND LOWER(TRIM(primary_tech))=LOWER(TRIM(?)) ORDER BY created_at DESC LIMIT 1`,
		skillDomain, primaryTech).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return createdAt, err
}

// TechUsage counts projects per normalized primary technology.
func (r Repo) TechUsage(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT LOWER(TRIM(primary_tech)), COUNT(*) FROM projects GROUP BY LOWER(TRIM(primary_tech))`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	usage := map[string]int{}
	for rows.Next() {
		var tech string
		var n int
		if err := rows.Scan(&tech, &n); err != nil {
			return nil, err
		}
		usage[tech] = n
	}
	return usage, rows.Err()
}

func (r Repo) CountProjectsByStatus(ctx context.Context, status string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE status=?`, status).Scan(&n)
	return n, err
}

func (r Repo) InsertCommitTx(ctx context.Context, tx *sql.Tx, c domain.CommitRecord) error {
	filesJSON, err := json.Marshal(c.Files)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO commits(id,project_id,hash,message,stage,files_json,created_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.ProjectID, c.Hash, c.Message, c.Stage, string(filesJSON), c.CreatedAt)
	return err
}

func (r Repo) CommitsForProject(ctx context.Context, projectID string) ([]domain.CommitRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,hash,message,stage,files_json,created_at FROM commits WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CommitRecord
	for rows.Next() {
		var c domain.CommitRecord
		var filesJSON string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Hash, &c.Message, &c.Stage, &filesJSON, &c.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(filesJSON), &c.Files); err != nil {
			return nil, fmt.Errorf("decode files for commit %s: %w", c.ID, err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func scanSkill(scan func(dest ...any) error) (domain.SkillState, error) {
	var s domain.SkillState
	var lastPracticed sql.NullString
	err := scan(&s.Name, &s.Category, &s.Proficiency, &lastPracticed, &s.ProjectCount)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if lastPracticed.Valid {
		s.LastPracticedAt = &lastPracticed.String
	}
	return s, err
}

func (r Repo) GetSkill(ctx context.Context, name string) (domain.SkillState, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT name,category,proficiency,last_practiced_at,project_count FROM skills WHERE name=?`, name)
	return scanSkill(row.Scan)
}

func (r Repo) ListSkills(ctx context.Context) ([]domain.SkillState, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT name,category,proficiency,last_practiced_at,project_count FROM skills ORDER BY category, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SkillState
	for rows.Next() {
		s, err := scanSkill(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) UpsertSkillTx(ctx context.Context, tx *sql.Tx, s domain.SkillState) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO skills(name,category,proficiency,last_practiced_at,project_count) VALUES (?,?,?,?,?)
ON CONFLICT(name) DO UPDATE SET category=excluded.category, proficiency=excluded.proficiency, last_practiced_at=excluded.last_practiced_at, project_count=excluded.project_count`,
		s.Name, s.Category, s.Proficiency, nullableStringPtr(s.LastPracticedAt), s.ProjectCount)
	return err
}

func (r Repo) GetStreak(ctx context.Context) (domain.StreakState, error) {
	var s domain.StreakState
	var lastActive sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT current_streak,longest_streak,last_active_date,grace_used_week FROM streak WHERE id=1`).
		Scan(&s.CurrentStreak, &s.LongestStreak, &lastActive, &s.GraceUsedWeek)
	if lastActive.Valid {
		s.LastActiveDate = &lastActive.String
	}
	return s, err
}

func (r Repo) UpdateStreakTx(ctx context.Context, tx *sql.Tx, s domain.StreakState) error {
	_, err := tx.ExecContext(ctx, `UPDATE streak SET current_streak=?, longest_streak=?, last_active_date=?, grace_used_week=? WHERE id=1`,
		s.CurrentStreak, s.LongestStreak, nullableStringPtr(s.LastActiveDate), s.GraceUsedWeek)
	return err
}

func scanAchievement(scan func(dest ...any) error) (domain.Achievement, error) {
	var a domain.Achievement
	var icon, unlockedAt sql.NullString
	err := scan(&a.ID, &a.Name, &a.Description, &icon, &a.CriteriaType, &a.CriteriaValue, &a.CriteriaTech, &a.Unlocked, &unlockedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if icon.Valid {
		a.Icon = icon.String
	}
	if unlockedAt.Valid {
		a.UnlockedAt = &unlockedAt.String
	}
	return a, err
}

func (r Repo) ListAchievements(ctx context.Context) ([]domain.Achievement, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,description,icon,criteria_type,criteria_value,criteria_tech,unlocked,unlocked_at FROM achievements ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Achievement
	for rows.Next() {
		a, err := scanAchievement(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// SeedAchievementTx inserts a catalog entry if absent; unlock state of an
// existing row is never touched.
func (r Repo) SeedAchievementTx(ctx context.Context, tx *sql.Tx, a domain.Achievement) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO achievements(id,name,description,icon,criteria_type,criteria_value,criteria_tech,unlocked) VALUES (?,?,?,?,?,?,?,0)
ON CONFLICT(id) DO NOTHING`,
		a.ID, a.Name, a.Description, nullable(a.Icon), a.CriteriaType, a.CriteriaValue, a.CriteriaTech)
	return err
}

// UnlockAchievementTx flips an achievement to unlocked. Already-unlocked
// rows are left untouched so UnlockedAt keeps its first value.
func (r Repo) UnlockAchievementTx(ctx context.Context, tx *sql.Tx, id, unlockedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE achievements SET unlocked=1, unlocked_at=? WHERE id=? AND unlocked=0`, unlockedAt, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListEvents returns events with id greater than afterID, oldest first.
func (r Repo) ListEvents(ctx context.Context, afterID int64, limit int, types []string) ([]domain.Event, error) {
	clauses := []string{"id > ?"}
	args := []any{afterID}
	if len(types) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(types)), ",")
		clauses = append(clauses, "type IN ("+placeholders+")")
		for _, t := range types {
			args = append(args, t)
		}
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),payload_json FROM events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the highest event id, 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

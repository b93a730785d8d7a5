package domain

// Run statuses. A run walks pending -> planned -> generated -> documented ->
// committed -> {awaiting_review | pushed} -> tracked; failed is reachable from
// any non-terminal status and skipped only from pending.
const (
	RunPending        = "pending"
	RunPlanned        = "planned"
	RunGenerated      = "generated"
	RunDocumented     = "documented"
	RunCommitted      = "committed"
	RunAwaitingReview = "awaiting_review"
	RunPushed         = "pushed"
	RunTracked        = "tracked"
	RunFailed         = "failed"
	RunSkipped        = "skipped"
)

// Automation modes.
const (
	ModeAuto   = "auto"
	ModeReview = "review"
	ModeManual = "manual"
)

// Difficulty tiers, ordered.
const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

// Commit segment stages, in fixed commit order.
const (
	SegmentStructure      = "structure"
	SegmentImplementation = "implementation"
	SegmentTestsDocs      = "tests_docs"
)

// RunRecord is the persisted state of one daily run. Date is a calendar day
// in the configured timezone and is the resume key.
type RunRecord struct {
	ID            int64   `json:"id"`
	Date          string  `json:"date" format:"date"`
	Mode          string  `json:"mode" enum:"auto,review,manual"`
	Status        string  `json:"status" enum:"pending,planned,generated,documented,committed,awaiting_review,pushed,tracked,failed,skipped"`
	Forced        bool    `json:"forced"`
	DryRun        bool    `json:"dry_run"`
	ProjectID     *string `json:"project_id,omitempty"`
	FailureStage  *string `json:"failure_stage,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

// Terminal reports whether the run can no longer advance.
func (r RunRecord) Terminal() bool {
	switch r.Status {
	case RunTracked, RunFailed, RunSkipped:
		return true
	}
	return false
}

// ProjectRecord describes one generated portfolio project.
type ProjectRecord struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	SkillDomain  string   `json:"skill_domain"`
	Technologies []string `json:"technologies"`
	PrimaryTech  string   `json:"primary_tech"`
	Difficulty   string   `json:"difficulty" enum:"beginner,intermediate,advanced"`
	QualityScore int      `json:"quality_score"`
	LinesOfCode  int      `json:"lines_of_code"`
	FileCount    int      `json:"file_count"`
	HasTests     bool     `json:"has_tests"`
	HasDocs      bool     `json:"has_docs"`
	LocalPath    string   `json:"local_path,omitempty"`
	RepoURL      string   `json:"repo_url,omitempty"`
	Status       string   `json:"status"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
}

// CommitRecord is one local commit produced for a project.
type CommitRecord struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"project_id"`
	Hash      string   `json:"hash"`
	Message   string   `json:"message"`
	Stage     string   `json:"stage" enum:"structure,implementation,tests_docs"`
	Files     []string `json:"files,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

// SkillState tracks stored proficiency for one skill. Proficiency is the
// stored value; decay is applied at read time, never here.
type SkillState struct {
	Name            string  `json:"name"`
	Category        string  `json:"category"`
	Proficiency     float64 `json:"proficiency"`
	LastPracticedAt *string `json:"last_practiced_at,omitempty" format:"date-time"`
	ProjectCount    int     `json:"project_count"`
}

// StreakState is the single-row consecutive-day counter.
type StreakState struct {
	CurrentStreak  int     `json:"current_streak"`
	LongestStreak  int     `json:"longest_streak"`
	LastActiveDate *string `json:"last_active_date,omitempty" format:"date"`
	GraceUsedWeek  string  `json:"grace_used_week,omitempty"`
}

// Achievement is a gamification unlock. Unlocks are monotonic.
type Achievement struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Icon          string  `json:"icon,omitempty"`
	CriteriaType  string  `json:"criteria_type" enum:"project_count,streak,skill_level,technology"`
	CriteriaValue int     `json:"criteria_value,omitempty"`
	CriteriaTech  string  `json:"criteria_tech,omitempty"`
	Unlocked      bool    `json:"unlocked"`
	UnlockedAt    *string `json:"unlocked_at,omitempty" format:"date-time"`
}

// Event is one append-only log row.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates dashboard API callers.
type APIKey struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// DifficultyRank orders tiers for comparisons; unknown tiers rank lowest.
func DifficultyRank(tier string) int {
	switch tier {
	case DifficultyBeginner:
		return 1
	case DifficultyIntermediate:
		return 2
	case DifficultyAdvanced:
		return 3
	}
	return 0
}

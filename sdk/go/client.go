package forgedaysdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Forgeday HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Run represents a run record (partial).
type Run struct {
	ID            int64  `json:"id"`
	Date          string `json:"date"`
	Mode          string `json:"mode"`
	Status        string `json:"status"`
	Forced        bool   `json:"forced"`
	ProjectID     string `json:"project_id,omitempty"`
	FailureStage  string `json:"failure_stage,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Project represents the API project model (partial).
type Project struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	SkillDomain  string   `json:"skill_domain"`
	Technologies []string `json:"technologies"`
	PrimaryTech  string   `json:"primary_tech"`
	Difficulty   string   `json:"difficulty"`
	Status       string   `json:"status"`
	QualityScore int      `json:"quality_score"`
	RepoURL      string   `json:"repo_url,omitempty"`
}

// RunResult wraps a run with its project and the skip verdict.
type RunResult struct {
	Run     Run      `json:"run"`
	Project *Project `json:"project,omitempty"`
	Skipped bool     `json:"skipped"`
	Reason  string   `json:"reason,omitempty"`
}

// Skill represents a skill with decay applied.
type Skill struct {
	Name            string  `json:"name"`
	Category        string  `json:"category"`
	Proficiency     float64 `json:"proficiency"`
	LastPracticedAt string  `json:"last_practiced_at,omitempty"`
	ProjectCount    int     `json:"project_count"`
}

// Streak represents streak state.
type Streak struct {
	CurrentStreak  int    `json:"current_streak"`
	LongestStreak  int    `json:"longest_streak"`
	LastActiveDate string `json:"last_active_date,omitempty"`
}

// Achievement represents a gamification unlock.
type Achievement struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon,omitempty"`
	Unlocked    bool   `json:"unlocked"`
	UnlockedAt  string `json:"unlocked_at,omitempty"`
}

// Progress is the full progress snapshot.
type Progress struct {
	Skills            []Skill        `json:"skills"`
	Streak            Streak         `json:"streak"`
	Achievements      []Achievement  `json:"achievements"`
	CompletedProjects int            `json:"completed_projects"`
	PortfolioScore    float64        `json:"portfolio_score"`
	TechUsage         map[string]int `json:"tech_usage"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// TriggerRun starts (or resumes) a run.
func (c *Client) TriggerRun(ctx context.Context, mode string, force, dryRun bool) (RunResult, error) {
	body := map[string]any{
		"mode":    mode,
		"force":   force,
		"dry_run": dryRun,
	}
	var resp RunResult
	err := c.do(ctx, http.MethodPost, "v0/runs", body, &resp)
	return resp, err
}

// Runs lists run history, optionally bounded by from/to dates (YYYY-MM-DD).
func (c *Client) Runs(ctx context.Context, from, to string) ([]Run, error) {
	endpoint := "v0/runs"
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Run
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Run fetches the run for a date.
func (c *Client) Run(ctx context.Context, date string) (RunResult, error) {
	var resp RunResult
	endpoint := fmt.Sprintf("v0/runs/%s", url.PathEscape(date))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ConfirmRun approves a run awaiting review and pushes it.
func (c *Client) ConfirmRun(ctx context.Context, date string, overrideQuality bool) (RunResult, error) {
	body := map[string]any{"override_quality": overrideQuality}
	var resp RunResult
	endpoint := fmt.Sprintf("v0/runs/%s/confirm", url.PathEscape(date))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// RejectRun declines a run awaiting review, marking it failed.
func (c *Client) RejectRun(ctx context.Context, date string) (RunResult, error) {
	var resp RunResult
	endpoint := fmt.Sprintf("v0/runs/%s/reject", url.PathEscape(date))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// Progress returns the progress snapshot.
func (c *Client) Progress(ctx context.Context) (Progress, error) {
	var resp Progress
	err := c.do(ctx, http.MethodGet, "v0/progress", nil, &resp)
	return resp, err
}

// Events returns events after the given id.
func (c *Client) Events(ctx context.Context, after int64, limit int, types []string) ([]Event, error) {
	endpoint := "v0/events"
	q := url.Values{}
	if after > 0 {
		q.Set("after", fmt.Sprintf("%d", after))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(types) > 0 {
		q.Set("type", strings.Join(types, ","))
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

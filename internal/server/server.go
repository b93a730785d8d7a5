package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"forgeday/internal/domain"
	"forgeday/internal/engine"
	"forgeday/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"quality_gate"`
	Message string         `json:"message" example:"quality score 40 below minimum 60"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Forgeday API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Forgeday API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerRuns(group, cfg.Engine)
	registerProgress(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var gateErr *engine.QualityGateError
	if errors.As(err, &gateErr) {
		return newAPIError(http.StatusUnprocessableEntity, "quality_gate", err.Error(),
			map[string]any{"score": gateErr.Score, "min_score": gateErr.MinScore})
	}
	var pushErr *engine.PushError
	if errors.As(err, &pushErr) {
		return newAPIError(http.StatusServiceUnavailable, "push_failed", err.Error(),
			map[string]any{"attempts": pushErr.Attempts})
	}
	var noveltyErr *engine.NoveltyExhaustedError
	if errors.As(err, &noveltyErr) {
		return newAPIError(http.StatusUnprocessableEntity, "novelty_exhausted", err.Error(),
			map[string]any{"attempts": noveltyErr.Attempts, "last_reason": noveltyErr.LastReason})
	}
	if errors.Is(err, engine.ErrNotAwaitingReview) || errors.Is(err, engine.ErrFailedNeedsForce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "unknown") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

// RunResponse pairs a run with its project when one exists.
type RunResponse struct {
	Run     domain.RunRecord      `json:"run"`
	Project *domain.ProjectRecord `json:"project,omitempty"`
	Skipped bool                  `json:"skipped,omitempty"`
	Reason  string                `json:"reason,omitempty"`
}

func outcomeResponse(out engine.RunOutcome) RunResponse {
	return RunResponse{Run: out.Run, Project: out.Project, Skipped: out.Skipped, Reason: out.Reason}
}

func registerRuns(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List runs",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		From string `query:"from" example:"2026-08-01"`
		To   string `query:"to" example:"2026-08-31"`
	}) (*struct {
		Body []domain.RunRecord `json:"body"`
	}, error) {
		if err := requirePrincipal(ctx); err != nil {
			return nil, err
		}
		runs, err := e.QueryStatus(ctx, input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		if runs == nil {
			runs = []domain.RunRecord{}
		}
		return &struct {
			Body []domain.RunRecord `json:"body"`
		}{Body: runs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{date}",
		Summary:     "Get run for a day",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Date string `path:"date" example:"2026-08-24"`
	}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		if err := requirePrincipal(ctx); err != nil {
			return nil, err
		}
		run, err := e.Repo.LatestRunForDate(ctx, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		resp := RunResponse{Run: run}
		if run.ProjectID != nil {
			if p, err := e.Repo.GetProject(ctx, *run.ProjectID); err == nil {
				resp.Project = &p
			}
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "attempt-run",
		Method:        http.MethodPost,
		Path:          "/runs",
		Summary:       "Attempt today's run",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Mode   string `json:"mode,omitempty" enum:"auto,review,manual"`
			Force  bool   `json:"force,omitempty"`
			DryRun bool   `json:"dry_run,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		if err := requirePrincipal(ctx); err != nil {
			return nil, err
		}
		out, err := e.AttemptRun(ctx, input.Body.Mode, input.Body.Force, input.Body.DryRun)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: outcomeResponse(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-run",
		Method:      http.MethodPost,
		Path:        "/runs/{date}/confirm",
		Summary:     "Confirm a run awaiting review",
		Errors: []int{
			http.StatusConflict,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Date string `path:"date"`
		Body struct {
			OverrideQuality bool `json:"override_quality,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		if err := requirePrincipal(ctx); err != nil {
			return nil, err
		}
		out, err := e.ConfirmPush(ctx, input.Date, input.Body.OverrideQuality)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: outcomeResponse(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-run",
		Method:      http.MethodPost,
		Path:        "/runs/{date}/reject",
		Summary:     "Reject a run awaiting review",
		Errors: []int{
			http.StatusConflict,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Date string `path:"date"`
	}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		if err := requirePrincipal(ctx); err != nil {
			return nil, err
		}
		out, err := e.RejectPush(ctx, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: outcomeResponse(out)}, nil
	})
}

func registerProgress(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "progress",
		Method:      http.MethodGet,
		Path:        "/progress",
		Summary:     "Progress snapshot",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.ProgressReport `json:"body"`
	}, error) {
		if err := requirePrincipal(ctx); err != nil {
			return nil, err
		}
		report, err := e.QueryProgress(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ProgressReport `json:"body"`
		}{Body: report}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		After int64  `query:"after"`
		Limit int    `query:"limit" default:"100"`
		Type  string `query:"type"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if err := requirePrincipal(ctx); err != nil {
			return nil, err
		}
		limit := input.Limit
		if limit <= 0 || limit > 1000 {
			limit = 100
		}
		var types []string
		if input.Type != "" {
			types = strings.Split(input.Type, ",")
		}
		evts, err := e.Repo.ListEvents(ctx, input.After, limit, types)
		if err != nil {
			return nil, handleError(err)
		}
		if evts == nil {
			evts = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: evts}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Forgeday API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

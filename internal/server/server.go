// Package server exposes the operational HTTP surface: ensure today's
// challenge, send a notification group, sweep the due index, preview a
// scheduling run. Every endpoint is idempotent and safe to re-invoke; the
// expected races (already claimed, already exists) come back as structured
// statuses, never as errors.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"wordmint/internal/challenge"
	"wordmint/internal/notify"
	"wordmint/internal/platform"
	"wordmint/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Creator   *challenge.Creator
	Scheduler *notify.Scheduler
	Deliverer *notify.Deliverer
	Sweeper   *notify.Sweeper
	Store     *store.Store
	BasePath  string
	Auth      AuthConfig
	Log       *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"malformed offset label"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the wordmint operational API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Wordmint Operational API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerChallenges(group, cfg)
	registerNotifications(group, cfg)

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

// handleError maps domain errors to the envelope. Designed race outcomes
// never reach here; they are carried in the success payloads.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve notify.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), nil)
	}
	if errors.Is(err, store.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var apiErr *platform.APIError
	if errors.As(err, &apiErr) {
		return newAPIError(http.StatusBadGateway, "collaborator_error", err.Error(),
			map[string]any{"upstream_status": apiErr.StatusCode})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusBadGateway:
		return "collaborator_error"
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

type ensureRequest struct {
	Body struct {
		Force             bool `json:"force,omitempty" doc:"Skip the daily window check"`
		IgnoreDailyWindow bool `json:"ignore_daily_window,omitempty" doc:"Mint a second challenge for a day that already has one"`
	}
}

type ensureResponse struct {
	Body challenge.EnsureResult `json:"body"`
}

func registerChallenges(api huma.API, cfg Config) {
	ensure := func(ctx context.Context, input *ensureRequest) (*ensureResponse, error) {
		ov := challenge.Overrides{
			Force:             input.Body.Force,
			IgnoreDailyWindow: input.Body.IgnoreDailyWindow,
		}
		if p, ok := principalFromContext(ctx); ok {
			ov.Actor = p.Subject
		}
		res, err := cfg.Creator.EnsureDaily(ctx, ov)
		if err != nil {
			return nil, handleError(err)
		}
		return &ensureResponse{Body: res}, nil
	}
	huma.Register(api, huma.Operation{
		OperationID: "ensure-daily-challenge",
		Method:      http.MethodPost,
		Path:        "/internal/challenges/today",
		Summary:     "Create today's challenge if it does not exist",
	}, ensure)
	// Same contract, separate operation: the host retries through a distinct
	// entry point and both must stay idempotent.
	huma.Register(api, huma.Operation{
		OperationID: "retry-daily-challenge",
		Method:      http.MethodPost,
		Path:        "/internal/challenges/today/retry",
		Summary:     "Retry entry point for daily challenge creation",
	}, ensure)
}

type sendInput struct {
	GroupID string `path:"group_id" doc:"Notification group id"`
}

type sendResponse struct {
	Body notify.SendResult `json:"body"`
}

type sweepInput struct {
	Body struct {
		Limit int64 `json:"limit,omitempty" doc:"Max groups to process; 0 for the configured default"`
	}
}

type sweepResponse struct {
	Body notify.SweepResult `json:"body"`
}

type previewInput struct {
	Body struct {
		Usernames []string `json:"usernames,omitempty" doc:"Users to preview; defaults to the opted-in set"`
	}
}

type previewResponse struct {
	Body notify.Result `json:"body"`
}

func registerNotifications(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "send-notification-group",
		Method:      http.MethodPost,
		Path:        "/internal/notifications/groups/{group_id}/send",
		Summary:     "Claim and deliver one notification group",
	}, func(ctx context.Context, input *sendInput) (*sendResponse, error) {
		res, err := cfg.Deliverer.SendNow(ctx, input.GroupID)
		if err != nil {
			return nil, handleError(err)
		}
		return &sendResponse{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sweep-due-notifications",
		Method:      http.MethodPost,
		Path:        "/internal/notifications/sweep",
		Summary:     "Drain every group due at or before now",
	}, func(ctx context.Context, input *sweepInput) (*sweepResponse, error) {
		res, err := cfg.Sweeper.DrainDue(ctx, input.Body.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &sweepResponse{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "preview-notification-run",
		Method:      http.MethodPost,
		Path:        "/internal/notifications/preview",
		Summary:     "Dry-run a scheduling pass without persisting or arming anything",
	}, func(ctx context.Context, input *previewInput) (*previewResponse, error) {
		usernames := input.Body.Usernames
		if len(usernames) == 0 {
			var err error
			usernames, err = cfg.Store.OptedIn(ctx)
			if err != nil {
				return nil, handleError(err)
			}
		}
		res, err := cfg.Scheduler.DryRun(ctx, notify.Event{Type: "daily-challenge"}, usernames)
		if err != nil {
			return nil, handleError(err)
		}
		return &previewResponse{Body: res}, nil
	})
}

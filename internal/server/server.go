package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"sitetrace/internal/domain"
	"sitetrace/internal/engine"
	"sitetrace/internal/marker"
	"sitetrace/internal/schedule"
)

// Config for the HTTP report handler.
type Config struct {
	Engine   *engine.Engine
	Analyzer *schedule.Analyzer
	Markers  *marker.Store
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string `json:"code" example:"unauthorized"`
	Message string `json:"message" example:"authentication required"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

func newAPIError(status int, code, message string) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message}}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// New returns an HTTP handler exposing the read-only progress reports.
func New(cfg Config) http.Handler {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	api := humachi.New(router, huma.DefaultConfig("Sitetrace API", "0.1.0"))
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerProgress(group, cfg)
	registerKPIs(group, cfg)

	return router
}

type healthOutput struct {
	Body struct {
		Status string `json:"status" example:"ok"`
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		out := &healthOutput{}
		out.Body.Status = "ok"
		return out, nil
	})
}

type progressOutput struct {
	Body struct {
		Items []schedule.ActivityReport `json:"items"`
		Total int                       `json:"total"`
	}
}

func registerProgress(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-progress",
		Method:      http.MethodGet,
		Path:        "/progress",
		Summary:     "Per-activity schedule classification",
	}, func(ctx context.Context, _ *struct{}) (*progressOutput, error) {
		reports, _, err := analyze(ctx, cfg)
		if err != nil {
			return nil, handleError(err)
		}
		out := &progressOutput{}
		out.Body.Items = reports
		out.Body.Total = len(reports)
		return out, nil
	})
}

type kpiOutput struct {
	Body struct {
		Items []schedule.WorkPackageKPI `json:"items"`
		Total int                       `json:"total"`
	}
}

func registerKPIs(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-kpis",
		Method:      http.MethodGet,
		Path:        "/kpis",
		Summary:     "Per-work-package KPI roll-up",
	}, func(ctx context.Context, _ *struct{}) (*kpiOutput, error) {
		reports, tree, err := analyze(ctx, cfg)
		if err != nil {
			return nil, handleError(err)
		}
		swept, err := cfg.Markers.ProcessedSet(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		kpis, err := schedule.AggregateKPIs(reports, tree.LatestScan(), swept)
		if err != nil {
			return nil, handleError(err)
		}
		out := &kpiOutput{}
		out.Body.Items = kpis
		out.Body.Total = len(kpis)
		return out, nil
	})
}

// analyze loads and resolves a fresh tree per request; reports must
// reflect the remote store, not a cached run.
func analyze(ctx context.Context, cfg Config) ([]schedule.ActivityReport, *domain.Tree, error) {
	tree, err := cfg.Engine.LoadHierarchy(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Engine.ResolveAsBuilt(ctx, tree); err != nil {
		return nil, nil, err
	}
	reports, err := cfg.Analyzer.Analyze(ctx, tree)
	if err != nil {
		return nil, nil, err
	}
	return reports, tree, nil
}

func handleError(err error) huma.StatusError {
	switch {
	case errors.Is(err, domain.ErrNoScanDate):
		return newAPIError(http.StatusConflict, "no_scan_date", err.Error())
	case errors.Is(err, domain.ErrUnmappedProgress):
		return newAPIError(http.StatusConflict, "unmapped_progress", err.Error())
	default:
		return newAPIError(http.StatusInternalServerError, "internal", err.Error())
	}
}

// Package server exposes report chains over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/randalmurphal/reportflow/pkg/reportflow"
	"github.com/randalmurphal/reportflow/pkg/reportflow/state"
)

// Chains is the part of reportflow.Service the API serves.
type Chains interface {
	StartChain(ctx context.Context, req reportflow.StartRequest) (string, error)
	AnswerClarification(ctx context.Context, reportID, answer string) error
	Cancel(ctx context.Context, reportID string) error
	GetProgress(ctx context.Context, reportID string) (state.ProgressRecord, error)
	GetState(ctx context.Context, reportID string) (*state.ChainState, error)
}

var _ Chains = (*reportflow.Service)(nil)

// Config for the HTTP API handler.
type Config struct {
	Chains Chains
	// BenchmarkAccountID owns reports created through /v1/benchmark.
	BenchmarkAccountID string
	Logger             *slog.Logger
}

// New returns an HTTP handler exposing the report API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Chains == nil {
		return nil, errors.New("server: Chains is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BenchmarkAccountID == "" {
		cfg.BenchmarkAccountID = "benchmark"
	}

	router := chi.NewRouter()
	router.Use(accessLog(cfg.Logger))
	hcfg := huma.DefaultConfig("Reportflow API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)

	h := &handlers{chains: cfg.Chains, benchmarkAccount: cfg.BenchmarkAccountID, logger: cfg.Logger}
	registerHealth(api)
	v1 := huma.NewGroup(api, "/v1")
	registerReports(v1, h)
	registerBenchmark(v1, h)

	return router, nil
}

type handlers struct {
	chains           Chains
	benchmarkAccount string
	logger           *slog.Logger
}

type reportPath struct {
	ReportID string `path:"reportId"`
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerReports(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-report",
		Method:        http.MethodPost,
		Path:          "/reports",
		Summary:       "Start a report chain",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body StartReportRequest `json:"body"`
	}) (*struct {
		Body ReportRef `json:"body"`
	}, error) {
		id, err := h.chains.StartChain(ctx, reportflow.StartRequest{
			UserInput:      input.Body.UserInput,
			AccountID:      input.Body.AccountID,
			UserID:         input.Body.UserID,
			ConversationID: input.Body.ConversationID,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body ReportRef `json:"body"`
		}{Body: ReportRef{ReportID: id}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "answer-clarification",
		Method:        http.MethodPost,
		Path:          "/reports/{reportId}/clarification",
		Summary:       "Answer the report's clarifying question",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ReportID string               `path:"reportId"`
		Body     ClarificationRequest `json:"body"`
	}) (*struct {
		Body ReportRef `json:"body"`
	}, error) {
		if err := h.chains.AnswerClarification(ctx, input.ReportID, input.Body.Answer); err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body ReportRef `json:"body"`
		}{Body: ReportRef{ReportID: input.ReportID}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "cancel-report",
		Method:        http.MethodPost,
		Path:          "/reports/{reportId}/cancel",
		Summary:       "Cancel a report chain",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *reportPath) (*struct {
		Body ReportRef `json:"body"`
	}, error) {
		if err := h.chains.Cancel(ctx, input.ReportID); err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body ReportRef `json:"body"`
		}{Body: ReportRef{ReportID: input.ReportID}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-progress",
		Method:      http.MethodGet,
		Path:        "/reports/{reportId}/progress",
		Summary:     "Report progress",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *reportPath) (*struct {
		Body ProgressView `json:"body"`
	}, error) {
		p, err := h.chains.GetProgress(ctx, input.ReportID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body ProgressView `json:"body"`
		}{Body: toProgressView(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report",
		Method:      http.MethodGet,
		Path:        "/reports/{reportId}",
		Summary:     "Report state and data",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *reportPath) (*struct {
		Body ReportView `json:"body"`
	}, error) {
		st, p, err := h.load(ctx, input.ReportID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body ReportView `json:"body"`
		}{Body: toReportView(st, p)}, nil
	})
}

func registerBenchmark(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-benchmark-report",
		Method:        http.MethodPost,
		Path:          "/benchmark/reports",
		Summary:       "Start a report for a benchmark client",
		DefaultStatus: http.StatusOK,
		Errors:        []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body BenchmarkReportRequest `json:"body"`
	}) (*struct {
		Body ReportRef `json:"body"`
	}, error) {
		id, err := h.chains.StartChain(ctx, reportflow.StartRequest{
			UserInput: input.Body.DesignChallenge,
			AccountID: h.benchmarkAccount,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body ReportRef `json:"body"`
		}{Body: ReportRef{ReportID: id}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-benchmark-report",
		Method:      http.MethodGet,
		Path:        "/benchmark/reports/{reportId}",
		Summary:     "Benchmark report status and body",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *reportPath) (*struct {
		Body BenchmarkReportView `json:"body"`
	}, error) {
		st, p, err := h.load(ctx, input.ReportID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body BenchmarkReportView `json:"body"`
		}{Body: toBenchmarkView(st, p)}, nil
	})
}

// load reads the state and its progress record. A chain whose progress was
// never written still reports its state.
func (h *handlers) load(ctx context.Context, reportID string) (*state.ChainState, state.ProgressRecord, error) {
	st, err := h.chains.GetState(ctx, reportID)
	if err != nil {
		return nil, state.ProgressRecord{}, err
	}
	p, err := h.chains.GetProgress(ctx, reportID)
	if err != nil && !errors.Is(err, reportflow.ErrNotFound) {
		return nil, state.ProgressRecord{}, err
	}
	return st, p, nil
}

func (h *handlers) handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, reportflow.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, reportflow.ErrNotClarifying),
		errors.Is(err, reportflow.ErrAlreadyExists):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, reportflow.ErrEmptyAnswer),
		errors.Is(err, state.ErrEmptyInput),
		errors.Is(err, state.ErrInvalidReportID):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, reportflow.ErrClosed):
		return huma.Error503ServiceUnavailable(err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error503ServiceUnavailable("request cancelled")
	default:
		h.logger.Error("request failed", slog.String("error", err.Error()))
		return huma.Error500InternalServerError("internal error")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func accessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if strings.HasPrefix(r.URL.Path, "/healthz") {
				return
			}
			logger.Debug("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
